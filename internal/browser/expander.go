// Package browser expands share links whose redirect happens in page
// JavaScript rather than an HTTP Location header. Some platforms serve their
// mobile share pages that way, so a plain client never sees the canonical URL.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

const navigateTimeout = 20 * time.Second

// Expander loads a share link in headless Chrome and reads the final
// location after scripts have run.
type Expander struct {
	profileDir string
	headless   bool
	logger     *slog.Logger
}

// ExpanderConfig holds configuration for the browser expander.
type ExpanderConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies)
	Headless   bool
	Logger     *slog.Logger
}

func NewExpander(cfg ExpanderConfig) *Expander {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".parsebot", "chrome-profile")
	}
	return &Expander{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		logger:     cfg.Logger,
	}
}

func (e *Expander) Expand(ctx context.Context, link string) (string, error) {
	if err := os.MkdirAll(e.profileDir, 0o755); err != nil {
		e.logger.Error("failed to create profile dir", "dir", e.profileDir, "err", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(e.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
	)
	if e.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, navigateTimeout)
	defer timeoutCancel()

	var location string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(link),
		chromedp.WaitReady("body"),
		chromedp.Location(&location),
	)
	if err != nil {
		return "", fmt.Errorf("browser expand %s: %w", link, err)
	}

	if location != link {
		e.logger.Debug("share link expanded in browser", "from", link, "to", location)
	}
	return location, nil
}

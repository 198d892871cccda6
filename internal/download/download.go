// Package download optionally saves resolved media into the workspace so a
// parse survives the upstream CDN link expiring.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"parsebot/internal/domain"
	"parsebot/internal/resolver"
)

const defaultTimeout = 120 * time.Second

// Downloader fetches media URLs from a ParseResult to local files.
type Downloader struct {
	dir      string
	maxBytes int64
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// Config tunes the downloader. MaxSizeMB of zero means no cap.
type Config struct {
	Dir            string
	MaxSizeMB      int
	TimeoutSeconds int
	Logger         *slog.Logger
}

func New(cfg Config) (*Downloader, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir %s: %w", cfg.Dir, err)
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Downloader{
		dir:      cfg.Dir,
		maxBytes: int64(cfg.MaxSizeMB) * 1024 * 1024,
		timeout:  timeout,
		client:   resolver.SharedHTTPClient(timeout),
		logger:   cfg.Logger,
	}, nil
}

// Save fetches every media URL of the result and returns the written paths.
// Files over the size cap are skipped, not failed: the chat reply already
// carries the URL.
func (d *Downloader) Save(ctx context.Context, res *domain.ParseResult) ([]string, error) {
	var paths []string
	for i, u := range res.MediaURLs {
		path, err := d.fetch(ctx, u, baseName(res, i))
		if err != nil {
			if err == errTooLarge {
				d.logger.Info("media over size cap, skipped", "url", u)
				continue
			}
			return paths, err
		}
		paths = append(paths, path)
		d.logger.Info("media saved", "path", path)
	}
	return paths, nil
}

var errTooLarge = fmt.Errorf("media exceeds size cap")

func (d *Downloader) fetch(ctx context.Context, url, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	if d.maxBytes > 0 && resp.ContentLength > d.maxBytes {
		return "", errTooLarge
	}

	path := filepath.Join(d.dir, name+extension(resp.Header.Get("Content-Type"), url))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	reader := io.Reader(resp.Body)
	if d.maxBytes > 0 {
		// Guards against servers that lie about Content-Length.
		reader = io.LimitReader(resp.Body, d.maxBytes+1)
	}

	n, err := io.Copy(f, reader)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if d.maxBytes > 0 && n > d.maxBytes {
		os.Remove(path)
		return "", errTooLarge
	}
	return path, nil
}

// baseName derives a filesystem-safe name from the result title, falling back
// to the platform name. Galleries get an index suffix.
func baseName(res *domain.ParseResult, index int) string {
	name := sanitize(res.Title)
	if name == "" {
		name = res.Platform
	}
	if name == "" {
		name = "media"
	}
	if len(res.MediaURLs) > 1 {
		name = fmt.Sprintf("%s_%02d", name, index+1)
	}
	return name
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		// Back up to a rune boundary so a multi-byte title stays valid UTF-8.
		cut := 80
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\x00':
			return '_'
		}
		return r
	}, s)
}

// extension picks a file extension from the Content-Type, falling back to
// whatever the URL path carries.
func extension(contentType, url string) string {
	switch {
	case strings.HasPrefix(contentType, "video/mp4"):
		return ".mp4"
	case strings.HasPrefix(contentType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "image/webp"):
		return ".webp"
	case strings.HasPrefix(contentType, "audio/mpeg"):
		return ".mp3"
	}
	if contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	if ext := filepath.Ext(strings.SplitN(filepath.Base(url), "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".bin"
}

package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Expander resolves mobile share links (v.douyin.com, xhslink.com) to the
// canonical URL the platform rule table matches against.
type Expander interface {
	Expand(ctx context.Context, link string) (string, error)
}

const expandTimeout = 8 * time.Second

// HTTPExpander follows redirects with a plain HTTP GET and reports the final
// URL. Works for platforms that redirect server-side.
type HTTPExpander struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTPExpander(logger *slog.Logger) *HTTPExpander {
	return &HTTPExpander{
		client: SharedHTTPClient(expandTimeout),
		logger: logger,
	}
}

func (e *HTTPExpander) Expand(ctx context.Context, link string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, expandTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", link, err)
	}
	// Mobile share pages sniff the agent; a desktop UA gets the redirect.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", link, err)
	}
	defer resp.Body.Close()

	final := resp.Request.URL.String()
	if final != link {
		e.logger.Debug("short link expanded", "from", link, "to", final)
	}
	return final, nil
}

// CompositeExpander routes expansion by host: hosts in the browser set go to
// the browser expander (JS-only redirects), everything else takes plain HTTP.
type CompositeExpander struct {
	http         Expander
	browser      Expander
	browserHosts map[string]bool
}

func NewCompositeExpander(httpExp, browserExp Expander, browserHosts []string) *CompositeExpander {
	hosts := make(map[string]bool, len(browserHosts))
	for _, h := range browserHosts {
		hosts[h] = true
	}
	return &CompositeExpander{
		http:         httpExp,
		browser:      browserExp,
		browserHosts: hosts,
	}
}

func (c *CompositeExpander) Expand(ctx context.Context, link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", link, err)
	}
	if c.browser != nil && c.browserHosts[u.Hostname()] {
		return c.browser.Expand(ctx, link)
	}
	return c.http.Expand(ctx, link)
}

// Package resolver dispatches recognized links to third-party parsing APIs
// and normalizes their responses. The upstream services are opaque: they take
// a source link and answer with watermark-free media URLs.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"parsebot/internal/domain"
)

const defaultEndpointTimeout = 10 * time.Second

// upstreamOK is the success code in the upstream response envelope.
const upstreamOK = 200

// HTTPResolver calls one configured upstream endpoint:
// GET <url>?url=<link>, expecting a JSON envelope {code, msg, data}.
type HTTPResolver struct {
	name     string
	endpoint string
	kind     domain.MediaKind
	timeout  time.Duration
	headers  map[string]string
	client   *http.Client
	logger   *slog.Logger
}

// HTTPConfig configures a single upstream endpoint resolver.
type HTTPConfig struct {
	Name     string
	Endpoint string
	Kind     domain.MediaKind
	Timeout  time.Duration
	Headers  map[string]string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewHTTP(cfg HTTPConfig) *HTTPResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultEndpointTimeout
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &HTTPResolver{
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		kind:     cfg.Kind,
		timeout:  cfg.Timeout,
		headers:  cfg.Headers,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

func (r *HTTPResolver) Name() string { return r.name }

// envelope is the upstream response wrapper. Schemas differ per provider but
// the {code, msg, data} shape is the de-facto convention.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type payload struct {
	Title        string      `json:"title"`
	Author       string      `json:"author"`
	URL          string      `json:"url"`
	PreviewImage string      `json:"preview_image"`
	MusicURL     string      `json:"music_url"`
	Images       flexStrings `json:"images"`
}

// flexStrings accepts both a JSON array of strings and a single string, since
// some upstreams return `images` unwrapped when there is only one.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*f = []string{single}
	return nil
}

func (r *HTTPResolver) Resolve(ctx context.Context, req domain.ParseRequest) (*domain.ParseResult, error) {
	if r.endpoint == "" {
		return nil, fmt.Errorf("endpoint %s: %w", r.name, domain.ErrUnsupportedPlatform)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	target, err := r.buildURL(req.URL)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", r.name, err)
	}

	resp, err := doWithRetry(ctx, r.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Accept", "application/json")
		for k, v := range r.headers {
			httpReq.Header.Set(k, v)
		}
		return httpReq, nil
	}, r.logger)
	if err != nil {
		return nil, &domain.UpstreamError{Endpoint: r.name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.UpstreamError{Endpoint: r.name, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.UpstreamError{Endpoint: r.name, Status: resp.StatusCode, Msg: string(body)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &domain.UpstreamError{Endpoint: r.name, Status: resp.StatusCode, Msg: "malformed upstream response", Err: err}
	}
	if env.Code != upstreamOK {
		msg := env.Msg
		if msg == "" {
			msg = "upstream rejected the link"
		}
		return nil, &domain.UpstreamError{Endpoint: r.name, Status: resp.StatusCode, Code: env.Code, Msg: msg}
	}

	var data payload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, &domain.UpstreamError{Endpoint: r.name, Status: resp.StatusCode, Msg: "malformed upstream data", Err: err}
		}
	}

	result := &domain.ParseResult{
		Platform: req.Platform,
		Kind:     r.kind,
		Title:    data.Title,
		Author:   data.Author,
		Preview:  data.PreviewImage,
		MusicURL: data.MusicURL,
	}

	switch r.kind {
	case domain.MediaImage:
		result.MediaURLs = data.Images
	default:
		if data.URL != "" {
			result.MediaURLs = []string{data.URL}
		}
	}

	if len(result.MediaURLs) == 0 {
		return nil, &domain.UpstreamError{Endpoint: r.name, Status: resp.StatusCode, Code: env.Code, Msg: "no media in upstream response"}
	}

	r.logger.Info("link resolved",
		"endpoint", r.name,
		"platform", req.Platform,
		"media", len(result.MediaURLs),
	)
	return result, nil
}

func (r *HTTPResolver) buildURL(link string) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint URL: %w", err)
	}
	q := u.Query()
	q.Set("url", link)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

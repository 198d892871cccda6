package domain

import (
	"context"
	"time"
)

// MediaKind distinguishes short-video links from image-gallery links.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
)

// ParseRequest is created per recognized link and discarded once the reply
// has been sent.
type ParseRequest struct {
	URL      string
	Platform string
	Kind     MediaKind
	Channel  string
	ChatID   string
}

// ParseResult is what an upstream parsing API resolved for a source link.
// MediaURLs are watermark-free: the upstream strips platform branding
// server-side before returning them.
type ParseResult struct {
	Platform  string    `json:"platform"`
	Kind      MediaKind `json:"kind"`
	Title     string    `json:"title,omitempty"`
	Author    string    `json:"author,omitempty"`
	MediaURLs []string  `json:"media_urls"`
	Preview   string    `json:"preview,omitempty"`
	MusicURL  string    `json:"music_url,omitempty"`
}

// Resolver turns a recognized link into a ParseResult by calling an upstream
// parsing API. Implementations must return *UpstreamError for network or
// upstream failures.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, req ParseRequest) (*ParseResult, error)
}

// Cache memoizes resolved links. Get returns ErrCacheMiss when the URL has
// not been resolved before (or the entry expired).
type Cache interface {
	Get(ctx context.Context, url string) (*ParseResult, error)
	Set(ctx context.Context, url string, result *ParseResult) error
	Delete(ctx context.Context, url string) error
	Close() error
}

// ParseRecord is one row of parse history.
type ParseRecord struct {
	ID        int64
	SourceURL string
	Platform  string
	Kind      MediaKind
	Title     string
	Author    string
	MediaURLs []string
	Status    string // ok | error
	Error     string
	LatencyMs int64
	CreatedAt time.Time
}

// HistoryStats is an aggregate over the parse history.
type HistoryStats struct {
	Total      int64
	Succeeded  int64
	Failed     int64
	ByPlatform map[string]int64
}

// HistoryStore persists parse outcomes.
type HistoryStore interface {
	Record(ctx context.Context, rec ParseRecord) error
	Recent(ctx context.Context, limit int) ([]ParseRecord, error)
	Stats(ctx context.Context) (HistoryStats, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

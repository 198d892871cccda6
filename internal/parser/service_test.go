package parser

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"parsebot/internal/bus"
	"parsebot/internal/cache"
	"parsebot/internal/config"
	"parsebot/internal/domain"
	"parsebot/internal/platform"
	"parsebot/internal/resolver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// upstream is a fake parsing API that counts hits and can be flipped into
// failure mode.
type upstream struct {
	srv  *httptest.Server
	hits atomic.Int64
	fail atomic.Bool
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		if u.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"title":  "a clip",
				"author": "someone",
				"url":    "https://cdn.example.com/clean.mp4",
			},
		})
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func newTestService(t *testing.T, u *upstream, c domain.Cache) (*Service, *bus.InMemoryBus) {
	t.Helper()
	logger := testLogger()

	cfg := config.Defaults()
	cfg.Endpoints["video"] = config.EndpointConfig{URL: u.srv.URL, Kind: "video", TimeoutSeconds: 5}
	cfg.Endpoints["image"] = config.EndpointConfig{URL: u.srv.URL, Kind: "image", TimeoutSeconds: 5}

	matcher, err := platform.NewMatcher(cfg.Platforms, logger)
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}

	mb := bus.New(16, logger)
	t.Cleanup(mb.Close)

	svc := NewService(ServiceConfig{
		Bus:             mb,
		Matcher:         matcher,
		Resolvers:       resolver.NewFactory(cfg, logger),
		Cache:           c,
		Events:          bus.NewEventBus(logger),
		Logger:          logger,
		Commands:        cfg.Commands,
		AutoDetectLinks: true,
		Concurrency:     2,
		RateBurst:       100,
		RatePerMinute:   6000,
	})
	return svc, mb
}

func TestResolveURL_Success(t *testing.T) {
	u := newUpstream(t)
	svc, _ := newTestService(t, u, nil)

	res, err := svc.ResolveURL(context.Background(), "https://www.douyin.com/video/123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Platform != "douyin" || res.Title != "a clip" {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(res.MediaURLs) != 1 || res.MediaURLs[0] != "https://cdn.example.com/clean.mp4" {
		t.Errorf("unexpected media: %v", res.MediaURLs)
	}
	if u.hits.Load() != 1 {
		t.Errorf("expected 1 upstream hit, got %d", u.hits.Load())
	}
}

func TestResolveURL_CacheHitSkipsUpstream(t *testing.T) {
	u := newUpstream(t)
	c := cache.NewMemory(time.Minute, 100)
	defer c.Close()
	svc, _ := newTestService(t, u, c)
	ctx := context.Background()

	first, err := svc.ResolveURL(ctx, "https://www.douyin.com/video/123")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.ResolveURL(ctx, "https://www.douyin.com/video/123")
	if err != nil {
		t.Fatal(err)
	}

	if u.hits.Load() != 1 {
		t.Fatalf("expected cached second resolve, upstream hit %d times", u.hits.Load())
	}
	if second.Title != first.Title || second.MediaURLs[0] != first.MediaURLs[0] {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}
}

func TestResolveURL_UnsupportedPlatform(t *testing.T) {
	u := newUpstream(t)
	svc, _ := newTestService(t, u, nil)

	_, err := svc.ResolveURL(context.Background(), "https://example.com/not-a-platform")
	if !errors.Is(err, domain.ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
	if u.hits.Load() != 0 {
		t.Errorf("unsupported link must not reach upstream, got %d hits", u.hits.Load())
	}
}

func TestResolveURL_UpstreamErrorNotCached(t *testing.T) {
	u := newUpstream(t)
	u.fail.Store(true)
	c := cache.NewMemory(time.Minute, 100)
	defer c.Close()
	svc, _ := newTestService(t, u, c)
	ctx := context.Background()

	_, err := svc.ResolveURL(ctx, "https://www.douyin.com/video/500")
	var upErr *domain.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}

	key := cacheKey(domain.ParseRequest{URL: "https://www.douyin.com/video/500", Kind: domain.MediaVideo})
	if _, err := c.Get(ctx, key); !errors.Is(err, domain.ErrCacheMiss) {
		t.Fatal("failed parse must not be cached")
	}

	// Once upstream recovers the same link resolves fine.
	u.fail.Store(false)
	res, err := svc.ResolveURL(ctx, "https://www.douyin.com/video/500")
	if err != nil {
		t.Fatalf("resolve after recovery: %v", err)
	}
	if res.Title != "a clip" {
		t.Errorf("unexpected result after recovery: %+v", res)
	}
}

// collectReplies wires an outbound handler that records replies for the cli
// channel.
func collectReplies(mb *bus.InMemoryBus) (*sync.Mutex, *[]domain.OutboundMessage) {
	var mu sync.Mutex
	var got []domain.OutboundMessage
	mb.OnOutbound("cli", func(msg domain.OutboundMessage) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	return &mu, &got
}

func waitForReply(t *testing.T, mu *sync.Mutex, got *[]domain.OutboundMessage) domain.OutboundMessage {
	t.Helper()
	return waitForReplies(t, mu, got, 1)
}

// waitForReplies blocks until n replies arrived and returns the nth.
func waitForReplies(t *testing.T, mu *sync.Mutex, got *[]domain.OutboundMessage, n int) domain.OutboundMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		if len(*got) >= n {
			msg := (*got)[n-1]
			mu.Unlock()
			return msg
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("reply %d never arrived", n)
	return domain.OutboundMessage{}
}

func TestRun_AutoDetectedLinkGetsReply(t *testing.T) {
	u := newUpstream(t)
	svc, mb := newTestService(t, u, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	mu, got := collectReplies(mb)
	mb.Publish(domain.InboundMessage{
		Channel:   "cli",
		ChatID:    "local",
		SenderID:  "user",
		Content:   "look at this https://www.douyin.com/video/42 so good",
		Timestamp: time.Now(),
	})

	reply := waitForReply(t, mu, got)
	if !strings.Contains(reply.Content, "a clip") || !strings.Contains(reply.Content, "clean.mp4") {
		t.Errorf("reply missing resolved fields: %q", reply.Content)
	}
	if len(reply.Media) != 1 || reply.Media[0].Kind != domain.MediaVideo {
		t.Errorf("expected one video attachment, got %+v", reply.Media)
	}
}

func TestRun_UnrelatedMessageIgnored(t *testing.T) {
	u := newUpstream(t)
	svc, mb := newTestService(t, u, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	mu, got := collectReplies(mb)
	mb.Publish(domain.InboundMessage{
		Channel: "cli", ChatID: "local", Content: "good morning everyone",
	})
	mb.Publish(domain.InboundMessage{
		Channel: "cli", ChatID: "local", Content: "see https://example.com/blog-post",
	})

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(*got) != 0 {
		t.Errorf("unrelated messages must not be answered, got %+v", *got)
	}
	if u.hits.Load() != 0 {
		t.Errorf("unrelated messages must not reach upstream, got %d hits", u.hits.Load())
	}
}

func TestRun_CommandWithoutArgument(t *testing.T) {
	u := newUpstream(t)
	svc, mb := newTestService(t, u, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	mu, got := collectReplies(mb)
	mb.Publish(domain.InboundMessage{Channel: "cli", ChatID: "local", Content: "/parse"})

	reply := waitForReply(t, mu, got)
	if !strings.Contains(reply.Content, "Usage:") {
		t.Errorf("expected usage hint, got %q", reply.Content)
	}
}

func TestRun_CommandWithUnsupportedLink(t *testing.T) {
	u := newUpstream(t)
	svc, mb := newTestService(t, u, nil)
	svc.expander = nil

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	mu, got := collectReplies(mb)
	mb.Publish(domain.InboundMessage{Channel: "cli", ChatID: "local", Content: "/parse https://example.com/x"})

	reply := waitForReply(t, mu, got)
	if !strings.Contains(reply.Content, "not from a supported platform") {
		t.Errorf("unexpected reply: %q", reply.Content)
	}
	if u.hits.Load() != 0 {
		t.Errorf("unsupported command link must not reach upstream, got %d hits", u.hits.Load())
	}
}

func TestRun_UpstreamFailureGetsApology(t *testing.T) {
	u := newUpstream(t)
	u.fail.Store(true)
	svc, mb := newTestService(t, u, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	mu, got := collectReplies(mb)
	mb.Publish(domain.InboundMessage{Channel: "cli", ChatID: "local", Content: "https://www.douyin.com/video/9"})

	reply := waitForReply(t, mu, got)
	if !strings.Contains(reply.Content, "failed") {
		t.Errorf("expected failure reply, got %q", reply.Content)
	}
	if len(reply.Media) != 0 {
		t.Errorf("failure reply must carry no media, got %+v", reply.Media)
	}
}

func TestRun_ForcedKindNotServedFromOtherKindCache(t *testing.T) {
	u := newUpstream(t)
	c := cache.NewMemory(time.Minute, 100)
	defer c.Close()
	svc, mb := newTestService(t, u, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	mu, got := collectReplies(mb)
	link := "https://www.douyin.com/video/55"

	mb.Publish(domain.InboundMessage{Channel: "cli", ChatID: "local", Content: "/video " + link})
	waitForReplies(t, mu, got, 1)
	mb.Publish(domain.InboundMessage{Channel: "cli", ChatID: "local", Content: "/image " + link})
	waitForReplies(t, mu, got, 2)

	if u.hits.Load() != 2 {
		t.Fatalf("forced image parse must not reuse the video cache entry, got %d upstream hits", u.hits.Load())
	}

	// Repeating either kind is now a cache hit.
	mb.Publish(domain.InboundMessage{Channel: "cli", ChatID: "local", Content: "/video " + link})
	waitForReplies(t, mu, got, 3)
	if u.hits.Load() != 2 {
		t.Errorf("repeated video parse should hit the cache, got %d upstream hits", u.hits.Load())
	}
}

// expanderFunc adapts a function to the resolver.Expander interface.
type expanderFunc func(ctx context.Context, link string) (string, error)

func (f expanderFunc) Expand(ctx context.Context, link string) (string, error) { return f(ctx, link) }

func TestClassify_ExpandsShortLinks(t *testing.T) {
	u := newUpstream(t)
	svc, _ := newTestService(t, u, nil)
	svc.expander = expanderFunc(func(ctx context.Context, link string) (string, error) {
		return "https://www.douyin.com/video/777", nil
	})

	rule, url, ok := svc.classify(context.Background(), "https://t.cn/abc123")
	if !ok {
		t.Fatal("expected expanded link to classify")
	}
	if rule.Name != "douyin" || url != "https://www.douyin.com/video/777" {
		t.Errorf("unexpected classification: %s %s", rule.Name, url)
	}
}

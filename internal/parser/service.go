// Package parser is the message pipeline: it watches the bus for recognized
// links, dispatches them to upstream parsing APIs, and relays the resolved
// watermark-free media back to the originating channel.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parsebot/internal/bus"
	"parsebot/internal/config"
	"parsebot/internal/domain"
	"parsebot/internal/metrics"
	"parsebot/internal/platform"
	"parsebot/internal/resolver"
)

const (
	defaultConcurrency   = 5
	defaultRateBurst     = 5
	defaultRatePerMinute = 30.0
)

// ResolverSource yields the resolver chain for a matched rule. Satisfied by
// *resolver.Factory.
type ResolverSource interface {
	ForRule(rule *platform.Rule, kind domain.MediaKind) (domain.Resolver, error)
}

// Downloader saves resolved media locally. Satisfied by *download.Downloader.
type Downloader interface {
	Save(ctx context.Context, res *domain.ParseResult) ([]string, error)
}

// ServiceConfig holds the pipeline's dependencies. Cache, History, Expander,
// Downloader, and Events are optional.
type ServiceConfig struct {
	Bus             domain.MessageBus
	Matcher         *platform.Matcher
	Resolvers       ResolverSource
	Cache           domain.Cache
	History         domain.HistoryStore
	Expander        resolver.Expander
	Downloader      Downloader
	Events          *bus.EventBus
	Logger          *slog.Logger
	Commands        []config.CommandConfig
	AutoDetectLinks bool
	Concurrency     int
	RateBurst       int
	RatePerMinute   float64
}

// Service consumes inbound messages and answers the ones carrying links from
// supported platforms. Everything else is ignored.
type Service struct {
	bus         domain.MessageBus
	matcher     *platform.Matcher
	resolvers   ResolverSource
	cache       domain.Cache
	history     domain.HistoryStore
	expander    resolver.Expander
	downloader  Downloader
	events      *bus.EventBus
	logger      *slog.Logger
	commands    []config.CommandConfig
	autoDetect  bool
	concurrency int
	rateLimiter *RateLimiter
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = defaultRatePerMinute
	}
	return &Service{
		bus:         cfg.Bus,
		matcher:     cfg.Matcher,
		resolvers:   cfg.Resolvers,
		cache:       cfg.Cache,
		history:     cfg.History,
		expander:    cfg.Expander,
		downloader:  cfg.Downloader,
		events:      cfg.Events,
		logger:      cfg.Logger,
		commands:    cfg.Commands,
		autoDetect:  cfg.AutoDetectLinks,
		concurrency: cfg.Concurrency,
		rateLimiter: NewRateLimiter(cfg.RateBurst, cfg.RatePerMinute),
	}
}

// Run consumes inbound messages with bounded concurrency until the context is
// cancelled or the bus closes.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("parse pipeline started", "concurrency", s.concurrency)

	sem := make(chan struct{}, s.concurrency)
	inbound := s.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("parse pipeline stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				s.logger.Info("inbound channel closed, parse pipeline stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				s.processMessage(ctx, m)
			}(msg)
		}
	}
}

// processMessage classifies one inbound message and sends a reply when it
// carries a parseable link. Unrecognized messages produce no reply.
func (s *Service) processMessage(ctx context.Context, msg domain.InboundMessage) {
	metrics.MessagesTotal.Inc()
	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if cmd, args, ok := s.matchCommand(msg.Content); ok {
		s.handleCommand(ctx, msg, cmd, args)
		return
	}

	if !s.autoDetect {
		return
	}

	m, ok := s.matcher.Match(msg.Content)
	if !ok {
		return
	}

	text, media := s.handleParse(ctx, domain.ParseRequest{
		URL:      m.URL,
		Platform: m.Rule.Name,
		Kind:     m.Rule.Kind,
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
	}, m.Rule)

	s.reply(msg, text, media)
}

// matchCommand checks the message against the configured command triggers.
func (s *Service) matchCommand(content string) (config.CommandConfig, string, bool) {
	for _, cmd := range s.commands {
		if cmd.Trigger == "" || !strings.HasPrefix(content, cmd.Trigger) {
			continue
		}
		args := strings.TrimSpace(strings.TrimPrefix(content, cmd.Trigger))
		return cmd, args, true
	}
	return config.CommandConfig{}, "", false
}

// handleCommand processes an explicit parse command. Unlike auto-detection,
// an explicit request always gets an answer, even if it is an error message.
func (s *Service) handleCommand(ctx context.Context, msg domain.InboundMessage, cmd config.CommandConfig, args string) {
	if args == "" {
		s.reply(msg, fmt.Sprintf("Usage: %s <link>", cmd.Trigger), nil)
		return
	}

	link := args
	if urls := platform.ExtractURLs(args); len(urls) > 0 {
		link = urls[0]
	}

	rule, matchedURL, ok := s.classify(ctx, link)
	if !ok {
		s.reply(msg, "That link is not from a supported platform.", nil)
		return
	}

	kind := rule.Kind
	if cmd.Kind != "" {
		kind = domain.MediaKind(cmd.Kind)
	}

	text, media := s.handleParse(ctx, domain.ParseRequest{
		URL:      matchedURL,
		Platform: rule.Name,
		Kind:     kind,
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
	}, rule)

	s.reply(msg, text, media)
}

// classify matches a single URL against the rule table, expanding short links
// once when the raw URL does not match.
func (s *Service) classify(ctx context.Context, link string) (*platform.Rule, string, bool) {
	if rule, ok := s.matcher.MatchURL(link); ok {
		return rule, link, true
	}
	if s.expander == nil {
		return nil, "", false
	}
	expanded, err := s.expander.Expand(ctx, link)
	if err != nil {
		s.logger.Debug("short link expansion failed", "url", link, "err", err)
		return nil, "", false
	}
	if rule, ok := s.matcher.MatchURL(expanded); ok {
		return rule, expanded, true
	}
	return nil, "", false
}

// cacheKey separates entries per media kind so a forced /image parse is never
// answered from a cached video result for the same link.
func cacheKey(req domain.ParseRequest) string {
	return string(req.Kind) + "|" + req.URL
}

// handleParse runs the cache → dispatch → record pipeline for one request and
// returns the reply text plus media attachments.
func (s *Service) handleParse(ctx context.Context, req domain.ParseRequest, rule *platform.Rule) (string, []domain.MediaAttachment) {
	s.emit(bus.EventParseRequested, map[string]any{"url": req.URL, "platform": req.Platform})
	metrics.ParseRequestsTotal.Inc()

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey(req)); err == nil {
			metrics.CacheHitsTotal.Inc()
			s.emit(bus.EventCacheHit, map[string]any{"url": req.URL, "platform": req.Platform})
			s.logger.Debug("cache hit", "url", req.URL, "platform", req.Platform)
			return FormatResult(cached)
		} else if !errors.Is(err, domain.ErrCacheMiss) {
			s.logger.Warn("cache lookup failed", "url", req.URL, "err", err)
		}
	}

	res, latency, err := s.dispatch(ctx, req, rule)
	if err != nil {
		s.recordFailure(ctx, req, latency, err)
		return s.failureReply(err), nil
	}

	metrics.ResolveLatency.Observe(latency.Seconds())

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(req), res); err != nil {
			s.logger.Warn("cache store failed", "url", req.URL, "err", err)
		}
	}
	s.recordSuccess(ctx, req, res, latency)
	s.emit(bus.EventParseResolved, map[string]any{
		"url":      req.URL,
		"platform": req.Platform,
		"media":    len(res.MediaURLs),
	})

	if s.downloader != nil {
		s.download(ctx, res)
	}

	return FormatResult(res)
}

// dispatch resolves the request against the upstream APIs under the rate
// limit, measuring end-to-end latency.
func (s *Service) dispatch(ctx context.Context, req domain.ParseRequest, rule *platform.Rule) (*domain.ParseResult, time.Duration, error) {
	r, err := s.resolvers.ForRule(rule, req.Kind)
	if err != nil {
		return nil, 0, err
	}

	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	res, err := r.Resolve(ctx, req)
	latency := time.Since(start)
	if err != nil {
		return nil, latency, err
	}
	return res, latency, nil
}

func (s *Service) download(ctx context.Context, res *domain.ParseResult) {
	paths, err := s.downloader.Save(ctx, res)
	if err != nil {
		s.logger.Warn("media download failed", "platform", res.Platform, "err", err)
		return
	}
	if len(paths) > 0 {
		metrics.DownloadsTotal.Add(int64(len(paths)))
		s.emit(bus.EventMediaDownloaded, map[string]any{"platform": res.Platform, "files": len(paths)})
	}
}

func (s *Service) recordSuccess(ctx context.Context, req domain.ParseRequest, res *domain.ParseResult, latency time.Duration) {
	if s.history == nil {
		return
	}
	err := s.history.Record(ctx, domain.ParseRecord{
		SourceURL: req.URL,
		Platform:  req.Platform,
		Kind:      req.Kind,
		Title:     res.Title,
		Author:    res.Author,
		MediaURLs: res.MediaURLs,
		Status:    "ok",
		LatencyMs: latency.Milliseconds(),
	})
	if err != nil {
		s.logger.Warn("history record failed", "url", req.URL, "err", err)
	}
}

func (s *Service) recordFailure(ctx context.Context, req domain.ParseRequest, latency time.Duration, cause error) {
	if !errors.Is(cause, domain.ErrUnsupportedPlatform) {
		metrics.UpstreamErrorsTotal.Inc()
	}
	s.emit(bus.EventParseFailed, map[string]any{
		"url":      req.URL,
		"platform": req.Platform,
		"error":    cause.Error(),
	})
	s.logger.Error("parse failed", "url", req.URL, "platform", req.Platform, "err", cause)

	if s.history == nil {
		return
	}
	err := s.history.Record(ctx, domain.ParseRecord{
		SourceURL: req.URL,
		Platform:  req.Platform,
		Kind:      req.Kind,
		Status:    "error",
		Error:     cause.Error(),
		LatencyMs: latency.Milliseconds(),
	})
	if err != nil {
		s.logger.Warn("history record failed", "url", req.URL, "err", err)
	}
}

// failureReply turns a pipeline error into the text sent back to the chat.
// Upstream-provided messages (expired link, region lock) pass through, since
// they tell the user what to fix.
func (s *Service) failureReply(err error) string {
	if errors.Is(err, domain.ErrUnsupportedPlatform) {
		return "No parsing endpoint is configured for this platform."
	}
	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) && upErr.Msg != "" {
		return fmt.Sprintf("Parsing failed: %s", upErr.Msg)
	}
	return "Sorry, parsing failed. Please try again later."
}

func (s *Service) reply(msg domain.InboundMessage, text string, media []domain.MediaAttachment) {
	if text == "" {
		return
	}
	s.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
		Format:  "text",
		Media:   media,
	})
	s.emit(bus.EventMessageSent, map[string]any{"channel": msg.Channel, "chat_id": msg.ChatID})
}

func (s *Service) emit(eventType string, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Emit(bus.Event{Type: eventType, Source: "parser", Payload: payload})
}

// ResolveURL parses a single link synchronously, outside the bus. Used by the
// one-shot CLI command.
func (s *Service) ResolveURL(ctx context.Context, raw string) (*domain.ParseResult, error) {
	link := raw
	if urls := platform.ExtractURLs(raw); len(urls) > 0 {
		link = urls[0]
	}

	rule, matchedURL, ok := s.classify(ctx, link)
	if !ok {
		return nil, fmt.Errorf("%s: %w", link, domain.ErrUnsupportedPlatform)
	}

	req := domain.ParseRequest{URL: matchedURL, Platform: rule.Name, Kind: rule.Kind}

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey(req)); err == nil {
			metrics.CacheHitsTotal.Inc()
			return cached, nil
		}
	}

	res, latency, err := s.dispatch(ctx, req, rule)
	if err != nil {
		s.recordFailure(ctx, req, latency, err)
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(req), res); err != nil {
			s.logger.Warn("cache store failed", "url", req.URL, "err", err)
		}
	}
	s.recordSuccess(ctx, req, res, latency)
	return res, nil
}

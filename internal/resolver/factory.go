package resolver

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"parsebot/internal/config"
	"parsebot/internal/domain"
	"parsebot/internal/platform"
)

// Factory creates and caches endpoint resolvers from config.
type Factory struct {
	endpoints map[string]config.EndpointConfig
	logger    *slog.Logger
	client    *http.Client
	cache     map[string]domain.Resolver
	mu        sync.RWMutex
}

// NewFactory creates a resolver factory over the configured endpoints. All
// resolvers share one pooled HTTP client.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	return &Factory{
		endpoints: cfg.Endpoints,
		logger:    logger,
		client:    SharedHTTPClient(0),
		cache:     make(map[string]domain.Resolver),
	}
}

// Get returns the resolver for a configured endpoint name. Created resolvers
// are cached so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Resolver, error) {
	// Fast path: read lock.
	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	// Slow path: write lock with double-check.
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	ep, ok := f.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint: %s", name)
	}

	r := NewHTTP(HTTPConfig{
		Name:     name,
		Endpoint: ep.URL,
		Kind:     domain.MediaKind(ep.Kind),
		Timeout:  time.Duration(ep.TimeoutSeconds) * time.Second,
		Headers:  ep.Headers,
		Client:   f.client,
		Logger:   f.logger,
	})
	f.cache[name] = r
	return r, nil
}

// ForRule returns the resolver chain for a matched platform rule: the rule's
// explicit endpoint list, or every configured endpoint of the rule's kind
// (sorted by name for deterministic failover order). Endpoints without a URL
// are skipped; when nothing usable remains the platform is unsupported.
func (f *Factory) ForRule(rule *platform.Rule, kind domain.MediaKind) (domain.Resolver, error) {
	names := rule.Endpoints
	if len(names) == 0 {
		for name, ep := range f.endpoints {
			if domain.MediaKind(ep.Kind) == kind {
				names = append(names, name)
			}
		}
		sort.Strings(names)
	}

	var chain []domain.Resolver
	for _, name := range names {
		ep, ok := f.endpoints[name]
		if !ok || ep.URL == "" {
			continue
		}
		r, err := f.Get(name)
		if err != nil {
			continue
		}
		chain = append(chain, r)
	}

	switch len(chain) {
	case 0:
		return nil, fmt.Errorf("platform %s: no usable endpoint: %w", rule.Name, domain.ErrUnsupportedPlatform)
	case 1:
		return chain[0], nil
	default:
		return NewFailover(chain, f.logger), nil
	}
}

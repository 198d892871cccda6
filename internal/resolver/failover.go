package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"parsebot/internal/domain"
)

// FailoverResolver tries multiple endpoints in order, falling back to the
// next one when the current fails. First success wins.
type FailoverResolver struct {
	resolvers []domain.Resolver
	logger    *slog.Logger
}

// NewFailover creates a failover chain from the given resolvers.
// At least one resolver is required.
func NewFailover(resolvers []domain.Resolver, logger *slog.Logger) *FailoverResolver {
	return &FailoverResolver{
		resolvers: resolvers,
		logger:    logger,
	}
}

func (f *FailoverResolver) Name() string {
	names := make([]string, len(f.resolvers))
	for i, r := range f.resolvers {
		names[i] = r.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

func (f *FailoverResolver) Resolve(ctx context.Context, req domain.ParseRequest) (*domain.ParseResult, error) {
	var lastErr error
	for i, r := range f.resolvers {
		result, err := r.Resolve(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback endpoint",
					"endpoint", r.Name(),
					"attempt", i+1,
				)
			}
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("failover: endpoint failed, trying next",
			"endpoint", r.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints in failover chain")
	}
	return nil, lastErr
}

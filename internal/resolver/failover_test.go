package resolver

import (
	"context"
	"errors"
	"testing"

	"parsebot/internal/domain"
)

type stubResolver struct {
	name   string
	result *domain.ParseResult
	err    error
	calls  int
}

func (s *stubResolver) Name() string { return s.name }

func (s *stubResolver) Resolve(ctx context.Context, req domain.ParseRequest) (*domain.ParseResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestFailover_FirstSucceeds(t *testing.T) {
	first := &stubResolver{name: "a", result: &domain.ParseResult{MediaURLs: []string{"u"}}}
	second := &stubResolver{name: "b", result: &domain.ParseResult{MediaURLs: []string{"v"}}}

	f := NewFailover([]domain.Resolver{first, second}, testLogger())
	result, err := f.Resolve(context.Background(), domain.ParseRequest{URL: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if result.MediaURLs[0] != "u" {
		t.Errorf("expected first resolver's result, got %v", result.MediaURLs)
	}
	if second.calls != 0 {
		t.Error("second resolver should not have been called")
	}
}

func TestFailover_FallsBack(t *testing.T) {
	first := &stubResolver{name: "a", err: &domain.UpstreamError{Endpoint: "a", Status: 502}}
	second := &stubResolver{name: "b", result: &domain.ParseResult{MediaURLs: []string{"v"}}}

	f := NewFailover([]domain.Resolver{first, second}, testLogger())
	result, err := f.Resolve(context.Background(), domain.ParseRequest{URL: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if result.MediaURLs[0] != "v" {
		t.Errorf("expected fallback result, got %v", result.MediaURLs)
	}
}

func TestFailover_AllFail(t *testing.T) {
	wantErr := &domain.UpstreamError{Endpoint: "b", Status: 500}
	first := &stubResolver{name: "a", err: &domain.UpstreamError{Endpoint: "a", Status: 500}}
	second := &stubResolver{name: "b", err: wantErr}

	f := NewFailover([]domain.Resolver{first, second}, testLogger())
	_, err := f.Resolve(context.Background(), domain.ParseRequest{URL: "x"})

	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Endpoint != "b" {
		t.Errorf("expected last endpoint's error, got %s", ue.Endpoint)
	}
}

func TestFailover_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubResolver{name: "a", err: errors.New("network down")}
	second := &stubResolver{name: "b", result: &domain.ParseResult{MediaURLs: []string{"v"}}}

	f := NewFailover([]domain.Resolver{first, second}, testLogger())
	cancel()
	_, err := f.Resolve(ctx, domain.ParseRequest{URL: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if second.calls != 0 {
		t.Error("must not try next endpoint after cancellation")
	}
}

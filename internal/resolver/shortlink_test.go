package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPExpander_FollowsRedirect(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer final.Close()

	short := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/video/123", http.StatusFound)
	}))
	defer short.Close()

	e := NewHTTPExpander(testLogger())
	got, err := e.Expand(context.Background(), short.URL+"/s/abc")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != final.URL+"/video/123" {
		t.Errorf("expected %s, got %s", final.URL+"/video/123", got)
	}
}

func TestHTTPExpander_NoRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewHTTPExpander(testLogger())
	got, err := e.Expand(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != srv.URL+"/page" {
		t.Errorf("URL should be unchanged, got %s", got)
	}
}

type stubExpander struct {
	out   string
	calls int
}

func (s *stubExpander) Expand(ctx context.Context, link string) (string, error) {
	s.calls++
	return s.out, nil
}

func TestCompositeExpander_RoutesByHost(t *testing.T) {
	httpExp := &stubExpander{out: "http-expanded"}
	browserExp := &stubExpander{out: "browser-expanded"}

	c := NewCompositeExpander(httpExp, browserExp, []string{"xhslink.com"})

	got, err := c.Expand(context.Background(), "http://xhslink.com/AbC")
	if err != nil {
		t.Fatal(err)
	}
	if got != "browser-expanded" || browserExp.calls != 1 {
		t.Errorf("browser host should use the browser expander, got %s", got)
	}

	got, err = c.Expand(context.Background(), "https://v.douyin.com/xyz")
	if err != nil {
		t.Fatal(err)
	}
	if got != "http-expanded" || httpExp.calls != 1 {
		t.Errorf("other hosts should use the http expander, got %s", got)
	}
}

func TestCompositeExpander_NoBrowserFallsThrough(t *testing.T) {
	httpExp := &stubExpander{out: "http-expanded"}
	c := NewCompositeExpander(httpExp, nil, []string{"xhslink.com"})

	got, err := c.Expand(context.Background(), "http://xhslink.com/AbC")
	if err != nil {
		t.Fatal(err)
	}
	if got != "http-expanded" {
		t.Errorf("expected http fallback when no browser expander, got %s", got)
	}
}

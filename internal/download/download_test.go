package download

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"parsebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newDownloader(t *testing.T, maxSizeMB int) *Downloader {
	t.Helper()
	d, err := New(Config{
		Dir:       t.TempDir(),
		MaxSizeMB: maxSizeMB,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestSave_Video(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("fake mp4 bytes"))
	}))
	defer srv.Close()

	d := newDownloader(t, 10)
	paths, err := d.Save(context.Background(), &domain.ParseResult{
		Platform:  "douyin",
		Kind:      domain.MediaVideo,
		Title:     "a clip",
		MediaURLs: []string{srv.URL + "/v.mp4"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 file, got %d", len(paths))
	}
	if filepath.Base(paths[0]) != "a clip.mp4" {
		t.Errorf("unexpected filename: %s", paths[0])
	}
	data, err := os.ReadFile(paths[0])
	if err != nil || string(data) != "fake mp4 bytes" {
		t.Errorf("bad file content: %q err=%v", data, err)
	}
}

func TestSave_GalleryIndexesFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpg"))
	}))
	defer srv.Close()

	d := newDownloader(t, 10)
	paths, err := d.Save(context.Background(), &domain.ParseResult{
		Platform:  "xiaohongshu",
		Kind:      domain.MediaImage,
		Title:     "gallery",
		MediaURLs: []string{srv.URL + "/1", srv.URL + "/2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 files, got %d", len(paths))
	}
	if filepath.Base(paths[0]) != "gallery_01.jpg" || filepath.Base(paths[1]) != "gallery_02.jpg" {
		t.Errorf("unexpected filenames: %v", paths)
	}
}

func TestSave_SkipsOversized(t *testing.T) {
	big := strings.Repeat("x", 2*1024*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte(big))
	}))
	defer srv.Close()

	d := newDownloader(t, 1)
	paths, err := d.Save(context.Background(), &domain.ParseResult{
		Platform:  "douyin",
		Kind:      domain.MediaVideo,
		MediaURLs: []string{srv.URL + "/big.mp4"},
	})
	if err != nil {
		t.Fatalf("oversized media should be skipped, not failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("oversized file was written: %v", paths)
	}
}

func TestSave_SanitizesTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	}))
	defer srv.Close()

	d := newDownloader(t, 10)
	paths, err := d.Save(context.Background(), &domain.ParseResult{
		Platform:  "weibo",
		Kind:      domain.MediaImage,
		Title:     `a/b:c?"d"`,
		MediaURLs: []string{srv.URL},
	})
	if err != nil {
		t.Fatal(err)
	}
	base := filepath.Base(paths[0])
	if strings.ContainsAny(base, `/:?"`) {
		t.Errorf("unsanitized filename: %s", base)
	}
}

func TestSave_LongMultiByteTitleStaysValidUTF8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4"))
	}))
	defer srv.Close()

	d := newDownloader(t, 10)
	paths, err := d.Save(context.Background(), &domain.ParseResult{
		Platform:  "douyin",
		Kind:      domain.MediaVideo,
		Title:     strings.Repeat("短视频解析", 10), // well past the name cap
		MediaURLs: []string{srv.URL + "/v.mp4"},
	})
	if err != nil {
		t.Fatal(err)
	}
	base := filepath.Base(paths[0])
	if !utf8.ValidString(base) {
		t.Errorf("truncation split a rune: %q", base)
	}
	if strings.ContainsRune(base, utf8.RuneError) {
		t.Errorf("replacement char in filename: %q", base)
	}
}

func TestSave_UpstreamErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := newDownloader(t, 10)
	_, err := d.Save(context.Background(), &domain.ParseResult{
		Platform:  "douyin",
		Kind:      domain.MediaVideo,
		MediaURLs: []string{srv.URL + "/gone.mp4"},
	})
	if err == nil {
		t.Fatal("expected error for 404 media")
	}
}

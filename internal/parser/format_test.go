package parser

import (
	"strings"
	"testing"

	"parsebot/internal/domain"
)

func TestFormatResult_Video(t *testing.T) {
	text, media := FormatResult(&domain.ParseResult{
		Platform:  "douyin",
		Kind:      domain.MediaVideo,
		Title:     "a clip",
		Author:    "someone",
		MediaURLs: []string{"https://cdn/clean.mp4"},
		Preview:   "https://cdn/cover.jpg",
		MusicURL:  "https://cdn/bgm.mp3",
	})

	for _, want := range []string{
		"Platform: douyin",
		"Title: a clip",
		"Author: someone",
		"Video: https://cdn/clean.mp4",
		"Preview: https://cdn/cover.jpg",
		"Music: https://cdn/bgm.mp3",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}

	if len(media) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(media))
	}
	if media[0].Kind != domain.MediaVideo || media[0].Caption != "a clip" {
		t.Errorf("unexpected attachment: %+v", media[0])
	}
}

func TestFormatResult_ImageGallery(t *testing.T) {
	text, media := FormatResult(&domain.ParseResult{
		Platform:  "xiaohongshu",
		Kind:      domain.MediaImage,
		Author:    "someone",
		MediaURLs: []string{"https://cdn/1.jpg", "https://cdn/2.jpg"},
	})

	if !strings.Contains(text, "Images:\nhttps://cdn/1.jpg\nhttps://cdn/2.jpg") {
		t.Errorf("image list not rendered:\n%s", text)
	}
	if strings.Contains(text, "Title:") {
		t.Errorf("empty fields must be omitted:\n%s", text)
	}
	if len(media) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(media))
	}
	for _, m := range media {
		if m.Kind != domain.MediaImage {
			t.Errorf("wrong attachment kind: %+v", m)
		}
	}
}

func TestFormatResult_NoTrailingNewline(t *testing.T) {
	text, _ := FormatResult(&domain.ParseResult{
		Platform:  "bilibili",
		Kind:      domain.MediaVideo,
		MediaURLs: []string{"https://cdn/v.mp4"},
	})
	if strings.HasSuffix(text, "\n") {
		t.Errorf("trailing newline in reply: %q", text)
	}
}

package parser

import (
	"strings"

	"parsebot/internal/domain"
)

// FormatResult renders a resolved link as reply text plus structured media
// attachments. Channels that can send native video/photo messages use the
// attachments; plain-text channels fall back to the URLs in the text.
func FormatResult(res *domain.ParseResult) (string, []domain.MediaAttachment) {
	var b strings.Builder

	line := func(key, value string) {
		if value == "" {
			return
		}
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}

	line("Platform", res.Platform)
	line("Title", res.Title)
	line("Author", res.Author)

	switch res.Kind {
	case domain.MediaImage:
		if len(res.MediaURLs) > 0 {
			b.WriteString("Images:\n")
			for _, u := range res.MediaURLs {
				b.WriteString(u)
				b.WriteByte('\n')
			}
		}
	default:
		if len(res.MediaURLs) > 0 {
			line("Video", res.MediaURLs[0])
		}
		line("Preview", res.Preview)
		line("Music", res.MusicURL)
	}

	media := make([]domain.MediaAttachment, 0, len(res.MediaURLs))
	for _, u := range res.MediaURLs {
		media = append(media, domain.MediaAttachment{
			Kind:    res.Kind,
			URL:     u,
			Caption: res.Title,
		})
	}

	return strings.TrimRight(b.String(), "\n"), media
}

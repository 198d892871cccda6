package domain

import "time"

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string            // text | markdown
	Media   []MediaAttachment // resolved media the channel may send natively
}

// MediaAttachment is a single piece of resolved media. Channels that support
// native media messages (Telegram video/photo) send these directly; others
// fall back to the URLs embedded in Content.
type MediaAttachment struct {
	Kind    MediaKind
	URL     string
	Caption string
}

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"parsebot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel over the Telegram Bot API with long
// polling. Resolved media is sent natively (video/photo messages) so the chat
// gets a playable clip instead of a bare URL.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.deliver(chatID, msg)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendMessage(id, content)
	return nil
}

// deliver sends an outbound message, preferring native media messages when
// attachments are present.
func (t *Telegram) deliver(chatID int64, msg domain.OutboundMessage) {
	if len(msg.Media) == 0 {
		t.sendMessage(chatID, msg.Content)
		return
	}

	if err := t.sendMedia(chatID, msg); err != nil {
		t.logger.Warn("native media send failed, falling back to text", "err", err)
		t.sendMessage(chatID, msg.Content)
	}
}

// sendMedia sends attachments natively: a single video/photo message, or an
// album for multi-image galleries.
func (t *Telegram) sendMedia(chatID int64, msg domain.OutboundMessage) error {
	media := msg.Media

	if len(media) == 1 {
		var err error
		switch media[0].Kind {
		case domain.MediaImage:
			photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(media[0].URL))
			photo.Caption = media[0].Caption
			_, err = t.bot.Send(photo)
		default:
			video := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(media[0].URL))
			video.Caption = media[0].Caption
			_, err = t.bot.Send(video)
		}
		return err
	}

	// Telegram caps albums at 10 entries.
	for start := 0; start < len(media); start += 10 {
		end := start + 10
		if end > len(media) {
			end = len(media)
		}

		var group []interface{}
		for i, m := range media[start:end] {
			switch m.Kind {
			case domain.MediaImage:
				photo := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(m.URL))
				if start == 0 && i == 0 {
					photo.Caption = m.Caption
				}
				group = append(group, photo)
			default:
				video := tgbotapi.NewInputMediaVideo(tgbotapi.FileURL(m.URL))
				if start == 0 && i == 0 {
					video.Caption = m.Caption
				}
				group = append(group, video)
			}
		}

		if _, err := t.bot.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, group)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		if t.handleCommand(chatID, update.Message) {
			return
		}
		// Unhandled commands (e.g. /parse) go through the pipeline.
	}

	t.logger.Debug("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	t.bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

// handleCommand answers built-in bot commands. Returns false for commands the
// parse pipeline should see instead.
func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) bool {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "Hi! Send me a short-video or image-gallery link (douyin, kuaishou, xiaohongshu, bilibili, ...) and I'll fetch the watermark-free media.\n\nCommands:\n/parse <link> — parse a link\n/help — show help")
	case "help":
		t.sendMessage(chatID, "Send a supported platform link and I'll reply with the clean media.\n\n/parse <link> — parse any supported link\n/video <link> — force video parsing\n/image <link> — force image-gallery parsing")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("Bot: @%s\nYour ID: %d\nChat ID: %d", t.bot.Self.UserName, msg.From.ID, chatID))
	default:
		return false
	}
	return true
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	if text == "" {
		return
	}
	// Telegram caps messages at 4096 chars; 4000 leaves markdown headroom.
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try the configured parse mode first, fall back to plain text on
// parse errors, back off on 429.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}

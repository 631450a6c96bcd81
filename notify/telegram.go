package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"car-watchdog/models"
	"car-watchdog/utils"
)

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	Token      string
	APIURL     string
	Chats      map[models.Source]string
	FeedChats  map[string]string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// TelegramChannel posts a Markdown link for every new listing. Listings
// from a feed with its own chat go there, the rest to their source's chat.
type TelegramChannel struct {
	token     string
	apiURL    string
	chats     map[models.Source]string
	feedChats map[string]string
	client *http.Client
	retry  utils.RetryConfig
	logger *utils.Logger
}

func NewTelegramChannel(cfg TelegramConfig, logger *utils.Logger) *TelegramChannel {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	logger = logger.Named("telegram")
	return &TelegramChannel{
		token:     cfg.Token,
		apiURL:    strings.TrimRight(cfg.APIURL, "/"),
		chats:     cfg.Chats,
		feedChats: cfg.FeedChats,
		client:    &http.Client{Timeout: cfg.Timeout},
		retry: utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryDelay,
			Logger:      logger,
		},
		logger: logger,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

// Deliver sends "[title](url)" to the listing's chat.
func (t *TelegramChannel) Deliver(ctx context.Context, l models.Listing) error {
	chatID := t.chatFor(l)
	if chatID == "" {
		return fmt.Errorf("%w: no telegram chat for %s", ErrNotConfigured, l.Source)
	}
	return t.SendMessage(ctx, chatID, MarkdownLink(l.Title, l.URL))
}

func (t *TelegramChannel) chatFor(l models.Listing) string {
	if l.Feed != "" {
		if chatID := t.feedChats[l.Feed]; chatID != "" {
			return chatID
		}
	}
	return t.chats[l.Source]
}

var (
	markdownText = strings.NewReplacer(
		`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
		"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`, "=", `\=`,
		"|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
	)
	markdownURL = strings.NewReplacer(`\`, `\\`, ")", `\)`)
)

// MarkdownLink formats a Telegram MarkdownV2 link with the title and URL
// escaped.
func MarkdownLink(title, url string) string {
	return "[" + markdownText.Replace(title) + "](" + markdownURL.Replace(url) + ")"
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage calls sendMessage, retrying rate limits, server errors and
// transport failures with exponential backoff.
func (t *TelegramChannel) SendMessage(ctx context.Context, chatID, text string) error {
	if t.token == "" {
		return fmt.Errorf("%w: TELEGRAM_BOT_TOKEN is empty", ErrNotConfigured)
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "MarkdownV2"})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}
	endpoint := t.apiURL + "/bot" + t.token + "/sendMessage"

	return t.retry.Do(ctx, "telegram sendMessage", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%w: %w", utils.ErrPermanent, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			// The URL carries the bot token; keep it out of logs.
			return fmt.Errorf("telegram: request failed: %s", redact(err.Error(), t.token))
		}
		defer resp.Body.Close()

		var out apiResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, out.Description)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return fmt.Errorf("%w: telegram: status %d: %s", utils.ErrPermanent, resp.StatusCode, out.Description)
		case !out.OK:
			return fmt.Errorf("%w: telegram: %s", utils.ErrPermanent, out.Description)
		}
		return nil
	})
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<token>")
}

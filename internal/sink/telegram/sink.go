// Package telegram implements a Telegram Bot API sink.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/scraper"
)

const defaultBaseURL = "https://api.telegram.org"

// Config controls the Telegram sink.
type Config struct {
	BotToken       string
	ChatID         string
	Timeout        time.Duration
	DisablePreview bool

	// BaseURL overrides the API endpoint, primarily for testing.
	BaseURL string
}

// Doer abstracts an HTTP client for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sink posts one message per record to a Telegram chat via the Bot API.
type Sink struct {
	cfg    Config
	client Doer
	logger *zap.Logger
}

// New constructs a Sink.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type sendMessageRequest struct {
	ChatID            string `json:"chat_id"`
	Text              string `json:"text"`
	ParseMode         string `json:"parse_mode,omitempty"`
	DisableWebPreview bool   `json:"disable_web_page_preview,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send posts the record as an HTML-formatted alert message.
func (s *Sink) Send(ctx context.Context, rec scraper.Record) error {
	if err := s.sendText(ctx, formatRecord(rec), "HTML"); err != nil {
		// HTML rejections come from odd characters in scraped fields;
		// retry the same message as plain text before giving up.
		s.logger.Debug("html send failed, retrying plain", zap.Error(err))
		return s.sendText(ctx, stripTags(formatRecord(rec)), "")
	}
	return nil
}

// SendText posts a plain text message, used for cycle summaries.
func (s *Sink) SendText(ctx context.Context, text string) error {
	return s.sendText(ctx, text, "")
}

func (s *Sink) sendText(ctx context.Context, text, parseMode string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:            s.cfg.ChatID,
		Text:              text,
		ParseMode:         parseMode,
		DisableWebPreview: s.cfg.DisablePreview,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.cfg.BaseURL, s.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response fully consumed

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}
	var api apiResponse
	if err := json.Unmarshal(raw, &api); err != nil {
		return fmt.Errorf("decode telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !api.OK {
		return fmt.Errorf("telegram error %d: %s", api.ErrorCode, api.Description)
	}
	return nil
}

// Close implements sink.Sink.
func (s *Sink) Close() error { return nil }

func formatRecord(rec scraper.Record) string {
	var b strings.Builder
	b.WriteString("\U0001F6A8 <b>NEW JOB ALERT</b>\n\n")
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(rec.Title))
	if rec.Company != "" {
		fmt.Fprintf(&b, "\U0001F3E2 %s\n", html.EscapeString(rec.Company))
	}
	if rec.Location != "" {
		fmt.Fprintf(&b, "\U0001F4CD %s\n", html.EscapeString(rec.Location))
	}
	if rec.Salary != "" {
		fmt.Fprintf(&b, "\U0001F4B0 %s\n", html.EscapeString(rec.Salary))
	}
	if rec.Experience != "" {
		fmt.Fprintf(&b, "\U0001F4BC %s\n", html.EscapeString(rec.Experience))
	}
	if rec.URL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Apply here</a>", html.EscapeString(rec.URL))
	}
	return b.String()
}

func stripTags(text string) string {
	replacer := strings.NewReplacer("<b>", "", "</b>", "", "<a href=\"", "", "\">", " ", "</a>", "")
	return html.UnescapeString(replacer.Replace(text))
}

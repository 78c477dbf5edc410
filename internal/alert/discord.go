// Package alert posts operator alerts to a Discord webhook.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/ignite/notification-dispatch/internal/config"
	"github.com/ignite/notification-dispatch/internal/pkg/httpretry"
)

// Sink receives one-shot operator alerts.
type Sink interface {
	SendAlert(ctx context.Context, content string) error
}

// DiscordSink posts alerts to a Discord webhook. Without a webhook URL
// the sink runs in log-only mode, so alert call sites never have to
// care whether alerting is configured.
type DiscordSink struct {
	webhookURL string
	client     httpretry.HTTPDoer
}

var _ Sink = (*DiscordSink)(nil)

// NewDiscordSink creates a sink for the configured webhook. Posts ride
// a retrying client; Discord rate limits with 429s.
func NewDiscordSink(cfg config.AlertingConfig) *DiscordSink {
	return &DiscordSink{
		webhookURL: cfg.DiscordWebhookURL,
		client:     httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, 2),
	}
}

// discordMessage is the webhook payload. Discord caps content at 2000
// characters.
type discordMessage struct {
	Content string `json:"content"`
}

const maxContentLen = 2000

// SendAlert posts content to the webhook.
func (s *DiscordSink) SendAlert(ctx context.Context, content string) error {
	if s.webhookURL == "" {
		log.Printf("[Alert] would send: %s", content)
		return nil
	}
	if len(content) > maxContentLen {
		content = content[:maxContentLen-3] + "..."
	}

	body, err := json.Marshal(discordMessage{Content: content})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord webhook returned %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

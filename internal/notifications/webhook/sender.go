// Package webhook delivers notifications as HTTP POSTs to per-recipient
// URLs: the notification's recipient is the target URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/notifications"
	"github.com/bissquit/oncall-garden/internal/pkg/retry"
)

const defaultTimeout = 10 * time.Second

// Config holds webhook sender settings.
type Config struct {
	Timeout time.Duration
}

// Sender implements the WEBHOOK channel.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a webhook sender.
func NewSender(config Config) *Sender {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Sender{httpClient: &http.Client{Timeout: config.Timeout}}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelWebhook
}

type payload struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Send posts the notification body to the recipient URL. Network failures,
// 5xx and 429 responses are retryable; other 4xx responses are permanent.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("webhook sender: empty target url")
	}

	body, err := json.Marshal(payload{Subject: msg.Subject, Message: msg.Body})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.Retryable(fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	statusErr := fmt.Errorf("webhook returned %d: %s", resp.StatusCode, respBody)
	if retry.RetryableStatus(resp.StatusCode) {
		return notifications.Retryable(statusErr)
	}
	return statusErr
}

// Package chat delivers notifications to a team chat via a single incoming
// webhook configured at deploy time.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/notifications"
	"github.com/bissquit/oncall-garden/internal/pkg/retry"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "oncall-garden"
)

// Config holds chat sender settings.
type Config struct {
	WebhookURL string
	Username   string
	Timeout    time.Duration
}

// Sender implements the CHAT channel over an incoming webhook.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a chat sender.
func NewSender(config Config) (*Sender, error) {
	if config.WebhookURL == "" {
		return nil, errors.New("chat sender: webhook url is required")
	}
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Sender{config: config, httpClient: &http.Client{Timeout: config.Timeout}}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelChat
}

type payload struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
}

// Send posts a markdown message to the configured webhook. The recipient is
// prefixed as a mention so the right responder gets pinged in the channel.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) error {
	text := msg.Body
	if msg.Subject != "" {
		text = fmt.Sprintf("### %s\n\n%s", msg.Subject, msg.Body)
	}
	if msg.Recipient != "" {
		text = "@" + msg.Recipient + " " + text
	}

	body, err := json.Marshal(payload{Text: text, Username: s.config.Username})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.Retryable(fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	statusErr := fmt.Errorf("chat webhook returned %d: %s", resp.StatusCode, respBody)
	if retry.RetryableStatus(resp.StatusCode) {
		return notifications.Retryable(statusErr)
	}
	return statusErr
}

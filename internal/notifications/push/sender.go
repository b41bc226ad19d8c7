// Package push delivers notifications through an HTTP push gateway. The
// recipient is the device registration token.
package push

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

const defaultTimeout = 10 * time.Second

// Config holds push gateway settings.
type Config struct {
	GatewayURL string
	APIKey     string
	Timeout    time.Duration
}

// Sender implements the PUSH channel.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a push sender.
func NewSender(config Config) (*Sender, error) {
	if config.GatewayURL == "" {
		return nil, errors.New("push sender: gateway url is required")
	}
	if config.APIKey == "" {
		return nil, errors.New("push sender: api key is required")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Sender{config: config, httpClient: &http.Client{Timeout: config.Timeout}}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelPush
}

type payload struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Send submits one push notification to the gateway.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) error {
	if msg.Recipient == "" {
		return errors.New("push sender: empty device token")
	}

	body, err := json.Marshal(payload{Token: msg.Recipient, Title: msg.Subject, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.Retryable(fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	statusErr := fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, respBody)
	if retry.RetryableStatus(resp.StatusCode) {
		return notifications.Retryable(statusErr)
	}
	return statusErr
}

// Package sms delivers notifications through an HTTP SMS gateway.
package sms

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

// Config holds SMS gateway settings.
type Config struct {
	GatewayURL string
	APIKey     string
	From       string
	Timeout    time.Duration
}

// Sender implements the SMS channel. The recipient is a phone number in
// E.164 form.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates an SMS sender.
func NewSender(config Config) (*Sender, error) {
	if config.GatewayURL == "" {
		return nil, errors.New("sms sender: gateway url is required")
	}
	if config.APIKey == "" {
		return nil, errors.New("sms sender: api key is required")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Sender{config: config, httpClient: &http.Client{Timeout: config.Timeout}}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelSMS
}

type payload struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

// Send submits one SMS to the gateway.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) error {
	if msg.Recipient == "" {
		return errors.New("sms sender: empty phone number")
	}

	// SMS has no subject line; lead with it so the page is self-contained.
	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + ": " + msg.Body
	}

	body, err := json.Marshal(payload{To: msg.Recipient, From: s.config.From, Body: text})
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
	statusErr := fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, respBody)
	if retry.RetryableStatus(resp.StatusCode) {
		return notifications.Retryable(statusErr)
	}
	return statusErr
}

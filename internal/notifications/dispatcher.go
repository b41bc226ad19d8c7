// Package notifications records and delivers outbound notifications over
// pluggable channel senders with bounded retry and outbound rate limiting.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/pkg/ratelimit"
	"github.com/bissquit/oncall-garden/internal/pkg/retry"
)

// Dispatcher delivers notifications. Every delivery gets a persisted record
// before the first transport attempt, so the history survives crashes
// mid-send.
type Dispatcher struct {
	repo     Repository
	registry *Registry
	limiter  *ratelimit.Limiter
	retryCfg retry.Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. limiter may be nil to disable outbound
// rate limiting (tests).
func NewDispatcher(repo Repository, registry *Registry, limiter *ratelimit.Limiter, retryCfg retry.Config, logger *slog.Logger) *Dispatcher {
	retryCfg.Retryable = IsRetryable
	return &Dispatcher{
		repo:     repo,
		registry: registry,
		limiter:  limiter,
		retryCfg: retryCfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SendInput describes one delivery.
type SendInput struct {
	IncidentID string
	UserID     *string
	Channel    domain.ChannelType
	Recipient  string
	Subject    string
	Body       string
}

// Send creates a notification record and attempts delivery. Transport
// failures do not surface as errors: the outcome lives in the returned
// record's status, so one recipient's failure never aborts the caller's
// loop over other recipients. A RateLimitedError is returned when the
// channel is over budget; the record stays pending until a later
// RedeliverPending pass picks it up.
func (d *Dispatcher) Send(ctx context.Context, in SendInput) (*domain.Notification, error) {
	if !in.Channel.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, in.Channel)
	}

	now := d.now().UTC()
	n := &domain.Notification{
		ID:         uuid.NewString(),
		IncidentID: in.IncidentID,
		UserID:     in.UserID,
		Channel:    in.Channel,
		Recipient:  in.Recipient,
		Subject:    in.Subject,
		Body:       in.Body,
		Status:     domain.NotificationPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := d.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if d.limiter != nil {
		if decision := d.limiter.Allow(string(in.Channel)); !decision.Allowed {
			rateLimitedTotal.WithLabelValues(string(in.Channel)).Inc()
			d.logger.Warn("outbound channel rate limited",
				"notification_id", n.ID,
				"channel", in.Channel,
				"retry_after", decision.RetryAfter,
			)
			return n, &RateLimitedError{Channel: string(in.Channel), RetryAfter: decision.RetryAfter}
		}
	}

	d.deliver(ctx, n)
	return n, nil
}

// deliver runs the transport with retry and finalizes the record.
func (d *Dispatcher) deliver(ctx context.Context, n *domain.Notification) {
	sender := d.registry.Get(n.Channel)
	msg := Message{Recipient: n.Recipient, Subject: n.Subject, Body: n.Body}

	start := d.now()
	res, sendErr := retry.Do(ctx, func(ctx context.Context) error {
		return sender.Send(ctx, msg)
	}, d.retryCfg)

	deliveryDuration.WithLabelValues(string(n.Channel)).Observe(d.now().Sub(start).Seconds())
	attemptsPerDelivery.WithLabelValues(string(n.Channel)).Observe(float64(res.Attempts))

	now := d.now().UTC()
	n.Attempts = res.Attempts
	n.UpdatedAt = now

	if sendErr != nil {
		msg := sendErr.Error()
		n.Status = domain.NotificationFailed
		n.ErrorMsg = &msg
		n.FailedAt = &now
		sentTotal.WithLabelValues(string(n.Channel), string(domain.NotificationFailed)).Inc()
		d.logger.Error("notification delivery failed",
			"notification_id", n.ID,
			"channel", n.Channel,
			"attempts", res.Attempts,
			"error", sendErr,
		)
	} else {
		n.Status = domain.NotificationSent
		n.ErrorMsg = nil
		n.SentAt = &now
		// The transports here confirm handoff synchronously, so delivery
		// is backfilled together with the send.
		n.DeliveredAt = &now
		sentTotal.WithLabelValues(string(n.Channel), string(domain.NotificationSent)).Inc()
		d.logger.Info("notification sent",
			"notification_id", n.ID,
			"channel", n.Channel,
			"attempts", res.Attempts,
		)
	}

	if err := d.repo.Update(ctx, n); err != nil {
		d.logger.Error("update notification record", "notification_id", n.ID, "error", err)
	}
}

// RedeliverPending re-drives records deferred by the rate limiter. A record
// whose channel is still over budget stays pending for the next pass; the
// deferral never drops a delivery. Returns how many records reached a
// terminal state.
func (d *Dispatcher) RedeliverPending(ctx context.Context, limit int) (int, error) {
	pending, err := d.repo.ListPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}

	delivered := 0
	for i := range pending {
		n := &pending[i]
		if d.limiter != nil {
			if decision := d.limiter.Allow(string(n.Channel)); !decision.Allowed {
				continue
			}
		}
		d.deliver(ctx, n)
		delivered++
	}
	return delivered, nil
}

// ListByIncident returns the delivery history of an incident.
func (d *Dispatcher) ListByIncident(ctx context.Context, incidentID string) ([]domain.Notification, error) {
	return d.repo.ListByIncident(ctx, incidentID)
}

// IsRateLimited reports whether err is a rate-limit deferral.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

package notifications

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrChannelDisabled      = errors.New("notification channel disabled")
	ErrUnknownChannel       = errors.New("unknown notification channel")
)

// RetryableError marks a transport failure worth retrying.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports the error as transient.
func (e *RetryableError) IsRetryable() bool { return true }

// Retryable wraps an error as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable walks the error chain looking for an IsRetryable marker.
// Unmarked errors are permanent.
func IsRetryable(err error) bool {
	var marker interface{ IsRetryable() bool }
	if errors.As(err, &marker) {
		return marker.IsRetryable()
	}
	return false
}

// RateLimitedError reports that an outbound channel is over its budget; the
// caller should leave the notification pending and retry after the delay.
type RateLimitedError struct {
	Channel    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("channel %s rate limited, retry after %s", e.Channel, e.RetryAfter)
}

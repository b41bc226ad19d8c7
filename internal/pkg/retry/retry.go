// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config controls the retry loop. Zero values fall back to the defaults
// below; a nil Retryable treats every error as retryable.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Retryable    func(error) bool
	OnRetry      func(attempt int, err error, delay time.Duration)
}

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultMultiplier   = 2.0
)

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = defaultMultiplier
	}
	return c
}

// Result reports what the loop did. Attempts counts every call of fn,
// including the successful one.
type Result struct {
	Attempts int
}

// Do calls fn until it succeeds, the error is non-retryable, attempts run
// out, or ctx is cancelled. The delay before attempt n+1 is
// InitialDelay * Multiplier^(n-1), capped at MaxDelay. Context cancellation
// is checked between attempts and interrupts the backoff sleep.
func Do(ctx context.Context, fn func(ctx context.Context) error, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempt - 1}, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return Result{Attempts: attempt}, nil
		}

		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return Result{Attempts: attempt}, lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{Attempts: attempt}, ctx.Err()
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return Result{Attempts: cfg.MaxAttempts}, fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// RetryableStatus reports whether an HTTP status code is worth retrying:
// server errors and throttling, never other client errors.
func RetryableStatus(code int) bool {
	return code >= 500 || code == 429 || code == 408
}

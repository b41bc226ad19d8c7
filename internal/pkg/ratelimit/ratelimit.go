// Package ratelimit provides a keyed sliding-window rate limiter built on
// golang.org/x/time/rate. Each key (an integration, an outbound channel)
// gets its own limiter; idle keys are evicted.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of an Allow call. RetryAfter is only meaningful
// when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces "events per window" per key with a burst allowance.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time
}

// New creates a limiter allowing perWindow events per window for each key.
// burst is the number of events a key may spend at once; it is clamped to at
// least 1 so a fresh key always passes.
func New(perWindow int, window time.Duration, burst int) *Limiter {
	if perWindow <= 0 {
		perWindow = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		entries: make(map[string]*entry),
		limit:   rate.Limit(float64(perWindow) / window.Seconds()),
		burst:   burst,
		ttl:     10 * window,
		now:     time.Now,
	}
}

// Allow consumes one event for key if the rate permits. When the key is over
// its budget the event is not consumed and RetryAfter tells the caller when
// to come back.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	res := e.limiter.ReserveN(now, 1)
	if !res.OK() {
		return Decision{Allowed: false, RetryAfter: time.Second}
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

// Evict drops keys not seen for the eviction TTL. Callers run this
// periodically; the limiter never spawns its own goroutine.
func (l *Limiter) Evict() int {
	cutoff := l.now().Add(-l.ttl)

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

package realtime

import (
	"math"
	"time"
)

// RateLimiter is a per-connection token bucket.
//
// Ownership model: one bucket per connection, touched only by that
// connection's goroutine, so no internal locking is needed.
type RateLimiter struct {
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	last     time.Time
}

// NewRateLimiter constructs a full bucket with safe defaults when inputs are invalid.
func NewRateLimiter(capacity, perSecond float64) *RateLimiter {
	if capacity <= 0 {
		capacity = rateLimitBurst
	}
	if perSecond <= 0 {
		perSecond = rateLimitPerSec
	}
	return &RateLimiter{
		tokens:   capacity,
		capacity: capacity,
		rate:     perSecond,
	}
}

// refill lazily credits tokens from elapsed wall-clock time.
func (r *RateLimiter) refill(now time.Time) {
	if r.last.IsZero() {
		r.last = now
		return
	}
	elapsed := now.Sub(r.last).Seconds()
	if elapsed <= 0 {
		return
	}
	r.tokens = math.Min(r.capacity, r.tokens+elapsed*r.rate)
	r.last = now
}

// TryConsume takes one token if at least one is available after refill.
func (r *RateLimiter) TryConsume(now time.Time) bool {
	r.refill(now)
	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

// TimeUntilAvailable estimates the wait for the next token. Used to populate
// the client-facing retry hint on a rate_limited rejection.
func (r *RateLimiter) TimeUntilAvailable(now time.Time) time.Duration {
	r.refill(now)
	if r.tokens >= 1 {
		return 0
	}
	missing := 1 - r.tokens
	return time.Duration(missing / r.rate * float64(time.Second))
}

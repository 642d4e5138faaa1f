// Package bridge mirrors local session state to an external call-control
// service and reconciles remote state back, under a deterministic
// exponential-backoff retry policy and an explicit connection-health state
// machine.
package bridge

import (
	"context"
	"math"
	"time"
)

// RetryPolicy is a deterministic exponential backoff:
//
//	delay(attempt) = min(Initial * Multiplier^attempt, Max) + capped/8
//
// The jitter term is a fixed 12.5% of the capped delay, not randomized, so
// retry schedules are reproducible in tests.
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int // <= 0 means unbounded
}

// DefaultPolicy matches the steady-state push/pull bounds.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:     100 * time.Millisecond,
		Max:         10 * time.Second,
		Multiplier:  2.0,
		MaxAttempts: 5,
	}
}

// BringUpPolicy has larger bounds and never gives up; it governs the initial
// activation loop.
func BringUpPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2.0,
	}
}

// Delay computes the backoff before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.Initial) * math.Pow(mult, float64(attempt))
	capped := float64(p.Max)
	if capped > 0 && d > capped {
		d = capped
	}

	// Deterministic jitter: 12.5% of the capped delay.
	return time.Duration(d + d/8)
}

// Exhausted reports whether attempt is past the policy's bound.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Sleep waits for d, returning early with ctx.Err() on cancellation.
// Backoff sleeps must remain interruptible mid-wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

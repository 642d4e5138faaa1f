package bridge

import (
	"sync"
	"time"
)

// State is the bridge's connection health toward the upstream service.
type State int

const (
	StateConnected State = iota
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Status is a point-in-time health snapshot.
type Status struct {
	State   State
	Attempt int       // retry attempt while reconnecting
	Since   time.Time // when the disconnect began
	Reason  string    // last failure description
}

// Health is the bridge-owned connection-health state machine.
//
// Invariants:
// - only bridge tasks mutate it;
// - any success from a non-Connected state resets to Connected, attempt 0;
// - Snapshot never blocks on bridge work (plain mutex over a tiny struct).
type Health struct {
	mu  sync.Mutex
	cur Status
}

// NewHealth starts in the Connected state.
func NewHealth() *Health {
	return &Health{cur: Status{State: StateConnected}}
}

// Snapshot returns the current status without blocking.
func (h *Health) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur
}

// Connected records a success; the only transition that resets the attempt
// counter.
func (h *Health) Connected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = Status{State: StateConnected}
}

// Reconnecting records a transient failure and the current retry attempt.
func (h *Health) Reconnecting(attempt int, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cur.State = StateReconnecting
	h.cur.Attempt = attempt
	h.cur.Reason = reason
	if h.cur.Since.IsZero() {
		h.cur.Since = time.Now().UTC()
	}
}

// Disconnected records a terminal failure (non-retryable error or attempts
// exhausted). The bridge keeps running and may recover later.
func (h *Health) Disconnected(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	since := h.cur.Since
	if since.IsZero() {
		since = time.Now().UTC()
	}
	h.cur = Status{State: StateDisconnected, Since: since, Reason: reason}
}

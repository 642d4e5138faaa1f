package realtime

import (
	"errors"
	"fmt"
)

// Business-logic misses. Typed and non-fatal: a single connection's error
// never affects others or the process.
var (
	ErrSessionNotFound = errors.New("realtime: session not found")
	ErrElementNotFound = errors.New("realtime: element not found")
	ErrTooManyElements = errors.New("realtime: element limit reached")
	ErrPeerNotFound    = errors.New("realtime: peer not found")
)

// ValidationError rejects malformed or oversized input before any mutation.
// It is reported only to the sender.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Package v1 defines the Slate Scene Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import "time"

// Version is the protocol version identifier carried in the welcome message.
const Version = "v1"

// Element is one mutable item of a session's document. Its content semantics
// are opaque to the sync core: only identity, the kind tag, the transform,
// and the interactive flag are interpreted server-side.
type Element struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Content     string  `json:"content,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Rotation    float64 `json:"rotation"`
	ZIndex      int     `json:"z_index"`
	Interactive bool    `json:"interactive"`
	Selected    bool    `json:"selected"`
}

// Document is the canonical timestamped snapshot of a session's state.
// It is an immutable value: every read or mutation produces a fresh copy.
// The timestamp is the sole ordering signal used for reconciliation.
type Document struct {
	SessionID string    `json:"session_id"`
	Elements  []Element `json:"elements"`
	ViewportX float64   `json:"viewport_x"`
	ViewportY float64   `json:"viewport_y"`
	Zoom      float64   `json:"zoom"`
	Timestamp time.Time `json:"timestamp"`
}

// Time returns the snapshot timestamp (ordering signal).
func (d Document) Time() time.Time { return d.Timestamp }

// ElementPatch is a field-level update. Only transform sub-fields and the
// interactive flag are patchable; nil means "leave unchanged".
type ElementPatch struct {
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Width       *float64 `json:"width,omitempty"`
	Height      *float64 `json:"height,omitempty"`
	Rotation    *float64 `json:"rotation,omitempty"`
	ZIndex      *int     `json:"z_index,omitempty"`
	Interactive *bool    `json:"interactive,omitempty"`
}

// Queued operation kinds (wire-stable).
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpRemove = "remove"
)

// QueuedOperation is one pending mutation recorded while a client was
// disconnected. Immutable once created; consumed exactly once during replay.
type QueuedOperation struct {
	Kind      string        `json:"kind"`
	Element   *Element      `json:"element,omitempty"`
	ElementID string        `json:"element_id,omitempty"`
	Changes   *ElementPatch `json:"changes,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Time returns the operation timestamp (ordering signal for conflict resolution).
func (op QueuedOperation) Time() time.Time { return op.Timestamp }

// FailedOperation describes one operation that could not be replayed.
type FailedOperation struct {
	Kind      string `json:"kind"`
	ElementID string `json:"element_id,omitempty"`
	Message   string `json:"message"`
}

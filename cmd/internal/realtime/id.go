package realtime

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewPeerID returns a ULID used as connection/peer id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewPeerID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// NewElementID returns a UUID for server-assigned element identities.
func NewElementID() string {
	return uuid.NewString()
}

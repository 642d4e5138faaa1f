package bridge

import (
	"context"
	"errors"
	"fmt"

	v1 "slate/shared/contracts/scene/v1"
)

// Upstream is the external call-control service surface.
//
// Error taxonomy: implementations return *RPCError for protocol-level
// rejections (never retried) and plain errors for transport-class failures
// (retryable, drive the backoff/health machinery).
type Upstream interface {
	// Activate performs the one-time bring-up handshake.
	Activate(ctx context.Context) error

	// PushDocument mirrors a session's document outward.
	PushDocument(ctx context.Context, sessionID string, doc v1.Document) error

	// FetchDocument retrieves the upstream copy of a session's document.
	FetchDocument(ctx context.Context, sessionID string) (v1.Document, error)

	// StartCall creates a call for the session's entity.
	StartCall(ctx context.Context, sessionID, entityID string, video bool) (callID string, err error)

	// JoinCall adds a participant to an existing call.
	JoinCall(ctx context.Context, callID, peerID string) error

	// LeaveCall removes a participant (or ends the call when last).
	LeaveCall(ctx context.Context, callID, peerID string) error
}

// RPCError is a protocol-level rejection from the upstream service.
// It is surfaced, never retried.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("upstream rejected: %s (%s)", e.Message, e.Code)
}

// Retryable reports whether err is a transport-class failure worth retrying.
// Protocol rejections and cancellations are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var rpc *RPCError
	if errors.As(err, &rpc) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

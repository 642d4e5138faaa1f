package v1

import "time"

// Server->client type constants (wire-stable).
const (
	TypeWelcome      = "welcome"
	TypePeerAssigned = "peer_assigned"
	TypeSceneUpdate  = "scene_update"

	TypeElementAdded   = "element_added"
	TypeElementUpdated = "element_updated"
	TypeElementRemoved = "element_removed"

	TypeAck        = "ack"
	TypeError      = "error"
	TypePong       = "pong"
	TypeSyncResult = "sync_result"

	TypeCallState         = "call_state"
	TypeManagedCallResult = "managed_call_result"

	// Legacy-signaling relay messages (absent a call-control bridge).
	TypeIncomingCall      = "incoming_call"
	TypeRelayOffer        = "relay_offer"
	TypeRelayAnswer       = "relay_answer"
	TypeRelayIceCandidate = "relay_ice_candidate"
	TypeCallEnded         = "call_ended"
)

// Error codes carried by Error.Code.
const (
	CodeValidation      = "validation_error"
	CodeRateLimited     = "rate_limited"
	CodeMessageTooLarge = "message_too_large"
	CodeBadJSON         = "bad_json"
	CodeSessionNotFound = "session_not_found"
	CodeElementNotFound = "element_not_found"
	CodePeerNotFound    = "peer_not_found"
	CodeLegacyDisabled  = "legacy_signaling_disabled"
	CodeInternal        = "internal_error"
)

// ServerMessage is the closed union of outbound protocol messages.
type ServerMessage interface {
	serverMessage()
}

// Welcome is the first message on every connection.
type Welcome struct {
	Type            string    `json:"type"`
	Version         string    `json:"version"`
	SessionID       string    `json:"session_id"`
	Timestamp       time.Time `json:"timestamp"`
	LegacySignaling bool      `json:"legacy_signaling"`
}

// PeerAssigned tells the client its peer identity.
type PeerAssigned struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// SceneUpdate carries a full document snapshot.
type SceneUpdate struct {
	Type     string   `json:"type"`
	Document Document `json:"document"`
}

// ElementAdded announces a newly created element.
type ElementAdded struct {
	Type      string    `json:"type"`
	Element   Element   `json:"element"`
	Timestamp time.Time `json:"timestamp"`
}

// ElementUpdated announces a patched element.
type ElementUpdated struct {
	Type      string    `json:"type"`
	Element   Element   `json:"element"`
	Timestamp time.Time `json:"timestamp"`
}

// ElementRemoved announces a deleted element.
type ElementRemoved struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// AckResult carries operation-specific ack data.
type AckResult struct {
	ID string `json:"id,omitempty"`
}

// Ack correlates a successful request that supplied a message_id.
type Ack struct {
	Type      string     `json:"type"`
	MessageID string     `json:"message_id"`
	Success   bool       `json:"success"`
	Result    *AckResult `json:"result,omitempty"`
}

// Error is a typed failure reported only to the sender.
type Error struct {
	Type         string `json:"type"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	MessageID    string `json:"message_id,omitempty"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

// Pong answers a protocol-level ping.
type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncResult reports the outcome of an offline-queue replay.
type SyncResult struct {
	Type             string            `json:"type"`
	SyncedCount      int               `json:"synced_count"`
	ConflictCount    int               `json:"conflict_count"`
	Timestamp        time.Time         `json:"timestamp"`
	FailedOperations []FailedOperation `json:"failed_operations,omitempty"`
}

// CallState is broadcast to a session whenever call membership changes.
type CallState struct {
	Type         string   `json:"type"`
	SessionID    string   `json:"session_id"`
	CallID       string   `json:"call_id,omitempty"`
	Participants []string `json:"participants"`
}

// ManagedCallResult reports the outcome of an async upstream call operation.
// Delivered on the originating peer's direct channel, never broadcast.
type ManagedCallResult struct {
	Type      string `json:"type"`
	Operation string `json:"operation"`
	Success   bool   `json:"success"`
	CallID    string `json:"call_id,omitempty"`
	Error     string `json:"error,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// IncomingCall notifies the callee of a legacy call attempt.
type IncomingCall struct {
	Type       string `json:"type"`
	FromPeerID string `json:"from_peer_id"`
	SessionID  string `json:"session_id"`
}

// RelayOffer forwards an SDP offer between same-session peers.
type RelayOffer struct {
	Type       string `json:"type"`
	FromPeerID string `json:"from_peer_id"`
	SDP        string `json:"sdp"`
}

// RelayAnswer forwards an SDP answer between same-session peers.
type RelayAnswer struct {
	Type       string `json:"type"`
	FromPeerID string `json:"from_peer_id"`
	SDP        string `json:"sdp"`
}

// RelayIceCandidate forwards an ICE candidate between same-session peers.
type RelayIceCandidate struct {
	Type          string  `json:"type"`
	FromPeerID    string  `json:"from_peer_id"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *int    `json:"sdp_m_line_index,omitempty"`
}

// CallEnded notifies a peer that a legacy call was torn down.
type CallEnded struct {
	Type       string `json:"type"`
	FromPeerID string `json:"from_peer_id"`
}

func (Welcome) serverMessage()           {}
func (PeerAssigned) serverMessage()      {}
func (SceneUpdate) serverMessage()       {}
func (ElementAdded) serverMessage()      {}
func (ElementUpdated) serverMessage()    {}
func (ElementRemoved) serverMessage()    {}
func (Ack) serverMessage()               {}
func (Error) serverMessage()             {}
func (Pong) serverMessage()              {}
func (SyncResult) serverMessage()        {}
func (CallState) serverMessage()         {}
func (ManagedCallResult) serverMessage() {}
func (IncomingCall) serverMessage()      {}
func (RelayOffer) serverMessage()        {}
func (RelayAnswer) serverMessage()       {}
func (RelayIceCandidate) serverMessage() {}
func (CallEnded) serverMessage()         {}

package v1

import (
	"encoding/json"
	"fmt"
)

// Client->server type constants (wire-stable).
const (
	TypeSubscribe     = "subscribe"
	TypeAddElement    = "add_element"
	TypeUpdateElement = "update_element"
	TypeRemoveElement = "remove_element"
	TypePing          = "ping"
	TypeSyncQueue     = "sync_queue"
	TypeGetScene      = "get_scene"

	TypeStartCall    = "start_call"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeIceCandidate = "ice_candidate"
	TypeEndCall      = "end_call"

	TypeStartManagedCall = "start_managed_call"
	TypeJoinManagedCall  = "join_managed_call"
	TypeLeaveManagedCall = "leave_managed_call"
)

// ClientMessage is the closed union of inbound protocol messages.
// Adding a message variant is a compile-time-checked change.
type ClientMessage interface {
	clientMessage()
}

// Subscribe switches the connection to a session.
type Subscribe struct {
	SessionID string `json:"session_id"`
}

// AddElement creates a new element in the current session.
type AddElement struct {
	Element   Element `json:"element"`
	MessageID string  `json:"message_id,omitempty"`
}

// UpdateElement applies a field-level patch to an existing element.
type UpdateElement struct {
	ID        string       `json:"id"`
	Changes   ElementPatch `json:"changes"`
	MessageID string       `json:"message_id,omitempty"`
}

// RemoveElement deletes an element from the current session.
type RemoveElement struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id,omitempty"`
}

// Ping requests a pong with the server timestamp.
type Ping struct{}

// SyncQueue replays operations queued while the client was offline.
type SyncQueue struct {
	Operations []QueuedOperation `json:"operations"`
}

// GetScene requests the current document snapshot.
type GetScene struct{}

// StartCall initiates a call toward a same-session peer (legacy signaling).
type StartCall struct {
	TargetPeerID string `json:"target_peer_id"`
	SessionID    string `json:"session_id,omitempty"`
}

// Offer relays an SDP offer to a same-session peer (legacy signaling).
type Offer struct {
	TargetPeerID string `json:"target_peer_id"`
	SDP          string `json:"sdp"`
}

// Answer relays an SDP answer to a same-session peer (legacy signaling).
type Answer struct {
	TargetPeerID string `json:"target_peer_id"`
	SDP          string `json:"sdp"`
}

// IceCandidate relays an ICE candidate to a same-session peer (legacy signaling).
type IceCandidate struct {
	TargetPeerID  string  `json:"target_peer_id"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *int    `json:"sdp_m_line_index,omitempty"`
}

// EndCall signals call teardown to a same-session peer (legacy signaling).
type EndCall struct {
	TargetPeerID string `json:"target_peer_id"`
}

// StartManagedCall starts a call through the external call-control service.
type StartManagedCall struct {
	VideoEnabled bool   `json:"video_enabled"`
	MessageID    string `json:"message_id,omitempty"`
}

// JoinManagedCall joins an existing managed call.
type JoinManagedCall struct {
	CallID    string `json:"call_id"`
	MessageID string `json:"message_id,omitempty"`
}

// LeaveManagedCall leaves the current managed call.
type LeaveManagedCall struct {
	MessageID string `json:"message_id,omitempty"`
}

func (Subscribe) clientMessage()        {}
func (AddElement) clientMessage()       {}
func (UpdateElement) clientMessage()    {}
func (RemoveElement) clientMessage()    {}
func (Ping) clientMessage()             {}
func (SyncQueue) clientMessage()        {}
func (GetScene) clientMessage()         {}
func (StartCall) clientMessage()        {}
func (Offer) clientMessage()            {}
func (Answer) clientMessage()           {}
func (IceCandidate) clientMessage()     {}
func (EndCall) clientMessage()          {}
func (StartManagedCall) clientMessage() {}
func (JoinManagedCall) clientMessage()  {}
func (LeaveManagedCall) clientMessage() {}

// DecodeClient parses a tagged JSON object into its concrete message type.
// Unknown or missing type tags are errors; the union is closed.
func DecodeClient(data []byte) (ClientMessage, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("missing field: type")
	}

	var dst ClientMessage
	switch probe.Type {
	case TypeSubscribe:
		dst = &Subscribe{}
	case TypeAddElement:
		dst = &AddElement{}
	case TypeUpdateElement:
		dst = &UpdateElement{}
	case TypeRemoveElement:
		dst = &RemoveElement{}
	case TypePing:
		return &Ping{}, nil
	case TypeSyncQueue:
		dst = &SyncQueue{}
	case TypeGetScene:
		return &GetScene{}, nil
	case TypeStartCall:
		dst = &StartCall{}
	case TypeOffer:
		dst = &Offer{}
	case TypeAnswer:
		dst = &Answer{}
	case TypeIceCandidate:
		dst = &IceCandidate{}
	case TypeEndCall:
		dst = &EndCall{}
	case TypeStartManagedCall:
		dst = &StartManagedCall{}
	case TypeJoinManagedCall:
		dst = &JoinManagedCall{}
	case TypeLeaveManagedCall:
		dst = &LeaveManagedCall{}
	default:
		return nil, fmt.Errorf("unknown type: %q", probe.Type)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", probe.Type, err)
	}
	return dst, nil
}

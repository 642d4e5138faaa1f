package realtime

import (
	"fmt"

	v1 "slate/shared/contracts/scene/v1"
)

// Stateless input-contract checks. All of them run before any registry
// mutation; a failure aborts processing and is reported only to the sender.

// ValidateID checks a session/element/peer identifier: non-empty, at most
// maxIDLen chars, charset [A-Za-z0-9_-].
func ValidateID(field, s string) error {
	if s == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if len(s) > maxIDLen {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("longer than %d chars", maxIDLen)}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return &ValidationError{Field: field, Reason: fmt.Sprintf("illegal character %q", c)}
		}
	}
	return nil
}

// ValidateSDP bounds the size of a session description.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return &ValidationError{Field: "sdp", Reason: "must not be empty"}
	}
	if len(sdp) > maxSDPBytes {
		return &ValidationError{Field: "sdp", Reason: fmt.Sprintf("larger than %d bytes", maxSDPBytes)}
	}
	return nil
}

// ValidateCandidate bounds the size of an ICE candidate.
func ValidateCandidate(candidate string) error {
	if candidate == "" {
		return &ValidationError{Field: "candidate", Reason: "must not be empty"}
	}
	if len(candidate) > maxCandidateBytes {
		return &ValidationError{Field: "candidate", Reason: fmt.Sprintf("larger than %d bytes", maxCandidateBytes)}
	}
	return nil
}

// ValidateElement checks the structural fields of an element the core
// interprets; content stays opaque beyond its size bound.
func ValidateElement(el v1.Element) error {
	if el.ID != "" {
		if err := ValidateID("element.id", el.ID); err != nil {
			return err
		}
	}
	if el.Kind == "" {
		return &ValidationError{Field: "element.kind", Reason: "must not be empty"}
	}
	if len(el.Content) > maxContentBytes {
		return &ValidationError{Field: "element.content", Reason: fmt.Sprintf("larger than %d bytes", maxContentBytes)}
	}
	return nil
}

// validateMessage runs the structural checks for one inbound message.
// Dispatch happens only after this returns nil.
func validateMessage(msg v1.ClientMessage) error {
	switch m := msg.(type) {
	case *v1.Subscribe:
		return ValidateID("session_id", m.SessionID)
	case *v1.AddElement:
		return ValidateElement(m.Element)
	case *v1.UpdateElement:
		return ValidateID("id", m.ID)
	case *v1.RemoveElement:
		return ValidateID("id", m.ID)
	case *v1.SyncQueue:
		for _, op := range m.Operations {
			switch op.Kind {
			case v1.OpAdd:
				if op.Element == nil {
					return &ValidationError{Field: "operations", Reason: "add without element"}
				}
				if err := ValidateElement(*op.Element); err != nil {
					return err
				}
			case v1.OpUpdate, v1.OpRemove:
				if err := ValidateID("element_id", op.ElementID); err != nil {
					return err
				}
			default:
				return &ValidationError{Field: "operations", Reason: fmt.Sprintf("unknown kind %q", op.Kind)}
			}
		}
		return nil
	case *v1.StartCall:
		if m.SessionID != "" {
			if err := ValidateID("session_id", m.SessionID); err != nil {
				return err
			}
		}
		return ValidateID("target_peer_id", m.TargetPeerID)
	case *v1.Offer:
		if err := ValidateID("target_peer_id", m.TargetPeerID); err != nil {
			return err
		}
		return ValidateSDP(m.SDP)
	case *v1.Answer:
		if err := ValidateID("target_peer_id", m.TargetPeerID); err != nil {
			return err
		}
		return ValidateSDP(m.SDP)
	case *v1.IceCandidate:
		if err := ValidateID("target_peer_id", m.TargetPeerID); err != nil {
			return err
		}
		return ValidateCandidate(m.Candidate)
	case *v1.EndCall:
		return ValidateID("target_peer_id", m.TargetPeerID)
	case *v1.JoinManagedCall:
		return ValidateID("call_id", m.CallID)
	default:
		// Ping, GetScene, StartManagedCall, LeaveManagedCall carry no ids.
		return nil
	}
}

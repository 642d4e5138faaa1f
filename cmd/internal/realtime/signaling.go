package realtime

import (
	"context"
	"time"

	v1 "slate/shared/contracts/scene/v1"
)

// Dual-mode signaling.
//
// Legacy mode (no bridge installed): the five signaling messages relay
// directly between same-session peers. StartCall alone surfaces
// peer_not_found when the target is unreachable; the other four fail
// silently on the same condition — observed behavior, kept as-is.
//
// Managed mode (bridge installed): StartCall/Answer register the sender as a
// call participant and delegate setup upstream; Offer/IceCandidate/EndCall
// relay is rejected with a fixed error.

const upstreamCallTimeout = 10 * time.Second

func (g *WSGateway) handleStartCall(st *connState, m *v1.StartCall) {
	if cc := g.callControl(); cc != nil {
		g.joinManaged(st, cc, true, "")
		return
	}

	target := g.peers.Client(st.sessionID, m.TargetPeerID)
	if target == nil || !target.TrySend(v1.IncomingCall{
		Type:       v1.TypeIncomingCall,
		FromPeerID: st.peerID,
		SessionID:  st.sessionID,
	}) {
		g.sendError(st, v1.CodePeerNotFound, "target peer unreachable", "", 0)
	}
}

func (g *WSGateway) handleOffer(st *connState, m *v1.Offer) {
	if g.callControl() != nil {
		g.sendError(st, v1.CodeLegacyDisabled, "direct signaling is disabled; use managed calls", "", 0)
		return
	}

	if target := g.peers.Client(st.sessionID, m.TargetPeerID); target != nil {
		target.TrySend(v1.RelayOffer{Type: v1.TypeRelayOffer, FromPeerID: st.peerID, SDP: m.SDP})
	}
}

func (g *WSGateway) handleAnswer(st *connState, m *v1.Answer) {
	if cc := g.callControl(); cc != nil {
		g.joinManaged(st, cc, false, "")
		return
	}

	if target := g.peers.Client(st.sessionID, m.TargetPeerID); target != nil {
		target.TrySend(v1.RelayAnswer{Type: v1.TypeRelayAnswer, FromPeerID: st.peerID, SDP: m.SDP})
	}
}

func (g *WSGateway) handleIceCandidate(st *connState, m *v1.IceCandidate) {
	if g.callControl() != nil {
		g.sendError(st, v1.CodeLegacyDisabled, "direct signaling is disabled; use managed calls", "", 0)
		return
	}

	if target := g.peers.Client(st.sessionID, m.TargetPeerID); target != nil {
		target.TrySend(v1.RelayIceCandidate{
			Type:          v1.TypeRelayIceCandidate,
			FromPeerID:    st.peerID,
			Candidate:     m.Candidate,
			SDPMid:        m.SDPMid,
			SDPMLineIndex: m.SDPMLineIndex,
		})
	}
}

func (g *WSGateway) handleEndCall(st *connState, m *v1.EndCall) {
	if g.callControl() != nil {
		g.sendError(st, v1.CodeLegacyDisabled, "direct signaling is disabled; use managed calls", "", 0)
		return
	}

	if target := g.peers.Client(st.sessionID, m.TargetPeerID); target != nil {
		target.TrySend(v1.CallEnded{Type: v1.TypeCallEnded, FromPeerID: st.peerID})
	}
}

// ---- managed-call control ----

func (g *WSGateway) handleStartManagedCall(st *connState, m *v1.StartManagedCall) {
	cc := g.callControl()
	if cc == nil {
		st.client.TrySend(v1.ManagedCallResult{
			Type:      v1.TypeManagedCallResult,
			Operation: "start",
			Success:   false,
			Error:     "call control unavailable",
			MessageID: m.MessageID,
		})
		return
	}
	g.joinManaged(st, cc, m.VideoEnabled, m.MessageID)
}

func (g *WSGateway) handleJoinManagedCall(st *connState, m *v1.JoinManagedCall) {
	cc := g.callControl()
	if cc == nil {
		st.client.TrySend(v1.ManagedCallResult{
			Type:      v1.TypeManagedCallResult,
			Operation: "join",
			Success:   false,
			Error:     "call control unavailable",
			MessageID: m.MessageID,
		})
		return
	}

	sessionID := st.sessionID
	peerID := st.peerID
	client := st.client

	g.peers.JoinCall(sessionID, peerID)
	g.peers.SetCallID(sessionID, m.CallID)
	g.broadcastCallState(sessionID)

	// Network I/O happens outside any registry lock, on cloned handles.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), upstreamCallTimeout)
		defer cancel()
		g.joinUpstreamCall(ctx, cc, sessionID, peerID, m.CallID, client, m.MessageID)
	}()
}

func (g *WSGateway) handleLeaveManagedCall(st *connState, m *v1.LeaveManagedCall) {
	lr := g.peers.LeaveCall(st.sessionID, st.peerID)
	g.broadcastCallState(st.sessionID)

	if !lr.Left {
		st.client.TrySend(v1.ManagedCallResult{
			Type:      v1.TypeManagedCallResult,
			Operation: "leave",
			Success:   false,
			Error:     "not in a call",
			MessageID: m.MessageID,
		})
		return
	}

	g.leaveUpstream(st.sessionID, st.peerID, lr, st.client, m.MessageID)
}

// joinManaged registers the sender as a call participant and delegates
// setup upstream. Exactly one participant starts the call; joiners arriving
// while that start is on the wire wait for its outcome and then join, so a
// burst of arrivals never produces a second upstream call. Results come back
// on the sender's direct channel only.
func (g *WSGateway) joinManaged(st *connState, cc CallControl, video bool, msgID string) {
	sessionID := st.sessionID
	peerID := st.peerID
	client := st.client
	entityID := g.peers.EntityID(sessionID)

	cj := g.peers.JoinCall(sessionID, peerID)
	g.broadcastCallState(sessionID)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), upstreamCallTimeout)
		defer cancel()

		switch {
		case cj.Start:
			g.startUpstreamCall(ctx, cc, sessionID, peerID, entityID, video, client, msgID)
		case cj.CallID != "":
			g.joinUpstreamCall(ctx, cc, sessionID, peerID, cj.CallID, client, msgID)
		default:
			// Another participant's StartCall is in flight.
			select {
			case <-cj.Pending:
			case <-ctx.Done():
				client.TrySend(v1.ManagedCallResult{
					Type: v1.TypeManagedCallResult, Operation: "join",
					Error: "call setup timed out", MessageID: msgID,
				})
				return
			}
			callID, live := g.peers.CallID(sessionID)
			if !live || callID == "" {
				client.TrySend(v1.ManagedCallResult{
					Type: v1.TypeManagedCallResult, Operation: "join",
					Error: "call setup failed", MessageID: msgID,
				})
				return
			}
			g.joinUpstreamCall(ctx, cc, sessionID, peerID, callID, client, msgID)
		}
	}()
}

func (g *WSGateway) startUpstreamCall(ctx context.Context, cc CallControl, sessionID, peerID, entityID string, video bool, client *Client, msgID string) {
	res := v1.ManagedCallResult{Type: v1.TypeManagedCallResult, Operation: "start", MessageID: msgID}

	newID, err := cc.StartCall(ctx, sessionID, entityID, video)
	if err != nil {
		g.log.Info("call.start.fail", "session_id", sessionID, "peer_id", peerID, "err", err)
		g.peers.StartFailed(sessionID)
		res.Error = err.Error()
		client.TrySend(res)
		return
	}

	// Publish the external id; the call may already be gone if everyone left
	// while we were on the wire. An id with no call behind it gets torn down
	// upstream, never dropped.
	if !g.peers.SetCallID(sessionID, newID) {
		g.log.Info("call.start.orphaned", "session_id", sessionID, "call_id", newID)
		if err := cc.LeaveCall(ctx, newID, peerID); err != nil {
			g.log.Info("call.leave.fail", "session_id", sessionID, "call_id", newID, "err", err)
		}
		res.Error = "call ended before setup completed"
		client.TrySend(res)
		return
	}

	g.broadcastCallState(sessionID)
	res.Success = true
	res.CallID = newID
	client.TrySend(res)
}

func (g *WSGateway) joinUpstreamCall(ctx context.Context, cc CallControl, sessionID, peerID, callID string, client *Client, msgID string) {
	res := v1.ManagedCallResult{Type: v1.TypeManagedCallResult, Operation: "join", CallID: callID, MessageID: msgID}
	if err := cc.JoinCall(ctx, callID, peerID); err != nil {
		g.log.Info("call.join.fail", "session_id", sessionID, "peer_id", peerID, "err", err)
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	client.TrySend(res)
}

// leaveUpstream mirrors a departure to the call-control service. Every
// departing participant triggers it (not only the last) so upstream
// bookkeeping stays correct under partial failure. client may be nil when
// the peer already disconnected.
func (g *WSGateway) leaveUpstream(sessionID, peerID string, lr LeaveResult, client *Client, msgID string) {
	cc := g.callControl()
	if cc == nil || lr.CallID == "" {
		if client != nil && msgID != "" {
			client.TrySend(v1.ManagedCallResult{Type: v1.TypeManagedCallResult, Operation: "leave", Success: true, MessageID: msgID})
		}
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), upstreamCallTimeout)
		defer cancel()

		res := v1.ManagedCallResult{Type: v1.TypeManagedCallResult, Operation: "leave", CallID: lr.CallID, MessageID: msgID}
		if err := cc.LeaveCall(ctx, lr.CallID, peerID); err != nil {
			g.log.Info("call.leave.fail", "session_id", sessionID, "peer_id", peerID, "err", err)
			res.Error = err.Error()
		} else {
			res.Success = true
		}
		if client != nil {
			client.TrySend(res)
		}
	}()
}

// ---- call-state broadcast ----

func (g *WSGateway) callState(sessionID string) v1.CallState {
	snap := g.peers.CallSnapshot(sessionID)
	return v1.CallState{
		Type:         v1.TypeCallState,
		SessionID:    sessionID,
		CallID:       snap.CallID,
		Participants: snap.Participants,
	}
}

func (g *WSGateway) broadcastCallState(sessionID string) {
	g.reg.Publish(sessionID, g.callState(sessionID))
}

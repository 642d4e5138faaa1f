package realtime

import (
	"log/slog"
	"sort"
	"sync"
)

// CallSnapshot is the call-state view included in newly-subscribed clients'
// initial state and in every call_state broadcast.
type CallSnapshot struct {
	CallID       string
	Participants []string
}

// LeaveResult reports the effect of removing a participant from a call.
type LeaveResult struct {
	Left   bool   // the peer was a participant and has been removed
	Last   bool   // the call record was dropped because participants emptied
	CallID string // external call id at the time of leaving, if any
}

type peerEntry struct {
	sessionID string
	client    *Client
}

// activeCall is per-session and ephemeral: created lazily on the first
// participant, removed automatically when participants empties.
type activeCall struct {
	callID       string
	entityID     string
	starting     bool          // an upstream StartCall is in flight
	ready        chan struct{} // closed when the in-flight start resolves
	participants map[string]struct{}
}

// CallJoin tells a joining participant how to proceed: start a new upstream
// call, join the already-known call id, or wait on Pending for a start
// another participant has in flight.
type CallJoin struct {
	Start   bool
	CallID  string
	Pending <-chan struct{}
}

// PeerRegistry maps connection identity to session and direct-delivery
// handle, and session to call state. One lock guards both maps; critical
// sections never perform network I/O — upstream calls triggered by these
// mutations run as detached tasks on cloned handles.
type PeerRegistry struct {
	log *slog.Logger

	mu    sync.RWMutex
	peers map[string]*peerEntry
	calls map[string]*activeCall
}

// NewPeerRegistry constructs an empty registry.
func NewPeerRegistry(log *slog.Logger) *PeerRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &PeerRegistry{
		log:   log,
		peers: make(map[string]*peerEntry),
		calls: make(map[string]*activeCall),
	}
}

// Register records a live connection and its current session.
func (p *PeerRegistry) Register(peerID, sessionID string, client *Client) {
	p.mu.Lock()
	p.peers[peerID] = &peerEntry{sessionID: sessionID, client: client}
	p.mu.Unlock()

	p.log.Info("peer.register", "peer_id", peerID, "session_id", sessionID)
}

// Unregister drops the connection and implicitly leaves any active call.
// It returns the peer's session and the call-leave effect for cleanup
// broadcasts/upstream bookkeeping.
func (p *PeerRegistry) Unregister(peerID string) (sessionID string, lr LeaveResult) {
	p.mu.Lock()
	entry, ok := p.peers[peerID]
	if ok {
		sessionID = entry.sessionID
		delete(p.peers, peerID)
		lr = p.leaveCallLocked(sessionID, peerID)
	}
	p.mu.Unlock()

	if ok {
		p.log.Info("peer.unregister", "peer_id", peerID, "session_id", sessionID)
	}
	return sessionID, lr
}

// UpdateSession moves a peer to a new session. The peer always leaves the
// prior session's call before the new subscription is recorded.
func (p *PeerRegistry) UpdateSession(peerID, sessionID string) (prev string, lr LeaveResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.peers[peerID]
	if !ok {
		return "", LeaveResult{}, ErrPeerNotFound
	}

	prev = entry.sessionID
	lr = p.leaveCallLocked(prev, peerID)
	entry.sessionID = sessionID
	return prev, lr, nil
}

// Client resolves a same-session peer's direct-delivery handle.
// Returns nil when the target is unknown or subscribed elsewhere.
func (p *PeerRegistry) Client(sessionID, peerID string) *Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.peers[peerID]
	if !ok || entry.sessionID != sessionID {
		return nil
	}
	return entry.client
}

// Session reports the peer's current session.
func (p *PeerRegistry) Session(peerID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.peers[peerID]
	if !ok {
		return "", false
	}
	return entry.sessionID, true
}

// JoinCall adds a participant to the session's call, creating the record
// lazily. Re-adding is a no-op for membership. Exactly one participant is
// told to start the upstream call at any time; everyone arriving while that
// start is in flight gets a Pending channel to wait on instead of a second
// Start.
func (p *PeerRegistry) JoinCall(sessionID, peerID string) CallJoin {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[sessionID]
	if !ok {
		call = &activeCall{
			entityID:     sessionID,
			starting:     true,
			ready:        make(chan struct{}),
			participants: make(map[string]struct{}),
		}
		p.calls[sessionID] = call
		call.participants[peerID] = struct{}{}
		return CallJoin{Start: true}
	}

	call.participants[peerID] = struct{}{}
	if call.callID != "" {
		return CallJoin{CallID: call.callID}
	}
	if call.starting {
		return CallJoin{Pending: call.ready}
	}

	// No id and no start in flight: the previous start failed with
	// participants still present, so this joiner retries it.
	call.starting = true
	call.ready = make(chan struct{})
	return CallJoin{Start: true}
}

// LeaveCall removes a participant. The call record is dropped automatically
// when participants becomes empty.
func (p *PeerRegistry) LeaveCall(sessionID, peerID string) LeaveResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leaveCallLocked(sessionID, peerID)
}

func (p *PeerRegistry) leaveCallLocked(sessionID, peerID string) LeaveResult {
	call, ok := p.calls[sessionID]
	if !ok {
		return LeaveResult{}
	}
	if _, member := call.participants[peerID]; !member {
		return LeaveResult{CallID: call.callID}
	}

	delete(call.participants, peerID)
	lr := LeaveResult{Left: true, CallID: call.callID}
	if len(call.participants) == 0 {
		delete(p.calls, sessionID)
		resolveStartLocked(call)
		lr.Last = true
	}
	return lr
}

// SetCallID publishes the external call id once upstream setup succeeds and
// wakes participants waiting on the start. Returns false when the call
// vanished in the meantime (all left); the caller owns the orphaned id.
func (p *PeerRegistry) SetCallID(sessionID, callID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[sessionID]
	if !ok {
		return false
	}
	call.callID = callID
	resolveStartLocked(call)
	return true
}

// StartFailed clears the in-flight start marker so waiters unblock and the
// next joiner may retry.
func (p *PeerRegistry) StartFailed(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if call, ok := p.calls[sessionID]; ok {
		resolveStartLocked(call)
	}
}

func resolveStartLocked(call *activeCall) {
	if call.starting {
		call.starting = false
		close(call.ready)
	}
}

// CallID reports the session's external call id and whether a call record
// exists at all.
func (p *PeerRegistry) CallID(sessionID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	call, ok := p.calls[sessionID]
	if !ok {
		return "", false
	}
	return call.callID, true
}

// EntityID reports the call's upstream entity id (defaults to session id).
func (p *PeerRegistry) EntityID(sessionID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if call, ok := p.calls[sessionID]; ok && call.entityID != "" {
		return call.entityID
	}
	return sessionID
}

// CallSnapshot returns the session's current call state with participants in
// stable order. Sessions with no call yield an empty snapshot.
func (p *PeerRegistry) CallSnapshot(sessionID string) CallSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	call, ok := p.calls[sessionID]
	if !ok {
		return CallSnapshot{Participants: []string{}}
	}

	out := CallSnapshot{
		CallID:       call.callID,
		Participants: make([]string, 0, len(call.participants)),
	}
	for id := range call.participants {
		out.Participants = append(out.Participants, id)
	}
	sort.Strings(out.Participants)
	return out
}

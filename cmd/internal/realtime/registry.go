// Package realtime contains Slate's session-scoped sync core: the session and
// peer registries, the websocket gateway, rate limiting, validation, and the
// offline-queue replay machinery.
package realtime

import (
	"log/slog"
	"sync"
	"time"

	v1 "slate/shared/contracts/scene/v1"
)

// Mutation is one applied document change, fanned out to watchers
// (upstream push, snapshot persistence).
type Mutation struct {
	SessionID string
	Doc       v1.Document
	Op        *v1.QueuedOperation // element op behind the change, nil for whole-document replaces
	Remote    bool                // true when applied from upstream reconciliation
}

// SessionRegistry holds one document snapshot per session id.
//
// All mutating operations execute under one exclusive lock scoped to the
// whole registry; critical sections are pure data manipulation, no I/O.
// Broadcasts are published inside the critical section so every subscriber
// observes them in the order they were applied.
type SessionRegistry struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionState
	watchers []chan Mutation
}

type sessionState struct {
	doc v1.Document
	bc  *Broadcaster
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry(log *slog.Logger) *SessionRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &SessionRegistry{
		log:      log,
		sessions: make(map[string]*sessionState),
	}
}

// newSessionLocked creates session state. Callers hold r.mu.
func (r *SessionRegistry) newSessionLocked(id string, now time.Time) *sessionState {
	st := &sessionState{
		doc: v1.Document{
			SessionID: id,
			Elements:  []v1.Element{},
			Zoom:      1,
			Timestamp: now,
		},
		bc: NewBroadcaster(),
	}
	r.sessions[id] = st
	r.log.Info("session.create", "session_id", id)
	return st
}

func copyDoc(d v1.Document) v1.Document {
	out := d
	out.Elements = make([]v1.Element, len(d.Elements))
	copy(out.Elements, d.Elements)
	return out
}

// GetOrCreate returns the session's snapshot, creating the session on first
// reference. It never fails.
func (r *SessionRegistry) GetOrCreate(id string) v1.Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[id]
	if !ok {
		st = r.newSessionLocked(id, time.Now().UTC())
	}
	return copyDoc(st.doc)
}

// Has reports whether the session exists without creating it.
func (r *SessionRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// SessionIDs lists the sessions currently tracked.
func (r *SessionRegistry) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// Document returns a snapshot of the session's document. Reads never
// hard-fail: unknown ids yield an empty snapshot without creating state.
func (r *SessionRegistry) Document(id string) v1.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if st, ok := r.sessions[id]; ok {
		return copyDoc(st.doc)
	}
	return v1.Document{
		SessionID: id,
		Elements:  []v1.Element{},
		Zoom:      1,
		Timestamp: time.Now().UTC(),
	}
}

// Replace installs a whole document for the session, creating it if absent.
func (r *SessionRegistry) Replace(id string, doc v1.Document) {
	r.replace(id, doc, false)
}

// ApplyRemote installs a document reconciled from upstream. Watchers see the
// mutation flagged Remote so the push task does not mirror it back out.
func (r *SessionRegistry) ApplyRemote(id string, doc v1.Document) {
	r.replace(id, doc, true)
}

func (r *SessionRegistry) replace(id string, doc v1.Document, remote bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[id]
	if !ok {
		st = r.newSessionLocked(id, time.Now().UTC())
	}

	doc.SessionID = id
	if doc.Elements == nil {
		doc.Elements = []v1.Element{}
	}
	st.doc = copyDoc(doc)

	r.publishSceneLocked(st)
	r.notifyLocked(Mutation{SessionID: id, Doc: copyDoc(st.doc), Remote: remote})
}

// Update applies a mutator to the session's document under the registry lock.
// Returns ErrSessionNotFound for unknown ids.
func (r *SessionRegistry) Update(id string, mutate func(*v1.Document)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	mutate(&st.doc)
	st.doc.SessionID = id
	st.doc.Timestamp = time.Now().UTC()
	if st.doc.Elements == nil {
		st.doc.Elements = []v1.Element{}
	}

	r.publishSceneLocked(st)
	r.notifyLocked(Mutation{SessionID: id, Doc: copyDoc(st.doc)})
	return nil
}

// AddElement inserts (or, for an already-present id, overwrites) an element.
// Operations are idempotent by id: replaying the same add is not an error.
// A server-assigned id is generated when none was supplied.
func (r *SessionRegistry) AddElement(id string, el v1.Element) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[id]
	if !ok {
		st = r.newSessionLocked(id, time.Now().UTC())
	}

	if el.ID == "" {
		el.ID = NewElementID()
	}

	replaced := false
	for i := range st.doc.Elements {
		if st.doc.Elements[i].ID == el.ID {
			st.doc.Elements[i] = el
			replaced = true
			break
		}
	}
	if !replaced {
		// Element counts stay strictly below the ceiling.
		if len(st.doc.Elements)+1 >= maxElementsPerSession {
			return "", ErrTooManyElements
		}
		st.doc.Elements = append(st.doc.Elements, el)
	}

	now := time.Now().UTC()
	st.doc.Timestamp = now

	st.bc.Publish(v1.ElementAdded{Type: v1.TypeElementAdded, Element: el, Timestamp: now})
	r.publishSceneLocked(st)
	r.notifyLocked(Mutation{
		SessionID: id,
		Doc:       copyDoc(st.doc),
		Op:        &v1.QueuedOperation{Kind: v1.OpAdd, Element: &el, Timestamp: now},
	})
	return el.ID, nil
}

// UpdateElement applies a field-level patch. Only transform sub-fields and
// the interactive flag are patchable.
func (r *SessionRegistry) UpdateElement(id, elementID string, patch v1.ElementPatch) (v1.Element, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[id]
	if !ok {
		return v1.Element{}, ErrSessionNotFound
	}

	idx := -1
	for i := range st.doc.Elements {
		if st.doc.Elements[i].ID == elementID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return v1.Element{}, ErrElementNotFound
	}

	el := &st.doc.Elements[idx]
	if patch.X != nil {
		el.X = *patch.X
	}
	if patch.Y != nil {
		el.Y = *patch.Y
	}
	if patch.Width != nil {
		el.Width = *patch.Width
	}
	if patch.Height != nil {
		el.Height = *patch.Height
	}
	if patch.Rotation != nil {
		el.Rotation = *patch.Rotation
	}
	if patch.ZIndex != nil {
		el.ZIndex = *patch.ZIndex
	}
	if patch.Interactive != nil {
		el.Interactive = *patch.Interactive
	}

	now := time.Now().UTC()
	st.doc.Timestamp = now
	updated := *el

	st.bc.Publish(v1.ElementUpdated{Type: v1.TypeElementUpdated, Element: updated, Timestamp: now})
	r.publishSceneLocked(st)
	r.notifyLocked(Mutation{
		SessionID: id,
		Doc:       copyDoc(st.doc),
		Op:        &v1.QueuedOperation{Kind: v1.OpUpdate, ElementID: elementID, Changes: &patch, Timestamp: now},
	})
	return updated, nil
}

// RemoveElement deletes an element from the session.
func (r *SessionRegistry) RemoveElement(id, elementID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	idx := -1
	for i := range st.doc.Elements {
		if st.doc.Elements[i].ID == elementID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrElementNotFound
	}

	st.doc.Elements = append(st.doc.Elements[:idx], st.doc.Elements[idx+1:]...)

	now := time.Now().UTC()
	st.doc.Timestamp = now

	st.bc.Publish(v1.ElementRemoved{Type: v1.TypeElementRemoved, ID: elementID, Timestamp: now})
	r.publishSceneLocked(st)
	r.notifyLocked(Mutation{
		SessionID: id,
		Doc:       copyDoc(st.doc),
		Op:        &v1.QueuedOperation{Kind: v1.OpRemove, ElementID: elementID, Timestamp: now},
	})
	return nil
}

// Subscribe attaches a consumer to the session's broadcast stream,
// creating the session on first reference.
func (r *SessionRegistry) Subscribe(id string, buffer int) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[id]
	if !ok {
		st = r.newSessionLocked(id, time.Now().UTC())
	}
	return st.bc.Subscribe(buffer)
}

// Publish broadcasts an arbitrary message to a session's subscribers under
// the registry lock, preserving ordering against scene mutations.
// Used for call_state changes.
func (r *SessionRegistry) Publish(id string, msg v1.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[id]
	if !ok {
		return
	}
	st.bc.Publish(msg)
}

// Watch registers a mutation watcher. The channel is buffered and never
// blocks a mutation; a slow watcher loses events (counted).
func (r *SessionRegistry) Watch() <-chan Mutation {
	ch := make(chan Mutation, 256)

	r.mu.Lock()
	r.watchers = append(r.watchers, ch)
	r.mu.Unlock()

	return ch
}

func (r *SessionRegistry) publishSceneLocked(st *sessionState) {
	st.bc.Publish(v1.SceneUpdate{Type: v1.TypeSceneUpdate, Document: copyDoc(st.doc)})
}

func (r *SessionRegistry) notifyLocked(m Mutation) {
	for _, ch := range r.watchers {
		select {
		case ch <- m:
		default:
			metricWatcherDropped.Inc()
		}
	}
}

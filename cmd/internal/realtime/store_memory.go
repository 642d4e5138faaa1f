package realtime

import (
	"context"
	"errors"
	"sync"

	v1 "slate/shared/contracts/scene/v1"
)

// InMemoryStore is the fallback SnapshotStore when no DB is configured.
type InMemoryStore struct {
	mu   sync.Mutex
	docs map[string]v1.Document
}

// NewInMemoryStore constructs an in-memory SnapshotStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[string]v1.Document)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Save keeps the latest snapshot per session.
func (s *InMemoryStore) Save(ctx context.Context, doc v1.Document) error {
	if doc.SessionID == "" {
		return errors.New("missing session_id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.docs[doc.SessionID] = copyDoc(doc)
	s.mu.Unlock()
	return nil
}

// Load returns the stored snapshot for a session, if any.
func (s *InMemoryStore) Load(ctx context.Context, sessionID string) (v1.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return v1.Document{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[sessionID]
	if !ok {
		return v1.Document{}, false, nil
	}
	return copyDoc(doc), true, nil
}

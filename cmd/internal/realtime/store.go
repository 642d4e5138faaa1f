package realtime

import (
	"context"
	"log/slog"

	v1 "slate/shared/contracts/scene/v1"
)

// SnapshotStore persists the latest document snapshot per session.
//
// The in-memory registry stays authoritative: persistence is write-behind
// (via RunPersister) and read-through on first subscribe. Implementations
// must keep Save idempotent per session id.
type SnapshotStore interface {
	Save(ctx context.Context, doc v1.Document) error
	Load(ctx context.Context, sessionID string) (v1.Document, bool, error)
	Close() error
}

// RunPersister consumes the registry mutation feed and writes snapshots
// behind the live state. It returns when ctx is cancelled.
func RunPersister(ctx context.Context, log *slog.Logger, reg *SessionRegistry, store SnapshotStore) {
	if log == nil {
		log = slog.Default()
	}

	ch := reg.Watch()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-ch:
			if err := store.Save(ctx, m.Doc); err != nil {
				metricSnapshotPersistFailures.Inc()
				log.Info("snapshot.persist.fail", "session_id", m.SessionID, "err", err)
			}
		}
	}
}

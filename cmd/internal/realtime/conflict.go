package realtime

import (
	"errors"
	"time"

	v1 "slate/shared/contracts/scene/v1"
)

// Strategy selects a winner between a local and a remote operation believed
// to target the same change.
type Strategy int

const (
	// LastWriteWins picks the operation with the greater timestamp; ties
	// favor local.
	LastWriteWins Strategy = iota
	// LocalWins always keeps the local operation.
	LocalWins
	// RemoteWins always keeps the remote operation.
	RemoteWins
)

// Resolution is the outcome of conflict resolution.
type Resolution int

const (
	KeepLocal Resolution = iota
	KeepRemote
	// ResolutionMerge is reserved; no strategy currently produces it.
	ResolutionMerge
)

// Timestamped is anything ordered by a wall-clock timestamp. Both
// QueuedOperation and Document satisfy it.
type Timestamped interface {
	Time() time.Time
}

// Resolve is a pure function: no strategy inspects anything beyond the
// timestamps, and LocalWins/RemoteWins ignore even those.
func Resolve(local, remote Timestamped, strategy Strategy) Resolution {
	switch strategy {
	case LocalWins:
		return KeepLocal
	case RemoteWins:
		return KeepRemote
	default:
		if local.Time().Before(remote.Time()) {
			return KeepRemote
		}
		return KeepLocal
	}
}

// maxReportedFailures bounds the failure descriptors carried by a
// sync_result; the counts remain exact.
const maxReportedFailures = 10

// SyncReport is the outcome of replaying an offline queue.
type SyncReport struct {
	Processed int
	Failed    int
	Failures  []v1.FailedOperation
}

// ProcessQueue replays operations against the registry in their original
// order. Per-item failure is captured, never fatal to the batch; every
// failure increments the conflict counter.
func (r *SessionRegistry) ProcessQueue(sessionID string, ops []v1.QueuedOperation) SyncReport {
	var report SyncReport

	for _, op := range ops {
		err := r.applyQueued(sessionID, op)
		if err == nil {
			report.Processed++
			continue
		}

		report.Failed++
		metricSyncConflicts.Inc()
		if len(report.Failures) < maxReportedFailures {
			report.Failures = append(report.Failures, v1.FailedOperation{
				Kind:      op.Kind,
				ElementID: failedElementID(op),
				Message:   err.Error(),
			})
		}
	}

	if report.Failed > 0 {
		r.log.Info("sync.replay.partial",
			"session_id", sessionID,
			"processed", report.Processed,
			"failed", report.Failed,
		)
	}
	return report
}

func (r *SessionRegistry) applyQueued(sessionID string, op v1.QueuedOperation) error {
	switch op.Kind {
	case v1.OpAdd:
		if op.Element == nil {
			return errors.New("add without element")
		}
		_, err := r.AddElement(sessionID, *op.Element)
		return err
	case v1.OpUpdate:
		if op.Changes == nil {
			return errors.New("update without changes")
		}
		_, err := r.UpdateElement(sessionID, op.ElementID, *op.Changes)
		return err
	case v1.OpRemove:
		return r.RemoveElement(sessionID, op.ElementID)
	default:
		return errors.New("unknown operation kind: " + op.Kind)
	}
}

func failedElementID(op v1.QueuedOperation) string {
	if op.ElementID != "" {
		return op.ElementID
	}
	if op.Element != nil {
		return op.Element.ID
	}
	return ""
}

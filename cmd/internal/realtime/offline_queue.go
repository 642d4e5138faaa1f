package realtime

import (
	"sync"
	"time"

	v1 "slate/shared/contracts/scene/v1"
)

// OfflineQueue is a bounded FIFO of operations pending transmission.
// On overflow the oldest entry is dropped first.
type OfflineQueue struct {
	mu  sync.Mutex
	ops []v1.QueuedOperation
	max int

	syncedCount  int
	lastSyncedAt time.Time
}

// NewOfflineQueue constructs a queue bounded at max (default 1000).
func NewOfflineQueue(max int) *OfflineQueue {
	if max <= 0 {
		max = defaultQueueMax
	}
	return &OfflineQueue{max: max}
}

// Enqueue appends an operation, dropping the oldest on overflow.
func (q *OfflineQueue) Enqueue(op v1.QueuedOperation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) >= q.max {
		q.ops = q.ops[1:]
	}
	q.ops = append(q.ops, op)
}

// TakePending drains the queue, preserving FIFO order, and leaves it empty.
func (q *OfflineQueue) TakePending() []v1.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.ops
	q.ops = nil
	return out
}

// Requeue reinserts operations at the front, preserving their order.
// Used when transmission fails after TakePending.
func (q *OfflineQueue) Requeue(ops []v1.QueuedOperation) {
	if len(ops) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]v1.QueuedOperation, 0, len(ops)+len(q.ops))
	merged = append(merged, ops...)
	merged = append(merged, q.ops...)
	if len(merged) > q.max {
		merged = merged[len(merged)-q.max:]
	}
	q.ops = merged
}

// MarkSynced records a successful transmission of count operations.
func (q *OfflineQueue) MarkSynced(count int, ts time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.syncedCount += count
	q.lastSyncedAt = ts
}

// Len reports the number of pending operations.
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// SyncedState reports the cumulative synced count and last sync time.
func (q *OfflineQueue) SyncedState() (int, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.syncedCount, q.lastSyncedAt
}

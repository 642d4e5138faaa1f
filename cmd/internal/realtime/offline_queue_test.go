package realtime

import (
	"testing"
	"time"

	v1 "slate/shared/contracts/scene/v1"
)

func addOp(id string) v1.QueuedOperation {
	return v1.QueuedOperation{
		Kind:      v1.OpAdd,
		Element:   &v1.Element{ID: id, Kind: "note"},
		Timestamp: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func opIDs(ops []v1.QueuedOperation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Element.ID
	}
	return out
}

func TestOfflineQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := NewOfflineQueue(10)
	q.Enqueue(addOp("a"))
	q.Enqueue(addOp("b"))
	q.Enqueue(addOp("c"))

	got := opIDs(q.TakePending())
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v want %v", got, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after drain, len=%d", q.Len())
	}
}

func TestOfflineQueue_OverflowDropsOldest(t *testing.T) {
	t.Parallel()

	q := NewOfflineQueue(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		q.Enqueue(addOp(id))
	}

	got := opIDs(q.TakePending())
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v want %v", got, want)
		}
	}
}

func TestOfflineQueue_RequeuePreservesOrder(t *testing.T) {
	t.Parallel()

	q := NewOfflineQueue(10)
	q.Enqueue(addOp("c"))

	// Failed transmission puts the taken batch back in front.
	q.Requeue([]v1.QueuedOperation{addOp("a"), addOp("b")})

	got := opIDs(q.TakePending())
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v want %v", got, want)
		}
	}
}

func TestOfflineQueue_RequeueTrimsToNewest(t *testing.T) {
	t.Parallel()

	q := NewOfflineQueue(3)
	q.Enqueue(addOp("d"))
	q.Requeue([]v1.QueuedOperation{addOp("a"), addOp("b"), addOp("c")})

	got := opIDs(q.TakePending())
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v want %v", got, want)
		}
	}
}

func TestOfflineQueue_TakeRequeueRoundTrip(t *testing.T) {
	t.Parallel()

	q := NewOfflineQueue(10)
	q.Enqueue(addOp("a"))
	q.Enqueue(addOp("b"))

	taken := q.TakePending()
	q.Requeue(taken)

	got := opIDs(q.TakePending())
	if got[0] != "a" || got[1] != "b" {
		t.Fatalf("round trip changed order: %v", got)
	}
}

func TestOfflineQueue_MarkSyncedAccumulates(t *testing.T) {
	t.Parallel()

	q := NewOfflineQueue(10)
	t1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	q.MarkSynced(3, t1)
	q.MarkSynced(2, t2)

	count, at := q.SyncedState()
	if count != 5 {
		t.Fatalf("synced count=%d want 5", count)
	}
	if !at.Equal(t2) {
		t.Fatalf("last synced at=%v want %v", at, t2)
	}
}

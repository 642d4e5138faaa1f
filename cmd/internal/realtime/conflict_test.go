package realtime

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "slate/shared/contracts/scene/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func docAt(ts time.Time) v1.Document {
	return v1.Document{SessionID: "s", Elements: []v1.Element{}, Zoom: 1, Timestamp: ts}
}

func TestResolve_LastWriteWins(t *testing.T) {
	t.Parallel()

	older := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	newer := older.Add(time.Second)

	if got := Resolve(docAt(older), docAt(newer), LastWriteWins); got != KeepRemote {
		t.Fatalf("newer remote must win, got %v", got)
	}
	if got := Resolve(docAt(newer), docAt(older), LastWriteWins); got != KeepLocal {
		t.Fatalf("newer local must win, got %v", got)
	}
	// Ties favor local.
	if got := Resolve(docAt(older), docAt(older), LastWriteWins); got != KeepLocal {
		t.Fatalf("tie must keep local, got %v", got)
	}
}

func TestResolve_FixedStrategies(t *testing.T) {
	t.Parallel()

	older := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	newer := older.Add(time.Second)

	if got := Resolve(docAt(older), docAt(newer), LocalWins); got != KeepLocal {
		t.Fatalf("LocalWins ignores timestamps, got %v", got)
	}
	if got := Resolve(docAt(newer), docAt(older), RemoteWins); got != KeepRemote {
		t.Fatalf("RemoteWins ignores timestamps, got %v", got)
	}
}

func TestProcessQueue_PartialFailure(t *testing.T) {
	t.Parallel()

	reg := NewSessionRegistry(testLogger())
	reg.GetOrCreate("s")

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ops := []v1.QueuedOperation{
		{Kind: v1.OpAdd, Element: &v1.Element{ID: "e1", Kind: "note"}, Timestamp: ts},
		{Kind: v1.OpAdd, Element: &v1.Element{ID: "e2", Kind: "note"}, Timestamp: ts},
		{Kind: v1.OpUpdate, ElementID: "missing-1", Changes: &v1.ElementPatch{}, Timestamp: ts},
		{Kind: v1.OpRemove, ElementID: "missing-2", Timestamp: ts},
		{Kind: v1.OpRemove, ElementID: "e1", Timestamp: ts},
	}

	report := reg.ProcessQueue("s", ops)
	if report.Processed != 3 {
		t.Fatalf("processed=%d want 3", report.Processed)
	}
	if report.Failed != 2 {
		t.Fatalf("failed=%d want 2", report.Failed)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("failure descriptors=%d want 2", len(report.Failures))
	}
	if report.Failures[0].ElementID != "missing-1" || report.Failures[1].ElementID != "missing-2" {
		t.Fatalf("failure ids: %+v", report.Failures)
	}

	doc := reg.Document("s")
	if len(doc.Elements) != 1 || doc.Elements[0].ID != "e2" {
		t.Fatalf("document after replay: %+v", doc.Elements)
	}
}

func TestProcessQueue_ReplayedAddIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := NewSessionRegistry(testLogger())
	reg.GetOrCreate("s")

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	op := v1.QueuedOperation{Kind: v1.OpAdd, Element: &v1.Element{ID: "e1", Kind: "note", Content: "v2"}, Timestamp: ts}

	// At-least-once delivery: the same add arriving twice is not a conflict.
	report := reg.ProcessQueue("s", []v1.QueuedOperation{op, op})
	if report.Failed != 0 {
		t.Fatalf("replayed add must not fail: %+v", report.Failures)
	}
	if report.Processed != 2 {
		t.Fatalf("processed=%d want 2", report.Processed)
	}

	doc := reg.Document("s")
	if len(doc.Elements) != 1 {
		t.Fatalf("duplicate add created %d elements", len(doc.Elements))
	}
}

func TestProcessQueue_FailureDescriptorsCapped(t *testing.T) {
	t.Parallel()

	reg := NewSessionRegistry(testLogger())
	reg.GetOrCreate("s")

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var ops []v1.QueuedOperation
	for i := 0; i < 15; i++ {
		ops = append(ops, v1.QueuedOperation{Kind: v1.OpRemove, ElementID: fmt.Sprintf("missing-%d", i), Timestamp: ts})
	}

	report := reg.ProcessQueue("s", ops)
	if report.Failed != 15 {
		t.Fatalf("failed=%d want 15 (counts stay exact)", report.Failed)
	}
	if len(report.Failures) != maxReportedFailures {
		t.Fatalf("descriptors=%d want %d", len(report.Failures), maxReportedFailures)
	}
}

func TestProcessQueue_UnknownKind(t *testing.T) {
	t.Parallel()

	reg := NewSessionRegistry(testLogger())
	reg.GetOrCreate("s")

	report := reg.ProcessQueue("s", []v1.QueuedOperation{{Kind: "mutate"}})
	if report.Failed != 1 || report.Processed != 0 {
		t.Fatalf("unknown kind must fail: %+v", report)
	}
}

package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"slate/cmd/internal/realtime"

	v1 "slate/shared/contracts/scene/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUpstream scripts per-call outcomes and records what the bridge sent.
type fakeUpstream struct {
	mu sync.Mutex

	activateErrs []error // consumed one per Activate call
	pushErr      error
	fetchDoc     v1.Document
	fetchErr     error

	activates int
	pushes    []string
	fetches   []string
}

func (f *fakeUpstream) Activate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activates++
	if len(f.activateErrs) == 0 {
		return nil
	}
	err := f.activateErrs[0]
	f.activateErrs = f.activateErrs[1:]
	return err
}

func (f *fakeUpstream) PushDocument(_ context.Context, sessionID string, _ v1.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, sessionID)
	return f.pushErr
}

func (f *fakeUpstream) FetchDocument(_ context.Context, sessionID string) (v1.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, sessionID)
	return f.fetchDoc, f.fetchErr
}

func (f *fakeUpstream) StartCall(context.Context, string, string, bool) (string, error) {
	return "call-1", nil
}
func (f *fakeUpstream) JoinCall(context.Context, string, string) error  { return nil }
func (f *fakeUpstream) LeaveCall(context.Context, string, string) error { return nil }

func (f *fakeUpstream) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		Initial:     time.Millisecond,
		Max:         2 * time.Millisecond,
		Multiplier:  2,
		MaxAttempts: maxAttempts,
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	if Retryable(nil) {
		t.Fatalf("nil is not retryable")
	}
	if Retryable(&RPCError{Code: "bad_document", Message: "rejected"}) {
		t.Fatalf("protocol rejections are never retried")
	}
	wrapped := errors.Join(errors.New("push failed"), &RPCError{Code: "x"})
	if Retryable(wrapped) {
		t.Fatalf("wrapped protocol rejections are never retried")
	}
	if Retryable(context.Canceled) {
		t.Fatalf("cancellation is not retryable")
	}
	if !Retryable(errors.New("dial tcp: connection refused")) {
		t.Fatalf("transport errors are retryable")
	}
}

func TestPush_SuccessMarksSynced(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{}
	reg := realtime.NewSessionRegistry(testLogger())
	b := New(testLogger(), up, reg, Config{Policy: fastPolicy(3)})

	b.queue.Enqueue(v1.QueuedOperation{Kind: v1.OpAdd, Element: &v1.Element{ID: "e1", Kind: "note"}})
	b.push(context.Background(), "s", v1.Document{SessionID: "s"})

	if got := b.Queue().Len(); got != 0 {
		t.Fatalf("queue len=%d want 0 after success", got)
	}
	count, at := b.Queue().SyncedState()
	if count != 1 || at.IsZero() {
		t.Fatalf("synced state: count=%d at=%v", count, at)
	}
	if st := b.Health(); st.State != StateConnected {
		t.Fatalf("health=%+v want connected", st)
	}
}

func TestPush_TransportFailureRequeuesAndDisconnects(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{pushErr: errors.New("dial tcp: connection refused")}
	reg := realtime.NewSessionRegistry(testLogger())
	b := New(testLogger(), up, reg, Config{Policy: fastPolicy(2)})

	b.queue.Enqueue(v1.QueuedOperation{Kind: v1.OpAdd, Element: &v1.Element{ID: "e1", Kind: "note"}})
	b.push(context.Background(), "s", v1.Document{SessionID: "s"})

	if got := up.pushCount(); got != 2 {
		t.Fatalf("attempts=%d want 2", got)
	}
	// The taken batch goes back so nothing is lost.
	if got := b.Queue().Len(); got != 1 {
		t.Fatalf("queue len=%d want 1 after requeue", got)
	}
	if st := b.Health(); st.State != StateDisconnected {
		t.Fatalf("health=%+v want disconnected", st)
	}
}

func TestPush_RPCErrorNotRetried(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{pushErr: &RPCError{Code: "bad_document", Message: "schema"}}
	reg := realtime.NewSessionRegistry(testLogger())
	b := New(testLogger(), up, reg, Config{Policy: fastPolicy(5)})

	b.queue.Enqueue(v1.QueuedOperation{Kind: v1.OpAdd, Element: &v1.Element{ID: "e1", Kind: "note"}})
	b.push(context.Background(), "s", v1.Document{SessionID: "s"})

	if got := up.pushCount(); got != 1 {
		t.Fatalf("attempts=%d want 1 (no retry on protocol rejection)", got)
	}
	// Rejected content is dropped, not requeued: replaying it cannot succeed.
	if got := b.Queue().Len(); got != 0 {
		t.Fatalf("queue len=%d want 0", got)
	}
	// A protocol rejection says the link works.
	if st := b.Health(); st.State != StateConnected {
		t.Fatalf("health=%+v want connected", st)
	}
}

func TestRunPush_MirrorsLocalSkipsRemote(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{}
	reg := realtime.NewSessionRegistry(testLogger())
	b := New(testLogger(), up, reg, Config{Policy: fastPolicy(3)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go b.RunPush(ctx)
	time.Sleep(50 * time.Millisecond) // let RunPush register its watcher

	if _, err := reg.AddElement("s", v1.Element{ID: "e1", Kind: "note"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for up.pushCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("local mutation never pushed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Remote reconciliation must not echo back out.
	before := up.pushCount()
	reg.ApplyRemote("s", v1.Document{SessionID: "s", Timestamp: time.Now().UTC()})
	time.Sleep(100 * time.Millisecond)
	if got := up.pushCount(); got != before {
		t.Fatalf("remote apply was pushed back upstream: %d -> %d", before, got)
	}
}

func TestPull_AppliesOnlyStrictlyNewer(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	reg := realtime.NewSessionRegistry(testLogger())
	reg.Replace("s", v1.Document{
		Elements:  []v1.Element{{ID: "local", Kind: "note"}},
		Zoom:      1,
		Timestamp: base,
	})

	up := &fakeUpstream{fetchDoc: v1.Document{
		SessionID: "s",
		Elements:  []v1.Element{{ID: "remote", Kind: "note"}},
		Zoom:      1,
		Timestamp: base.Add(time.Second),
	}}
	b := New(testLogger(), up, reg, Config{Policy: fastPolicy(3)})

	b.pull(context.Background(), "s")

	doc := reg.Document("s")
	if len(doc.Elements) != 1 || doc.Elements[0].ID != "remote" {
		t.Fatalf("newer remote not applied: %+v", doc.Elements)
	}

	// An equal timestamp is not strictly newer: local wins the tie.
	up.mu.Lock()
	up.fetchDoc = v1.Document{
		SessionID: "s",
		Elements:  []v1.Element{{ID: "stale", Kind: "note"}},
		Zoom:      1,
		Timestamp: base.Add(time.Second),
	}
	up.mu.Unlock()

	b.pull(context.Background(), "s")
	doc = reg.Document("s")
	if doc.Elements[0].ID != "remote" {
		t.Fatalf("tie overwrote local state: %+v", doc.Elements)
	}
}

func TestPull_TransportFailureExhaustsToDisconnected(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{fetchErr: errors.New("dial tcp: timeout")}
	reg := realtime.NewSessionRegistry(testLogger())
	reg.GetOrCreate("s")
	b := New(testLogger(), up, reg, Config{Policy: fastPolicy(2)})

	b.pull(context.Background(), "s")

	if st := b.Health(); st.State != StateDisconnected {
		t.Fatalf("health=%+v want disconnected", st)
	}
}

func TestBridge_ImplementsCallControl(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{}
	reg := realtime.NewSessionRegistry(testLogger())
	b := New(testLogger(), up, reg, Config{Policy: fastPolicy(3)})

	var _ realtime.CallControl = b

	callID, err := b.StartCall(context.Background(), "s", "s", true)
	if err != nil || callID != "call-1" {
		t.Fatalf("StartCall=%q,%v", callID, err)
	}
	if err := b.JoinCall(context.Background(), "call-1", "p1"); err != nil {
		t.Fatalf("JoinCall: %v", err)
	}
	if err := b.LeaveCall(context.Background(), "call-1", "p1"); err != nil {
		t.Fatalf("LeaveCall: %v", err)
	}
}

package realtime

import (
	"context"
	"testing"
	"time"

	v1 "slate/shared/contracts/scene/v1"
)

func TestInMemoryStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore()

	doc := v1.Document{
		SessionID: "s1",
		Elements:  []v1.Element{{ID: "e1", Kind: "note"}},
		Zoom:      1,
		Timestamp: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.Save(ctx, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.SessionID != "s1" || len(got.Elements) != 1 {
		t.Fatalf("loaded: %+v", got)
	}

	// Stored snapshots are isolated from caller mutations.
	doc.Elements[0].Kind = "mutated"
	got, _, _ = s.Load(ctx, "s1")
	if got.Elements[0].Kind != "note" {
		t.Fatalf("store aliases caller slice")
	}
}

func TestInMemoryStore_LoadMissing(t *testing.T) {
	t.Parallel()

	_, ok, err := NewInMemoryStore().Load(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatalf("missing session must report ok=false")
	}
}

func TestInMemoryStore_SaveRequiresSessionID(t *testing.T) {
	t.Parallel()

	if err := NewInMemoryStore().Save(context.Background(), v1.Document{}); err == nil {
		t.Fatalf("save without session id must fail")
	}
}

func TestRunPersister_WritesBehind(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewSessionRegistry(testLogger())
	store := NewInMemoryStore()

	go RunPersister(ctx, testLogger(), reg, store)
	time.Sleep(50 * time.Millisecond) // let the persister register its watcher

	if _, err := reg.AddElement("s1", v1.Element{ID: "e1", Kind: "note"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		doc, ok, err := store.Load(ctx, "s1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if ok && len(doc.Elements) == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never persisted (ok=%v)", ok)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewPostgresStore_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("nil pool must fail")
	}
	if _, err := NewPostgresStore(nil, WithSchema(`bad"schema`)); err == nil {
		t.Fatalf("invalid schema must fail before the pool check")
	}
	if _, err := NewPostgresStore(nil, WithSchema("")); err == nil {
		t.Fatalf("empty schema must fail")
	}
}

func TestPGIdentQuoting(t *testing.T) {
	t.Parallel()

	if !isValidPGIdent("slate") || !isValidPGIdent("_x9") {
		t.Fatalf("valid identifiers rejected")
	}
	for _, s := range []string{"", "9lead", `sl"ate`, "sp ace", "semi;colon"} {
		if isValidPGIdent(s) {
			t.Fatalf("isValidPGIdent(%q) must be false", s)
		}
	}
	if got := pgIdent("slate", "scene_snapshots"); got != `"slate"."scene_snapshots"` {
		t.Fatalf("pgIdent=%s", got)
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hyperjump/pdfquery/internal/models"
)

var alice = models.Owner{ID: "alice"}

func newDoc(name string, created time.Time) *models.Document {
	return &models.Document{
		ID:        models.DocumentID(name, created),
		Name:      name,
		Content:   []byte("%PDF " + name),
		Text:      "text of " + name + models.PageMarker,
		CreatedAt: created,
	}
}

func readySession(t *testing.T, store *memStore, hints *memHints) *Session {
	t.Helper()
	s := New(store, hints)
	if err := s.Initialize(context.Background(), alice); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

func TestInitialize_empty(t *testing.T) {
	s := readySession(t, newMemStore(), newMemHints())
	if s.Phase() != PhaseReady {
		t.Errorf("phase = %v, want ready", s.Phase())
	}
	if s.Len() != 0 || s.ActiveID() != "" || s.Active() != nil {
		t.Errorf("expected empty session, got len=%d active=%q", s.Len(), s.ActiveID())
	}
	if s.Owner() != alice {
		t.Errorf("owner = %+v", s.Owner())
	}
}

func TestInitialize_restoresHint(t *testing.T) {
	ctx := context.Background()
	store, hints := newMemStore(), newMemHints()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a, b := newDoc("a.pdf", base), newDoc("b.pdf", base.Add(time.Minute))
	_ = store.Upsert(ctx, "alice", a.ID, models.FullPatch(a))
	_ = store.Upsert(ctx, "alice", b.ID, models.FullPatch(b))
	hints.values["alice"] = b.ID

	s := readySession(t, store, hints)
	if s.ActiveID() != b.ID {
		t.Errorf("active = %q, want hinted %q", s.ActiveID(), b.ID)
	}
	docs := s.Documents()
	if len(docs) != 2 || docs[0].ID != a.ID || docs[1].ID != b.ID {
		t.Errorf("documents not in creation order: %v", docs)
	}
}

func TestInitialize_staleHintFallsBackToFirst(t *testing.T) {
	ctx := context.Background()
	store, hints := newMemStore(), newMemHints()
	a := newDoc("a.pdf", time.Now())
	_ = store.Upsert(ctx, "alice", a.ID, models.FullPatch(a))
	hints.values["alice"] = "gone.pdf-2020-01-01T00:00:00.000Z"

	s := readySession(t, store, hints)
	if s.ActiveID() != a.ID {
		t.Errorf("active = %q, want %q", s.ActiveID(), a.ID)
	}
	if hints.get("alice") != a.ID {
		t.Errorf("hint = %q, want fallback saved", hints.get("alice"))
	}
}

func TestInitialize_staleHintWithoutDocumentsIsCleared(t *testing.T) {
	hints := newMemHints()
	hints.values["alice"] = "gone"
	s := readySession(t, newMemStore(), hints)
	if s.ActiveID() != "" {
		t.Errorf("active = %q", s.ActiveID())
	}
	if hints.get("alice") != "" {
		t.Errorf("stale hint kept: %q", hints.get("alice"))
	}
}

func TestInitialize_storeUnavailable(t *testing.T) {
	store := newMemStore()
	store.failList = true
	s := New(store, newMemHints())

	err := s.Initialize(context.Background(), alice)
	var le *LoadError
	if !errors.As(err, &le) || !errors.Is(err, errDown) {
		t.Fatalf("error = %v, want *LoadError wrapping store error", err)
	}
	if !IsLoadError(err) {
		t.Error("IsLoadError = false")
	}
	if s.Phase() != PhaseReady || s.Len() != 0 {
		t.Errorf("phase=%v len=%d, want ready and empty", s.Phase(), s.Len())
	}
}

func TestInitialize_hintFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	store, hints := newMemStore(), newMemHints()
	a := newDoc("a.pdf", time.Now())
	_ = store.Upsert(ctx, "alice", a.ID, models.FullPatch(a))
	hints.fail = true

	s := readySession(t, store, hints)
	if s.ActiveID() != a.ID {
		t.Errorf("active = %q, want %q", s.ActiveID(), a.ID)
	}
}

func TestInitialize_switchOwnerTearsDown(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := newDoc("a.pdf", time.Now())
	_ = store.Upsert(ctx, "alice", a.ID, models.FullPatch(a))

	s := readySession(t, store, newMemHints())
	if err := s.Initialize(ctx, models.Owner{ID: "bob"}); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 || s.ActiveID() != "" || s.Owner().ID != "bob" {
		t.Errorf("bob sees alice's state: len=%d active=%q", s.Len(), s.ActiveID())
	}
}

func TestInitialize_rejectsEmptyOwner(t *testing.T) {
	s := New(newMemStore(), nil)
	if err := s.Initialize(context.Background(), models.Owner{}); err == nil {
		t.Error("expected error for empty owner")
	}
	if s.Phase() != PhaseUninitialized {
		t.Errorf("phase = %v", s.Phase())
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	store, hints := newMemStore(), newMemHints()
	s := readySession(t, store, hints)

	base := time.Now()
	for i := 0; i < 5; i++ {
		d := newDoc(fmt.Sprintf("doc%d.pdf", i), base.Add(time.Duration(i)*time.Millisecond))
		if err := s.Register(ctx, d); err != nil {
			t.Fatalf("Register %d: %v", i, err)
		}
		if s.ActiveID() != d.ID {
			t.Errorf("active = %q, want %q", s.ActiveID(), d.ID)
		}
		if hints.get("alice") != d.ID {
			t.Errorf("hint = %q, want %q", hints.get("alice"), d.ID)
		}
	}
	if s.Len() != 5 {
		t.Errorf("Len = %d, want 5", s.Len())
	}
	for _, d := range s.Documents() {
		if _, err := s.Document(d.ID); err != nil {
			t.Errorf("Document(%q): %v", d.ID, err)
		}
		if d.Transcript == nil || len(d.Transcript) != 0 {
			t.Errorf("new document should have an empty transcript: %v", d.Transcript)
		}
	}
	if n, _ := store.CountDocuments(ctx, "alice"); n != 5 {
		t.Errorf("persisted %d, want 5", n)
	}
}

func TestRegister_duplicateID(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	s := readySession(t, store, newMemHints())
	d := newDoc("a.pdf", time.Now())
	if err := s.Register(ctx, d); err != nil {
		t.Fatal(err)
	}
	writes := len(store.upserts)
	if err := s.Register(ctx, d); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("error = %v, want ErrDuplicateID", err)
	}
	if s.Len() != 1 || len(store.upserts) != writes {
		t.Error("duplicate register changed state or wrote to the store")
	}
}

func TestRegister_notReady(t *testing.T) {
	s := New(newMemStore(), nil)
	if err := s.Register(context.Background(), newDoc("a.pdf", time.Now())); !errors.Is(err, ErrNotReady) {
		t.Errorf("error = %v, want ErrNotReady", err)
	}
}

func TestRegister_storeFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	store, hints := newMemStore(), newMemHints()
	s := readySession(t, store, hints)
	store.failWrite = true

	err := s.Register(ctx, newDoc("a.pdf", time.Now()))
	if !errors.Is(err, errDown) {
		t.Fatalf("error = %v, want store error", err)
	}
	if s.Len() != 0 || s.ActiveID() != "" || hints.get("alice") != "" {
		t.Error("failed register mutated state or hint")
	}
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	store, hints := newMemStore(), newMemHints()
	s := readySession(t, store, hints)
	base := time.Now()
	a, b := newDoc("a.pdf", base), newDoc("b.pdf", base.Add(time.Millisecond))
	_ = s.Register(ctx, a)
	_ = s.Register(ctx, b)

	if err := s.Select(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if s.ActiveID() != a.ID || hints.get("alice") != a.ID {
		t.Errorf("active=%q hint=%q, want %q", s.ActiveID(), hints.get("alice"), a.ID)
	}

	// A reload with the same hint restores the selection
	reloaded := readySession(t, store, hints)
	if reloaded.ActiveID() != a.ID {
		t.Errorf("reloaded active = %q, want %q", reloaded.ActiveID(), a.ID)
	}
}

func TestSelect_notFound(t *testing.T) {
	s := readySession(t, newMemStore(), newMemHints())
	if err := s.Select(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSelect_alreadyActiveIsNoop(t *testing.T) {
	ctx := context.Background()
	s := readySession(t, newMemStore(), newMemHints())
	d := newDoc("a.pdf", time.Now())
	_ = s.Register(ctx, d)

	var events int
	s.Subscribe(func(Event) { events++ })
	if err := s.Select(ctx, d.ID); err != nil {
		t.Fatal(err)
	}
	if events != 0 {
		t.Errorf("no-op select emitted %d events", events)
	}
}

func TestAppendTranscript_roundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	s := readySession(t, store, newMemHints())
	d := newDoc("a.pdf", time.Now())
	_ = s.Register(ctx, d)

	msgs := []models.Message{
		{ID: 1, Role: models.RoleAssistant, Text: "Hello!"},
		{ID: 2, Role: models.RoleUser, Text: "What was the revenue?"},
		{ID: 3, Role: models.RoleAssistant, Text: "$5M."},
	}
	if err := s.AppendTranscript(ctx, d.ID, msgs); err != nil {
		t.Fatal(err)
	}
	// Mutating the caller's slice must not leak into the session
	msgs[0].Text = "changed"

	got, _ := s.Document(d.ID)
	if len(got.Transcript) != 3 || got.Transcript[0].Text != "Hello!" || got.Transcript[2].Text != "$5M." {
		t.Errorf("transcript = %+v", got.Transcript)
	}
	last := store.upserts[len(store.upserts)-1]
	if last.Name != nil || last.Text != nil || last.Content != nil {
		t.Error("transcript append wrote document payload fields")
	}
	persisted, _ := store.List(ctx, "alice")
	if persisted[0].Text != d.Text || len(persisted[0].Transcript) != 3 {
		t.Errorf("persisted = %+v", persisted[0])
	}
}

func TestAppendTranscript_errors(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	s := readySession(t, store, newMemHints())
	d := newDoc("a.pdf", time.Now())
	_ = s.Register(ctx, d)

	if err := s.AppendTranscript(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing doc: %v", err)
	}
	bad := []models.Message{{ID: 2, Role: models.RoleUser}, {ID: 1, Role: models.RoleAssistant}}
	if err := s.AppendTranscript(ctx, d.ID, bad); !errors.Is(err, ErrInvalidTranscript) {
		t.Errorf("bad order: %v", err)
	}

	store.failWrite = true
	good := []models.Message{{ID: 1, Role: models.RoleUser, Text: "q"}}
	if err := s.AppendTranscript(ctx, d.ID, good); !errors.Is(err, errDown) {
		t.Errorf("store failure: %v", err)
	}
	got, _ := s.Document(d.ID)
	if len(got.Transcript) != 0 {
		t.Error("in-memory transcript diverged from the store after a failed write")
	}
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	store, hints := newMemStore(), newMemHints()
	s := readySession(t, store, hints)
	_ = s.Register(ctx, newDoc("a.pdf", time.Now()))
	_ = s.Register(ctx, newDoc("b.pdf", time.Now().Add(time.Millisecond)))

	if err := s.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 || s.ActiveID() != "" {
		t.Errorf("len=%d active=%q after clear", s.Len(), s.ActiveID())
	}
	if hints.get("alice") != "" {
		t.Error("hint not cleared")
	}
	reloaded := readySession(t, store, hints)
	if reloaded.Len() != 0 || reloaded.ActiveID() != "" {
		t.Error("reload after clear is not empty")
	}
}

func TestClearAll_storeFailureKeepsDocuments(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	s := readySession(t, store, newMemHints())
	_ = s.Register(ctx, newDoc("a.pdf", time.Now()))
	store.failWrite = true

	if err := s.ClearAll(ctx); !errors.Is(err, errDown) {
		t.Errorf("error = %v, want store error", err)
	}
	if s.Len() != 1 || s.ActiveID() == "" {
		t.Error("failed clear emptied the session")
	}
}

func TestNames(t *testing.T) {
	ctx := context.Background()
	s := readySession(t, newMemStore(), newMemHints())
	_ = s.Register(ctx, newDoc("Report.pdf", time.Now()))
	names := s.Names()
	if _, ok := names["Report.pdf"]; !ok {
		t.Error("missing Report.pdf")
	}
	if _, ok := names["report.pdf"]; ok {
		t.Error("names must be case-sensitive")
	}
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	s := readySession(t, newMemStore(), newMemHints())

	var got []Event
	unsubscribe := s.Subscribe(func(e Event) { got = append(got, e) })
	d := newDoc("a.pdf", time.Now())
	_ = s.Register(ctx, d)
	_ = s.AppendTranscript(ctx, d.ID, []models.Message{{ID: 1, Role: models.RoleAssistant, Text: "hi"}})
	_ = s.ClearAll(ctx)
	unsubscribe()
	_ = s.Register(ctx, newDoc("b.pdf", time.Now()))

	want := []EventKind{EventRegistered, EventTranscript, EventCleared}
	if len(got) != len(want) {
		t.Fatalf("events = %+v", got)
	}
	for i, k := range want {
		if got[i].Kind != k {
			t.Errorf("event %d = %s, want %s", i, got[i].Kind, k)
		}
	}
	if got[0].ActiveID != d.ID || got[0].Documents != 1 || got[0].Owner != "alice" {
		t.Errorf("registered event = %+v", got[0])
	}
}

func TestDocument_returnsCopy(t *testing.T) {
	ctx := context.Background()
	s := readySession(t, newMemStore(), newMemHints())
	d := newDoc("a.pdf", time.Now())
	_ = s.Register(ctx, d)
	_ = s.AppendTranscript(ctx, d.ID, []models.Message{{ID: 1, Role: models.RoleAssistant, Text: "hi"}})

	got, _ := s.Document(d.ID)
	got.Transcript[0].Text = "tampered"
	again, _ := s.Document(d.ID)
	if again.Transcript[0].Text != "hi" {
		t.Error("Document exposes internal transcript")
	}
}

package session

import (
	"testing"
	"time"

	"github.com/hyperjump/pdfquery/internal/models"
)

func TestTransitions_neverMutateInput(t *testing.T) {
	before, _ := loaded(alice, nil, "")
	d := newDoc("a.pdf", time.Now())

	after, effects, err := register(before, d)
	if err != nil {
		t.Fatal(err)
	}
	if len(before.Documents) != 0 || before.ActiveID != "" {
		t.Error("register modified its input state")
	}
	if len(effects) != 2 {
		t.Fatalf("effects = %v", effects)
	}
	if _, ok := effects[0].(PutDocument); !ok {
		t.Errorf("first effect = %T, want PutDocument", effects[0])
	}
	if h, ok := effects[1].(SaveHint); !ok || h.ID != d.ID {
		t.Errorf("second effect = %#v, want SaveHint", effects[1])
	}

	cleared, effects, err := clearAll(after)
	if err != nil {
		t.Fatal(err)
	}
	if len(after.Documents) != 1 || len(cleared.Documents) != 0 {
		t.Error("clearAll modified its input state")
	}
	if _, ok := effects[0].(DeleteAll); !ok {
		t.Errorf("first effect = %T, want DeleteAll", effects[0])
	}
}

func TestTransitions_keepActiveInvariant(t *testing.T) {
	base := time.Now()
	s, _ := loaded(alice, []*models.Document{newDoc("a.pdf", base), newDoc("b.pdf", base.Add(time.Second))}, "")
	steps := []func(State) (State, []Effect, error){
		func(s State) (State, []Effect, error) { return selectDocument(s, s.Order[1]) },
		func(s State) (State, []Effect, error) { return register(s, newDoc("c.pdf", base.Add(2*time.Second))) },
		func(s State) (State, []Effect, error) {
			return appendTranscript(s, s.ActiveID, []models.Message{{ID: 1, Role: models.RoleUser, Text: "q"}})
		},
		func(s State) (State, []Effect, error) { return selectDocument(s, "missing") },
		clearAll,
	}
	for i, step := range steps {
		next, _, err := step(s)
		if err == nil {
			s = next
		}
		if cerr := s.Check(); cerr != nil {
			t.Fatalf("step %d: %v", i, cerr)
		}
	}
	if s.ActiveID != "" || len(s.Documents) != 0 {
		t.Errorf("final state = %+v", s)
	}
}

func TestLoaded_skipsDuplicateIDs(t *testing.T) {
	d := newDoc("a.pdf", time.Now())
	s, _ := loaded(alice, []*models.Document{d, d.Clone()}, "")
	if err := s.Check(); err != nil {
		t.Fatal(err)
	}
	if len(s.Order) != 1 {
		t.Errorf("order = %v", s.Order)
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseLoading.String() != "loading" || PhaseReady.String() != "ready" || PhaseUninitialized.String() != "uninitialized" {
		t.Error("unexpected phase names")
	}
}

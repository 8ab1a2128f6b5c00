// Package session holds the per-owner document collection and the active selection.
//
// State changes are computed by pure transition functions that return the next State and
// the side effects to perform. Session performs those effects against the document store
// and the hint store, and only then applies the new State.
package session

import (
	"errors"
	"fmt"

	"github.com/hyperjump/pdfquery/internal/models"
)

var (
	ErrNotReady          = errors.New("session not ready")
	ErrDuplicateID       = errors.New("document id already registered")
	ErrNotFound          = errors.New("document not found")
	ErrInvalidTranscript = errors.New("invalid transcript")
)

// Phase is the lifecycle stage of a session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseLoading
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is an immutable snapshot of a session. Transitions never modify a State in place.
type State struct {
	Owner     models.Owner
	Phase     Phase
	Documents map[string]*models.Document
	Order     []string // creation order of Documents keys
	ActiveID  string
}

// Check verifies the structural invariants of s.
func (s State) Check() error {
	if s.ActiveID != "" {
		if _, ok := s.Documents[s.ActiveID]; !ok {
			return fmt.Errorf("active id %q is not a document", s.ActiveID)
		}
	}
	if len(s.Order) != len(s.Documents) {
		return fmt.Errorf("order has %d ids for %d documents", len(s.Order), len(s.Documents))
	}
	for _, id := range s.Order {
		if _, ok := s.Documents[id]; !ok {
			return fmt.Errorf("ordered id %q is not a document", id)
		}
	}
	return nil
}

// copy returns s with its own map and order slice. Documents are shared.
func (s State) copy() State {
	docs := make(map[string]*models.Document, len(s.Documents)+1)
	for id, d := range s.Documents {
		docs[id] = d
	}
	s.Documents = docs
	s.Order = append([]string(nil), s.Order...)
	return s
}

// Effect is a side effect requested by a transition.
type Effect interface {
	isEffect()
}

// PutDocument persists a whole document.
type PutDocument struct{ Doc *models.Document }

// PutTranscript persists only the transcript of a document.
type PutTranscript struct {
	ID       string
	Messages []models.Message
}

// DeleteAll removes every document of the owner.
type DeleteAll struct{}

// SaveHint remembers id as the last active document.
type SaveHint struct{ ID string }

// ClearHint forgets the last active document.
type ClearHint struct{}

func (PutDocument) isEffect()   {}
func (PutTranscript) isEffect() {}
func (DeleteAll) isEffect()     {}
func (SaveHint) isEffect()      {}
func (ClearHint) isEffect()     {}

// isHint reports whether e targets the hint store rather than the document store.
func isHint(e Effect) bool {
	switch e.(type) {
	case SaveHint, ClearHint:
		return true
	}
	return false
}

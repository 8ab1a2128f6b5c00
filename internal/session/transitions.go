package session

import (
	"fmt"

	"github.com/hyperjump/pdfquery/internal/models"
)

// loading resets s for owner and marks it loading.
func loading(owner models.Owner) State {
	return State{
		Owner:     owner,
		Phase:     PhaseLoading,
		Documents: map[string]*models.Document{},
	}
}

// loaded builds the ready state from the listed documents and the remembered hint.
// The hint wins when it names a loaded document; otherwise the first document is active.
func loaded(owner models.Owner, docs []*models.Document, hintID string) (State, []Effect) {
	next := State{
		Owner:     owner,
		Phase:     PhaseReady,
		Documents: make(map[string]*models.Document, len(docs)),
		Order:     make([]string, 0, len(docs)),
	}
	for _, d := range docs {
		if _, dup := next.Documents[d.ID]; dup {
			continue
		}
		next.Documents[d.ID] = d
		next.Order = append(next.Order, d.ID)
	}

	if _, ok := next.Documents[hintID]; ok && hintID != "" {
		next.ActiveID = hintID
		return next, nil
	}
	if len(next.Order) > 0 {
		next.ActiveID = next.Order[0]
		return next, []Effect{SaveHint{ID: next.ActiveID}}
	}
	if hintID != "" {
		return next, []Effect{ClearHint{}}
	}
	return next, nil
}

// loadFailed is the ready state with an empty collection used when the store is unavailable.
func loadFailed(owner models.Owner) State {
	return State{
		Owner:     owner,
		Phase:     PhaseReady,
		Documents: map[string]*models.Document{},
	}
}

func register(s State, doc *models.Document) (State, []Effect, error) {
	if s.Phase != PhaseReady {
		return s, nil, ErrNotReady
	}
	if doc == nil || doc.ID == "" {
		return s, nil, fmt.Errorf("document id cannot be empty")
	}
	if _, ok := s.Documents[doc.ID]; ok {
		return s, nil, fmt.Errorf("%w: %s", ErrDuplicateID, doc.ID)
	}
	d := doc.Clone()
	if d.Transcript == nil {
		d.Transcript = []models.Message{}
	}

	next := s.copy()
	next.Documents[d.ID] = d
	next.Order = append(next.Order, d.ID)
	next.ActiveID = d.ID
	return next, []Effect{PutDocument{Doc: d}, SaveHint{ID: d.ID}}, nil
}

func selectDocument(s State, id string) (State, []Effect, error) {
	if _, ok := s.Documents[id]; !ok {
		return s, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.ActiveID == id {
		return s, nil, nil
	}
	next := s.copy()
	next.ActiveID = id
	return next, []Effect{SaveHint{ID: id}}, nil
}

func appendTranscript(s State, id string, msgs []models.Message) (State, []Effect, error) {
	cur, ok := s.Documents[id]
	if !ok {
		return s, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := models.ValidateTranscript(msgs); err != nil {
		return s, nil, fmt.Errorf("%w: %v", ErrInvalidTranscript, err)
	}
	transcript := models.CloneMessages(msgs)
	if transcript == nil {
		transcript = []models.Message{}
	}

	d := *cur
	d.Transcript = transcript
	next := s.copy()
	next.Documents[id] = &d
	return next, []Effect{PutTranscript{ID: id, Messages: models.CloneMessages(transcript)}}, nil
}

func clearAll(s State) (State, []Effect, error) {
	if s.Phase != PhaseReady {
		return s, nil, ErrNotReady
	}
	next := State{
		Owner:     s.Owner,
		Phase:     PhaseReady,
		Documents: map[string]*models.Document{},
	}
	return next, []Effect{DeleteAll{}, ClearHint{}}, nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/pdfquery/internal/hint"
	"github.com/hyperjump/pdfquery/internal/models"
	"github.com/hyperjump/pdfquery/internal/storage"
)

// LoadError reports that Initialize could not list the owner's documents.
// The session is still usable, with an empty collection.
type LoadError struct {
	Owner string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load documents of %s: %v", e.Owner, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// EventKind names the mutation that produced an Event.
type EventKind string

const (
	EventInitialized EventKind = "initialized"
	EventRegistered  EventKind = "registered"
	EventSelected    EventKind = "selected"
	EventTranscript  EventKind = "transcript"
	EventCleared     EventKind = "cleared"
)

// Event is delivered to subscribers after every applied mutation.
type Event struct {
	Kind       EventKind `json:"kind"`
	Owner      string    `json:"owner"`
	DocumentID string    `json:"document_id,omitempty"`
	ActiveID   string    `json:"active_id,omitempty"`
	Documents  int       `json:"documents"`
}

// Session is the document collection and active selection of one owner.
// Mutations are serialized; the store is written before the in-memory state changes.
type Session struct {
	mu     sync.RWMutex
	initMu sync.Mutex
	state  State

	store  storage.Store
	hints  hint.Store
	logger *zap.Logger

	lmu       sync.Mutex
	listeners map[int]func(Event)
	nextSub   int
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for recoverable failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New creates an uninitialized session. hints may be nil.
func New(store storage.Store, hints hint.Store, opts ...Option) *Session {
	s := &Session{
		store:     store,
		hints:     hints,
		logger:    zap.NewNop(),
		listeners: make(map[int]func(Event)),
		state:     State{Documents: map[string]*models.Document{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads owner's documents and restores the active selection.
// When the store fails the session becomes ready and empty, and a *LoadError is returned.
func (s *Session) Initialize(ctx context.Context, owner models.Owner) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	if s.state.Phase != PhaseUninitialized && s.state.Owner.ID != owner.ID {
		s.logger.Debug("switching session owner",
			zap.String("from", s.state.Owner.ID), zap.String("to", owner.ID))
	}
	s.state = loading(owner)
	s.mu.Unlock()

	docs, err := s.store.List(ctx, owner.ID)
	if err != nil {
		s.mu.Lock()
		s.state = loadFailed(owner)
		s.mu.Unlock()
		s.logger.Error("failed to load documents", zap.String("owner", owner.ID), zap.Error(err))
		s.notify(EventInitialized, "")
		return &LoadError{Owner: owner.ID, Err: err}
	}

	var hintID string
	if s.hints != nil {
		hintID, err = s.hints.Load(ctx, owner.ID)
		if err != nil {
			s.logger.Warn("failed to load active document hint", zap.String("owner", owner.ID), zap.Error(err))
			hintID = ""
		}
	}

	next, effects := loaded(owner, docs, hintID)
	if err := next.Check(); err != nil {
		return fmt.Errorf("session invariant: %w", err)
	}
	s.mu.Lock()
	s.state = next
	s.applyHints(ctx, owner.ID, effects)
	s.mu.Unlock()

	s.logger.Debug("session initialized",
		zap.String("owner", owner.ID), zap.Int("documents", len(next.Order)), zap.String("active", next.ActiveID))
	s.notify(EventInitialized, "")
	return nil
}

// Register adds a new document and makes it active.
func (s *Session) Register(ctx context.Context, doc *models.Document) error {
	var id string
	if doc != nil {
		id = doc.ID
	}
	return s.mutate(ctx, EventRegistered, id, func(st State) (State, []Effect, error) {
		return register(st, doc)
	})
}

// Select makes id the active document. Selecting the active document does nothing.
func (s *Session) Select(ctx context.Context, id string) error {
	return s.mutate(ctx, EventSelected, id, func(st State) (State, []Effect, error) {
		return selectDocument(st, id)
	})
}

// AppendTranscript replaces the transcript of id with msgs, which must be the full new transcript.
func (s *Session) AppendTranscript(ctx context.Context, id string, msgs []models.Message) error {
	return s.mutate(ctx, EventTranscript, id, func(st State) (State, []Effect, error) {
		return appendTranscript(st, id, msgs)
	})
}

// ClearAll deletes every document of the owner and forgets the active selection.
func (s *Session) ClearAll(ctx context.Context) error {
	return s.mutate(ctx, EventCleared, "", clearAll)
}

func (s *Session) mutate(ctx context.Context, kind EventKind, docID string, transition func(State) (State, []Effect, error)) error {
	s.mu.Lock()
	next, effects, err := transition(s.state)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if len(effects) == 0 {
		s.mu.Unlock()
		return nil
	}
	if err := next.Check(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session invariant: %w", err)
	}
	owner := next.Owner.ID
	if err := s.applyStore(ctx, owner, effects); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.applyHints(ctx, owner, effects)
	s.mu.Unlock()

	s.notify(kind, docID)
	return nil
}

func (s *Session) applyStore(ctx context.Context, owner string, effects []Effect) error {
	for _, e := range effects {
		var err error
		switch e := e.(type) {
		case PutDocument:
			err = s.store.Upsert(ctx, owner, e.Doc.ID, models.FullPatch(e.Doc))
		case PutTranscript:
			err = s.store.Upsert(ctx, owner, e.ID, models.TranscriptOnly(e.Messages))
		case DeleteAll:
			err = s.store.DeleteAll(ctx, owner)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// applyHints runs hint effects. Failures are logged, the hint only restores selection.
func (s *Session) applyHints(ctx context.Context, owner string, effects []Effect) {
	if s.hints == nil {
		return
	}
	for _, e := range effects {
		if !isHint(e) {
			continue
		}
		var err error
		switch e := e.(type) {
		case SaveHint:
			err = s.hints.Save(ctx, owner, e.ID)
		case ClearHint:
			err = s.hints.Clear(ctx, owner)
		}
		if err != nil {
			s.logger.Warn("failed to update active document hint", zap.String("owner", owner), zap.Error(err))
		}
	}
}

// Subscribe registers fn to receive events. The returned function unsubscribes.
// fn runs on the mutating goroutine after the state has been applied.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.lmu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *Session) notify(kind EventKind, docID string) {
	s.mu.RLock()
	ev := Event{
		Kind:       kind,
		Owner:      s.state.Owner.ID,
		DocumentID: docID,
		ActiveID:   s.state.ActiveID,
		Documents:  len(s.state.Order),
	}
	s.mu.RUnlock()

	s.lmu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Phase returns the current lifecycle stage.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Phase
}

// Owner returns the owner the session was initialized for.
func (s *Session) Owner() models.Owner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Owner
}

// ActiveID returns the active document id, or "" when none is active.
func (s *Session) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveID
}

// Active returns a copy of the active document, or nil.
func (s *Session) Active() *models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Documents[s.state.ActiveID].Clone()
}

// Document returns a copy of the document with id.
func (s *Session) Document(id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.Documents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d.Clone(), nil
}

// Documents returns copies of all documents in creation order.
func (s *Session) Documents() []*models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Document, 0, len(s.state.Order))
	for _, id := range s.state.Order {
		out = append(out, s.state.Documents[id].Clone())
	}
	return out
}

// Names returns the set of current document names.
func (s *Session) Names() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make(map[string]struct{}, len(s.state.Documents))
	for _, d := range s.state.Documents {
		names[d.Name] = struct{}{}
	}
	return names
}

// Len returns the number of documents.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Order)
}

// IsLoadError reports whether err came from a failed Initialize.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

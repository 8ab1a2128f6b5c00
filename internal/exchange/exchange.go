// Package exchange runs question-answer turns against a session's active document.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hyperjump/pdfquery/internal/answer"
	"github.com/hyperjump/pdfquery/internal/models"
)

// Apology replaces the answer when generation fails.
const Apology = "Sorry, I encountered an error and could not process your request."

// DefaultTimeout bounds a single answer generation.
const DefaultTimeout = 60 * time.Second

var (
	ErrEmptyQuestion    = errors.New("question is empty")
	ErrNoActiveDocument = errors.New("no active document")
	ErrNoText           = errors.New("active document has no text")
	ErrInFlight         = errors.New("a question about this document is already being answered")
)

// Greeting returns the first-contact message for a document named name.
func Greeting(name string) string {
	return fmt.Sprintf("Hello! I've finished reading \"%s\". What would you like to know?", name)
}

// Session is the part of session.Session the exchange drives.
type Session interface {
	Active() *models.Document
	Document(id string) (*models.Document, error)
	Select(ctx context.Context, id string) error
	AppendTranscript(ctx context.Context, id string, msgs []models.Message) error
}

// Result is the outcome of a completed turn.
type Result struct {
	DocumentID string           `json:"document_id"`
	Transcript []models.Message `json:"transcript"`
	Failed     bool             `json:"failed"`
}

// Exchange answers questions about one session's documents, one at a time per document.
type Exchange struct {
	sess    Session
	gen     answer.Generator
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu       sync.Mutex
	inFlight map[string]*semaphore.Weighted
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithTimeout bounds each answer generation. Values <= 0 keep the default.
func WithTimeout(d time.Duration) Option {
	return func(e *Exchange) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock sets the clock used for message ids.
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

// WithLogger sets the logger for generation failures.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exchange) { e.logger = l }
}

// New creates an Exchange for sess using gen.
func New(sess Session, gen answer.Generator, opts ...Option) *Exchange {
	e := &Exchange{
		sess:     sess,
		gen:      gen,
		timeout:  DefaultTimeout,
		now:      time.Now,
		logger:   zap.NewNop(),
		inFlight: make(map[string]*semaphore.Weighted),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exchange) lock(id string) *semaphore.Weighted {
	e.mu.Lock()
	defer e.mu.Unlock()
	sem, ok := e.inFlight[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		e.inFlight[id] = sem
	}
	return sem
}

// Busy reports whether a turn is running for document id.
func (e *Exchange) Busy(id string) bool {
	sem := e.lock(id)
	if !sem.TryAcquire(1) {
		return true
	}
	sem.Release(1)
	return false
}

// Ask appends question and its answer to the active document's transcript.
// A failed generation is recorded as the Apology message and reported through Result.Failed.
// Precondition failures return an error and change nothing.
func (e *Exchange) Ask(ctx context.Context, question string) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	doc := e.sess.Active()
	if doc == nil {
		return nil, ErrNoActiveDocument
	}
	if strings.TrimSpace(doc.Text) == "" {
		return nil, ErrNoText
	}
	sem := e.lock(doc.ID)
	if !sem.TryAcquire(1) {
		return nil, ErrInFlight
	}
	defer sem.Release(1)

	// The turn completes even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	// Re-read under the lock so a transcript written meanwhile is not lost.
	if cur, err := e.sess.Document(doc.ID); err == nil {
		doc = cur
	}
	working := models.CloneMessages(doc.Transcript)
	working = append(working, models.Message{
		ID:   models.NextMessageID(working, e.now()),
		Role: models.RoleUser,
		Text: question,
	})

	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	text, err := e.gen.GenerateAnswer(genCtx, doc.Text, question)
	cancel()
	failed := err != nil
	if failed {
		e.logger.Warn("answer generation failed",
			zap.String("document", doc.ID), zap.String("provider", e.gen.Name()), zap.Error(err))
		text = Apology
	}
	working = append(working, models.Message{
		ID:   models.NextMessageID(working, e.now()),
		Role: models.RoleAssistant,
		Text: text,
	})

	if err := e.sess.AppendTranscript(ctx, doc.ID, working); err != nil {
		return nil, fmt.Errorf("save transcript: %w", err)
	}
	return &Result{DocumentID: doc.ID, Transcript: working, Failed: failed}, nil
}

// EnsureGreeting persists the greeting when document id has an empty transcript.
// It does nothing when the transcript is not empty or a turn is running.
func (e *Exchange) EnsureGreeting(ctx context.Context, id string) error {
	sem := e.lock(id)
	if !sem.TryAcquire(1) {
		return nil
	}
	defer sem.Release(1)

	doc, err := e.sess.Document(id)
	if err != nil {
		return err
	}
	if len(doc.Transcript) > 0 {
		return nil
	}
	msgs := []models.Message{{
		ID:   models.NextMessageID(nil, e.now()),
		Role: models.RoleAssistant,
		Text: Greeting(doc.Name),
	}}
	if err := e.sess.AppendTranscript(ctx, id, msgs); err != nil {
		return fmt.Errorf("save greeting: %w", err)
	}
	return nil
}

// Select makes id active, greets on first contact and returns the document as stored.
func (e *Exchange) Select(ctx context.Context, id string) (*models.Document, error) {
	if err := e.sess.Select(ctx, id); err != nil {
		return nil, err
	}
	if err := e.EnsureGreeting(ctx, id); err != nil {
		return nil, err
	}
	return e.sess.Document(id)
}

// Forget drops the per-document locks, used after the session is cleared.
func (e *Exchange) Forget() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, sem := range e.inFlight {
		if sem.TryAcquire(1) {
			delete(e.inFlight, id)
			sem.Release(1)
		}
	}
}

// Package upload validates uploaded files, extracts their text and registers them as documents.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/pdfquery/internal/extract"
	"github.com/hyperjump/pdfquery/internal/models"
)

// DefaultMaxSize is the largest accepted upload, 20 MiB.
const DefaultMaxSize int64 = 20 << 20

// PDFMimeType is the only accepted MIME type.
const PDFMimeType = "application/pdf"

var (
	ErrInvalidType   = errors.New("only PDF files are accepted")
	ErrTooLarge      = errors.New("file exceeds the maximum upload size")
	ErrDuplicateName = errors.New("a document with this name already exists")
	ErrUnreadable    = errors.New("could not read the PDF")
)

// File is an uploaded file as received from the client.
type File struct {
	Name     string
	MIMEType string
	Size     int64
	Data     []byte
}

// Extractor returns the page texts of a PDF payload.
type Extractor interface {
	ExtractPages(content []byte) ([]string, error)
}

// Registry is the subset of the session used by the pipeline.
type Registry interface {
	Names() map[string]struct{}
	Register(ctx context.Context, doc *models.Document) error
}

// Pipeline turns uploaded files into registered documents.
type Pipeline struct {
	extractor Extractor
	maxSize   int64
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxSize sets the size limit in bytes. Values <= 0 keep the default.
func WithMaxSize(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxSize = n
		}
	}
}

// WithClock sets the clock used to derive document ids.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets a logger for rejected uploads.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a Pipeline using extractor.
func NewPipeline(extractor Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: extractor,
		maxSize:   DefaultMaxSize,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxSize returns the configured size limit.
func (p *Pipeline) MaxSize() int64 {
	return p.maxSize
}

// Validate checks type, size and name against names, in that order.
func (p *Pipeline) Validate(f File, names map[string]struct{}) error {
	if f.MIMEType != PDFMimeType {
		return fmt.Errorf("%w: got %q", ErrInvalidType, f.MIMEType)
	}
	if f.Size > p.maxSize || int64(len(f.Data)) > p.maxSize {
		return fmt.Errorf("%w: %s is larger than %d bytes", ErrTooLarge, f.Name, p.maxSize)
	}
	if _, ok := names[f.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, f.Name)
	}
	return nil
}

// Upload validates f against the registry's current names, extracts its text and
// registers the new document. Nothing is registered when any step fails.
func (p *Pipeline) Upload(ctx context.Context, reg Registry, f File) (*models.Document, error) {
	if err := p.Validate(f, reg.Names()); err != nil {
		p.logger.Debug("upload rejected", zap.String("name", f.Name), zap.Error(err))
		return nil, err
	}

	pages, err := p.extractor.ExtractPages(f.Data)
	if err != nil {
		p.logger.Info("upload unreadable", zap.String("name", f.Name), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, f.Name, err)
	}

	created := p.now().UTC()
	doc := &models.Document{
		ID:         models.DocumentID(f.Name, created),
		Name:       f.Name,
		Content:    f.Data,
		Text:       extract.JoinPages(pages),
		Transcript: []models.Message{},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if err := reg.Register(ctx, doc); err != nil {
		return nil, fmt.Errorf("register %s: %w", f.Name, err)
	}
	p.logger.Info("document uploaded",
		zap.String("id", doc.ID), zap.Int("pages", len(pages)), zap.Int("bytes", len(f.Data)))
	return doc, nil
}

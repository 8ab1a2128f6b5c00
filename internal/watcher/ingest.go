package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/pdfquery/internal/models"
	"github.com/hyperjump/pdfquery/internal/upload"
)

// Greeter greets on first contact with a document.
type Greeter interface {
	EnsureGreeting(ctx context.Context, id string) error
}

// Target resolves the session that arriving files are uploaded into.
type Target func(ctx context.Context) (upload.Registry, Greeter, error)

// Ingester uploads inbox files through the regular upload pipeline.
type Ingester struct {
	pipeline *upload.Pipeline
	target   Target
	logger   *zap.Logger
}

// NewIngester creates an Ingester. logger may be nil.
func NewIngester(pipeline *upload.Pipeline, target Target, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{pipeline: pipeline, target: target, logger: logger}
}

// Ingest uploads the file at path and logs the outcome. It matches the Inbox callback.
func (g *Ingester) Ingest(path string) {
	doc, err := g.IngestContext(context.Background(), path)
	switch {
	case err == nil:
		g.logger.Info("inbox document added", zap.String("path", path), zap.String("id", doc.ID))
	case errors.Is(err, upload.ErrDuplicateName):
		g.logger.Debug("inbox document already present", zap.String("path", path))
	default:
		g.logger.Warn("inbox document rejected", zap.String("path", path), zap.Error(err))
	}
}

// IngestContext uploads the file at path and greets the new document.
func (g *Ingester) IngestContext(ctx context.Context, path string) (*models.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	f := upload.File{
		Name:     filepath.Base(path),
		MIMEType: upload.PDFMimeType,
		Size:     info.Size(),
	}
	// Oversized files are rejected by size alone, without reading them.
	if info.Size() <= g.pipeline.MaxSize() {
		if f.Data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	reg, greeter, err := g.target(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve inbox session: %w", err)
	}
	doc, err := g.pipeline.Upload(ctx, reg, f)
	if err != nil {
		return nil, err
	}
	if greeter != nil {
		if err := greeter.EnsureGreeting(ctx, doc.ID); err != nil {
			g.logger.Warn("failed to greet inbox document", zap.String("id", doc.ID), zap.Error(err))
		}
	}
	return doc, nil
}

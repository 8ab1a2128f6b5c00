// Package storage defines the owner-scoped persistence interface for documents and transcripts.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/pdfquery/internal/models"
)

// ErrStore wraps every persistence failure returned by a Store.
var ErrStore = errors.New("store error")

// Store persists documents and their transcripts under an owner.
type Store interface {
	// List returns every document of owner in creation order.
	List(ctx context.Context, ownerID string) ([]*models.Document, error)
	// Upsert creates the document or updates only the fields set in patch.
	Upsert(ctx context.Context, ownerID, docID string, patch models.DocumentPatch) error
	// DeleteAll removes every document of owner, all or nothing.
	DeleteAll(ctx context.Context, ownerID string) error

	CountDocuments(ctx context.Context, ownerID string) (int64, error)

	Close() error
}

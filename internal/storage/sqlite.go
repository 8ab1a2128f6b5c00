// Package storage provides SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/pdfquery/internal/models"
)

// SQLiteStorage implements Store using SQLite.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		owner_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		content BLOB,
		text TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (owner_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_owner_created ON documents(owner_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// List returns the owner's documents ordered by creation time.
func (s *SQLiteStorage) List(ctx context.Context, ownerID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, content, text, transcript, created_at, updated_at
		 FROM documents WHERE owner_id = ? ORDER BY created_at, rowid`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", ErrStore, err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var transcriptJSON string
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.Content, &doc.Text, &transcriptJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", ErrStore, err)
		}
		if err := json.Unmarshal([]byte(transcriptJSON), &doc.Transcript); err != nil {
			return nil, fmt.Errorf("%w: unmarshal transcript of %s: %v", ErrStore, doc.ID, err)
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", ErrStore, err)
	}
	return docs, nil
}

// Upsert inserts the document when missing and otherwise overwrites only the fields set in patch.
func (s *SQLiteStorage) Upsert(ctx context.Context, ownerID, docID string, patch models.DocumentPatch) error {
	var transcript *string
	if patch.Transcript != nil {
		b, err := json.Marshal(patch.Transcript)
		if err != nil {
			return fmt.Errorf("%w: marshal transcript: %v", ErrStore, err)
		}
		str := string(b)
		transcript = &str
	}
	var content interface{}
	if patch.Content != nil {
		content = patch.Content
	}

	now := s.now().UTC()
	created := now
	if patch.CreatedAt != nil {
		created = patch.CreatedAt.UTC()
	}

	// Nil parameters fall back to the defaults on insert and keep the stored value on update.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (owner_id, id, name, content, text, transcript, created_at, updated_at)
		 VALUES (?, ?, COALESCE(?, ''), ?, COALESCE(?, ''), COALESCE(?, '[]'), ?, ?)
		 ON CONFLICT(owner_id, id) DO UPDATE SET
		   name = COALESCE(?, documents.name),
		   content = COALESCE(?, documents.content),
		   text = COALESCE(?, documents.text),
		   transcript = COALESCE(?, documents.transcript),
		   updated_at = ?`,
		ownerID, docID, patch.Name, content, patch.Text, transcript, created, now,
		patch.Name, content, patch.Text, transcript, now,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert document %s: %v", ErrStore, docID, err)
	}
	return nil
}

// DeleteAll removes all of the owner's documents in one transaction.
func (s *SQLiteStorage) DeleteAll(ctx context.Context, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin delete: %v", ErrStore, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("%w: delete documents: %v", ErrStore, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete: %v", ErrStore, err)
	}
	return nil
}

// CountDocuments returns the number of documents the owner has.
func (s *SQLiteStorage) CountDocuments(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE owner_id = ?`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count documents: %v", ErrStore, err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

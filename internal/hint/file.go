package hint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one small file per key inside a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create hint directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the hint files.
func (s *FileStore) Dir() string {
	return s.dir
}

// Keys may be arbitrary JWT subjects, so file names are hashed.
func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".hint")
}

func (s *FileStore) Load(_ context.Context, key string) (string, error) {
	b, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read hint: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Save writes to a temp file and renames it into place.
func (s *FileStore) Save(_ context.Context, key, id string) error {
	tmp, err := os.CreateTemp(s.dir, ".hint-*")
	if err != nil {
		return fmt.Errorf("create hint: %w", err)
	}
	if _, err := tmp.WriteString(id); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write hint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write hint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace hint: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove hint: %w", err)
	}
	return nil
}

package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hyperjump/pdfquery/internal/models"
	"github.com/hyperjump/pdfquery/internal/storage"
)

var errDown = errors.New("store down")

// memStore is an in-memory storage.Store whose methods can be made to fail.
type memStore struct {
	mu        sync.Mutex
	docs      map[string]map[string]*models.Document
	failList  bool
	failWrite bool
	upserts   []models.DocumentPatch
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]map[string]*models.Document)}
}

func (m *memStore) List(_ context.Context, owner string) ([]*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList {
		return nil, errDown
	}
	var out []*models.Document
	for _, d := range m.docs[owner] {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) Upsert(_ context.Context, owner, id string, p models.DocumentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errDown
	}
	m.upserts = append(m.upserts, p)
	if m.docs[owner] == nil {
		m.docs[owner] = make(map[string]*models.Document)
	}
	d, ok := m.docs[owner][id]
	if !ok {
		d = &models.Document{ID: id}
		m.docs[owner][id] = d
	}
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Content != nil {
		d.Content = p.Content
	}
	if p.Text != nil {
		d.Text = *p.Text
	}
	if p.CreatedAt != nil {
		d.CreatedAt = *p.CreatedAt
	}
	if p.Transcript != nil {
		d.Transcript = models.CloneMessages(p.Transcript)
	}
	return nil
}

func (m *memStore) DeleteAll(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errDown
	}
	delete(m.docs, owner)
	return nil
}

func (m *memStore) CountDocuments(_ context.Context, owner string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.docs[owner])), nil
}

func (m *memStore) Close() error { return nil }

var _ storage.Store = (*memStore)(nil)

// memHints is an in-memory hint.Store.
type memHints struct {
	mu     sync.Mutex
	values map[string]string
	fail   bool
}

func newMemHints() *memHints {
	return &memHints{values: make(map[string]string)}
}

func (h *memHints) Load(_ context.Context, key string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return "", errDown
	}
	return h.values[key], nil
}

func (h *memHints) Save(_ context.Context, key, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errDown
	}
	h.values[key] = id
	return nil
}

func (h *memHints) Clear(_ context.Context, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errDown
	}
	delete(h.values, key)
	return nil
}

func (h *memHints) get(key string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.values[key]
}

package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/pdfquery/internal/extract"
	"github.com/hyperjump/pdfquery/internal/extract/pdftest"
	"github.com/hyperjump/pdfquery/internal/models"
	"github.com/hyperjump/pdfquery/internal/session"
	"github.com/hyperjump/pdfquery/internal/storage"
	"github.com/hyperjump/pdfquery/internal/upload"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestInbox_debouncesPDFs(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	in := NewInbox([]string{dir}, false, rec.add, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	path := filepath.Join(dir, "report.pdf")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("%PDF partial"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return rec.count() >= 1 })
	time.Sleep(200 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.paths) != 1 || rec.paths[0] != path {
		t.Errorf("arrivals = %v, want one for %s", rec.paths, path)
	}
}

func TestInbox_createsMissingRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox", "nested")
	in := NewInbox([]string{dir}, true, func(string) {})
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("root not created: %v", err)
	}
}

func TestInbox_SyncExisting(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	_ = os.MkdirAll(sub, 0755)
	for _, p := range []string{
		filepath.Join(dir, "a.pdf"),
		filepath.Join(dir, "B.PDF"),
		filepath.Join(dir, ".hidden.pdf"),
		filepath.Join(dir, "c.txt"),
		filepath.Join(sub, "d.pdf"),
	} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	flat := &recorder{}
	NewInbox([]string{dir}, false, flat.add).SyncExisting()
	if flat.count() != 2 {
		t.Errorf("non-recursive sync = %v, want a.pdf and B.PDF", flat.paths)
	}
	deep := &recorder{}
	NewInbox([]string{dir}, true, deep.add).SyncExisting()
	if deep.count() != 3 {
		t.Errorf("recursive sync = %v", deep.paths)
	}
}

func TestIsPDF(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/a/b.pdf", true},
		{"/a/b.PDF", true},
		{"/a/b.txt", false},
		{"/a/.b.pdf", false},
		{"/a/pdf", false},
	}
	for _, tt := range tests {
		if got := isPDF(tt.path); got != tt.want {
			t.Errorf("isPDF(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.pdf", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

type countingGreeter struct{ ids []string }

func (g *countingGreeter) EnsureGreeting(_ context.Context, id string) error {
	g.ids = append(g.ids, id)
	return nil
}

func newInboxSession(t *testing.T) *session.Session {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	s := session.New(store, nil)
	if err := s.Initialize(context.Background(), models.Owner{ID: "inbox"}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestIngester(t *testing.T) {
	dir := t.TempDir()
	sess := newInboxSession(t)
	greeter := &countingGreeter{}
	target := func(context.Context) (upload.Registry, Greeter, error) { return sess, greeter, nil }
	g := NewIngester(upload.NewPipeline(extract.NewExtractor(), upload.WithMaxSize(1<<20)), target, nil)

	path := filepath.Join(dir, "inbox.pdf")
	if err := os.WriteFile(path, pdftest.Build("Dropped into the inbox"), 0644); err != nil {
		t.Fatal(err)
	}
	doc, err := g.IngestContext(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Name != "inbox.pdf" || sess.ActiveID() != doc.ID {
		t.Errorf("doc = %+v active = %q", doc, sess.ActiveID())
	}
	if len(greeter.ids) != 1 || greeter.ids[0] != doc.ID {
		t.Errorf("greeted = %v", greeter.ids)
	}

	// The same file arriving again is a duplicate name
	if _, err := g.IngestContext(context.Background(), path); !errors.Is(err, upload.ErrDuplicateName) {
		t.Errorf("second ingest: %v", err)
	}
	g.Ingest(path)
	if sess.Len() != 1 {
		t.Errorf("Len = %d", sess.Len())
	}
}

func TestIngester_oversizedIsNotRead(t *testing.T) {
	dir := t.TempDir()
	sess := newInboxSession(t)
	target := func(context.Context) (upload.Registry, Greeter, error) { return sess, nil, nil }
	g := NewIngester(upload.NewPipeline(extract.NewExtractor(), upload.WithMaxSize(10)), target, nil)

	path := filepath.Join(dir, "big.pdf")
	if err := os.WriteFile(path, pdftest.Build("too big for the limit"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := g.IngestContext(context.Background(), path); !errors.Is(err, upload.ErrTooLarge) {
		t.Errorf("error = %v, want ErrTooLarge", err)
	}
	if _, err := g.IngestContext(context.Background(), filepath.Join(dir, "missing.pdf")); err == nil {
		t.Error("expected error for a missing file")
	}
}

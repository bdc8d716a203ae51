package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type seqIDGen struct {
	mu   sync.Mutex
	next int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("doc-%04d", g.next), nil
}

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickClock() *tickClock {
	return &tickClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newSQLBackend(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE knowledge_documents (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL
	)`)
	require.NoError(t, err)
	return NewSQLStore(db, &seqIDGen{}, newTickClock())
}

// backends drives the shared contract tests across every Store
// implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(t.TempDir(), &seqIDGen{}, newTickClock())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(&seqIDGen{}, newTickClock()),
		"file":   fileStore,
		"sql":    newSQLBackend(t),
	}
}

func TestStoreAndRetrieve(t *testing.T) {
	t.Parallel()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := store.Store(ctx, Document{
				URL:      "https://example.com/a",
				Content:  "cleaned text",
				Metadata: map[string]any{"lang": "en"},
			})
			require.NoError(t, err)
			require.NotEmpty(t, id)

			doc, err := store.Retrieve(ctx, id)
			require.NoError(t, err)
			require.Equal(t, "https://example.com/a", doc.URL)
			require.Equal(t, "cleaned text", doc.Content)
			require.Equal(t, "en", doc.Metadata["lang"])
			require.False(t, doc.CreatedAt.IsZero())
		})
	}
}

func TestRetrieveUnknownID(t *testing.T) {
	t.Parallel()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Retrieve(context.Background(), "missing")
			require.ErrorIs(t, err, ErrDocumentNotFound)
		})
	}
}

func TestSearchMatchesContentAndURL(t *testing.T) {
	t.Parallel()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Store(ctx, Document{URL: "https://example.com/go", Content: "all about golang"})
			require.NoError(t, err)
			_, err = store.Store(ctx, Document{URL: "https://example.com/rust", Content: "all about rust"})
			require.NoError(t, err)
			_, err = store.Store(ctx, Document{URL: "https://golang.example.com/news", Content: "release notes"})
			require.NoError(t, err)

			docs, err := store.Search(ctx, "golang", 0)
			require.NoError(t, err)
			require.Len(t, docs, 2)

			docs, err = store.Search(ctx, "golang", 1)
			require.NoError(t, err)
			require.Len(t, docs, 1)
			// Newest first.
			require.Equal(t, "https://golang.example.com/news", docs[0].URL)

			docs, err = store.Search(ctx, "cobol", 0)
			require.NoError(t, err)
			require.Empty(t, docs)
		})
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stats, err := store.Stats(ctx)
			require.NoError(t, err)
			require.Equal(t, name, stats.Backend)
			require.Zero(t, stats.Documents)

			_, err = store.Store(ctx, Document{URL: "https://example.com/a", Content: "x"})
			require.NoError(t, err)

			stats, err = store.Stats(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, stats.Documents)
		})
	}
}

func TestFactorySelectsBackend(t *testing.T) {
	t.Parallel()

	ids := &seqIDGen{}
	clock := newTickClock()

	store, err := New(Config{}, nil, ids, clock)
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, store)

	store, err = New(Config{Backend: BackendFile, Dir: t.TempDir()}, nil, ids, clock)
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, store)

	_, err = New(Config{Backend: BackendFile}, nil, ids, clock)
	require.Error(t, err)

	_, err = New(Config{Backend: BackendSQL}, nil, ids, clock)
	require.ErrorContains(t, err, "requires an initialized database")

	_, err = New(Config{Backend: "redis"}, nil, ids, clock)
	require.ErrorContains(t, err, `unknown knowledge backend "redis"`)
}

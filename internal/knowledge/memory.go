package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pagevault/ingestd/internal/pipeline"
)

// MemoryStore keeps documents in a map. Intended for tests and
// single-run tooling.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]Document
	ids   pipeline.IDGenerator
	clock pipeline.Clock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(ids pipeline.IDGenerator, clock pipeline.Clock) *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]Document),
		ids:   ids,
		clock: clock,
	}
}

// Store saves the document and returns its id.
func (s *MemoryStore) Store(_ context.Context, doc Document) (string, error) {
	if doc.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("new document id: %w", err)
		}
		doc.ID = id
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.clock.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return doc.ID, nil
}

// Retrieve returns the document for id.
func (s *MemoryStore) Retrieve(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &doc, nil
}

// Search returns documents whose content or URL contains the query,
// newest first.
func (s *MemoryStore) Search(_ context.Context, query string, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(query)
	var matches []Document
	for _, doc := range s.docs {
		if needle == "" ||
			strings.Contains(strings.ToLower(doc.Content), needle) ||
			strings.Contains(strings.ToLower(doc.URL), needle) {
			matches = append(matches, doc)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Stats reports the document count.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Backend: "memory", Documents: len(s.docs)}, nil
}

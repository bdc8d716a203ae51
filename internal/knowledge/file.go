package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pagevault/ingestd/internal/pipeline"
)

// FileStore writes one JSON file per document under a base directory.
type FileStore struct {
	baseDir string
	ids     pipeline.IDGenerator
	clock   pipeline.Clock
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string, ids pipeline.IDGenerator, clock pipeline.Clock) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("knowledge file store: base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create knowledge dir: %w", err)
	}
	return &FileStore{baseDir: baseDir, ids: ids, clock: clock}, nil
}

type fileDocument struct {
	ID        string         `json:"id"`
	URL       string         `json:"url"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// Store writes the document to disk and returns its id.
func (s *FileStore) Store(_ context.Context, doc Document) (string, error) {
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
	payload, err := json.MarshalIndent(fileDocument{
		ID:        doc.ID,
		URL:       doc.URL,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		CreatedAt: doc.CreatedAt.Format(timeLayout),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	if err := os.WriteFile(s.path(doc.ID), payload, 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return doc.ID, nil
}

// Retrieve loads a document by id.
func (s *FileStore) Retrieve(_ context.Context, id string) (*Document, error) {
	doc, err := s.read(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// Search scans every stored document. Fine for the modest corpora this
// backend is meant for.
func (s *FileStore) Search(_ context.Context, query string, limit int) ([]Document, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read knowledge dir: %w", err)
	}
	needle := strings.ToLower(query)
	var matches []Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		doc, err := s.read(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		if needle == "" ||
			strings.Contains(strings.ToLower(doc.Content), needle) ||
			strings.Contains(strings.ToLower(doc.URL), needle) {
			matches = append(matches, *doc)
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

// Stats counts stored documents.
func (s *FileStore) Stats(_ context.Context) (Stats, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return Stats{}, fmt.Errorf("read knowledge dir: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			count++
		}
	}
	return Stats{Backend: "file", Documents: count}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *FileStore) read(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fd fileDocument
	if err := json.Unmarshal(raw, &fd); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", path, err)
	}
	doc := Document{
		ID:       fd.ID,
		URL:      fd.URL,
		Content:  fd.Content,
		Metadata: fd.Metadata,
	}
	if fd.CreatedAt != "" {
		if ts, err := parseTimestamp(fd.CreatedAt); err == nil {
			doc.CreatedAt = ts
		}
	}
	return &doc, nil
}

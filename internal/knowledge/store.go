// Package knowledge stores cleaned document text for downstream
// consumers. Backends are interchangeable behind one contract.
package knowledge

import (
	"context"
	"errors"
	"time"
)

// ErrDocumentNotFound is returned when a document id is unknown.
var ErrDocumentNotFound = errors.New("knowledge: document not found")

// Document is one stored piece of cleaned content.
type Document struct {
	ID        string
	URL       string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Stats summarizes a store.
type Stats struct {
	Backend   string
	Documents int
}

// Store persists and queries documents.
type Store interface {
	Store(ctx context.Context, doc Document) (string, error)
	Retrieve(ctx context.Context, id string) (*Document, error)
	Search(ctx context.Context, query string, limit int) ([]Document, error)
	Stats(ctx context.Context) (Stats, error)
}

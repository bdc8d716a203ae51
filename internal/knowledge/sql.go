package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pagevault/ingestd/internal/pipeline"
)

// SQLStore persists documents in the knowledge_documents table of the
// unified database.
type SQLStore struct {
	db    *sql.DB
	ids   pipeline.IDGenerator
	clock pipeline.Clock
}

// NewSQLStore wraps an already-initialized database handle.
func NewSQLStore(db *sql.DB, ids pipeline.IDGenerator, clock pipeline.Clock) *SQLStore {
	return &SQLStore{db: db, ids: ids, clock: clock}
}

// Store inserts the document and returns its id.
func (s *SQLStore) Store(ctx context.Context, doc Document) (string, error) {
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
	var metadata sql.NullString
	if len(doc.Metadata) > 0 {
		raw, err := json.Marshal(doc.Metadata)
		if err != nil {
			return "", fmt.Errorf("encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_documents (id, url, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.URL, doc.Content, metadata, doc.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return doc.ID, nil
}

// Retrieve loads a document by id.
func (s *SQLStore) Retrieve(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, content, metadata, created_at FROM knowledge_documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	return doc, err
}

// Search matches on content or URL substring, newest first.
func (s *SQLStore) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, content, metadata, created_at FROM knowledge_documents
		 WHERE content LIKE ? OR url LIKE ? ORDER BY created_at DESC LIMIT ?`,
		pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// Stats counts stored documents.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM knowledge_documents`).Scan(&count); err != nil {
		return Stats{}, fmt.Errorf("count documents: %w", err)
	}
	return Stats{Backend: "sql", Documents: count}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc       Document
		metadata  sql.NullString
		createdAt string
	)
	if err := row.Scan(&doc.ID, &doc.URL, &doc.Content, &metadata, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if ts, err := parseTimestamp(createdAt); err == nil {
		doc.CreatedAt = ts
	}
	return &doc, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pagevault/ingestd/internal/pipeline"
)

// urlStore implements pipeline.Ledger on the unified database.
type urlStore struct {
	db    *sql.DB
	ids   pipeline.IDGenerator
	clock pipeline.Clock
}

func newURLStore(db *sql.DB, ids pipeline.IDGenerator, clock pipeline.Clock) *urlStore {
	return &urlStore{db: db, ids: ids, clock: clock}
}

const urlColumns = "id, url, status, content_hash, metadata, created_at, updated_at"

func (s *urlStore) Exists(ctx context.Context, rawURL string) (bool, error) {
	normalized, err := pipeline.NormalizeURL(rawURL)
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM urls WHERE url = ?", normalized).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query url existence: %w", err)
	}
	return true, nil
}

func (s *urlStore) Register(ctx context.Context, rawURL string, metadata map[string]any) (string, error) {
	normalized, err := pipeline.NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate url id: %w", err)
	}
	metaJSON, err := marshalJSON(metadata)
	if err != nil {
		return "", err
	}
	now := formatTime(s.clock.Now())

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO urls (id, url, status, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, normalized, string(pipeline.StatusPending), metaJSON, now, now,
	)
	if isUniqueViolation(err) {
		return "", fmt.Errorf("register %s: %w", normalized, pipeline.ErrDuplicateURL)
	}
	if err != nil {
		return "", fmt.Errorf("insert url: %w", err)
	}
	return id, nil
}

// RegisterWithTags inserts the URL and its tag associations in one
// transaction so a tag failure leaves no half-registered URL behind.
func (s *urlStore) RegisterWithTags(
	ctx context.Context,
	rawURL string,
	metadata map[string]any,
	tags []string,
	autoCreate bool,
) (string, error) {
	normalized, err := pipeline.NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate url id: %w", err)
	}
	metaJSON, err := marshalJSON(metadata)
	if err != nil {
		return "", err
	}
	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin register transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO urls (id, url, status, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, normalized, string(pipeline.StatusPending), metaJSON, formatTime(now), formatTime(now),
	)
	if isUniqueViolation(err) {
		return "", rollback(tx, fmt.Errorf("register %s: %w", normalized, pipeline.ErrDuplicateURL))
	}
	if err != nil {
		return "", rollback(tx, fmt.Errorf("insert url: %w", err))
	}

	for _, name := range tags {
		tagID, terr := ensureTag(ctx, tx, name, autoCreate, now)
		if terr != nil {
			return "", rollback(tx, terr)
		}
		if _, aerr := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO url_tags (url_id, tag_id) VALUES (?, ?)", id, tagID,
		); aerr != nil {
			return "", rollback(tx, fmt.Errorf("associate tag %q: %w", name, aerr))
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit register transaction: %w", err)
	}
	return id, nil
}

func (s *urlStore) UpdateStatus(ctx context.Context, id string, status pipeline.URLStatus, errText string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE urls SET status = ?, last_error = ?, updated_at = ? WHERE id = ?",
		string(status), errText, formatTime(s.clock.Now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("update url status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *urlStore) UpdateHash(ctx context.Context, id string, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE urls SET content_hash = ?, updated_at = ? WHERE id = ?",
		hash, formatTime(s.clock.Now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("update url hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *urlStore) HashExists(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM urls WHERE content_hash = ? LIMIT 1", hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query hash existence: %w", err)
	}
	return true, nil
}

func (s *urlStore) GetURLInfo(ctx context.Context, rawURL string) (*pipeline.URLRecord, error) {
	normalized, err := pipeline.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+urlColumns+" FROM urls WHERE url = ?", normalized)
	return scanURLRecord(row)
}

func (s *urlStore) GetByHash(ctx context.Context, hash string) (*pipeline.URLRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+urlColumns+" FROM urls WHERE content_hash = ? LIMIT 1", hash)
	return scanURLRecord(row)
}

// List returns records matching the filter. A tag filter matches URLs
// carrying any of the named tags (union semantics).
func (s *urlStore) List(ctx context.Context, filter pipeline.URLFilter) ([]pipeline.URLRecord, error) {
	query := "SELECT u.id, u.url, u.status, u.content_hash, u.metadata, u.created_at, u.updated_at FROM urls u"
	var args []any
	var clauses []string

	if len(filter.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.Tags)), ", ")
		query += " JOIN url_tags ut ON ut.url_id = u.id JOIN tags t ON t.id = ut.tag_id"
		clauses = append(clauses, "t.name IN ("+placeholders+")")
		for _, name := range filter.Tags {
			args = append(args, name)
		}
	}
	if filter.Status != "" {
		clauses = append(clauses, "u.status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if len(filter.Tags) > 0 {
		query += " GROUP BY u.id"
	}
	query += " ORDER BY u.created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list urls: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []pipeline.URLRecord
	for rows.Next() {
		record, serr := scanURLRow(rows)
		if serr != nil {
			return nil, serr
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate urls: %w", err)
	}
	return records, nil
}

func (s *urlStore) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM urls WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete url: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		// Associations go with the record even when foreign keys are off.
		if _, err := s.db.ExecContext(ctx, "DELETE FROM url_tags WHERE url_id = ?", id); err != nil {
			return true, fmt.Errorf("delete url associations: %w", err)
		}
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanURLRecord(row *sql.Row) (*pipeline.URLRecord, error) {
	record, err := scanURLRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func scanURLRow(row rowScanner) (*pipeline.URLRecord, error) {
	var (
		record    pipeline.URLRecord
		hash      sql.NullString
		meta      sql.NullString
		createdAt string
		updatedAt string
		status    string
	)
	err := row.Scan(&record.ID, &record.URL, &status, &hash, &meta, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan url row: %w", err)
	}
	record.Status = pipeline.URLStatus(status)
	record.ContentHash = hash.String
	record.Metadata = unmarshalMap(meta)
	record.CreatedAt = parseTime(createdAt)
	record.UpdatedAt = parseTime(updatedAt)
	return &record, nil
}

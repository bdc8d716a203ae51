package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pagevault/ingestd/internal/pipeline"
)

// originalStore implements pipeline.OriginalFileStore. A URL has one
// current original row; Put re-points it on reprocess.
type originalStore struct {
	db    *sql.DB
	ids   pipeline.IDGenerator
	clock pipeline.Clock
}

func newOriginalStore(db *sql.DB, ids pipeline.IDGenerator, clock pipeline.Clock) *originalStore {
	return &originalStore{db: db, ids: ids, clock: clock}
}

func (s *originalStore) Put(ctx context.Context, record pipeline.OriginalFileRecord) (string, error) {
	if record.URLID == "" {
		return "", fmt.Errorf("original record requires url id")
	}
	metaJSON, err := marshalJSON(record.Metadata)
	if err != nil {
		return "", err
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE original_files SET file_path = ?, mime_type = ?, size = ?, checksum = ?, metadata = ?, created_at = ? WHERE url_id = ?",
		record.FilePath, record.MimeType, record.Size, record.Checksum, metaJSON, formatTime(createdAt), record.URLID,
	)
	if err != nil {
		return "", fmt.Errorf("update original record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		var id string
		if err := s.db.QueryRowContext(ctx,
			"SELECT id FROM original_files WHERE url_id = ?", record.URLID,
		).Scan(&id); err != nil {
			return "", fmt.Errorf("lookup original id: %w", err)
		}
		return id, nil
	}

	id := record.ID
	if id == "" {
		id, err = s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate original id: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO original_files (id, url_id, file_path, mime_type, size, checksum, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		id, record.URLID, record.FilePath, record.MimeType, record.Size, record.Checksum, metaJSON, formatTime(createdAt),
	); err != nil {
		return "", fmt.Errorf("insert original record: %w", err)
	}
	return id, nil
}

func (s *originalStore) GetByURLID(ctx context.Context, urlID string) (*pipeline.OriginalFileRecord, error) {
	var (
		record    pipeline.OriginalFileRecord
		mimeType  sql.NullString
		checksum  sql.NullString
		meta      sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, url_id, file_path, mime_type, size, checksum, metadata, created_at FROM original_files WHERE url_id = ?",
		urlID,
	).Scan(&record.ID, &record.URLID, &record.FilePath, &mimeType, &record.Size, &checksum, &meta, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan original record: %w", err)
	}
	record.MimeType = mimeType.String
	record.Checksum = checksum.String
	record.Metadata = unmarshalMap(meta)
	record.CreatedAt = parseTime(createdAt)
	return &record, nil
}

func (s *originalStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM original_files WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete original record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// processedStore implements pipeline.ProcessedFileStore. Rows are
// append-only; deletion flips status to preserve the audit trail.
type processedStore struct {
	db    *sql.DB
	ids   pipeline.IDGenerator
	clock pipeline.Clock
}

func newProcessedStore(db *sql.DB, ids pipeline.IDGenerator, clock pipeline.Clock) *processedStore {
	return &processedStore{db: db, ids: ids, clock: clock}
}

func (s *processedStore) Insert(ctx context.Context, record pipeline.ProcessedFileRecord) (string, error) {
	id := record.ID
	if id == "" {
		var err error
		id, err = s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate processed id: %w", err)
		}
	}
	cleanersJSON, err := marshalJSON(record.CleanersUsed)
	if err != nil {
		return "", err
	}
	configJSON, err := marshalJSON(record.CleaningConfig)
	if err != nil {
		return "", err
	}
	status := record.Status
	if status == "" {
		status = pipeline.ProcessedActive
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_files (id, original_file_id, url, file_path, mime_type, size, checksum, processing_type, cleaners_used, cleaning_config, status, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		id, nullable(record.OriginalFileID), record.URL, record.FilePath, record.MimeType, record.Size,
		record.Checksum, record.ProcessingType, cleanersJSON, configJSON, string(status), formatTime(createdAt),
	); err != nil {
		return "", fmt.Errorf("insert processed record: %w", err)
	}
	return id, nil
}

func (s *processedStore) ListByURL(ctx context.Context, url string) ([]pipeline.ProcessedFileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, original_file_id, url, file_path, mime_type, size, checksum, processing_type, cleaners_used, cleaning_config, status, created_at "+
			"FROM processed_files WHERE url = ? ORDER BY created_at",
		url,
	)
	if err != nil {
		return nil, fmt.Errorf("list processed records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []pipeline.ProcessedFileRecord
	for rows.Next() {
		var (
			record     pipeline.ProcessedFileRecord
			originalID sql.NullString
			mimeType   sql.NullString
			checksum   sql.NullString
			cleaners   sql.NullString
			config     sql.NullString
			status     string
			createdAt  string
		)
		if err := rows.Scan(
			&record.ID, &originalID, &record.URL, &record.FilePath, &mimeType, &record.Size,
			&checksum, &record.ProcessingType, &cleaners, &config, &status, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan processed record: %w", err)
		}
		record.OriginalFileID = originalID.String
		record.MimeType = mimeType.String
		record.Checksum = checksum.String
		record.CleanersUsed = unmarshalStrings(cleaners)
		record.CleaningConfig = unmarshalMap(config)
		record.Status = pipeline.ProcessedStatus(status)
		record.CreatedAt = parseTime(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processed records: %w", err)
	}
	return records, nil
}

func (s *processedStore) MarkDeleted(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE processed_files SET status = ? WHERE id = ?", string(pipeline.ProcessedDeleted), id)
	if err != nil {
		return false, fmt.Errorf("mark processed record deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

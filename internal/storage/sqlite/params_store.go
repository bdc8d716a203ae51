package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pagevault/ingestd/internal/pipeline"
)

// ParamsStore reads and writes the url_parameters side table holding
// per-URL scraper/cleaner overrides. Scraper and cleaner collaborators
// consult it through the coordinator; the pipeline itself does not.
type ParamsStore struct {
	db    *sql.DB
	clock pipeline.Clock
}

func newParamsStore(db *sql.DB, clock pipeline.Clock) *ParamsStore {
	return &ParamsStore{db: db, clock: clock}
}

// Get returns the overrides for a URL, or nil when none are set.
func (s *ParamsStore) Get(ctx context.Context, rawURL string) (*pipeline.URLParameters, error) {
	normalized, err := pipeline.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	var (
		params      pipeline.URLParameters
		scraperType sql.NullString
		cleaners    sql.NullString
		updatedAt   string
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT url, scraper_type, cleaners, priority, updated_at FROM url_parameters WHERE url = ?",
		normalized,
	).Scan(&params.URL, &scraperType, &cleaners, &params.Priority, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan url parameters: %w", err)
	}
	params.ScraperType = scraperType.String
	params.Cleaners = unmarshalStrings(cleaners)
	params.UpdatedAt = parseTime(updatedAt)
	return &params, nil
}

// Set upserts the overrides for a URL.
func (s *ParamsStore) Set(ctx context.Context, params pipeline.URLParameters) error {
	normalized, err := pipeline.NormalizeURL(params.URL)
	if err != nil {
		return err
	}
	cleanersJSON, err := marshalJSON(params.Cleaners)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO url_parameters (url, scraper_type, cleaners, priority, updated_at) VALUES (?, ?, ?, ?, ?) "+
			"ON CONFLICT (url) DO UPDATE SET scraper_type = excluded.scraper_type, cleaners = excluded.cleaners, "+
			"priority = excluded.priority, updated_at = excluded.updated_at",
		normalized, nullable(params.ScraperType), cleanersJSON, params.Priority, formatTime(s.clock.Now()),
	); err != nil {
		return fmt.Errorf("upsert url parameters: %w", err)
	}
	return nil
}

// Delete removes the overrides for a URL.
func (s *ParamsStore) Delete(ctx context.Context, rawURL string) (bool, error) {
	normalized, err := pipeline.NormalizeURL(rawURL)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM url_parameters WHERE url = ?", normalized)
	if err != nil {
		return false, fmt.Errorf("delete url parameters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/pagevault/ingestd/internal/pipeline"
)

// LegacyPaths names the per-concern databases consolidated by the
// migration. Empty entries are skipped.
type LegacyPaths struct {
	KnowledgePath     string `mapstructure:"knowledge_path"`
	URLsPath          string `mapstructure:"urls_path"`
	OriginalFilesPath string `mapstructure:"original_files_path"`
}

// MigrationOptions control safety behavior around the legacy files.
type MigrationOptions struct {
	// BackupOriginal copies each legacy file aside before any mutation.
	BackupOriginal bool `mapstructure:"backup_original"`
	// DeleteOriginalAfterSuccess removes legacy files, but only after
	// the whole migration finished without a single error.
	DeleteOriginalAfterSuccess bool `mapstructure:"delete_original_after_success"`
}

// MigrationResult reports what the migration did.
type MigrationResult struct {
	// Skipped is set when the unified database already existed and the
	// migration was a no-op.
	Skipped bool           `json:"skipped"`
	Rows    map[string]int `json:"rows_migrated"`
	Errors  []string       `json:"errors,omitempty"`
}

// MigrationError signals a migration that finished with errors; the
// unified database must not be trusted and the caller should refuse
// to start against it.
type MigrationError struct {
	Errors []string
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("legacy migration failed: %s", strings.Join(e.Errors, "; "))
}

// Migration copies rows from the legacy per-concern databases into a
// single unified database, remapping URL-string foreign keys to the
// new internal ids.
type Migration struct {
	target LegacyTarget
	legacy LegacyPaths
	opts   MigrationOptions
	ids    pipeline.IDGenerator
	clock  pipeline.Clock
	logger *zap.Logger
}

// LegacyTarget configures the unified database the migration writes.
type LegacyTarget struct {
	Path              string
	EnableWAL         bool
	EnableForeignKeys bool
}

// NewMigration builds a Migration.
func NewMigration(
	target LegacyTarget,
	legacy LegacyPaths,
	opts MigrationOptions,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Migration {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migration{target: target, legacy: legacy, opts: opts, ids: ids, clock: clock, logger: logger}
}

// Run executes the migration. It is idempotent and safe to skip: if
// the unified database file already exists nothing is touched.
func (m *Migration) Run(ctx context.Context) (MigrationResult, error) {
	result := MigrationResult{Rows: make(map[string]int)}

	if m.target.Path == "" || m.target.Path == ":memory:" {
		return result, fmt.Errorf("migration requires a file-backed target path")
	}
	if _, err := os.Stat(m.target.Path); err == nil {
		m.logger.Info("unified database already exists, skipping migration",
			zap.String("path", m.target.Path))
		result.Skipped = true
		return result, nil
	}

	legacyFiles := m.existingLegacyFiles()
	if m.opts.BackupOriginal {
		for _, path := range legacyFiles {
			if err := copyFile(path, path+".bak"); err != nil {
				return result, fmt.Errorf("backup %s: %w", path, err)
			}
		}
	}

	targetDB, err := openDatabase(m.target.Path, m.target.EnableWAL, m.target.EnableForeignKeys)
	if err != nil {
		return result, fmt.Errorf("open unified database: %w", err)
	}
	defer func() {
		_ = targetDB.Close()
	}()

	urlIDs := make(map[string]string)

	if m.legacy.URLsPath != "" {
		if err := m.migrateURLs(ctx, targetDB, urlIDs, &result); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	if m.legacy.OriginalFilesPath != "" {
		if err := m.migrateOriginalFiles(ctx, targetDB, urlIDs, &result); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	if m.legacy.KnowledgePath != "" {
		if err := m.migrateKnowledge(ctx, targetDB, &result); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	if len(result.Errors) > 0 {
		return result, &MigrationError{Errors: result.Errors}
	}

	if m.opts.DeleteOriginalAfterSuccess {
		for _, path := range legacyFiles {
			if err := os.Remove(path); err != nil {
				m.logger.Warn("failed to remove legacy database", zap.String("path", path), zap.Error(err))
			}
		}
	}

	m.logger.Info("legacy migration complete", zap.Any("rows", result.Rows))
	return result, nil
}

// migrateURLs copies the legacy url tracking table plus its tag
// associations, assigning fresh ids, inside one target transaction.
func (m *Migration) migrateURLs(ctx context.Context, target *sql.DB, urlIDs map[string]string, result *MigrationResult) error {
	legacy, err := openLegacy(m.legacy.URLsPath)
	if err != nil {
		return fmt.Errorf("open legacy url database: %w", err)
	}
	defer func() {
		_ = legacy.Close()
	}()

	tx, err := target.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin url migration: %w", err)
	}

	rows, err := legacy.QueryContext(ctx,
		"SELECT url, status, content_hash, metadata, created_at, updated_at FROM urls")
	if err != nil {
		return rollback(tx, fmt.Errorf("read legacy urls: %w", err))
	}
	count := 0
	for rows.Next() {
		var (
			rawURL    string
			status    sql.NullString
			hash      sql.NullString
			meta      sql.NullString
			createdAt sql.NullString
			updatedAt sql.NullString
		)
		if err := rows.Scan(&rawURL, &status, &hash, &meta, &createdAt, &updatedAt); err != nil {
			_ = rows.Close()
			return rollback(tx, fmt.Errorf("scan legacy url: %w", err))
		}
		normalized, err := pipeline.NormalizeURL(rawURL)
		if err != nil {
			m.logger.Warn("skipping unparseable legacy url", zap.String("url", rawURL), zap.Error(err))
			continue
		}
		if _, dup := urlIDs[normalized]; dup {
			continue
		}
		id, err := m.ids.NewID()
		if err != nil {
			_ = rows.Close()
			return rollback(tx, fmt.Errorf("generate url id: %w", err))
		}
		st := status.String
		if st == "" {
			st = string(pipeline.StatusPending)
		}
		now := formatTime(m.clock.Now())
		created := createdAt.String
		if created == "" {
			created = now
		}
		updated := updatedAt.String
		if updated == "" {
			updated = now
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO urls (id, url, status, content_hash, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			id, normalized, st, hash, meta, created, updated,
		); err != nil {
			_ = rows.Close()
			return rollback(tx, fmt.Errorf("insert migrated url: %w", err))
		}
		urlIDs[normalized] = id
		count++
	}
	if err := rows.Err(); err != nil {
		return rollback(tx, fmt.Errorf("iterate legacy urls: %w", err))
	}
	_ = rows.Close()

	tagCount, err := m.migrateURLTags(ctx, legacy, tx, urlIDs)
	if err != nil {
		return rollback(tx, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit url migration: %w", err)
	}
	result.Rows["urls"] = count
	result.Rows["url_tags"] = tagCount
	return nil
}

func (m *Migration) migrateURLTags(ctx context.Context, legacy *sql.DB, tx *sql.Tx, urlIDs map[string]string) (int, error) {
	rows, err := legacy.QueryContext(ctx, "SELECT url, tag_name FROM url_tags")
	if err != nil {
		// Older url stores predate tagging; nothing to copy.
		return 0, nil
	}
	defer func() {
		_ = rows.Close()
	}()

	count := 0
	now := m.clock.Now()
	for rows.Next() {
		var rawURL, tagName string
		if err := rows.Scan(&rawURL, &tagName); err != nil {
			return 0, fmt.Errorf("scan legacy url tag: %w", err)
		}
		normalized, nerr := pipeline.NormalizeURL(rawURL)
		if nerr != nil {
			continue
		}
		urlID, ok := urlIDs[normalized]
		if !ok {
			continue
		}
		tagID, terr := ensureTag(ctx, tx, tagName, true, now)
		if terr != nil {
			return 0, terr
		}
		if _, aerr := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO url_tags (url_id, tag_id) VALUES (?, ?)", urlID, tagID,
		); aerr != nil {
			return 0, fmt.Errorf("insert migrated url tag: %w", aerr)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate legacy url tags: %w", err)
	}
	return count, nil
}

// migrateOriginalFiles remaps legacy rows keyed by URL string onto the
// new internal url ids, registering ledger rows for URLs the legacy
// url store never tracked.
func (m *Migration) migrateOriginalFiles(ctx context.Context, target *sql.DB, urlIDs map[string]string, result *MigrationResult) error {
	legacy, err := openLegacy(m.legacy.OriginalFilesPath)
	if err != nil {
		return fmt.Errorf("open legacy original-files database: %w", err)
	}
	defer func() {
		_ = legacy.Close()
	}()

	tx, err := target.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin original-files migration: %w", err)
	}

	rows, err := legacy.QueryContext(ctx,
		"SELECT url, file_path, mime_type, size, checksum, metadata, created_at FROM original_files")
	if err != nil {
		return rollback(tx, fmt.Errorf("read legacy original files: %w", err))
	}
	defer func() {
		_ = rows.Close()
	}()

	count := 0
	for rows.Next() {
		var (
			rawURL    string
			filePath  string
			mimeType  sql.NullString
			size      sql.NullInt64
			checksum  sql.NullString
			meta      sql.NullString
			createdAt sql.NullString
		)
		if err := rows.Scan(&rawURL, &filePath, &mimeType, &size, &checksum, &meta, &createdAt); err != nil {
			return rollback(tx, fmt.Errorf("scan legacy original file: %w", err))
		}
		normalized, nerr := pipeline.NormalizeURL(rawURL)
		if nerr != nil {
			m.logger.Warn("skipping original file with unparseable url", zap.String("url", rawURL))
			continue
		}
		urlID, ok := urlIDs[normalized]
		if !ok {
			urlID, err = m.registerStub(ctx, tx, normalized)
			if err != nil {
				return rollback(tx, err)
			}
			urlIDs[normalized] = urlID
		}
		id, err := m.ids.NewID()
		if err != nil {
			return rollback(tx, fmt.Errorf("generate original id: %w", err))
		}
		created := createdAt.String
		if created == "" {
			created = formatTime(m.clock.Now())
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO original_files (id, url_id, file_path, mime_type, size, checksum, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			id, urlID, filePath, mimeType, size.Int64, checksum, meta, created,
		); err != nil {
			return rollback(tx, fmt.Errorf("insert migrated original file: %w", err))
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return rollback(tx, fmt.Errorf("iterate legacy original files: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit original-files migration: %w", err)
	}
	result.Rows["original_files"] = count
	return nil
}

func (m *Migration) migrateKnowledge(ctx context.Context, target *sql.DB, result *MigrationResult) error {
	legacy, err := openLegacy(m.legacy.KnowledgePath)
	if err != nil {
		return fmt.Errorf("open legacy knowledge database: %w", err)
	}
	defer func() {
		_ = legacy.Close()
	}()

	tx, err := target.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin knowledge migration: %w", err)
	}

	rows, err := legacy.QueryContext(ctx,
		"SELECT url, content, metadata, created_at FROM documents")
	if err != nil {
		return rollback(tx, fmt.Errorf("read legacy documents: %w", err))
	}
	defer func() {
		_ = rows.Close()
	}()

	count := 0
	for rows.Next() {
		var (
			url       string
			content   string
			meta      sql.NullString
			createdAt sql.NullString
		)
		if err := rows.Scan(&url, &content, &meta, &createdAt); err != nil {
			return rollback(tx, fmt.Errorf("scan legacy document: %w", err))
		}
		id, err := m.ids.NewID()
		if err != nil {
			return rollback(tx, fmt.Errorf("generate document id: %w", err))
		}
		created := createdAt.String
		if created == "" {
			created = formatTime(m.clock.Now())
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO knowledge_documents (id, url, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)",
			id, url, content, meta, created,
		); err != nil {
			return rollback(tx, fmt.Errorf("insert migrated document: %w", err))
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return rollback(tx, fmt.Errorf("iterate legacy documents: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit knowledge migration: %w", err)
	}
	result.Rows["knowledge_documents"] = count
	return nil
}

func (m *Migration) registerStub(ctx context.Context, tx *sql.Tx, normalized string) (string, error) {
	id, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate url id: %w", err)
	}
	now := formatTime(m.clock.Now())
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO urls (id, url, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		id, normalized, string(pipeline.StatusPending), now, now,
	); err != nil {
		return "", fmt.Errorf("register stub url: %w", err)
	}
	return id, nil
}

func (m *Migration) existingLegacyFiles() []string {
	var files []string
	for _, path := range []string{m.legacy.KnowledgePath, m.legacy.URLsPath, m.legacy.OriginalFilesPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}
	return files
}

// openLegacy opens a legacy database without applying the unified
// schema to it.
func openLegacy(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

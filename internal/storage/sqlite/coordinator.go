// Package sqlite implements the unified relational store: one
// database owning the URL ledger, the tag forest, file records and
// per-URL parameters, handed out as a bound set of repositories.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/pagevault/ingestd/db/migrations"
	"github.com/pagevault/ingestd/internal/pipeline"

	// SQLite driver for database/sql.
	_ "modernc.org/sqlite"
)

// Config controls the unified database connection.
type Config struct {
	// Path is the database file, or ":memory:" for tests.
	Path string `mapstructure:"db_path"`
	// FilesPath optionally hosts the file-record tables in a separate
	// database. Empty means they share the primary database.
	FilesPath         string `mapstructure:"files_db_path"`
	EnableWAL         bool   `mapstructure:"enable_wal"`
	EnableForeignKeys bool   `mapstructure:"enable_foreign_keys"`
}

// Repositories is the cohesive set handed out by the coordinator.
// All members share the coordinator's connection(s).
type Repositories struct {
	Ledger    pipeline.Ledger
	Tags      pipeline.TagStore
	Originals pipeline.OriginalFileStore
	Processed pipeline.ProcessedFileStore
	Params    *ParamsStore
}

// Coordinator owns the physical database handle and schema. It is the
// only component allowed to open the unified database.
type Coordinator struct {
	cfg         Config
	db          *sql.DB
	filesDB     *sql.DB
	ids         pipeline.IDGenerator
	clock       pipeline.Clock
	logger      *zap.Logger
	repos       Repositories
	initialized bool
}

// NewCoordinator prepares a coordinator; no connection is opened
// until Initialize.
func NewCoordinator(cfg Config, ids pipeline.IDGenerator, clock pipeline.Clock, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{cfg: cfg, ids: ids, clock: clock, logger: logger}
}

// Initialize opens the database(s), applies pragmas and schema
// migrations, and binds the repositories. It is idempotent; repeated
// calls are no-ops.
func (c *Coordinator) Initialize() error {
	if c.initialized {
		return nil
	}
	if c.cfg.Path == "" {
		return fmt.Errorf("unified db path is required")
	}

	db, err := openDatabase(c.cfg.Path, c.cfg.EnableWAL, c.cfg.EnableForeignKeys)
	if err != nil {
		return err
	}
	c.db = db

	filesDB := db
	if c.cfg.FilesPath != "" && c.cfg.FilesPath != c.cfg.Path {
		filesDB, err = openDatabase(c.cfg.FilesPath, c.cfg.EnableWAL, c.cfg.EnableForeignKeys)
		if err != nil {
			_ = db.Close()
			return err
		}
		c.filesDB = filesDB
	}

	c.repos = Repositories{
		Ledger:    newURLStore(db, c.ids, c.clock),
		Tags:      newTagStore(db, c.clock),
		Originals: newOriginalStore(filesDB, c.ids, c.clock),
		Processed: newProcessedStore(filesDB, c.ids, c.clock),
		Params:    newParamsStore(db, c.clock),
	}
	c.initialized = true
	c.logger.Info("unified store initialized",
		zap.String("path", c.cfg.Path),
		zap.Bool("wal", c.cfg.EnableWAL),
		zap.Bool("foreign_keys", c.cfg.EnableForeignKeys),
	)
	return nil
}

// Repositories returns the bound repository set.
func (c *Coordinator) Repositories() (Repositories, error) {
	if !c.initialized {
		return Repositories{}, pipeline.ErrRepositoryUnavailable
	}
	return c.repos, nil
}

// DB exposes the primary handle for components that share the unified
// database (knowledge sql backend, legacy migration).
func (c *Coordinator) DB() *sql.DB {
	return c.db
}

// Close releases the database handle(s).
func (c *Coordinator) Close() error {
	var errs []error
	if c.filesDB != nil {
		if err := c.filesDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.initialized = false
	return errors.Join(errs...)
}

func openDatabase(path string, enableWAL, enableForeignKeys bool) (*sql.DB, error) {
	dsn, err := buildDSN(path, enableForeignKeys)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if enableWAL && path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	if enableForeignKeys {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runSchemaMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func buildDSN(path string, enableForeignKeys bool) (string, error) {
	if path == ":memory:" {
		return "file::memory:?cache=shared", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve database path: %w", err)
	}
	dsn := fmt.Sprintf("file:%s", filepath.ToSlash(absPath))
	if enableForeignKeys {
		dsn += "?_pragma=foreign_keys(ON)"
	}
	return dsn, nil
}

func runSchemaMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("init migrate driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	defer func() {
		_ = sourceDriver.Close()
	}()
	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply schema migrations: %w", err)
	}
	return nil
}

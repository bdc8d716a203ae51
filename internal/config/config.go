// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pagevault/ingestd/internal/knowledge"
	"github.com/pagevault/ingestd/internal/storage/gcs"
	"github.com/pagevault/ingestd/internal/storage/local"
	"github.com/pagevault/ingestd/internal/storage/sqlite"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Unified    UnifiedConfig    `mapstructure:"unified"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Knowledge  knowledge.Config `mapstructure:"knowledge"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ProcessingConfig governs orchestrator behavior.
type ProcessingConfig struct {
	Concurrency          int      `mapstructure:"concurrency"`
	SkipUnchangedContent bool     `mapstructure:"skip_unchanged_content"`
	AutoCreateTags       bool     `mapstructure:"auto_create_tags"`
	StoreProcessed       bool     `mapstructure:"store_processed"`
	OriginalPrefix       string   `mapstructure:"original_prefix"`
	ProcessedPrefix      string   `mapstructure:"processed_prefix"`
	DefaultCleaners      []string `mapstructure:"default_cleaners"`
}

// FetchConfig configures the fetcher and its retry decorator.
type FetchConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes     int    `mapstructure:"max_body_bytes"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// UnifiedConfig controls the unified database and legacy migration.
type UnifiedConfig struct {
	sqlite.Config `mapstructure:",squash"`

	AutoMigrate       bool                   `mapstructure:"auto_migrate"`
	Backup            bool                   `mapstructure:"backup_enabled"`
	DeleteLegacyAfter bool                   `mapstructure:"delete_legacy_after_success"`
	Migration         MigrationSourcesConfig `mapstructure:"migration"`
}

// MigrationOptions converts the migration toggles.
func (u UnifiedConfig) MigrationOptions() sqlite.MigrationOptions {
	return sqlite.MigrationOptions{
		BackupOriginal:             u.Backup,
		DeleteOriginalAfterSuccess: u.DeleteLegacyAfter,
	}
}

// MigrationSourcesConfig points at the legacy databases.
type MigrationSourcesConfig struct {
	sqlite.LegacyPaths `mapstructure:",squash"`
}

// StorageConfig selects and parameterizes the blob backend.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// Supported storage backends.
const (
	StorageBackendLocal  = "local"
	StorageBackendMemory = "memory"
	StorageBackendGCS    = "gcs"
)

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGESTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("processing.concurrency", 5)
	v.SetDefault("processing.skip_unchanged_content", true)
	v.SetDefault("processing.auto_create_tags", true)
	v.SetDefault("processing.store_processed", true)
	v.SetDefault("processing.original_prefix", "originals")
	v.SetDefault("processing.processed_prefix", "processed")
	v.SetDefault("fetch.user_agent", "ingestd/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 2000)
	v.SetDefault("unified.db_path", "data/unified.db")
	v.SetDefault("unified.enable_wal", true)
	v.SetDefault("unified.enable_foreign_keys", true)
	v.SetDefault("unified.auto_migrate", true)
	v.SetDefault("unified.backup_enabled", true)
	v.SetDefault("unified.delete_legacy_after_success", false)
	v.SetDefault("storage.backend", StorageBackendLocal)
	v.SetDefault("storage.local.base_dir", "data/files")
	v.SetDefault("knowledge.backend", knowledge.BackendSQL)
	v.SetDefault("pubsub.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Processing.Concurrency <= 0 {
		return fmt.Errorf("processing.concurrency must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Unified.Path == "" {
		return fmt.Errorf("unified.db_path must be set")
	}
	switch c.Storage.Backend {
	case StorageBackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set")
		}
	case StorageBackendMemory:
	case StorageBackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Knowledge.Backend {
	case knowledge.BackendMemory, knowledge.BackendSQL, "":
	case knowledge.BackendFile:
		if c.Knowledge.Dir == "" {
			return fmt.Errorf("knowledge.dir must be set for the file backend")
		}
	default:
		return fmt.Errorf("unknown knowledge.backend %q", c.Knowledge.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// FetchTimeout converts the fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	systemclock "github.com/pagevault/ingestd/internal/clock/system"
	"github.com/pagevault/ingestd/internal/config"
	uuidgen "github.com/pagevault/ingestd/internal/id/uuid"
	"github.com/pagevault/ingestd/internal/logging"
	"github.com/pagevault/ingestd/internal/storage/sqlite"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Copy the legacy databases into the unified database.",
		Long: `migrate consolidates the legacy knowledge, url-tracking and
original-files databases into the single unified database. It is
idempotent: if the unified database already exists, nothing happens.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			migration := sqlite.NewMigration(
				sqlite.LegacyTarget{
					Path:              cfg.Unified.Path,
					EnableWAL:         cfg.Unified.EnableWAL,
					EnableForeignKeys: cfg.Unified.EnableForeignKeys,
				},
				cfg.Unified.Migration.LegacyPaths,
				cfg.Unified.MigrationOptions(),
				uuidgen.NewGenerator(),
				systemclock.New(),
				logger,
			)
			result, err := migration.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			cmd.Println(string(out))
			return nil
		},
	}
}

// Package app initializes and holds the long-lived services of the
// ingestion engine, acting as the dependency injection container the
// CLI commands pull from.
package app

import (
	"context"
	"fmt"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/pagevault/ingestd/internal/cleaner"
	systemclock "github.com/pagevault/ingestd/internal/clock/system"
	"github.com/pagevault/ingestd/internal/config"
	"github.com/pagevault/ingestd/internal/detector"
	"github.com/pagevault/ingestd/internal/events"
	pubsubpub "github.com/pagevault/ingestd/internal/events/publisher/pubsub"
	"github.com/pagevault/ingestd/internal/events/sinks"
	collyfetcher "github.com/pagevault/ingestd/internal/fetcher/colly"
	"github.com/pagevault/ingestd/internal/hash/sha256"
	uuidgen "github.com/pagevault/ingestd/internal/id/uuid"
	"github.com/pagevault/ingestd/internal/knowledge"
	"github.com/pagevault/ingestd/internal/logging"
	"github.com/pagevault/ingestd/internal/pipeline"
	"github.com/pagevault/ingestd/internal/storage/gcs"
	"github.com/pagevault/ingestd/internal/storage/local"
	"github.com/pagevault/ingestd/internal/storage/memory"
	"github.com/pagevault/ingestd/internal/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus"
)

// App holds all the shared, long-lived services. It is initialized
// once at startup and passed to the components that need it.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	coordinator  *sqlite.Coordinator
	repos        sqlite.Repositories
	storage      pipeline.FileStorage
	orchestrator *pipeline.Orchestrator
	knowledge    knowledge.Store
	hub          *events.Hub
	pubsubClient *gcpubsub.Client
	migration    sqlite.MigrationResult
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger instance.
func (a *App) Logger() *zap.Logger { return a.logger }

// Orchestrator returns the processing orchestrator.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orchestrator }

// Repositories exposes the bound sqlite stores.
func (a *App) Repositories() sqlite.Repositories { return a.repos }

// Storage exposes the configured blob backend.
func (a *App) Storage() pipeline.FileStorage { return a.storage }

// Knowledge exposes the configured knowledge store.
func (a *App) Knowledge() knowledge.Store { return a.knowledge }

// MigrationResult reports what the startup legacy migration did.
func (a *App) MigrationResult() sqlite.MigrationResult { return a.migration }

// New builds the application from configuration. It fails fast: any
// service that cannot be initialized, including a failed legacy
// migration, aborts startup.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	ids := uuidgen.NewGenerator()
	clock := systemclock.New()
	hasher := sha256.New()

	a := &App{cfg: cfg, logger: logger}

	if cfg.Unified.AutoMigrate {
		migration := sqlite.NewMigration(
			sqlite.LegacyTarget{
				Path:              cfg.Unified.Path,
				EnableWAL:         cfg.Unified.EnableWAL,
				EnableForeignKeys: cfg.Unified.EnableForeignKeys,
			},
			cfg.Unified.Migration.LegacyPaths,
			cfg.Unified.MigrationOptions(),
			ids, clock, logger,
		)
		result, merr := migration.Run(ctx)
		if merr != nil {
			return nil, fmt.Errorf("legacy migration: %w", merr)
		}
		a.migration = result
	}

	coordinator := sqlite.NewCoordinator(cfg.Unified.Config, ids, clock, logger)
	if err := coordinator.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize unified storage: %w", err)
	}
	a.coordinator = coordinator

	repos, err := coordinator.Repositories()
	if err != nil {
		closeQuietly(coordinator, logger)
		return nil, err
	}
	a.repos = repos

	store, err := buildFileStorage(ctx, cfg, logger)
	if err != nil {
		closeQuietly(coordinator, logger)
		return nil, err
	}
	a.storage = store

	know, err := knowledge.New(cfg.Knowledge, coordinator.DB(), ids, clock)
	if err != nil {
		closeQuietly(coordinator, logger)
		return nil, fmt.Errorf("initialize knowledge store: %w", err)
	}
	a.knowledge = know

	hub, err := a.buildHub(ctx, cfg, logger)
	if err != nil {
		closeQuietly(coordinator, logger)
		return nil, err
	}
	a.hub = hub

	var fetcher pipeline.ContentFetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	})
	fetcher = pipeline.NewRetryingFetcher(fetcher, pipeline.RetryConfig{
		MaxRetries:    cfg.Fetch.MaxRetries,
		RetryDelay:    millis(cfg.Fetch.BackoffInitialMs),
		BackoffFactor: 2,
		MaxDelay:      millis(cfg.Fetch.BackoffMaxMs),
	})

	a.orchestrator = pipeline.New(pipeline.Deps{
		Ledger:    repos.Ledger,
		Tags:      repos.Tags,
		Originals: repos.Originals,
		Processed: repos.Processed,
		Detector:  detector.New(),
		Fetcher:   fetcher,
		Processor: cleaner.NewChain(cleaner.NewRegistry()),
		Storage:   store,
		Hasher:    hasher,
		Clock:     clock,
		IDGen:     ids,
		Notifier:  events.NewNotifier(hub, clock),
	}, pipeline.Config{
		Concurrency:          cfg.Processing.Concurrency,
		SkipUnchangedContent: cfg.Processing.SkipUnchangedContent,
		AutoCreateTags:       cfg.Processing.AutoCreateTags,
		StoreProcessed:       cfg.Processing.StoreProcessed,
		OriginalPrefix:       cfg.Processing.OriginalPrefix,
		ProcessedPrefix:      cfg.Processing.ProcessedPrefix,
		DefaultCleaners:      cfg.Processing.DefaultCleaners,
	}, logger)

	return a, nil
}

// Close shuts down the services in reverse dependency order.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.coordinator != nil {
		if err := a.coordinator.Close(); err != nil {
			a.logger.Warn("storage close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func (a *App) buildHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*events.Hub, error) {
	sinkList := []events.Sink{sinks.NewLogSink(logger)}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("initialize prometheus sink: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if cfg.PubSub.Enabled {
		client, cerr := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if cerr != nil {
			return nil, fmt.Errorf("initialize pubsub client: %w", cerr)
		}
		a.pubsubClient = client
		pub := pubsubpub.New(client.Topic(cfg.PubSub.TopicName))
		sinkList = append(sinkList, sinks.NewPublishSink(pub, cfg.PubSub.TopicName))
	}

	return events.NewHub(events.Config{
		BaseContext: ctx,
		Logger:      logger,
	}, sinkList...), nil
}

func buildFileStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.FileStorage, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendLocal:
		logger.Info("using local file storage", zap.String("dir", cfg.Storage.Local.BaseDir))
		return local.New(cfg.Storage.Local)
	case config.StorageBackendMemory:
		logger.Info("using in-memory file storage")
		return memory.New(), nil
	case config.StorageBackendGCS:
		logger.Info("using gcs file storage", zap.String("bucket", cfg.Storage.GCS.Bucket))
		return gcs.NewFromContext(ctx, cfg.Storage.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func closeQuietly(c *sqlite.Coordinator, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("storage close failed", zap.Error(err))
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

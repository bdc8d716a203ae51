package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagevault/ingestd/internal/pipeline"
)

func TestCoordinatorRequiresInitialize(t *testing.T) {
	t.Parallel()

	coordinator := NewCoordinator(Config{Path: ":memory:"}, &seqIDGen{}, newTickClock(), zap.NewNop())

	_, err := coordinator.Repositories()
	require.ErrorIs(t, err, pipeline.ErrRepositoryUnavailable)
}

func TestCoordinatorInitializeIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := Config{Path: filepath.Join(t.TempDir(), "unified.db")}
	coordinator := NewCoordinator(cfg, &seqIDGen{}, newTickClock(), zap.NewNop())
	require.NoError(t, coordinator.Initialize())
	require.NoError(t, coordinator.Initialize())
	t.Cleanup(func() {
		require.NoError(t, coordinator.Close())
	})

	repos, err := coordinator.Repositories()
	require.NoError(t, err)
	require.NotNil(t, repos.Ledger)
	require.NotNil(t, repos.Tags)
	require.NotNil(t, repos.Originals)
	require.NotNil(t, repos.Processed)
	require.NotNil(t, repos.Params)
}

func TestCoordinatorRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	coordinator := NewCoordinator(Config{}, &seqIDGen{}, newTickClock(), zap.NewNop())
	require.Error(t, coordinator.Initialize())
}

func TestCoordinatorSeparateFilesDatabase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := Config{
		Path:      filepath.Join(dir, "unified.db"),
		FilesPath: filepath.Join(dir, "files.db"),
	}
	coordinator := NewCoordinator(cfg, &seqIDGen{}, newTickClock(), zap.NewNop())
	require.NoError(t, coordinator.Initialize())
	t.Cleanup(func() {
		require.NoError(t, coordinator.Close())
	})

	repos, err := coordinator.Repositories()
	require.NoError(t, err)

	ctx := context.Background()
	urlID, err := repos.Ledger.Register(ctx, "https://example.com/a", nil)
	require.NoError(t, err)

	_, err = repos.Originals.Put(ctx, pipeline.OriginalFileRecord{URLID: urlID, FilePath: "f"})
	require.NoError(t, err)

	record, err := repos.Originals.GetByURLID(ctx, urlID)
	require.NoError(t, err)
	require.NotNil(t, record)

	for _, path := range []string{cfg.Path, cfg.FilesPath} {
		_, err := os.Stat(path)
		require.NoError(t, err)
	}
}

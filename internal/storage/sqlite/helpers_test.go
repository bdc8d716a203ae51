package sqlite

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type seqIDGen struct {
	mu   sync.Mutex
	next int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%04d", g.next), nil
}

// tickClock advances one millisecond per call so created_at ordering
// is deterministic.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickClock() *tickClock {
	return &tickClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	cfg := Config{
		Path:              filepath.Join(t.TempDir(), "unified.db"),
		EnableWAL:         true,
		EnableForeignKeys: true,
	}
	coordinator := NewCoordinator(cfg, &seqIDGen{}, newTickClock(), zap.NewNop())
	require.NoError(t, coordinator.Initialize())
	t.Cleanup(func() {
		require.NoError(t, coordinator.Close())
	})
	return coordinator
}

func newTestRepos(t *testing.T) Repositories {
	t.Helper()
	repos, err := newTestCoordinator(t).Repositories()
	require.NoError(t, err)
	return repos
}

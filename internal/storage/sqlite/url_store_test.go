package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagevault/ingestd/internal/pipeline"
)

func TestURLStoreRegisterAndLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repos := newTestRepos(t)

	id, err := repos.Ledger.Register(ctx, "https://EXAMPLE.com/page/", map[string]any{"source": "feed"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Lookups hit the normalized form regardless of input casing.
	exists, err := repos.Ledger.Exists(ctx, "https://example.com/page")
	require.NoError(t, err)
	require.True(t, exists)

	record, err := repos.Ledger.GetURLInfo(ctx, "HTTPS://example.COM/page/")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, id, record.ID)
	require.Equal(t, "https://example.com/page", record.URL)
	require.Equal(t, pipeline.StatusPending, record.Status)
	require.Equal(t, "feed", record.Metadata["source"])
	require.False(t, record.CreatedAt.IsZero())
}

func TestURLStoreUnknownURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repos := newTestRepos(t)

	exists, err := repos.Ledger.Exists(ctx, "https://example.com/nothing")
	require.NoError(t, err)
	require.False(t, exists)

	record, err := repos.Ledger.GetURLInfo(ctx, "https://example.com/nothing")
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestURLStoreRejectsDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repos := newTestRepos(t)

	_, err := repos.Ledger.Register(ctx, "https://example.com/a", nil)
	require.NoError(t, err)

	// Same URL in a different surface form is still a duplicate.
	_, err = repos.Ledger.Register(ctx, "HTTPS://EXAMPLE.COM/a/", nil)
	require.ErrorIs(t, err, pipeline.ErrDuplicateURL)
}

func TestURLStoreUpdateStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repos := newTestRepos(t)

	id, err := repos.Ledger.Register(ctx, "https://example.com/a", nil)
	require.NoError(t, err)

	updated, err := repos.Ledger.UpdateStatus(ctx, id, pipeline.StatusFailed, "fetch timed out")
	require.NoError(t, err)
	require.True(t, updated)

	record, err := repos.Ledger.GetURLInfo(ctx, "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusFailed, record.Status)

	updated, err = repos.Ledger.UpdateStatus(ctx, "no-such-id", pipeline.StatusCompleted, "")
	require.NoError(t, err)
	require.False(t, updated)
}

func TestURLStoreHashes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repos := newTestRepos(t)

	id, err := repos.Ledger.Register(ctx, "https://example.com/a", nil)
	require.NoError(t, err)

	const hash = "deadbeef"
	updated, err := repos.Ledger.UpdateHash(ctx, id, hash)
	require.NoError(t, err)
	require.True(t, updated)

	found, err := repos.Ledger.HashExists(ctx, hash)
	require.NoError(t, err)
	require.True(t, found)

	found, err = repos.Ledger.HashExists(ctx, "cafebabe")
	require.NoError(t, err)
	require.False(t, found)

	record, err := repos.Ledger.GetByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, id, record.ID)

	record, err = repos.Ledger.GetByHash(ctx, "cafebabe")
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestURLStoreRegisterWithTags(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repos := newTestRepos(t)

	id, err := repos.Ledger.RegisterWithTags(ctx, "https://example.com/a", nil, []string{"news", "tech"}, true)
	require.NoError(t, err)

	tags, err := repos.Tags.TagsForURL(ctx, id)
	require.NoError(t, err)
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	require.ElementsMatch(t, []string{"news", "tech"}, names)
}

func TestURLStoreRegisterWithUnknownTagRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repos := newTestRepos(t)

	_, err := repos.Ledger.RegisterWithTags(ctx, "https://example.com/a", nil, []string{"missing"}, false)
	require.ErrorIs(t, err, pipeline.ErrTagNotFound)

	// The URL insert must not survive the failed tag association.
	exists, err := repos.Ledger.Exists(ctx, "https://example.com/a")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestURLStoreListFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repos := newTestRepos(t)

	idA, err := repos.Ledger.RegisterWithTags(ctx, "https://example.com/a", nil, []string{"news"}, true)
	require.NoError(t, err)
	idB, err := repos.Ledger.RegisterWithTags(ctx, "https://example.com/b", nil, []string{"news", "tech"}, true)
	require.NoError(t, err)
	_, err = repos.Ledger.Register(ctx, "https://example.com/c", nil)
	require.NoError(t, err)

	_, err = repos.Ledger.UpdateStatus(ctx, idB, pipeline.StatusCompleted, "")
	require.NoError(t, err)

	all, err := repos.Ledger.List(ctx, pipeline.URLFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	news, err := repos.Ledger.List(ctx, pipeline.URLFilter{Tags: []string{"news"}})
	require.NoError(t, err)
	require.Len(t, news, 2)

	completed, err := repos.Ledger.List(ctx, pipeline.URLFilter{Status: pipeline.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Equal(t, idB, completed[0].ID)

	pendingNews, err := repos.Ledger.List(ctx, pipeline.URLFilter{
		Status: pipeline.StatusPending,
		Tags:   []string{"news"},
	})
	require.NoError(t, err)
	require.Len(t, pendingNews, 1)
	require.Equal(t, idA, pendingNews[0].ID)
}

func TestURLStoreRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repos := newTestRepos(t)

	id, err := repos.Ledger.RegisterWithTags(ctx, "https://example.com/a", nil, []string{"news"}, true)
	require.NoError(t, err)

	removed, err := repos.Ledger.Remove(ctx, id)
	require.NoError(t, err)
	require.True(t, removed)

	exists, err := repos.Ledger.Exists(ctx, "https://example.com/a")
	require.NoError(t, err)
	require.False(t, exists)

	// Tag associations go with the record.
	tags, err := repos.Tags.TagsForURL(ctx, id)
	require.NoError(t, err)
	require.Empty(t, tags)

	removed, err = repos.Ledger.Remove(ctx, id)
	require.NoError(t, err)
	require.False(t, removed)
}

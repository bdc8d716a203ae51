package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testHarness struct {
	ledger    *fakeLedger
	tags      *fakeTagStore
	originals *fakeOriginalStore
	processed *fakeProcessedStore
	fetcher   *fakeFetcher
	processor *fakeProcessor
	storage   *fakeStorage
	notifier  *recordingNotifier
}

func newHarness(cfg Config) (*Orchestrator, *testHarness) {
	h := &testHarness{
		ledger:    newFakeLedger(),
		originals: newFakeOriginalStore(),
		processed: newFakeProcessedStore(),
		fetcher:   &fakeFetcher{},
		processor: &fakeProcessor{},
		storage:   newFakeStorage(),
		notifier:  &recordingNotifier{},
	}
	h.tags = newFakeTagStore(h.ledger)
	o := New(Deps{
		Ledger:    h.ledger,
		Tags:      h.tags,
		Originals: h.originals,
		Processed: h.processed,
		Detector:  &fakeDetector{},
		Fetcher:   h.fetcher,
		Processor: h.processor,
		Storage:   h.storage,
		Hasher:    testHasher{},
		Clock:     newTestClock(),
		IDGen:     &testIDGen{},
		Notifier:  h.notifier,
	}, cfg, nil)
	return o, h
}

func TestProcessURLSuccess(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{SkipUnchangedContent: true, StoreProcessed: true, AutoCreateTags: true})

	result := o.ProcessURL(context.Background(), "https://Example.com/page/", Options{Tags: []string{"news"}})

	require.Nil(t, result.Error)
	require.True(t, result.Success)
	require.False(t, result.Skipped)
	require.Equal(t, "https://example.com/page", result.URL)
	require.Equal(t, []string{"news"}, result.TagsApplied)
	require.Positive(t, result.Duration)

	record, err := h.ledger.GetURLInfo(context.Background(), "https://example.com/page")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, StatusCompleted, record.Status)
	require.NotEmpty(t, record.ContentHash)

	original, err := h.originals.GetByURLID(context.Background(), record.ID)
	require.NoError(t, err)
	require.NotNil(t, original)
	require.Equal(t, record.ContentHash, original.Checksum)

	processed, err := h.processed.ListByURL(context.Background(), "https://example.com/page")
	require.NoError(t, err)
	require.Len(t, processed, 1)
	require.Equal(t, ProcessedActive, processed[0].Status)
	require.Equal(t, original.ID, processed[0].OriginalFileID)

	notified := h.notifier.all()
	require.Len(t, notified, 1)
	require.True(t, notified[0].Success)
}

func TestProcessURLInvalidURL(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{})

	result := o.ProcessURL(context.Background(), "not a url", Options{})

	require.NotNil(t, result.Error)
	require.Equal(t, StageRegistration, result.Error.Stage)
	require.Equal(t, CodeRegistrationError, result.Error.Code)
	require.Zero(t, h.fetcher.callCount())
}

func TestProcessURLUnchangedContentSkips(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{SkipUnchangedContent: true, StoreProcessed: true})

	first := o.ProcessURL(context.Background(), "https://example.com/a", Options{})
	require.Nil(t, first.Error)
	require.False(t, first.Skipped)
	require.Equal(t, 1, h.processor.callCount())

	second := o.ProcessURL(context.Background(), "https://example.com/a", Options{})
	require.Nil(t, second.Error)
	require.True(t, second.Skipped)
	require.True(t, second.Success)
	require.Equal(t, true, second.Metadata["unchanged"])
	// The cleaner chain must not run again for identical bytes.
	require.Equal(t, 1, h.processor.callCount())

	record, err := h.ledger.GetURLInfo(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, record.Status)
}

func TestProcessURLChangedContentReprocesses(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{SkipUnchangedContent: true, StoreProcessed: true})
	h.fetcher.fn = func(url string, call int) (FetchResult, error) {
		if call == 1 {
			return FetchResult{Body: []byte("version one"), MimeType: "text/html"}, nil
		}
		return FetchResult{Body: []byte("version two"), MimeType: "text/html"}, nil
	}

	first := o.ProcessURL(context.Background(), "https://example.com/a", Options{})
	require.Nil(t, first.Error)
	second := o.ProcessURL(context.Background(), "https://example.com/a", Options{})
	require.Nil(t, second.Error)
	require.False(t, second.Skipped)
	require.Equal(t, 2, h.processor.callCount())
	require.NotEqual(t, first.Metadata["content_hash"], second.Metadata["content_hash"])
}

func TestProcessURLSkipDisabledPerCall(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{SkipUnchangedContent: true, StoreProcessed: true})

	_ = o.ProcessURL(context.Background(), "https://example.com/a", Options{})
	skip := false
	second := o.ProcessURL(context.Background(), "https://example.com/a", Options{SkipUnchangedContent: &skip})
	require.Nil(t, second.Error)
	require.False(t, second.Skipped)
	require.Equal(t, 2, h.processor.callCount())
}

func TestProcessURLFetchFailureMarksFailed(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{})
	h.fetcher.fn = func(string, int) (FetchResult, error) {
		return FetchResult{}, errors.New("connection refused")
	}

	result := o.ProcessURL(context.Background(), "https://example.com/broken", Options{})

	require.NotNil(t, result.Error)
	require.Equal(t, StageFetch, result.Error.Stage)
	require.Equal(t, CodeFetchError, result.Error.Code)

	record, err := h.ledger.GetURLInfo(context.Background(), "https://example.com/broken")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, record.Status)
}

func TestProcessURLProcessingFailureMarksFailed(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{})
	h.processor.err = errors.New("invalid utf-8")

	result := o.ProcessURL(context.Background(), "https://example.com/bad", Options{})

	require.NotNil(t, result.Error)
	require.Equal(t, StageProcessing, result.Error.Stage)

	record, err := h.ledger.GetURLInfo(context.Background(), "https://example.com/bad")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, record.Status)
}

func TestProcessURLStorageFailure(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{})
	h.storage.err = errors.New("disk full")

	result := o.ProcessURL(context.Background(), "https://example.com/full", Options{})

	require.NotNil(t, result.Error)
	require.Equal(t, StageStorage, result.Error.Stage)
	require.Equal(t, CodeStorageError, result.Error.Code)
}

func TestProcessURLStrictTagsFail(t *testing.T) {
	t.Parallel()
	o, _ := newHarness(Config{AutoCreateTags: true})

	auto := false
	result := o.ProcessURL(context.Background(), "https://example.com/tagged", Options{
		Tags:           []string{"missing"},
		AutoCreateTags: &auto,
	})

	require.NotNil(t, result.Error)
	require.Equal(t, StageStorage, result.Error.Stage)
}

func TestProcessURLsIndexAligned(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{Concurrency: 3})
	h.fetcher.fn = func(url string, _ int) (FetchResult, error) {
		if url == "https://example.com/slow" {
			time.Sleep(50 * time.Millisecond)
		}
		return FetchResult{Body: []byte("body of " + url), MimeType: "text/html"}, nil
	}

	urls := []string{
		"https://example.com/fast1",
		"https://example.com/slow",
		"https://example.com/fast2",
	}
	results := o.ProcessURLs(context.Background(), urls, Options{})

	require.Len(t, results, len(urls))
	for i, url := range urls {
		require.Equal(t, url, results[i].URL)
		require.Nil(t, results[i].Error)
	}
}

func TestProcessURLsFaultIsolation(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{Concurrency: 2})
	h.fetcher.fn = func(url string, _ int) (FetchResult, error) {
		if url == "https://example.com/bad" {
			return FetchResult{}, errors.New("boom")
		}
		return FetchResult{Body: []byte("ok"), MimeType: "text/html"}, nil
	}

	results := o.ProcessURLs(context.Background(), []string{
		"https://example.com/good1",
		"https://example.com/bad",
		"https://example.com/good2",
	}, Options{})

	summary := Summarize(results)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 2, summary.Successful)
	require.Equal(t, 1, summary.Failed)
	require.NotNil(t, results[1].Error)
	require.Nil(t, results[0].Error)
	require.Nil(t, results[2].Error)
}

func TestProcessURLsByTagsUnionAndDedup(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{Concurrency: 2})

	parent := h.tags.addTag("news", nil)
	h.tags.addTag("sports", parent)

	id1, err := h.ledger.Register(context.Background(), "https://example.com/u1", nil)
	require.NoError(t, err)
	id2, err := h.ledger.Register(context.Background(), "https://example.com/u2", nil)
	require.NoError(t, err)
	id3, err := h.ledger.Register(context.Background(), "https://example.com/u3", nil)
	require.NoError(t, err)
	h.ledger.attach(id1, "news")
	h.ledger.attach(id2, "sports")
	h.ledger.attach(id3, "news", "sports")

	results, err := o.ProcessURLsByTags(context.Background(), []string{"news"}, BatchTagOptions{
		IncludeChildTags: true,
	})
	require.NoError(t, err)
	// u1, u2 via the child tag, u3 once despite carrying both.
	require.Len(t, results, 3)

	seen := map[string]int{}
	for _, result := range results {
		seen[result.URL]++
	}
	for url, count := range seen {
		require.Equal(t, 1, count, "url %s ran more than once", url)
	}
}

func TestProcessURLsByTagsRequireAll(t *testing.T) {
	t.Parallel()
	o, h := newHarness(Config{Concurrency: 2})

	h.tags.addTag("news", nil)
	h.tags.addTag("archive", nil)

	id1, err := h.ledger.Register(context.Background(), "https://example.com/u1", nil)
	require.NoError(t, err)
	id2, err := h.ledger.Register(context.Background(), "https://example.com/u2", nil)
	require.NoError(t, err)
	h.ledger.attach(id1, "news")
	h.ledger.attach(id2, "news", "archive")

	results, err := o.ProcessURLsByTags(context.Background(), []string{"news", "archive"}, BatchTagOptions{
		RequireAllTags: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "https://example.com/u2", results[0].URL)
}

func TestProcessURLsByTagsUnknownTag(t *testing.T) {
	t.Parallel()
	o, _ := newHarness(Config{})

	_, err := o.ProcessURLsByTags(context.Background(), []string{"nope"}, BatchTagOptions{})
	require.ErrorIs(t, err, ErrTagNotFound)
}

func TestProcessURLsByTagsNoTagStore(t *testing.T) {
	t.Parallel()
	h := &testHarness{
		ledger:    newFakeLedger(),
		originals: newFakeOriginalStore(),
		processed: newFakeProcessedStore(),
		fetcher:   &fakeFetcher{},
		processor: &fakeProcessor{},
		storage:   newFakeStorage(),
	}
	o := New(Deps{
		Ledger:    h.ledger,
		Originals: h.originals,
		Processed: h.processed,
		Detector:  &fakeDetector{},
		Fetcher:   h.fetcher,
		Processor: h.processor,
		Storage:   h.storage,
		Hasher:    testHasher{},
		Clock:     newTestClock(),
		IDGen:     &testIDGen{},
	}, Config{}, nil)

	_, err := o.ProcessURLsByTags(context.Background(), []string{"any"}, BatchTagOptions{})
	require.ErrorIs(t, err, ErrNoTagSupport)
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	summary := Summarize([]ProcessingResult{
		{Success: true},
		{Success: false, Error: &ResultError{Code: CodeFetchError, Stage: StageFetch}},
		{Success: true, Skipped: true},
	})
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 2, summary.Successful)
	require.Equal(t, 1, summary.Failed)
}

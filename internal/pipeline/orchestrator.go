package pipeline

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagevault/ingestd/internal/metrics"
)

// Options control a single orchestrator run. Zero values fall back to
// the orchestrator-level defaults set at construction.
type Options struct {
	// Tags are attached to the URL after a successful run.
	Tags []string
	// Cleaners overrides the cleaner chain for this run; order matters.
	Cleaners []string
	// SkipUnchangedContent short-circuits to COMPLETED when the ledger
	// already holds an identical content hash.
	SkipUnchangedContent *bool
	// AutoCreateTags creates unknown tag names on the fly instead of
	// failing with ErrTagNotFound.
	AutoCreateTags *bool
}

// BatchTagOptions scope a tag-driven batch run.
type BatchTagOptions struct {
	// IncludeChildTags expands each named tag to its full subtree.
	IncludeChildTags bool
	// RequireAllTags keeps only URLs carrying every named tag
	// (matched against the original, non-expanded name list).
	RequireAllTags bool
	// Options apply per URL once the set is resolved.
	Options Options
}

// Config fixes orchestrator-wide defaults.
type Config struct {
	Concurrency          int
	SkipUnchangedContent bool
	AutoCreateTags       bool
	StoreProcessed       bool
	OriginalPrefix       string
	ProcessedPrefix      string
	ProcessingType       string
	DefaultCleaners      []string
}

// Notifier receives per-URL completion events; implementations must
// not block the pipeline.
type Notifier interface {
	URLProcessed(result ProcessingResult)
}

// Orchestrator walks URLs through the ingestion pipeline. One failure
// never aborts sibling items in a batch, and a per-URL lock keeps two
// concurrent runs for the same normalized URL from racing the ledger.
type Orchestrator struct {
	ledger    Ledger
	tags      TagStore
	originals OriginalFileStore
	processed ProcessedFileStore
	detector  URLDetector
	fetcher   ContentFetcher
	processor ContentProcessor
	storage   FileStorage
	changes   *ChangeDetector
	hasher    Hasher
	clock     Clock
	idGen     IDGenerator
	notifier  Notifier
	cfg       Config
	locks     *keyedMutex
	logger    *zap.Logger
}

// Deps bundles the collaborators an Orchestrator is built from.
type Deps struct {
	Ledger    Ledger
	Tags      TagStore
	Originals OriginalFileStore
	Processed ProcessedFileStore
	Detector  URLDetector
	Fetcher   ContentFetcher
	Processor ContentProcessor
	Storage   FileStorage
	Hasher    Hasher
	Clock     Clock
	IDGen     IDGenerator
	Notifier  Notifier
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.OriginalPrefix == "" {
		cfg.OriginalPrefix = "originals"
	}
	if cfg.ProcessedPrefix == "" {
		cfg.ProcessedPrefix = "processed"
	}
	if cfg.ProcessingType == "" {
		cfg.ProcessingType = "CLEANED"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		ledger:    deps.Ledger,
		tags:      deps.Tags,
		originals: deps.Originals,
		processed: deps.Processed,
		detector:  deps.Detector,
		fetcher:   deps.Fetcher,
		processor: deps.Processor,
		storage:   deps.Storage,
		changes:   NewChangeDetector(deps.Ledger),
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		idGen:     deps.IDGen,
		notifier:  deps.Notifier,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		logger:    logger,
	}
}

// ProcessURL runs one URL through the full pipeline. Failures come
// back inside the ProcessingResult; the only way this function
// "throws" is never.
func (o *Orchestrator) ProcessURL(ctx context.Context, rawURL string, opts Options) ProcessingResult {
	started := o.clock.Now()
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return o.finish(ProcessingResult{
			URL:   rawURL,
			Error: stageError(StageRegistration, CodeRegistrationError, err),
		}, started)
	}

	o.locks.Lock(normalized)
	defer o.locks.Unlock(normalized)

	result := o.processLocked(ctx, normalized, opts)
	return o.finish(result, started)
}

func (o *Orchestrator) processLocked(ctx context.Context, url string, opts Options) ProcessingResult {
	id, regErr := o.ensureRegistered(ctx, url, opts)
	if regErr != nil {
		return ProcessingResult{
			URL:   url,
			Error: stageError(StageRegistration, CodeRegistrationError, regErr),
		}
	}

	contentType, err := o.detector.Detect(ctx, url)
	if err != nil {
		o.logger.Debug("content type detection failed, assuming unknown",
			zap.String("url", url), zap.Error(err))
		contentType = ContentUnknown
	}

	fetchStart := o.clock.Now()
	fetched, err := o.fetcher.Fetch(ctx, url)
	metrics.ObserveStage(string(StageFetch), o.clock.Now().Sub(fetchStart))
	if err != nil {
		o.markFailed(ctx, id, err)
		return ProcessingResult{
			URL:   url,
			Error: stageError(StageFetch, CodeFetchError, &FetchError{URL: url, Code: CodeFetchError, Err: err}),
		}
	}

	hash, err := o.hasher.Hash(fetched.Body)
	if err != nil {
		o.markFailed(ctx, id, err)
		return ProcessingResult{
			URL:   url,
			Error: stageError(StageProcessing, CodeProcessingError, err),
		}
	}

	if o.skipUnchanged(opts) {
		changed, cerr := o.changes.ShouldProcess(ctx, url, hash)
		if cerr == nil && !changed {
			// Identical content: short-circuit to COMPLETED without
			// re-running the cleaner chain.
			if _, uerr := o.ledger.UpdateStatus(ctx, id, StatusCompleted, ""); uerr != nil {
				o.logger.Warn("status update failed on unchanged skip",
					zap.String("url", url), zap.Error(uerr))
			}
			return ProcessingResult{
				Success:  true,
				URL:      url,
				Skipped:  true,
				Metadata: map[string]any{"unchanged": true, "content_hash": hash},
			}
		}
		if cerr != nil {
			o.logger.Warn("change detection failed, processing anyway",
				zap.String("url", url), zap.Error(cerr))
		}
	}

	if _, err := o.ledger.UpdateStatus(ctx, id, StatusProcessing, ""); err != nil {
		o.markFailed(ctx, id, err)
		return ProcessingResult{
			URL:   url,
			Error: stageError(StageStorage, CodeStorageError, err),
		}
	}

	cleaners := opts.Cleaners
	if len(cleaners) == 0 {
		cleaners = o.cfg.DefaultCleaners
	}
	processStart := o.clock.Now()
	output, err := o.processor.Process(ctx, fetched.Body, contentType, cleaners)
	metrics.ObserveStage(string(StageProcessing), o.clock.Now().Sub(processStart))
	if err != nil {
		o.markFailed(ctx, id, err)
		return ProcessingResult{
			URL:   url,
			Error: stageError(StageProcessing, CodeProcessingError, &ProcessingError{URL: url, Err: err}),
		}
	}

	meta, err := o.persist(ctx, id, url, hash, contentType, fetched, output, opts)
	if err != nil {
		o.markFailed(ctx, id, err)
		return ProcessingResult{
			URL:   url,
			Error: stageError(StageStorage, CodeStorageError, err),
		}
	}

	applied, err := o.applyTags(ctx, id, opts)
	if err != nil {
		o.markFailed(ctx, id, err)
		return ProcessingResult{
			URL:   url,
			Error: stageError(StageStorage, CodeStorageError, err),
		}
	}

	if _, err := o.ledger.UpdateHash(ctx, id, hash); err != nil {
		o.markFailed(ctx, id, err)
		return ProcessingResult{
			URL:   url,
			Error: stageError(StageStorage, CodeStorageError, err),
		}
	}
	if _, err := o.ledger.UpdateStatus(ctx, id, StatusCompleted, ""); err != nil {
		return ProcessingResult{
			URL:   url,
			Error: stageError(StageStorage, CodeStorageError, err),
		}
	}

	meta["content_hash"] = hash
	return ProcessingResult{
		Success:     true,
		URL:         url,
		Metadata:    meta,
		TagsApplied: applied,
	}
}

// ProcessURLs fans out up to cfg.Concurrency in-flight runs with
// all-settled semantics. The result slice is index-aligned with the
// input regardless of completion order.
func (o *Orchestrator) ProcessURLs(ctx context.Context, urls []string, opts Options) []ProcessingResult {
	metrics.ObserveBatch()
	results := make([]ProcessingResult, len(urls))
	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, url := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, url string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = o.ProcessURL(ctx, url, opts)
		}(i, url)
	}
	wg.Wait()
	return results
}

// ProcessURLsByTags resolves the URL set for the named tags and
// delegates to ProcessURLs. With IncludeChildTags the effective set is
// each tag plus its descendants; matching URLs are the union over that
// set, deduplicated so no URL runs twice. RequireAllTags filters the
// union down to URLs carrying every originally named tag.
func (o *Orchestrator) ProcessURLsByTags(ctx context.Context, tagNames []string, opts BatchTagOptions) ([]ProcessingResult, error) {
	if o.tags == nil {
		return nil, ErrNoTagSupport
	}

	effective, err := o.expandTags(ctx, tagNames, opts.IncludeChildTags)
	if err != nil {
		return nil, err
	}

	records, err := o.ledger.List(ctx, URLFilter{Tags: effective})
	if err != nil {
		return nil, fmt.Errorf("list urls by tags: %w", err)
	}

	seen := make(map[string]struct{}, len(records))
	urls := make([]string, 0, len(records))
	for _, record := range records {
		if _, dup := seen[record.URL]; dup {
			continue
		}
		seen[record.URL] = struct{}{}
		if opts.RequireAllTags {
			ok, aerr := o.hasAllTags(ctx, record.ID, tagNames)
			if aerr != nil {
				return nil, aerr
			}
			if !ok {
				continue
			}
		}
		urls = append(urls, record.URL)
	}

	return o.ProcessURLs(ctx, urls, opts.Options), nil
}

func (o *Orchestrator) expandTags(ctx context.Context, names []string, includeChildren bool) ([]string, error) {
	effective := make([]string, 0, len(names))
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			effective = append(effective, name)
		}
	}
	for _, name := range names {
		tag, err := o.tags.GetTagByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve tag %q: %w", name, err)
		}
		if tag == nil {
			return nil, fmt.Errorf("resolve tag %q: %w", name, ErrTagNotFound)
		}
		add(tag.Name)
		if !includeChildren {
			continue
		}
		children, err := o.tags.GetChildTags(ctx, tag.ID, true)
		if err != nil {
			return nil, fmt.Errorf("expand tag %q: %w", name, err)
		}
		for _, child := range children {
			add(child.Name)
		}
	}
	return effective, nil
}

func (o *Orchestrator) hasAllTags(ctx context.Context, urlID string, names []string) (bool, error) {
	attached, err := o.tags.TagsForURL(ctx, urlID)
	if err != nil {
		return false, fmt.Errorf("tags for url %s: %w", urlID, err)
	}
	have := make(map[string]struct{}, len(attached))
	for _, tag := range attached {
		have[tag.Name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := have[name]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) ensureRegistered(ctx context.Context, url string, opts Options) (string, error) {
	record, err := o.ledger.GetURLInfo(ctx, url)
	if err != nil {
		return "", fmt.Errorf("lookup url: %w", err)
	}
	if record != nil {
		return record.ID, nil
	}
	if len(opts.Tags) > 0 {
		id, rerr := o.ledger.RegisterWithTags(ctx, url, nil, opts.Tags, o.autoCreateTags(opts))
		if rerr != nil {
			return "", rerr
		}
		return id, nil
	}
	id, rerr := o.ledger.Register(ctx, url, nil)
	if rerr != nil {
		return "", rerr
	}
	return id, nil
}

func (o *Orchestrator) persist(
	ctx context.Context,
	id, url, hash string,
	contentType ContentType,
	fetched FetchResult,
	output ProcessOutput,
	opts Options,
) (map[string]any, error) {
	now := o.clock.Now()
	key := path.Join(o.cfg.OriginalPrefix, now.Format("2006-01-02"), hash+extensionFor(contentType))

	storedPath, err := o.storage.Store(ctx, key, fetched.Body)
	if err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}

	originalID, err := o.originals.Put(ctx, OriginalFileRecord{
		URLID:     id,
		FilePath:  storedPath,
		MimeType:  fetched.MimeType,
		Size:      int64(len(fetched.Body)),
		Checksum:  hash,
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("record original: %w", err)
	}

	meta := map[string]any{
		"original_path": storedPath,
		"content_type":  string(contentType),
		"size":          int64(len(fetched.Body)),
	}

	if !o.cfg.StoreProcessed {
		return meta, nil
	}

	cleaned := []byte(output.Text)
	cleanedHash, err := o.hasher.Hash(cleaned)
	if err != nil {
		return nil, fmt.Errorf("hash cleaned artifact: %w", err)
	}
	processedKey := path.Join(o.cfg.ProcessedPrefix, now.Format("2006-01-02"), cleanedHash+".md")
	processedPath, err := o.storage.Store(ctx, processedKey, cleaned)
	if err != nil {
		return nil, fmt.Errorf("store processed artifact: %w", err)
	}

	cleaningConfig := map[string]any{}
	if len(opts.Cleaners) > 0 {
		cleaningConfig["cleaners"] = opts.Cleaners
	} else if len(o.cfg.DefaultCleaners) > 0 {
		cleaningConfig["cleaners"] = o.cfg.DefaultCleaners
	}
	if _, err := o.processed.Insert(ctx, ProcessedFileRecord{
		OriginalFileID: originalID,
		URL:            url,
		FilePath:       processedPath,
		MimeType:       "text/markdown",
		Size:           int64(len(cleaned)),
		Checksum:       cleanedHash,
		ProcessingType: o.cfg.ProcessingType,
		CleanersUsed:   output.CleanersUsed,
		CleaningConfig: cleaningConfig,
		Status:         ProcessedActive,
		CreatedAt:      now,
	}); err != nil {
		return nil, fmt.Errorf("record processed artifact: %w", err)
	}

	meta["processed_path"] = processedPath
	meta["cleaners_used"] = output.CleanersUsed
	return meta, nil
}

func (o *Orchestrator) applyTags(ctx context.Context, id string, opts Options) ([]string, error) {
	if len(opts.Tags) == 0 {
		return nil, nil
	}
	if o.tags == nil {
		return nil, ErrNoTagSupport
	}
	applied, err := o.tags.AttachTags(ctx, id, opts.Tags, o.autoCreateTags(opts))
	if err != nil {
		return nil, fmt.Errorf("attach tags: %w", err)
	}
	return applied, nil
}

func (o *Orchestrator) markFailed(ctx context.Context, id string, cause error) {
	if _, err := o.ledger.UpdateStatus(ctx, id, StatusFailed, cause.Error()); err != nil {
		o.logger.Warn("failed status update", zap.String("id", id), zap.Error(err))
	}
}

func (o *Orchestrator) skipUnchanged(opts Options) bool {
	if opts.SkipUnchangedContent != nil {
		return *opts.SkipUnchangedContent
	}
	return o.cfg.SkipUnchangedContent
}

func (o *Orchestrator) autoCreateTags(opts Options) bool {
	if opts.AutoCreateTags != nil {
		return *opts.AutoCreateTags
	}
	return o.cfg.AutoCreateTags
}

func (o *Orchestrator) finish(result ProcessingResult, started time.Time) ProcessingResult {
	result.Duration = o.clock.Now().Sub(started)
	outcome := "completed"
	switch {
	case result.Error != nil:
		outcome = "failed"
	case result.Skipped:
		outcome = "skipped"
	}
	size := 0
	if v, ok := result.Metadata["size"].(int64); ok {
		size = int(v)
	}
	metrics.ObserveRun(result.URL, outcome, size)
	if o.notifier != nil {
		o.notifier.URLProcessed(result)
	}
	if result.Error != nil {
		o.logger.Info("url failed",
			zap.String("url", result.URL),
			zap.String("stage", string(result.Error.Stage)),
			zap.String("code", result.Error.Code),
		)
	}
	return result
}

func extensionFor(ct ContentType) string {
	switch ct {
	case ContentHTML:
		return ".html"
	case ContentPDF:
		return ".pdf"
	case ContentImage:
		return ".img"
	default:
		return ".bin"
	}
}

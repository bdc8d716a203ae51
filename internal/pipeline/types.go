// Package pipeline defines the core types and interfaces for the
// change-aware ingestion engine: URL ledger records, the tag forest,
// file records, and the orchestrator that drives a URL through
// detect, fetch, clean, persist and tag stages.
package pipeline

import (
	"time"
)

// URLStatus represents the lifecycle state of a tracked URL.
type URLStatus string

// URL status values persisted in the ledger.
const (
	StatusPending    URLStatus = "PENDING"
	StatusProcessing URLStatus = "PROCESSING"
	StatusCompleted  URLStatus = "COMPLETED"
	StatusFailed     URLStatus = "FAILED"
)

// URLRecord is one row of the deduplication ledger. URL is stored in
// normalized form and is unique across the ledger.
type URLRecord struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	Status      URLStatus      `json:"status"`
	ContentHash string         `json:"content_hash,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// URLFilter narrows ledger listings.
type URLFilter struct {
	Status URLStatus
	Tags   []string
}

// Tag is a node in the tag forest. ParentID is nil for roots.
type Tag struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	ParentID    *int64    `json:"parent_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TagInput carries the caller-supplied fields for tag creation.
type TagInput struct {
	Name        string `json:"name"`
	ParentID    *int64 `json:"parent_id,omitempty"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

// OriginalFileRecord points at the raw fetched bytes for a URL. A URL
// has at most one current original; reprocessing re-points it.
type OriginalFileRecord struct {
	ID        string         `json:"id"`
	URLID     string         `json:"url_id"`
	FilePath  string         `json:"file_path"`
	MimeType  string         `json:"mime_type"`
	Size      int64          `json:"size"`
	Checksum  string         `json:"checksum"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ProcessedStatus marks a processed artifact as live or soft-deleted.
type ProcessedStatus string

// Processed record status values. Rows are never physically removed.
const (
	ProcessedActive  ProcessedStatus = "active"
	ProcessedDeleted ProcessedStatus = "deleted"
)

// ProcessedFileRecord is one cleaned artifact derived from an original.
// CleanersUsed preserves the order the cleaner chain was applied in.
type ProcessedFileRecord struct {
	ID             string          `json:"id"`
	OriginalFileID string          `json:"original_file_id,omitempty"`
	URL            string          `json:"url"`
	FilePath       string          `json:"file_path"`
	MimeType       string          `json:"mime_type"`
	Size           int64           `json:"size"`
	Checksum       string          `json:"checksum"`
	ProcessingType string          `json:"processing_type"`
	CleanersUsed   []string        `json:"cleaners_used"`
	CleaningConfig map[string]any  `json:"cleaning_config,omitempty"`
	Status         ProcessedStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// URLParameters holds per-URL overrides consulted by scraper and
// cleaner collaborators. The URL string is the stable join key.
type URLParameters struct {
	URL         string    `json:"url"`
	ScraperType string    `json:"scraper_type,omitempty"`
	Cleaners    []string  `json:"cleaners,omitempty"`
	Priority    int       `json:"priority"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Stage identifies where in the pipeline a failure occurred.
type Stage string

// Pipeline stages reported in ProcessingResult errors.
const (
	StageRegistration Stage = "REGISTRATION"
	StageFetch        Stage = "FETCH"
	StageProcessing   Stage = "PROCESSING"
	StageStorage      Stage = "STORAGE"
)

// ResultError carries a machine code, a human message and the stage
// at which a per-URL pipeline run failed.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   Stage  `json:"stage"`
}

// ProcessingResult is the per-URL outcome of one orchestrator run.
// Failures are returned as data, never as an error from ProcessURL,
// so batch callers can keep going.
type ProcessingResult struct {
	Success     bool           `json:"success"`
	URL         string         `json:"url"`
	Skipped     bool           `json:"skipped"`
	Error       *ResultError   `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	TagsApplied []string       `json:"tags_applied,omitempty"`
	Duration    time.Duration  `json:"processing_time"`
}

// BatchSummary aggregates a batch of results for API callers.
type BatchSummary struct {
	Total      int                `json:"total"`
	Successful int                `json:"successful"`
	Failed     int                `json:"failed"`
	Results    []ProcessingResult `json:"results"`
}

// Summarize folds results into a BatchSummary.
func Summarize(results []ProcessingResult) BatchSummary {
	s := BatchSummary{Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	return s
}

// ContentType classifies a URL before fetching.
type ContentType string

// Content types produced by the URL detector.
const (
	ContentHTML    ContentType = "html"
	ContentPDF     ContentType = "pdf"
	ContentImage   ContentType = "image"
	ContentUnknown ContentType = "unknown"
)

// FetchResult is the raw payload returned by a ContentFetcher.
type FetchResult struct {
	Body     []byte
	MimeType string
	Headers  map[string][]string
}

// ProcessOutput is the cleaned artifact produced by a ContentProcessor.
type ProcessOutput struct {
	Text         string
	CleanersUsed []string
	Metadata     map[string]any
}

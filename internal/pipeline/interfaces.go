package pipeline

import (
	"context"
	"time"
)

// Ledger tracks every seen URL, its lifecycle status and content hash.
type Ledger interface {
	Exists(ctx context.Context, url string) (bool, error)
	Register(ctx context.Context, url string, metadata map[string]any) (string, error)
	RegisterWithTags(ctx context.Context, url string, metadata map[string]any, tags []string, autoCreate bool) (string, error)
	UpdateStatus(ctx context.Context, id string, status URLStatus, errText string) (bool, error)
	UpdateHash(ctx context.Context, id string, hash string) (bool, error)
	HashExists(ctx context.Context, hash string) (bool, error)
	GetURLInfo(ctx context.Context, url string) (*URLRecord, error)
	GetByHash(ctx context.Context, hash string) (*URLRecord, error)
	List(ctx context.Context, filter URLFilter) ([]URLRecord, error)
	Remove(ctx context.Context, id string) (bool, error)
}

// TagStore maintains the tag forest and URL-tag associations.
type TagStore interface {
	CreateTag(ctx context.Context, input TagInput) (*Tag, error)
	GetTagByName(ctx context.Context, name string) (*Tag, error)
	GetChildTags(ctx context.Context, tagID int64, recursive bool) ([]Tag, error)
	GetTagPath(ctx context.Context, tagID int64) ([]Tag, error)
	DeleteTag(ctx context.Context, tagID int64, deleteChildren bool) (bool, error)
	ListTags(ctx context.Context) ([]Tag, error)
	AttachTags(ctx context.Context, urlID string, names []string, autoCreate bool) ([]string, error)
	TagsForURL(ctx context.Context, urlID string) ([]Tag, error)
}

// OriginalFileStore records raw fetched artifacts. Put re-points the
// single current original for a URL.
type OriginalFileStore interface {
	Put(ctx context.Context, record OriginalFileRecord) (string, error)
	GetByURLID(ctx context.Context, urlID string) (*OriginalFileRecord, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ProcessedFileStore records cleaned artifacts. Records accumulate;
// MarkDeleted flips status instead of removing the row.
type ProcessedFileStore interface {
	Insert(ctx context.Context, record ProcessedFileRecord) (string, error)
	ListByURL(ctx context.Context, url string) ([]ProcessedFileRecord, error)
	MarkDeleted(ctx context.Context, id string) (bool, error)
}

// URLDetector resolves the content type before fetching.
type URLDetector interface {
	Detect(ctx context.Context, url string) (ContentType, error)
}

// ContentFetcher retrieves the raw bytes for a URL.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// ContentProcessor runs fetched content through the cleaner chain.
type ContentProcessor interface {
	Process(ctx context.Context, body []byte, contentType ContentType, cleaners []string) (ProcessOutput, error)
}

// FileStorage is a pluggable blob backend for originals and artifacts.
type FileStorage interface {
	Store(ctx context.Context, name string, data []byte) (string, error)
	Retrieve(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Hasher computes content digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

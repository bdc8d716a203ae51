package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by ledger and tag operations. Registration
// and taxonomy mutations report failure as errors; per-URL pipeline
// runs report failure inside ProcessingResult instead.
var (
	ErrDuplicateURL          = errors.New("url already registered")
	ErrDuplicateTagName      = errors.New("tag name already exists")
	ErrParentTagNotFound     = errors.New("parent tag not found")
	ErrTagNotFound           = errors.New("tag not found")
	ErrTagHasChildren        = errors.New("tag has children")
	ErrNoTagSupport          = errors.New("collaborator does not support tags")
	ErrRepositoryUnavailable = errors.New("repository not available")
)

// Error codes carried in ProcessingResult.Error.
const (
	CodeRegistrationError = "REGISTRATION_ERROR"
	CodeFetchError        = "FETCH_ERROR"
	CodeProcessingError   = "PROCESSING_ERROR"
	CodeStorageError      = "STORAGE_ERROR"
)

// FetchError wraps a failed fetch with the transient-retry code that
// exhausted or refused retries.
type FetchError struct {
	URL  string
	Code string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ProcessingError wraps a cleaner chain failure.
type ProcessingError struct {
	URL     string
	Cleaner string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.Cleaner != "" {
		return fmt.Sprintf("process %s (cleaner %s): %v", e.URL, e.Cleaner, e.Err)
	}
	return fmt.Sprintf("process %s: %v", e.URL, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func stageError(stage Stage, code string, err error) *ResultError {
	return &ResultError{Code: code, Message: err.Error(), Stage: stage}
}

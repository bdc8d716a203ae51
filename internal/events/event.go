// Package events fans out pipeline completion events to pluggable
// sinks. Emission is best-effort and never blocks the pipeline.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Outcome classifies how a URL run ended.
type Outcome string

// Supported outcomes.
const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeSkipped   Outcome = "SKIPPED"
	OutcomeFailed    Outcome = "FAILED"
)

// Event captures one finished URL run.
type Event struct {
	// URL is the normalized URL the run operated on.
	URL string `json:"url"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Outcome says whether the run completed, skipped or failed.
	Outcome Outcome `json:"outcome"`
	// Stage is the pipeline stage a failure occurred in, empty otherwise.
	Stage string `json:"stage,omitempty"`
	// Code is the failure code, empty on success.
	Code string `json:"code,omitempty"`
	// Dur is the wall time of the run.
	Dur time.Duration `json:"duration_ns"`
	// Tags lists the tag names applied during the run.
	Tags []string `json:"tags,omitempty"`
	// Note carries low-volume debug context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.URL == "" {
		return errors.New("url is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Outcome {
	case OutcomeCompleted, OutcomeSkipped:
	case OutcomeFailed:
		if e.Stage == "" {
			return errors.New("failure requires stage")
		}
	default:
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

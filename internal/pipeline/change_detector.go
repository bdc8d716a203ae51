package pipeline

import (
	"context"
	"fmt"
)

// ChangeDetector decides whether newly fetched content warrants
// reprocessing. It holds no hash state of its own; the ledger is the
// single source of truth for stored hashes.
type ChangeDetector struct {
	ledger Ledger
}

// NewChangeDetector creates a detector bound to the given ledger.
func NewChangeDetector(ledger Ledger) *ChangeDetector {
	return &ChangeDetector{ledger: ledger}
}

// ShouldProcess reports false only when the ledger already holds an
// identical hash for the URL. First-seen URLs and changed content
// always process.
func (d *ChangeDetector) ShouldProcess(ctx context.Context, url string, newHash string) (bool, error) {
	record, err := d.ledger.GetURLInfo(ctx, url)
	if err != nil {
		return false, fmt.Errorf("lookup url info: %w", err)
	}
	if record == nil || record.ContentHash == "" {
		return true, nil
	}
	return record.ContentHash != newHash, nil
}

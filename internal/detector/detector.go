// Package detector classifies URLs ahead of fetching so the pipeline
// can pick storage keys and cleaner defaults.
package detector

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/pagevault/ingestd/internal/pipeline"
)

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".bmp": {},
}

// Extension detects content type from the URL path extension. URLs
// without a recognizable extension are assumed to be HTML pages.
type Extension struct{}

// New returns an extension-based detector.
func New() *Extension {
	return &Extension{}
}

// Detect classifies the URL.
func (d *Extension) Detect(_ context.Context, rawURL string) (pipeline.ContentType, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return pipeline.ContentUnknown, fmt.Errorf("parse url: %w", err)
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch {
	case ext == ".pdf":
		return pipeline.ContentPDF, nil
	case isImage(ext):
		return pipeline.ContentImage, nil
	case ext == "" || ext == ".html" || ext == ".htm" || ext == ".php" || ext == ".asp" || ext == ".aspx":
		return pipeline.ContentHTML, nil
	default:
		return pipeline.ContentUnknown, nil
	}
}

func isImage(ext string) bool {
	_, ok := imageExtensions[ext]
	return ok
}

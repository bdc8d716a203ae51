package cleaner

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/pagevault/ingestd/internal/pipeline"
)

// Chain runs fetched payloads through an ordered list of cleaners. The
// caller picks the list per request; when it is empty the chain falls
// back to content-type defaults.
type Chain struct {
	registry *Registry
	defaults map[pipeline.ContentType][]string
}

// NewChain builds a processing chain over the given registry.
func NewChain(registry *Registry) *Chain {
	return &Chain{
		registry: registry,
		defaults: map[pipeline.ContentType][]string{
			pipeline.ContentHTML:    {"html_text", "whitespace"},
			pipeline.ContentUnknown: {"whitespace"},
		},
	}
}

// Process converts the payload to text and applies the cleaner chain.
// PDF and image payloads are rejected; extraction for those formats is
// a separate concern.
func (c *Chain) Process(ctx context.Context, body []byte, contentType pipeline.ContentType, cleaners []string) (pipeline.ProcessOutput, error) {
	switch contentType {
	case pipeline.ContentPDF, pipeline.ContentImage:
		return pipeline.ProcessOutput{}, fmt.Errorf("content type %s has no text cleaner", contentType)
	}
	if !utf8.Valid(body) {
		return pipeline.ProcessOutput{}, fmt.Errorf("payload is not valid utf-8")
	}

	names := cleaners
	if len(names) == 0 {
		names = c.defaults[contentType]
	}

	text := string(body)
	used := make([]string, 0, len(names))
	for _, name := range names {
		cl, err := c.registry.Get(name)
		if err != nil {
			return pipeline.ProcessOutput{}, err
		}
		text, err = cl.Clean(ctx, text)
		if err != nil {
			return pipeline.ProcessOutput{}, fmt.Errorf("cleaner %s: %w", name, err)
		}
		used = append(used, name)
	}

	return pipeline.ProcessOutput{
		Text:         text,
		CleanersUsed: used,
		Metadata: map[string]any{
			"input_bytes":  len(body),
			"output_bytes": len(text),
			"content_type": string(contentType),
		},
	}, nil
}

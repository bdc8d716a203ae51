// Package collyfetcher implements the content fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/pagevault/ingestd/internal/pipeline"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// Fetcher retrieves a single URL per call. It never follows links;
// discovery is not this component's job.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes one HTTP GET and returns the raw payload.
func (f *Fetcher) Fetch(ctx context.Context, url string) (pipeline.FetchResult, error) {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.Context = ctx

	var (
		result   pipeline.FetchResult
		fetchErr error
		status   int
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body := make([]byte, len(r.Body))
		copy(body, r.Body)
		headers := make(map[string][]string)
		if r.Headers != nil {
			for k, v := range *r.Headers {
				headers[k] = v
			}
		}
		result = pipeline.FetchResult{
			Body:     body,
			MimeType: r.Headers.Get("Content-Type"),
			Headers:  headers,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	// Visit reports HTTP-level failures through its return value as
	// well; those already reached OnError, which captured the status.
	// Only bail here when the request never went out at all.
	if err := collector.Visit(url); err != nil && fetchErr == nil && status == 0 {
		return pipeline.FetchResult{}, fmt.Errorf("visit %s: %w", url, err)
	}
	collector.Wait()

	if fetchErr != nil {
		return pipeline.FetchResult{}, fmt.Errorf("fetch %s (status %d): %w", url, status, fetchErr)
	}
	if status != 0 && status != http.StatusOK {
		return pipeline.FetchResult{}, fmt.Errorf("fetch %s: unexpected status %d", url, status)
	}
	return result, nil
}

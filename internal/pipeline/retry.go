package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"time"
)

// RetryConfig controls the transient-retry behavior of a fetch.
type RetryConfig struct {
	MaxRetries    int
	RetryDelay    time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// DefaultRetryConfig returns the retry knobs used when none are set.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		RetryDelay:    250 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      5 * time.Second,
	}
}

// RetryingFetcher decorates a ContentFetcher with jittered exponential
// backoff over a fixed allow-list of retryable conditions. Anything
// else fails immediately.
type RetryingFetcher struct {
	inner ContentFetcher
	cfg   RetryConfig
}

// NewRetryingFetcher wraps inner with retry behavior.
func NewRetryingFetcher(inner ContentFetcher, cfg RetryConfig) *RetryingFetcher {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 250 * time.Millisecond
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	return &RetryingFetcher{inner: inner, cfg: cfg}
}

// Fetch attempts the inner fetch up to MaxRetries+1 times.
func (f *RetryingFetcher) Fetch(ctx context.Context, url string) (FetchResult, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return FetchResult{}, ctx.Err()
			case <-time.After(f.backoff(attempt)):
			}
		}
		result, err := f.inner.Fetch(ctx, url)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return FetchResult{}, fmt.Errorf("fetch %s after %d attempt(s): %w", url, f.cfg.MaxRetries+1, lastErr)
}

func (f *RetryingFetcher) backoff(attempt int) time.Duration {
	delay := float64(f.cfg.RetryDelay) * math.Pow(f.cfg.BackoffFactor, float64(attempt-1))
	if delay > float64(f.cfg.MaxDelay) {
		delay = float64(f.cfg.MaxDelay)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

// retryable limits retries to transient network conditions: timeouts,
// reset connections and temporary DNS failures.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsNotFound
	}
	return false
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

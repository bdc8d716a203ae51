// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestURLsTotal            *prometheus.CounterVec
	ingestBytesTotal           *prometheus.CounterVec
	ingestStageDurationSeconds *prometheus.HistogramVec
	ingestBatchesTotal         prometheus.Counter
	ingestActiveRuns           prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_urls_total",
				Help: "Total URL runs, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		ingestBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_bytes_total",
				Help: "Total bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		ingestStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_stage_duration_seconds",
				Help:    "Histogram of pipeline stage latencies.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"stage"},
		)

		ingestBatchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_batches_total",
				Help: "Total batch runs submitted.",
			},
		)

		ingestActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_runs",
				Help: "Number of URL runs currently in flight.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun increments the per-URL run metrics.
func ObserveRun(site string, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	ingestURLsTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		ingestBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveStage records the duration of one pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	ingestStageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveBatch increments the batch counter.
func ObserveBatch() {
	Init()
	ingestBatchesTotal.Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	ingestActiveRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	ingestActiveRuns.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

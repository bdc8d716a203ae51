package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pagevault/ingestd/internal/events"
)

// PrometheusSink exports ingestion outcome metrics. It owns the
// collectors for per-outcome counts and run durations.
type PrometheusSink struct {
	urlsProcessed *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	failures      *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided
// registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		urlsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_urls_processed_total",
			Help: "URL runs partitioned by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_run_duration_seconds",
			Help:    "Wall time per URL run partitioned by outcome.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_failures_total",
			Help: "Failed URL runs partitioned by stage and code.",
		}, []string{"stage", "code"}),
	}
	for _, collector := range []prometheus.Collector{
		s.urlsProcessed,
		s.runDuration,
		s.failures,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent
// use.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		outcome := string(evt.Outcome)
		s.urlsProcessed.WithLabelValues(outcome).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
		}
		if evt.Outcome == events.OutcomeFailed {
			s.failures.WithLabelValues(evt.Stage, evt.Code).Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

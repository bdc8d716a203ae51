// Package sinks contains event sink implementations for the hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/pagevault/ingestd/internal/events"
)

// LogSink emits structured logs for debugging event streams.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Info("url processed",
			zap.String("url", evt.URL),
			zap.String("outcome", string(evt.Outcome)),
			zap.String("stage", evt.Stage),
			zap.String("code", evt.Code),
			zap.Duration("dur", evt.Dur),
			zap.Strings("tags", evt.Tags),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

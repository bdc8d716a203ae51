package sinks

import (
	"context"
	"fmt"

	"github.com/pagevault/ingestd/internal/events"
	"github.com/pagevault/ingestd/internal/events/publisher"
)

// PublishSink forwards each event to an outbound publisher, one
// message per event.
type PublishSink struct {
	pub   publisher.Publisher
	topic string
}

// NewPublishSink wires a publisher to the sink interface.
func NewPublishSink(pub publisher.Publisher, topic string) *PublishSink {
	return &PublishSink{pub: pub, topic: topic}
}

// Consume publishes every event in the batch. The first publish error
// aborts the batch; the hub logs and moves on.
func (s *PublishSink) Consume(ctx context.Context, batch []events.Event) error {
	if s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		if _, err := s.pub.Publish(ctx, s.topic, evt); err != nil {
			return fmt.Errorf("publish event for %s: %w", evt.URL, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}

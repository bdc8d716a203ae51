// Package publisher defines the outbound message contract used by the
// event sinks.
package publisher

import "context"

// Publisher delivers a payload to a named topic and returns the
// broker-assigned message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

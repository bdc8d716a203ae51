package events

import (
	"github.com/pagevault/ingestd/internal/pipeline"
)

// Notifier adapts pipeline completion callbacks onto the hub.
type Notifier struct {
	emitter Emitter
	clock   pipeline.Clock
}

// NewNotifier wires an Emitter into the pipeline's Notifier contract.
func NewNotifier(emitter Emitter, clock pipeline.Clock) *Notifier {
	return &Notifier{emitter: emitter, clock: clock}
}

// URLProcessed converts the result into an Event and emits it.
func (n *Notifier) URLProcessed(result pipeline.ProcessingResult) {
	if n == nil || n.emitter == nil {
		return
	}
	evt := Event{
		URL:  result.URL,
		TS:   n.clock.Now(),
		Dur:  result.Duration,
		Tags: result.TagsApplied,
	}
	switch {
	case result.Error != nil:
		evt.Outcome = OutcomeFailed
		evt.Stage = string(result.Error.Stage)
		evt.Code = result.Error.Code
		evt.Note = result.Error.Message
	case result.Skipped:
		evt.Outcome = OutcomeSkipped
	default:
		evt.Outcome = OutcomeCompleted
	}
	n.emitter.Emit(evt)
}

package composite

import (
	"context"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
)

// Sink fans a run snapshot out to every configured sink.
type Sink struct {
	sinks []port.RunEventSink
}

func New(sinks ...port.RunEventSink) *Sink {
	// nil entries are dropped
	out := make([]port.RunEventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Sink{sinks: out}
}

// Add registers another sink after construction.
func (c *Sink) Add(s port.RunEventSink) {
	if s != nil {
		c.sinks = append(c.sinks, s)
	}
}

func (c *Sink) Len() int { return len(c.sinks) }

// PublishRun delivers to all sinks and returns the first error.
func (c *Sink) PublishRun(ctx context.Context, run model.SyncRun) error {
	var firstErr error
	for _, s := range c.sinks {
		if err := s.PublishRun(ctx, run); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.RunEventSink = (*Sink)(nil)

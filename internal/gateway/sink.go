package gateway

import (
	"context"
	"errors"

	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
)

// ErrQueueFull is returned by QueueSink when the queue rejects an event.
var ErrQueueFull = errors.New("event queue full")

// Sink receives the events the gateway forwards.
type Sink interface {
	Forward(ctx context.Context, event domain.Event) error
}

// FuncSink forwards by calling a function, the counterpart of a global event function.
type FuncSink func(ctx context.Context, event domain.Event) error

// Forward calls f.
func (f FuncSink) Forward(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// Queue accepts events without blocking and reports whether it kept them.
type Queue interface {
	Send(event domain.Event) bool
}

// QueueSink pushes events onto a queue, the counterpart of a global data layer array.
type QueueSink struct {
	queue Queue
}

// NewQueueSink wraps q.
func NewQueueSink(q Queue) *QueueSink {
	return &QueueSink{queue: q}
}

// Forward pushes event onto the queue.
func (s *QueueSink) Forward(_ context.Context, event domain.Event) error {
	if !s.queue.Send(event) {
		return ErrQueueFull
	}
	return nil
}

type nopSink struct{}

func (nopSink) Forward(context.Context, domain.Event) error { return nil }

// NopSink returns a sink that drops everything.
func NopSink() Sink {
	return nopSink{}
}

// SelectSink picks the sink once at construction: the function sink when
// present, otherwise the queue sink, otherwise a no-op.
func SelectSink(fn FuncSink, queue Queue) Sink {
	switch {
	case fn != nil:
		return fn
	case queue != nil:
		return NewQueueSink(queue)
	default:
		return NopSink()
	}
}

// Package gatewaytest provides a recording sink for engine tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/gateway"
)

// Recorder is a Sink that keeps every forwarded event.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// Forward records event.
func (r *Recorder) Forward(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events called name.
func (r *Recorder) Named(name string) []domain.Event {
	var out []domain.Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// NewGateway returns a gateway recording into a fresh Recorder with dedup disabled.
func NewGateway(opts ...gateway.Option) (*gateway.Gateway, *Recorder) {
	rec := &Recorder{}
	opts = append([]gateway.Option{gateway.WithDedupWindow(0)}, opts...)
	return gateway.New(rec, opts...), rec
}

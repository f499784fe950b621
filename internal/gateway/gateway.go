// Package gateway is the single chokepoint through which every engine reports
// events. Emission is fire-and-forget: nothing here returns an error or panics.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
)

// Defaults for the gateway.
const (
	DefaultDedupWindow    = time.Second
	DefaultForwardTimeout = 2 * time.Second
	maxDedupEntries       = 1000
)

// Drop reasons reported to the Observer.
const (
	DropInvalidName = "invalid_name"
	DropDuplicate   = "duplicate"
	DropSinkError   = "sink_error"
	DropPanic       = "panic"
)

// debugModeParam is added to every Emit in development mode.
const debugModeParam = "debug_mode"

// Observer is told about every forward and drop. internal/metrics implements it.
type Observer interface {
	Forwarded(name string)
	Dropped(name, reason string)
}

type nopObserver struct{}

func (nopObserver) Forwarded(string) {}

func (nopObserver) Dropped(string, string) {}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock sets the clock used for timestamps and dedup windows.
func WithClock(clock clockwork.Clock) Option {
	return func(g *Gateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithLogger sets the logger. It is only written to in development mode.
func WithLogger(log infralogger.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// WithDevelopment enables failure logging and the debug_mode parameter.
func WithDevelopment(development bool) Option {
	return func(g *Gateway) {
		g.development = development
	}
}

// WithDedupWindow sets the duplicate suppression window. Zero disables it.
func WithDedupWindow(window time.Duration) Option {
	return func(g *Gateway) {
		if window >= 0 {
			g.dedupWindow = window
		}
	}
}

// WithForwardTimeout bounds each sink call.
func WithForwardTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.forwardTimeout = timeout
		}
	}
}

// WithObserver sets the forward/drop observer.
func WithObserver(o Observer) Option {
	return func(g *Gateway) {
		if o != nil {
			g.observer = o
		}
	}
}

// Gateway forwards events to the sink chosen at construction.
type Gateway struct {
	sink           Sink
	clock          clockwork.Clock
	log            infralogger.Logger
	observer       Observer
	development    bool
	dedupWindow    time.Duration
	forwardTimeout time.Duration

	visitorID string
	pageID    string

	mu        sync.Mutex
	lastSent  map[string]time.Time
	sentOrder []string
}

// New creates a Gateway forwarding to sink. A nil sink is a no-op sink.
func New(sink Sink, opts ...Option) *Gateway {
	if sink == nil {
		sink = NopSink()
	}

	g := &Gateway{
		sink:           sink,
		clock:          clockwork.NewRealClock(),
		log:            infralogger.NewNop(),
		observer:       nopObserver{},
		dedupWindow:    DefaultDedupWindow,
		forwardTimeout: DefaultForwardTimeout,
		lastSent:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Scoped returns a gateway whose events carry visitorID and pageID. It has its
// own dedup table. Without consent the scoped gateway forwards nothing.
func (g *Gateway) Scoped(visitorID, pageID string, consent bool) *Gateway {
	sink := g.sink
	if !consent {
		sink = NopSink()
	}

	return &Gateway{
		sink:           sink,
		clock:          g.clock,
		log:            g.log.With(infralogger.String("visitor_id", visitorID), infralogger.String("page_id", pageID)),
		observer:       g.observer,
		development:    g.development,
		dedupWindow:    g.dedupWindow,
		forwardTimeout: g.forwardTimeout,
		visitorID:      visitorID,
		pageID:         pageID,
		lastSent:       make(map[string]time.Time),
	}
}

// Emit validates, sanitizes and de-duplicates an event, then forwards it.
func (g *Gateway) Emit(name string, params map[string]any) {
	g.emit(name, params, true)
}

// EmitFinal is Emit without duplicate suppression. Teardown flushes use it:
// a final report must reach the sink even when it matches one sent moments ago.
// The event is still recorded in the dedup table.
func (g *Gateway) EmitFinal(name string, params map[string]any) {
	g.emit(name, params, false)
}

func (g *Gateway) emit(name string, params map[string]any, dedup bool) {
	defer g.recoverPanic(name)

	if !ValidEventName(name) {
		g.drop(name, DropInvalidName, nil)
		return
	}

	sanitized := SanitizeParams(params)
	if g.isDuplicate(name, sanitized) && dedup {
		g.drop(name, DropDuplicate, nil)
		return
	}

	if g.development {
		sanitized[debugModeParam] = true
	}

	g.forward(name, sanitized)
}

// PushData forwards {event: name, ...params} as-is, bypassing the name and
// parameter limits and the dedup table.
func (g *Gateway) PushData(name string, params map[string]any) {
	defer g.recoverPanic(name)

	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}

	g.forward(name, copied)
}

func (g *Gateway) forward(name string, params map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), g.forwardTimeout)
	defer cancel()

	event := domain.Event{
		Name:      name,
		Params:    params,
		VisitorID: g.visitorID,
		PageID:    g.pageID,
		EmittedAt: g.clock.Now(),
	}

	if err := g.sink.Forward(ctx, event); err != nil {
		g.drop(name, DropSinkError, err)
		return
	}

	g.observer.Forwarded(name)
}

func (g *Gateway) isDuplicate(name string, params map[string]any) bool {
	if g.dedupWindow == 0 {
		return false
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return false
	}
	key := name + "_" + string(encoded)
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.lastSent[key]; ok && now.Sub(last) < g.dedupWindow {
		return true
	}

	if _, ok := g.lastSent[key]; !ok {
		g.sentOrder = append(g.sentOrder, key)
	}
	g.lastSent[key] = now

	if len(g.sentOrder) > maxDedupEntries {
		oldest := g.sentOrder[0]
		g.sentOrder = g.sentOrder[1:]
		delete(g.lastSent, oldest)
	}

	return false
}

func (g *Gateway) drop(name, reason string, err error) {
	g.observer.Dropped(name, reason)

	if !g.development {
		return
	}

	fields := []infralogger.Field{
		infralogger.String("event", name),
		infralogger.String("reason", reason),
	}
	if err != nil {
		fields = append(fields, infralogger.Error(err))
	}
	g.log.Warn("Event not forwarded", fields...)
}

func (g *Gateway) recoverPanic(name string) {
	if r := recover(); r != nil {
		g.drop(name, DropPanic, fmt.Errorf("recovered: %v", r))
	}
}

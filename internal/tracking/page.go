// Package tracking hosts the engines of each live page and routes browser
// signals to them.
package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/activity"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/heuristics"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/session"
)

var (
	// ErrInvalidSignal is returned for a signal missing what its type needs.
	ErrInvalidSignal = errors.New("invalid signal")
	// ErrPageClosed is returned when dispatching to a destroyed page.
	ErrPageClosed = errors.New("page is closed")
)

// Emitter receives engine events. *gateway.Gateway implements it.
type Emitter interface {
	Emit(name string, params map[string]any)
	EmitFinal(name string, params map[string]any)
}

// Page is one page lifetime: a session-quality tracker and a heuristics
// engine sharing one emitter.
type Page struct {
	id        string
	visitorID string
	emitter   Emitter
	clock     clockwork.Clock
	log       infralogger.Logger
	tracker   *session.Tracker
	engine    *heuristics.Engine

	mu        sync.Mutex
	lastSeen  time.Time
	started   bool
	destroyed bool
}

// NewPage creates a page whose engines report through emitter.
func NewPage(id, visitorID string, emitter Emitter, clock clockwork.Clock, log infralogger.Logger) *Page {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = infralogger.NewNop()
	}

	return &Page{
		id:        id,
		visitorID: visitorID,
		emitter:   emitter,
		clock:     clock,
		log:       log,
		tracker:   session.NewTracker(emitter, session.WithClock(clock)),
		engine:    heuristics.NewEngine(emitter, heuristics.WithClock(clock), heuristics.WithLogger(log)),
		lastSeen:  clock.Now(),
	}
}

// ID returns the page id.
func (p *Page) ID() string { return p.id }

// VisitorID returns the visitor the page belongs to.
func (p *Page) VisitorID() string { return p.visitorID }

// Init starts the engines and counts the first page view. ctx bounds the
// tracker's ticker and must outlive the request that opened the page.
func (p *Page) Init(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.destroyed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.tracker.IncrementPageViews()
	p.tracker.Start(ctx)
}

// Navigate records a client-side navigation that keeps this page lifetime.
func (p *Page) Navigate() {
	p.touch()
	p.tracker.IncrementPageViews()
}

// Dispatch routes one browser signal to the engines.
func (p *Page) Dispatch(sig domain.Signal) error {
	if !sig.Valid() {
		return ErrInvalidSignal
	}
	if p.Closed() {
		return ErrPageClosed
	}
	p.touch()

	switch sig.Type {
	case domain.SignalActivity:
		p.tracker.RecordActivity()
	case domain.SignalClick:
		p.tracker.RecordActivity()
		p.tracker.RecordClick()
		p.engine.HandleClick(*sig.Element)
	case domain.SignalScroll:
		p.tracker.RecordActivity()
		p.tracker.RecordScroll(sig.Depth)
	case domain.SignalVisibility:
		p.tracker.SetVisibility(sig.Hidden)
		p.engine.SetVisibility(sig.Hidden)
	}

	return nil
}

// Destroy stops both engines, flushes session quality and emits
// page_engagement_summary. Later calls do nothing.
func (p *Page) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.mu.Unlock()

	p.tracker.Destroy()
	visibility := p.engine.Destroy()
	snapshot := p.tracker.Snapshot()

	p.emitter.EmitFinal(domain.EventPageEngagementSummary, SummaryParams(snapshot, visibility))
	p.log.Debug("Page destroyed",
		infralogger.String("page_id", p.id),
		infralogger.Int("clicks", snapshot.Clicks),
	)
}

// SummaryParams builds the page_engagement_summary parameters.
func SummaryParams(snapshot session.Snapshot, visibility heuristics.Visibility) map[string]any {
	return map[string]any{
		"total_time":       seconds(snapshot.Elapsed),
		"active_time":      seconds(snapshot.Engaged),
		"idle_time":        seconds(snapshot.Idle),
		"visible_time":     seconds(visibility.Visible),
		"hidden_time":      seconds(visibility.Hidden),
		"engagement_rate":  activity.Rate(snapshot.Engaged, snapshot.Elapsed),
		"max_scroll_depth": snapshot.ScrollDepth,
	}
}

func seconds(d time.Duration) int {
	return int(d.Round(time.Second) / time.Second)
}

// Closed reports whether Destroy has run.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// LastSeen returns when the page last received a signal or navigation.
func (p *Page) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

// Snapshot returns the session-quality metrics of the page.
func (p *Page) Snapshot() session.Snapshot {
	return p.tracker.Snapshot()
}

func (p *Page) touch() {
	p.mu.Lock()
	p.lastSeen = p.clock.Now()
	p.mu.Unlock()
}

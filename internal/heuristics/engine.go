// Package heuristics detects rage clicks and dead clicks and accounts for the
// time a page spends visible and hidden.
package heuristics

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
)

// Rage click detection.
const (
	RageClickThreshold = 3
	RageClickWindow    = time.Second
)

// Visibility states reported in page_visibility_change.
const (
	StateVisible = "visible"
	StateHidden  = "hidden"
)

// Emitter receives engine events. *gateway.Gateway implements it.
type Emitter interface {
	Emit(name string, params map[string]any)
}

// Visibility is the accumulated visible and hidden time of a page.
type Visibility struct {
	Visible time.Duration
	Hidden  time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for click and visibility timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the logger detections are reported to at debug level.
func WithLogger(log infralogger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// Engine watches one page's clicks and visibility.
type Engine struct {
	emitter Emitter
	clock   clockwork.Clock
	log     infralogger.Logger

	mu         sync.Mutex
	clicks     map[string][]time.Time
	hidden     bool
	stateSince time.Time
	totals     Visibility
	destroyed  bool
}

// NewEngine creates an engine for a page that is visible now.
func NewEngine(emitter Emitter, opts ...Option) *Engine {
	e := &Engine{
		emitter: emitter,
		clock:   clockwork.NewRealClock(),
		log:     infralogger.NewNop(),
		clicks:  make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.stateSince = e.clock.Now()

	return e
}

// HandleClick runs rage and dead click detection for one click on el.
// Clicks without an element key are ignored.
func (e *Engine) HandleClick(el domain.Element) {
	if el.Key == "" {
		return
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	rageCount := e.recordClickLocked(el.Key, e.clock.Now())
	e.mu.Unlock()

	if rageCount > 0 {
		params := elementParams(el)
		params["click_count"] = rageCount
		e.log.Debug("Rage click detected", infralogger.String("selector", Selector(el)))
		e.emitter.Emit(domain.EventRageClick, params)
	}

	if !Interactive(el) {
		e.log.Debug("Dead click detected", infralogger.String("selector", Selector(el)))
		e.emitter.Emit(domain.EventDeadClick, elementParams(el))
	}
}

// recordClickLocked appends now to key's history, keeps only clicks strictly
// inside the trailing window and returns the count when it reaches the
// threshold, clearing the history. Otherwise it returns 0.
func (e *Engine) recordClickLocked(key string, now time.Time) int {
	history := append(e.clicks[key], now)

	recent := history[:0]
	for _, ts := range history {
		if now.Sub(ts) < RageClickWindow {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= RageClickThreshold {
		delete(e.clicks, key)
		return len(recent)
	}

	e.clicks[key] = recent
	return 0
}

// SetVisibility records a visibility transition and emits
// page_visibility_change with the time spent in the state just left.
// Reporting the current state again is not a transition.
func (e *Engine) SetVisibility(hidden bool) {
	e.mu.Lock()
	if e.destroyed || hidden == e.hidden {
		e.mu.Unlock()
		return
	}

	now := e.clock.Now()
	elapsed := e.closeIntervalLocked(now)
	e.hidden = hidden
	e.mu.Unlock()

	params := map[string]any{}
	if hidden {
		params["visibility_state"] = StateHidden
		params["time_visible"] = roundSeconds(elapsed)
	} else {
		params["visibility_state"] = StateVisible
		params["time_hidden"] = roundSeconds(elapsed)
	}
	e.emitter.Emit(domain.EventPageVisibilityChange, params)
}

// closeIntervalLocked credits the time since the last transition to the
// current state and starts a new interval at now.
func (e *Engine) closeIntervalLocked(now time.Time) time.Duration {
	elapsed := now.Sub(e.stateSince)
	if e.hidden {
		e.totals.Hidden += elapsed
	} else {
		e.totals.Visible += elapsed
	}
	e.stateSince = now
	return elapsed
}

// Visibility returns the totals including the open interval.
func (e *Engine) Visibility() Visibility {
	e.mu.Lock()
	defer e.mu.Unlock()

	totals := e.totals
	if e.destroyed {
		return totals
	}

	open := e.clock.Since(e.stateSince)
	if e.hidden {
		totals.Hidden += open
	} else {
		totals.Visible += open
	}
	return totals
}

// Destroy closes the open visibility interval and stops detection. It
// returns the final totals. Later calls return the same totals.
func (e *Engine) Destroy() Visibility {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.destroyed {
		e.closeIntervalLocked(e.clock.Now())
		e.clicks = make(map[string][]time.Time)
		e.destroyed = true
	}
	return e.totals
}

func roundSeconds(d time.Duration) int {
	return int(d.Round(time.Second) / time.Second)
}

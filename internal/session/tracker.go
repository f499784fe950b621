// Package session scores the quality of one page lifetime from its
// interaction signals and reports session_quality events.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/activity"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
)

// ScrollSettleDelay is how long after the last scroll signal a summary is sent.
const ScrollSettleDelay = 5 * time.Second

// Scroll watermarks that trigger an emission when first crossed.
const (
	scrollHalf   = 50
	scrollNearly = 90
)

// clickEmitEvery is the click cadence after the first click.
const clickEmitEvery = 5

// EventCategory is the event_category of every session_quality event.
const EventCategory = "Engagement"

// Emitter receives engine events. *gateway.Gateway implements it.
// EmitFinal carries the teardown flush and is never suppressed as a duplicate.
type Emitter interface {
	Emit(name string, params map[string]any)
	EmitFinal(name string, params map[string]any)
}

// Snapshot is the current metric state of a Tracker.
type Snapshot struct {
	Start       time.Time
	Elapsed     time.Duration
	Engaged     time.Duration
	Idle        time.Duration
	Rate        int
	ScrollDepth int
	Clicks      int
	PageViews   int
	Phase       activity.Phase
	Quality     Quality
}

// Params returns the session_quality parameters of s.
func (s Snapshot) Params() map[string]any {
	return map[string]any{
		"event_category":   EventCategory,
		"session_duration": roundSeconds(s.Elapsed),
		"engagement_time":  roundSeconds(s.Engaged),
		"engagement_rate":  s.Rate,
		"scroll_depth":     s.ScrollDepth,
		"clicks":           s.Clicks,
		"page_views":       s.PageViews,
		"session_quality":  string(s.Quality),
		"non_interaction":  true,
	}
}

func roundSeconds(d time.Duration) int {
	return int(d.Round(time.Second) / time.Second)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock driving the ticker and the scroll-settle timer.
func WithClock(clock clockwork.Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// Tracker accrues engagement for one page lifetime. All methods are safe for
// concurrent use and are serialized by the tracker's mutex.
type Tracker struct {
	emitter Emitter
	clock   clockwork.Clock

	mu          sync.Mutex
	start       time.Time
	accrual     activity.Accrual
	scrollDepth int
	clicks      int
	pageViews   int
	settle      clockwork.Timer
	cancel      context.CancelFunc
	done        chan struct{}
	destroyed   bool
}

// NewTracker creates a tracker whose clock starts now.
func NewTracker(emitter Emitter, opts ...Option) *Tracker {
	t := &Tracker{emitter: emitter, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(t)
	}

	t.start = t.clock.Now()
	t.accrual = activity.Start(t.start)

	return t
}

// Start runs the once-per-second accrual tick until ctx ends or Destroy is
// called. Calling Start twice has no effect.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.destroyed || t.cancel != nil {
		return
	}

	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	ticker := t.clock.NewTicker(activity.TickInterval)

	go func() {
		defer close(t.done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				t.Tick()
			}
		}
	}()
}

// Tick applies one accrual step. It is a no-op after Destroy.
func (t *Tracker) Tick() {
	t.apply(activity.InputTick)
}

// RecordActivity marks pointer, key, scroll or touch input.
func (t *Tracker) RecordActivity() {
	t.apply(activity.InputActivity)
}

// SetVisibility pauses accrual while hidden and resumes it when visible.
func (t *Tracker) SetVisibility(hidden bool) {
	if hidden {
		t.apply(activity.InputHidden)
		return
	}
	t.apply(activity.InputVisible)
}

func (t *Tracker) apply(in activity.Input) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.destroyed {
		return
	}
	t.accrual = activity.Apply(t.accrual, in, t.clock.Now())
}

// RecordClick counts a click and emits on the first and every fifth click.
func (t *Tracker) RecordClick() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.clicks++
	emit := t.clicks == 1 || t.clicks%clickEmitEvery == 0
	params, ok := t.paramsLocked()
	t.mu.Unlock()

	if emit && ok {
		t.emitter.Emit(domain.EventSessionQuality, params)
	}
}

// RecordScroll raises the scroll watermark to depth, emits on the first
// crossing of 50% or 90%, and re-arms the scroll-settle timer.
func (t *Tracker) RecordScroll(depth int) {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}

	previous := t.scrollDepth
	t.scrollDepth = max(t.scrollDepth, depth)
	crossed := (depth >= scrollHalf && previous < scrollHalf) ||
		(depth >= scrollNearly && previous < scrollNearly)

	if t.settle != nil {
		t.settle.Stop()
	}
	t.settle = t.clock.AfterFunc(ScrollSettleDelay, t.scrollSettled)

	params, ok := t.paramsLocked()
	t.mu.Unlock()

	if crossed && ok {
		t.emitter.Emit(domain.EventSessionQuality, params)
	}
}

func (t *Tracker) scrollSettled() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.settle = nil
	params, ok := t.paramsLocked()
	depth := t.scrollDepth
	t.mu.Unlock()

	if depth > 0 && ok {
		t.emitter.Emit(domain.EventSessionQuality, params)
	}
}

// IncrementPageViews counts a page view, including client-side navigations.
func (t *Tracker) IncrementPageViews() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.destroyed {
		t.pageViews++
	}
}

// Flush emits session_quality now unless nothing has been recorded yet.
func (t *Tracker) Flush() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	params, ok := t.paramsLocked()
	t.mu.Unlock()

	if ok {
		t.emitter.Emit(domain.EventSessionQuality, params)
	}
}

// Destroy stops the ticker and the scroll-settle timer, then performs one
// final flush. Later calls do nothing.
func (t *Tracker) Destroy() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}

	if t.settle != nil {
		t.settle.Stop()
		t.settle = nil
	}
	cancel, done := t.cancel, t.done
	params, ok := t.paramsLocked()
	t.destroyed = true
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if ok {
		t.emitter.EmitFinal(domain.EventSessionQuality, params)
	}
}

// Snapshot returns the current metrics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	elapsed := t.clock.Since(t.start)
	rate := activity.Rate(t.accrual.Engaged, elapsed)

	return Snapshot{
		Start:       t.start,
		Elapsed:     elapsed,
		Engaged:     t.accrual.Engaged,
		Idle:        t.accrual.Idle,
		Rate:        rate,
		ScrollDepth: t.scrollDepth,
		Clicks:      t.clicks,
		PageViews:   t.pageViews,
		Phase:       t.accrual.Phase,
		Quality:     Classify(rate, t.accrual.Engaged, t.pageViews),
	}
}

// paramsLocked returns the event parameters, or false while there is nothing
// to report.
func (t *Tracker) paramsLocked() (map[string]any, bool) {
	if t.clicks == 0 && t.scrollDepth == 0 {
		return nil, false
	}
	return t.snapshotLocked().Params(), true
}

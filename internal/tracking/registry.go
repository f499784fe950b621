package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/gateway"
)

// DefaultIdleTimeout is how long a page may go without signals before Sweep
// destroys it.
const DefaultIdleTimeout = 30 * time.Minute

// Gauge tracks the number of live pages. prometheus.Gauge implements it.
type Gauge interface {
	Set(float64)
}

// OpenRequest describes a page view.
type OpenRequest struct {
	PageID    string
	VisitorID string
	Consent   bool
	// Navigation marks a client-side navigation within an existing page lifetime.
	Navigation bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock sets the clock used by pages and the sweep.
func WithRegistryClock(clock clockwork.Clock) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithIdleTimeout sets the sweep idle timeout.
func WithIdleTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.idleTimeout = timeout
		}
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(log infralogger.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithGauge reports the live page count to g.
func WithGauge(g Gauge) RegistryOption {
	return func(r *Registry) {
		r.gauge = g
	}
}

// Registry owns the live pages.
type Registry struct {
	gateway     *gateway.Gateway
	clock       clockwork.Clock
	log         infralogger.Logger
	idleTimeout time.Duration
	gauge       Gauge

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	pages map[string]*Page
}

// NewRegistry creates a registry whose pages report through gw.
func NewRegistry(gw *gateway.Gateway, opts ...RegistryOption) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		gateway:     gw,
		clock:       clockwork.NewRealClock(),
		log:         infralogger.NewNop(),
		idleTimeout: DefaultIdleTimeout,
		ctx:         ctx,
		cancel:      cancel,
		pages:       make(map[string]*Page),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open starts a page for req. A navigation for a live page id keeps the page
// and counts another page view. Otherwise any page with the same id is
// destroyed and replaced. The bool reports whether a new page was created.
func (r *Registry) Open(req OpenRequest) (*Page, bool) {
	r.mu.Lock()
	existing, ok := r.pages[req.PageID]
	if ok && req.Navigation && !existing.Closed() {
		r.mu.Unlock()
		existing.Navigate()
		return existing, false
	}

	emitter := r.gateway.Scoped(req.VisitorID, req.PageID, req.Consent)
	page := NewPage(req.PageID, req.VisitorID, emitter, r.clock,
		r.log.With(infralogger.String("page_id", req.PageID)))
	r.pages[req.PageID] = page
	r.updateGaugeLocked()
	r.mu.Unlock()

	if ok {
		existing.Destroy()
	}
	page.Init(r.ctx)

	return page, true
}

// Get returns the live page with id.
func (r *Registry) Get(id string) (*Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	page, ok := r.pages[id]
	return page, ok
}

// Close destroys the page with id. It reports whether the page existed.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	page, ok := r.pages[id]
	if ok {
		delete(r.pages, id)
		r.updateGaugeLocked()
	}
	r.mu.Unlock()

	if ok {
		page.Destroy()
	}
	return ok
}

// Sweep destroys pages idle since before now minus the idle timeout and
// returns how many it destroyed.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.idleTimeout)

	r.mu.Lock()
	var stale []*Page
	for id, page := range r.pages {
		if page.LastSeen().Before(cutoff) {
			stale = append(stale, page)
			delete(r.pages, id)
		}
	}
	r.updateGaugeLocked()
	r.mu.Unlock()

	for _, page := range stale {
		page.Destroy()
	}
	if len(stale) > 0 {
		r.log.Info("Swept idle pages", infralogger.Int("count", len(stale)))
	}

	return len(stale)
}

// SweepNow runs Sweep at the registry clock's current time.
func (r *Registry) SweepNow() int {
	return r.Sweep(r.clock.Now())
}

// Len returns the number of live pages.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages)
}

// CloseAll destroys every page. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	pages := r.pages
	r.pages = make(map[string]*Page)
	r.updateGaugeLocked()
	r.mu.Unlock()

	for _, page := range pages {
		page.Destroy()
	}
	r.cancel()
}

func (r *Registry) updateGaugeLocked() {
	if r.gauge != nil {
		r.gauge.Set(float64(len(r.pages)))
	}
}

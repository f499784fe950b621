// Package attribution classifies traffic sources and merges each page view
// into a visitor's durable first-touch/last-touch record.
package attribution

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
)

// SessionWindow is the inactivity gap after which a page view starts a new session.
const SessionWindow = 30 * time.Minute

// Stable storage keys.
const (
	KeyFirstTouch     = "auxo_utm_first_touch"
	KeyLastTouch      = "auxo_utm_last_touch"
	KeySessionCount   = "auxo_session_count"
	KeyCurrentSession = "auxo_current_session_utm"
)

// Campaign aliases added to AttributionParams.
const (
	ParamCampaignName = "campaign_name"
	ParamCampaignID   = "campaign_id"
	ParamSessionCount = "session_count"
)

// Region is a string key-value store. Get reports a missing key with ok=false.
type Region interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// DataPusher receives attribution_data_ready. *gateway.Gateway implements it.
type DataPusher interface {
	PushData(name string, params map[string]any)
}

// Navigation is one page view as seen by the attribution engine.
type Navigation struct {
	Query    url.Values
	Referrer string
	// Host is the hostname of the page being viewed.
	Host string
}

// NavigationFromURL builds a Navigation from the page URL and referrer.
func NavigationFromURL(rawURL, referrer string) (Navigation, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Navigation{}, err
	}
	return Navigation{Query: u.Query(), Referrer: referrer, Host: u.Hostname()}, nil
}

// Engine reads and writes one visitor's attribution state.
// Durable holds the record; session holds the current-session snapshot.
type Engine struct {
	durable Region
	session Region
	log     infralogger.Logger
}

// NewEngine creates an Engine over the two regions.
func NewEngine(durable, session Region, log infralogger.Logger) *Engine {
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Engine{durable: durable, session: session, log: log}
}

// CaptureAndMerge classifies nav and merges it into the stored record.
// The first touch is written once and never changed. A new session replaces
// the last touch and increments the session count; otherwise only the last
// touch timestamp advances.
func (e *Engine) CaptureAndMerge(ctx context.Context, nav Navigation, now time.Time) domain.AttributionRecord {
	nowMs := now.UnixMilli()
	current := NewTouch(nav.Query, nav.Referrer, nav.Host)
	hasParams := len(current.Params) > 0
	_, hasSnapshot := e.loadSnapshot(ctx)

	record, found := e.loadRecord(ctx)
	switch {
	case !found:
		record = domain.AttributionRecord{
			FirstTouch:   current.WithTimestamp(nowMs),
			LastTouch:    current.WithTimestamp(nowMs),
			SessionCount: 1,
		}
	case !hasSnapshot || hasParams || nowMs-record.LastTouch.Timestamp > SessionWindow.Milliseconds():
		record.LastTouch = current.WithTimestamp(nowMs)
		record.SessionCount++
	default:
		record.LastTouch = record.LastTouch.WithTimestamp(nowMs)
	}

	e.saveRecord(ctx, record)
	e.saveSnapshot(ctx, current)

	return record
}

// AttributionData captures nav and returns the record without timestamps.
func (e *Engine) AttributionData(ctx context.Context, nav Navigation, now time.Time) domain.AttributionView {
	return e.CaptureAndMerge(ctx, nav, now).View()
}

// AttributionParams captures nav and returns a flat map for event parameters:
// session_count, the last-touch fields and campaign aliases.
func (e *Engine) AttributionParams(ctx context.Context, nav Navigation, now time.Time) map[string]any {
	return LastTouchParams(e.AttributionData(ctx, nav, now))
}

// Publish captures nav and pushes attribution_data_ready through pusher.
func (e *Engine) Publish(ctx context.Context, nav Navigation, now time.Time, pusher DataPusher) domain.AttributionView {
	view := e.AttributionData(ctx, nav, now)
	pusher.PushData(domain.EventAttributionDataReady, DataLayerParams(view))
	return view
}

// LastTouchParams flattens view into session_count, the last-touch fields and
// campaign_name/campaign_id aliases.
func LastTouchParams(view domain.AttributionView) map[string]any {
	params := make(map[string]any, len(view.LastTouch)+3)
	params[ParamSessionCount] = view.SessionCount
	for k, v := range view.LastTouch {
		params[k] = v
	}
	if campaign := view.LastTouch[domain.ParamUTMCampaign]; campaign != "" {
		params[ParamCampaignName] = campaign
	}
	if id := view.LastTouch[domain.ParamUTMID]; id != "" {
		params[ParamCampaignID] = id
	}
	return params
}

// DataLayerParams returns session_count plus ft_ and lt_ prefixed touch fields
// and the unprefixed last-touch fields.
func DataLayerParams(view domain.AttributionView) map[string]any {
	params := make(map[string]any, 1+len(view.FirstTouch)+2*len(view.LastTouch))
	params[ParamSessionCount] = view.SessionCount
	for k, v := range view.FirstTouch {
		params["ft_"+k] = v
	}
	for k, v := range view.LastTouch {
		params["lt_"+k] = v
	}
	for k, v := range view.LastTouch {
		params[k] = v
	}
	return params
}

func (e *Engine) loadRecord(ctx context.Context) (domain.AttributionRecord, bool) {
	first, ok := e.loadTouch(ctx, KeyFirstTouch)
	if !ok {
		return domain.AttributionRecord{}, false
	}
	last, ok := e.loadTouch(ctx, KeyLastTouch)
	if !ok {
		return domain.AttributionRecord{}, false
	}

	record := domain.AttributionRecord{FirstTouch: first, LastTouch: last}
	raw, found, err := e.durable.Get(ctx, KeySessionCount)
	if err != nil {
		e.log.Warn("Failed to read session count", infralogger.Error(err))
	}
	if found {
		if count, convErr := strconv.Atoi(raw); convErr == nil {
			record.SessionCount = count
		}
	}
	// A stored record always belongs to at least one session.
	if record.SessionCount < 1 {
		record.SessionCount = 1
	}

	return record, true
}

func (e *Engine) loadTouch(ctx context.Context, key string) (domain.Touch, bool) {
	raw, found, err := e.durable.Get(ctx, key)
	if err != nil {
		e.log.Warn("Failed to read stored attribution", infralogger.String("key", key), infralogger.Error(err))
		return domain.Touch{}, false
	}
	if !found || raw == "" {
		return domain.Touch{}, false
	}

	var touch domain.Touch
	if err = json.Unmarshal([]byte(raw), &touch); err != nil {
		e.log.Warn("Failed to parse stored attribution", infralogger.String("key", key), infralogger.Error(err))
		return domain.Touch{}, false
	}
	return touch, true
}

func (e *Engine) loadSnapshot(ctx context.Context) (domain.Touch, bool) {
	raw, found, err := e.session.Get(ctx, KeyCurrentSession)
	if err != nil || !found || raw == "" {
		return domain.Touch{}, false
	}

	var touch domain.Touch
	if err = json.Unmarshal([]byte(raw), &touch); err != nil {
		return domain.Touch{}, false
	}
	return touch, true
}

func (e *Engine) saveRecord(ctx context.Context, record domain.AttributionRecord) {
	first, err := json.Marshal(record.FirstTouch)
	if err != nil {
		e.log.Warn("Failed to encode first touch", infralogger.Error(err))
		return
	}
	last, err := json.Marshal(record.LastTouch)
	if err != nil {
		e.log.Warn("Failed to encode last touch", infralogger.Error(err))
		return
	}

	writes := []struct{ key, value string }{
		{KeyFirstTouch, string(first)},
		{KeyLastTouch, string(last)},
		{KeySessionCount, strconv.Itoa(record.SessionCount)},
	}
	for _, w := range writes {
		if err = e.durable.Set(ctx, w.key, w.value); err != nil {
			e.log.Warn("Failed to save attribution data", infralogger.String("key", w.key), infralogger.Error(err))
			return
		}
	}
}

func (e *Engine) saveSnapshot(ctx context.Context, touch domain.Touch) {
	encoded, err := json.Marshal(touch)
	if err != nil {
		e.log.Warn("Failed to encode session snapshot", infralogger.Error(err))
		return
	}
	if err = e.session.Set(ctx, KeyCurrentSession, string(encoded)); err != nil {
		e.log.Warn("Failed to save session UTM data", infralogger.Error(err))
	}
}

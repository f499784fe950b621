package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/gateway"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/gateway/gatewaytest"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/handler"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/middleware"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/storage"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/tracking"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0"

type countingSignals struct {
	byType map[string]int
}

func (c *countingSignals) Signal(signalType string) { c.byType[signalType]++ }

type stubLister struct {
	events []storage.StoredEvent
	err    error
	limit  int
}

func (s *stubLister) ListByPage(_ context.Context, _ string, limit int) ([]storage.StoredEvent, error) {
	s.limit = limit
	return s.events, s.err
}

type fixture struct {
	router   *gin.Engine
	registry *tracking.Registry
	recorder *gatewaytest.Recorder
	signals  *countingSignals
	lister   *stubLister
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gin.SetMode(gin.TestMode)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	gw, rec := gatewaytest.NewGateway(gateway.WithClock(clock))
	registry := tracking.NewRegistry(gw, tracking.WithRegistryClock(clock))
	t.Cleanup(registry.CloseAll)

	f := &fixture{
		registry: registry,
		recorder: rec,
		signals:  &countingSignals{byType: map[string]int{}},
		lister:   &stubLister{},
	}

	pageviews := handler.NewPageviewHandler(handler.MemoryRegionOpener(), registry, gw, clock, infralogger.NewNop())
	pages := handler.NewPageHandler(registry, f.signals, f.lister)

	r := gin.New()
	r.Use(middleware.BotFilter())
	r.POST("/api/v1/pageviews", pageviews.HandlePageview)
	r.POST("/api/v1/pages/:page_id/signals", pages.HandleSignals)
	r.DELETE("/api/v1/pages/:page_id", pages.HandleClose)
	r.GET("/api/v1/pages/:page_id/events", pages.ListEvents)
	f.router = r

	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, ua string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func pageview(pageID, rawURL string, consent bool) handler.PageviewRequest {
	return handler.PageviewRequest{
		VisitorID:         "visitor-1",
		BrowsingSessionID: "session-1",
		PageID:            pageID,
		URL:               rawURL,
		AnalyticsConsent:  consent,
	}
}

func decodePageview(t *testing.T, w *httptest.ResponseRecorder) handler.PageviewResponse {
	t.Helper()

	var resp handler.PageviewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestPageview_CapturesAttributionAndOpensPage(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/pageviews",
		pageview("p1", "https://site.example/landing?utm_source=google&utm_medium=cpc&utm_campaign=spring&ref=x", true),
		browserUA)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodePageview(t, w)
	assert.Equal(t, "p1", resp.PageID)
	assert.Equal(t, "https://site.example/landing?ref=x", resp.CleanURL)
	require.NotNil(t, resp.Attribution)
	assert.Equal(t, "google", resp.Attribution.FirstTouch[domain.FieldSource])
	assert.Equal(t, "cpc", resp.Attribution.LastTouch[domain.FieldMedium])
	assert.Equal(t, 1, resp.Attribution.SessionCount)
	assert.Equal(t, "spring", resp.AttributionParams["campaign_name"])

	ready := f.recorder.Named(domain.EventAttributionDataReady)
	require.Len(t, ready, 1)
	assert.Equal(t, "google", ready[0].Params["ft_source"])
	assert.Equal(t, "visitor-1", ready[0].VisitorID)
	assert.Equal(t, "p1", ready[0].PageID)

	_, ok := f.registry.Get("p1")
	assert.True(t, ok)
}

func TestPageview_GeneratesPageID(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/pageviews", pageview("", "https://site.example/", true), browserUA)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodePageview(t, w)
	require.NotEmpty(t, resp.PageID)
	_, ok := f.registry.Get(resp.PageID)
	assert.True(t, ok)
}

func TestPageview_RejectsMalformedBody(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing visitor", handler.PageviewRequest{BrowsingSessionID: "s", URL: "https://site.example/"}},
		{"missing url", handler.PageviewRequest{VisitorID: "v", BrowsingSessionID: "s"}},
		{"not an object", []int{1, 2}},
		{"bad url", pageview("p1", "http://[::1", true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/pageviews", tt.body, browserUA)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Equal(t, 0, f.registry.Len())
}

func TestPageview_BotSkipsAttribution(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/pageviews",
		pageview("p1", "https://site.example/?utm_source=google", true),
		"Googlebot/2.1 (+http://www.google.com/bot.html)")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodePageview(t, w)
	assert.Nil(t, resp.Attribution)
	assert.Empty(t, f.recorder.Named(domain.EventAttributionDataReady))
	assert.Equal(t, 1, f.registry.Len())
}

func TestPageview_WithoutConsentForwardsNothing(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/pageviews",
		pageview("p1", "https://site.example/?utm_source=google", false), browserUA)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decodePageview(t, w).Attribution)

	f.do(t, http.MethodDelete, "/api/v1/pages/p1", nil, browserUA)
	assert.Empty(t, f.recorder.Events())
}

func TestPageview_ClientSideNavigationKeepsPage(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/v1/pageviews", pageview("p1", "https://site.example/a", true), browserUA)
	first, ok := f.registry.Get("p1")
	require.True(t, ok)

	nav := pageview("p1", "https://site.example/b", true)
	nav.ClientSideNavigation = true
	w := f.do(t, http.MethodPost, "/api/v1/pageviews", nav, browserUA)
	require.Equal(t, http.StatusOK, w.Code)

	second, ok := f.registry.Get("p1")
	require.True(t, ok)
	assert.Same(t, first, second)
	assert.Equal(t, 2, second.Snapshot().PageViews)

	again := decodePageview(t, w)
	require.NotNil(t, again.Attribution)
	assert.Equal(t, 1, again.Attribution.SessionCount)
}

func TestSignals(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/pageviews", pageview("p1", "https://site.example/", true), browserUA)

	t.Run("unknown page", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/pages/nope/signals",
			handler.SignalsRequest{Signals: []domain.Signal{{Type: domain.SignalActivity}}}, browserUA)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/pages/p1/signals", map[string]any{"signals": "click"}, browserUA)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("accepts valid and skips invalid", func(t *testing.T) {
		body := handler.SignalsRequest{Signals: []domain.Signal{
			{Type: domain.SignalActivity, Activity: domain.ActivityKeyDown},
			{Type: domain.SignalClick, Element: &domain.Element{Key: "button#buy", Tag: "button"}},
			{Type: domain.SignalScroll, Depth: 55},
			{Type: domain.SignalClick},
			{Type: "hover"},
		}}
		w := f.do(t, http.MethodPost, "/api/v1/pages/p1/signals", body, browserUA)
		require.Equal(t, http.StatusAccepted, w.Code)

		var resp map[string]int
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp["accepted"])
		assert.Equal(t, 2, resp["rejected"])
		assert.Equal(t, 1, f.signals.byType["click"])
		assert.Equal(t, 1, f.signals.byType["scroll"])

		page, ok := f.registry.Get("p1")
		require.True(t, ok)
		assert.Equal(t, 1, page.Snapshot().Clicks)
	})
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/pageviews", pageview("p1", "https://site.example/", true), browserUA)

	w := f.do(t, http.MethodDelete, "/api/v1/pages/p1", nil, browserUA)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, f.recorder.Named(domain.EventPageEngagementSummary), 1)

	w = f.do(t, http.MethodDelete, "/api/v1/pages/p1", nil, browserUA)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	f.lister.events = []storage.StoredEvent{{ID: 1, Name: domain.EventRageClick, PageID: "p1"}}

	w := f.do(t, http.MethodGet, "/api/v1/pages/p1/events?limit=10", nil, browserUA)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, f.lister.limit)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = f.do(t, http.MethodGet, "/api/v1/pages/p1/events?limit=abc", nil, browserUA)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.lister.err = errors.New("connection refused")
	w = f.do(t, http.MethodGet, "/api/v1/pages/p1/events", nil, browserUA)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListEvents_NoStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gw, _ := gatewaytest.NewGateway()
	registry := tracking.NewRegistry(gw)
	t.Cleanup(registry.CloseAll)

	r := gin.New()
	r.GET("/api/v1/pages/:page_id/events", handler.NewPageHandler(registry, nil, nil).ListEvents)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/pages/p1/events", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

package tracking_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/gateway/gatewaytest"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPage(t *testing.T) (*tracking.Page, *gatewaytest.Recorder, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	gw, rec := gatewaytest.NewGateway()
	page := tracking.NewPage("p1", "v1", gw, clock, nil)
	page.Init(context.Background())
	t.Cleanup(page.Destroy)

	return page, rec, clock
}

func click(el domain.Element) domain.Signal {
	return domain.Signal{Type: domain.SignalClick, Element: &el}
}

func TestPage_DispatchRoutesClicksToBothEngines(t *testing.T) {
	t.Helper()

	page, rec, _ := newPage(t)
	div := domain.Element{Key: "k", Tag: "div", ClassName: "banner"}

	require.NoError(t, page.Dispatch(click(div)))

	assert.Len(t, rec.Named(domain.EventSessionQuality), 1)
	assert.Len(t, rec.Named(domain.EventDeadClick), 1)
	assert.Equal(t, 1, page.Snapshot().Clicks)
}

func TestPage_DispatchRejectsInvalidSignals(t *testing.T) {
	t.Helper()

	page, rec, _ := newPage(t)

	assert.ErrorIs(t, page.Dispatch(domain.Signal{Type: domain.SignalClick}), tracking.ErrInvalidSignal)
	assert.ErrorIs(t, page.Dispatch(domain.Signal{Type: "hover"}), tracking.ErrInvalidSignal)
	assert.Empty(t, rec.Events())
}

func TestPage_VisibilityReachesBothEngines(t *testing.T) {
	t.Helper()

	page, rec, clock := newPage(t)

	clock.Advance(3 * time.Second)
	require.NoError(t, page.Dispatch(domain.Signal{Type: domain.SignalVisibility, Hidden: true}))

	events := rec.Named(domain.EventPageVisibilityChange)
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].Params["time_visible"])
	assert.Equal(t, "hidden", page.Snapshot().Phase.String())
}

func TestPage_DestroyEmitsSummaryOnce(t *testing.T) {
	t.Helper()

	page, rec, clock := newPage(t)

	require.NoError(t, page.Dispatch(domain.Signal{Type: domain.SignalScroll, Depth: 40}))
	clock.Advance(6 * time.Second)
	require.NoError(t, page.Dispatch(domain.Signal{Type: domain.SignalVisibility, Hidden: true}))
	clock.Advance(4 * time.Second)

	page.Destroy()
	page.Destroy()

	summaries := rec.Named(domain.EventPageEngagementSummary)
	require.Len(t, summaries, 1)

	params := summaries[0].Params
	assert.Equal(t, 10, params["total_time"])
	assert.Equal(t, 6, params["visible_time"])
	assert.Equal(t, 4, params["hidden_time"])
	assert.Equal(t, 40, params["max_scroll_depth"])
	assert.Contains(t, params, "active_time")
	assert.Contains(t, params, "idle_time")
	assert.Contains(t, params, "engagement_rate")

	assert.True(t, page.Closed())
	assert.ErrorIs(t, page.Dispatch(domain.Signal{Type: domain.SignalActivity}), tracking.ErrPageClosed)
}

func TestPage_NavigateCountsPageViews(t *testing.T) {
	t.Helper()

	page, _, _ := newPage(t)
	page.Navigate()
	page.Navigate()

	assert.Equal(t, 3, page.Snapshot().PageViews)
}

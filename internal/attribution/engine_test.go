package attribution_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/attribution"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/gateway/gatewaytest"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const host = "www.example.com"

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	durable *storage.MemoryRegion
	session *storage.MemoryRegion
	engine  *attribution.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{durable: storage.NewMemoryRegion(), session: storage.NewMemoryRegion()}
	f.engine = attribution.NewEngine(f.durable, f.session, nil)
	return f
}

func nav(t *testing.T, rawQuery, referrer string) attribution.Navigation {
	t.Helper()

	query, err := url.ParseQuery(rawQuery)
	require.NoError(t, err)
	return attribution.Navigation{Query: query, Referrer: referrer, Host: host}
}

func TestCaptureAndMerge_FirstVisitWithUTM(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	view := f.engine.AttributionData(context.Background(), nav(t, "utm_source=google&utm_medium=cpc", ""), t0)

	assert.Equal(t, "google", view.FirstTouch["source"])
	assert.Equal(t, "cpc", view.FirstTouch["medium"])
	assert.Equal(t, 1, view.SessionCount)
	assert.NotContains(t, view.FirstTouch, "timestamp")
}

func TestCaptureAndMerge_RepeatWithinWindowRefreshesTimestampOnly(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	ctx := context.Background()

	first := f.engine.CaptureAndMerge(ctx, nav(t, "utm_source=google&utm_medium=cpc", ""), t0)
	later := t0.Add(10 * time.Minute)
	second := f.engine.CaptureAndMerge(ctx, nav(t, "", "https://news.example.org/"), later)

	assert.Equal(t, first.SessionCount, second.SessionCount)
	assert.Equal(t, "google", second.LastTouch.Source)
	assert.Equal(t, "cpc", second.LastTouch.Medium)
	assert.Equal(t, later.UnixMilli(), second.LastTouch.Timestamp)
}

func TestCaptureAndMerge_NewSessionAfterWindow(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	ctx := context.Background()

	f.engine.CaptureAndMerge(ctx, nav(t, "utm_source=google&utm_medium=cpc", ""), t0)
	later := t0.Add(31 * time.Minute)
	record := f.engine.CaptureAndMerge(ctx, nav(t, "", "https://www.bing.com/"), later)

	assert.Equal(t, 2, record.SessionCount)
	assert.Equal(t, "bing", record.LastTouch.Source)
	assert.Equal(t, "organic", record.LastTouch.Medium)
	assert.Equal(t, later.UnixMilli(), record.LastTouch.Timestamp)
}

func TestCaptureAndMerge_NewParamsStartNewSession(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	ctx := context.Background()

	f.engine.CaptureAndMerge(ctx, nav(t, "", ""), t0)
	record := f.engine.CaptureAndMerge(ctx, nav(t, "utm_source=mail&utm_campaign=spring", ""), t0.Add(time.Minute))

	assert.Equal(t, 2, record.SessionCount)
	assert.Equal(t, "mail", record.LastTouch.Source)
}

func TestCaptureAndMerge_ClearedSessionRegionStartsNewSession(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	ctx := context.Background()

	f.engine.CaptureAndMerge(ctx, nav(t, "", ""), t0)
	f.session.Clear()
	record := f.engine.CaptureAndMerge(ctx, nav(t, "", ""), t0.Add(time.Minute))

	assert.Equal(t, 2, record.SessionCount)
}

func TestCaptureAndMerge_FirstTouchIsWriteOnce(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	ctx := context.Background()

	initial := f.engine.CaptureAndMerge(ctx, nav(t, "utm_source=google&utm_medium=cpc", ""), t0)

	steps := []struct {
		query    string
		referrer string
		offset   time.Duration
	}{
		{query: "gclid=1", offset: time.Minute},
		{referrer: "https://t.co/x", offset: 40 * time.Minute},
		{query: "utm_source=mail", offset: 2 * time.Hour},
		{offset: 48 * time.Hour},
	}

	for _, step := range steps {
		record := f.engine.CaptureAndMerge(ctx, nav(t, step.query, step.referrer), t0.Add(step.offset))
		assert.Equal(t, initial.FirstTouch.Source, record.FirstTouch.Source)
		assert.Equal(t, initial.FirstTouch.Medium, record.FirstTouch.Medium)
		assert.Equal(t, initial.FirstTouch.Timestamp, record.FirstTouch.Timestamp)
	}
}

func TestCaptureAndMerge_CorruptRecordReadsAsNoRecord(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.durable.Set(ctx, attribution.KeyFirstTouch, "{not json"))
	require.NoError(t, f.durable.Set(ctx, attribution.KeyLastTouch, `{"source":"x","medium":"y","timestamp":1}`))
	require.NoError(t, f.durable.Set(ctx, attribution.KeySessionCount, "7"))

	record := f.engine.CaptureAndMerge(ctx, nav(t, "fbclid=1", ""), t0)

	assert.Equal(t, 1, record.SessionCount)
	assert.Equal(t, "facebook", record.FirstTouch.Source)
}

func TestCaptureAndMerge_MissingTouchReadsAsNoRecord(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.durable.Set(ctx, attribution.KeyLastTouch, `{"source":"x","medium":"y","timestamp":1}`))
	record := f.engine.CaptureAndMerge(ctx, nav(t, "", ""), t0)

	assert.Equal(t, 1, record.SessionCount)
	assert.Equal(t, "(direct)", record.FirstTouch.Source)
}

func TestCaptureAndMerge_UnreadableCountIsAtLeastOne(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	ctx := context.Background()

	f.engine.CaptureAndMerge(ctx, nav(t, "utm_source=google&utm_medium=cpc", ""), t0)
	require.NoError(t, f.durable.Set(ctx, attribution.KeySessionCount, "garbage"))

	record := f.engine.CaptureAndMerge(ctx, nav(t, "", ""), t0.Add(time.Minute))
	assert.Equal(t, 1, record.SessionCount)

	count, _, _ := f.durable.Get(ctx, attribution.KeySessionCount)
	assert.Equal(t, "1", count)
}

func TestCaptureAndMerge_PersistsStableKeys(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	ctx := context.Background()

	f.engine.CaptureAndMerge(ctx, nav(t, "utm_source=google&utm_medium=cpc", ""), t0)

	count, ok, _ := f.durable.Get(ctx, attribution.KeySessionCount)
	assert.True(t, ok)
	assert.Equal(t, "1", count)

	last, ok, _ := f.durable.Get(ctx, attribution.KeyLastTouch)
	assert.True(t, ok)
	assert.JSONEq(t,
		`{"utm_source":"google","utm_medium":"cpc","source":"google","medium":"cpc","timestamp":1772355600000}`,
		last)

	snapshot, ok, _ := f.session.Get(ctx, attribution.KeyCurrentSession)
	assert.True(t, ok)
	assert.JSONEq(t, `{"utm_source":"google","utm_medium":"cpc","source":"google","medium":"cpc"}`, snapshot)
}

type brokenRegion struct{}

func (brokenRegion) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("quota exceeded")
}

func (brokenRegion) Set(context.Context, string, string) error {
	return errors.New("quota exceeded")
}

func TestCaptureAndMerge_StorageFaultsAreSwallowed(t *testing.T) {
	t.Helper()

	engine := attribution.NewEngine(brokenRegion{}, brokenRegion{}, nil)

	var record domain.AttributionRecord
	assert.NotPanics(t, func() {
		record = engine.CaptureAndMerge(context.Background(), nav(t, "gclid=1", ""), t0)
	})
	assert.Equal(t, 1, record.SessionCount)
	assert.Equal(t, "google", record.LastTouch.Source)
}

func TestAttributionParams_AddsCampaignAliases(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	params := f.engine.AttributionParams(context.Background(),
		nav(t, "utm_source=mail&utm_medium=email&utm_campaign=spring&utm_id=42", ""), t0)

	assert.Equal(t, 1, params["session_count"])
	assert.Equal(t, "mail", params["source"])
	assert.Equal(t, "spring", params["campaign_name"])
	assert.Equal(t, "42", params["campaign_id"])
	assert.NotContains(t, params, "timestamp")
}

func TestAttributionParams_NoAliasesWithoutCampaign(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	params := f.engine.AttributionParams(context.Background(), nav(t, "", ""), t0)

	assert.NotContains(t, params, "campaign_name")
	assert.NotContains(t, params, "campaign_id")
}

func TestPublish_PushesDataLayerFields(t *testing.T) {
	t.Helper()

	f := newFixture(t)
	gw, rec := gatewaytest.NewGateway()

	f.engine.Publish(context.Background(), nav(t, "utm_source=google&utm_medium=cpc", ""), t0, gw)

	events := rec.Named(domain.EventAttributionDataReady)
	require.Len(t, events, 1)

	params := events[0].Params
	assert.Equal(t, 1, params["session_count"])
	assert.Equal(t, "google", params["ft_source"])
	assert.Equal(t, "cpc", params["lt_medium"])
	assert.Equal(t, "google", params["utm_source"])
	assert.Equal(t, "google", params["source"])
	assert.NotContains(t, params, "ft_timestamp")
}

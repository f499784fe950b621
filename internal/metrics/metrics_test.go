package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/metrics"
)

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status: got %d, want 200", rec.Code)
	}
	return rec.Body.String()
}

func TestMetrics_ObserverCounts(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.Forwarded("rage_click")
	m.Forwarded("rage_click")
	m.Dropped("rage_click", "duplicate")
	m.Signal("click")

	body := scrape(t, m)
	for _, want := range []string{
		`engagement_events_forwarded_total{event="rage_click"} 2`,
		`engagement_events_dropped_total{event="rage_click",reason="duplicate"} 1`,
		`engagement_signals_total{type="click"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in output:\n%s", want, body)
		}
	}
}

func TestMetrics_BufferDepthAndPages(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.RegisterBufferDepth(func() int { return 7 })
	m.PagesLive.Set(3)

	body := scrape(t, m)
	if !strings.Contains(body, "engagement_buffer_depth 7") {
		t.Errorf("buffer depth missing from output:\n%s", body)
	}
	if !strings.Contains(body, "engagement_pages_live 3") {
		t.Errorf("live pages missing from output:\n%s", body)
	}
}

func TestMetrics_Middleware(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	m := metrics.New()
	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	body := scrape(t, m)
	want := `engagement_http_request_duration_seconds_count{method="GET",route="/health",status="200"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("missing %q in output:\n%s", want, body)
	}
	if !strings.Contains(body, "engagement_http_active_requests 0") {
		t.Errorf("active requests not back to 0:\n%s", body)
	}
}

// Package metrics exposes the collector's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "engagement"

// Metrics holds the collector's Prometheus collectors.
type Metrics struct {
	EventsForwarded *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	Signals         *prometheus.CounterVec
	PagesLive       prometheus.Gauge

	RequestDuration *prometheus.HistogramVec
	RequestsActive  prometheus.Gauge

	registry *prometheus.Registry
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		EventsForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_forwarded_total",
			Help:      "Events handed to the sink.",
		}, []string{"event"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not forwarded, by reason.",
		}, []string{"event", "reason"}),
		Signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Browser signals dispatched to pages.",
		}, []string{"type"}),
		PagesLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pages_live",
			Help:      "Pages currently hosted.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		RequestsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "HTTP requests in flight.",
		}),
		registry: reg,
	}
}

// Forwarded counts an event handed to the sink.
func (m *Metrics) Forwarded(name string) {
	m.EventsForwarded.WithLabelValues(name).Inc()
}

// Dropped counts an event that was not forwarded.
func (m *Metrics) Dropped(name, reason string) {
	m.EventsDropped.WithLabelValues(name, reason).Inc()
}

// Signal counts one dispatched signal.
func (m *Metrics) Signal(signalType string) {
	m.Signals.WithLabelValues(signalType).Inc()
}

// RegisterBufferDepth exposes the queue sink backlog.
func (m *Metrics) RegisterBufferDepth(depth func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_depth",
		Help:      "Events waiting in the Postgres buffer.",
	}, func() float64 { return float64(depth()) })
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Middleware records request latency by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.RequestsActive.Inc()

		c.Next()

		m.RequestsActive.Dec()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

package api

import (
	"time"

	"github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/handler"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/metrics"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/middleware"
)

// Handlers groups the beacon API handlers.
type Handlers struct {
	Pageview *handler.PageviewHandler
	Page     *handler.PageHandler
}

// RateLimit configures the per-IP limiter on beacon routes.
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
	// Done stops the limiter's cleanup goroutine.
	Done <-chan struct{}
}

// SetupRoutes configures all API routes.
// Health routes are registered by the infrastructure gin builder.
// Reads of stored events require a JWT signed with jwtSecret; beacons do not.
func SetupRoutes(router *gin.Engine, h Handlers, m *metrics.Metrics, rl RateLimit, jwtSecret string) {
	router.GET("/metrics", gin.WrapH(m.Handler()))

	protected := infragin.ProtectedGroup(router, "/api/v1", jwtSecret)
	protected.GET("/pages/:page_id/events", h.Page.ListEvents)

	beacons := infragin.PublicGroup(router, "/api/v1")
	beacons.Use(middleware.BotFilter())
	beacons.Use(middleware.RateLimiter(rl.MaxRequests, rl.Window, rl.Done))
	beacons.POST("/pageviews", h.Pageview.HandlePageview)
	beacons.POST("/pages/:page_id/signals", h.Page.HandleSignals)
	beacons.DELETE("/pages/:page_id", h.Page.HandleClose)
}

// Package api assembles the beacon HTTP server.
package api

import (
	"github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/gin"
	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/config"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/metrics"
)

// NewServer creates the HTTP server. checks are added to /health.
func NewServer(
	h Handlers,
	m *metrics.Metrics,
	cfg *config.Config,
	checks map[string]infragin.HealthChecker,
	done <-chan struct{},
	log infralogger.Logger,
) *infragin.Server {
	builder := infragin.NewServerBuilder(cfg.Service.Name, cfg.Service.Port).
		WithLogger(log).
		WithDebug(cfg.Service.Debug).
		WithVersion(cfg.Service.Version).
		WithCORSOrigins(cfg.CORS.AllowedOrigins).
		WithMiddleware(m.Middleware()).
		WithRoutes(func(router *gin.Engine) {
			SetupRoutes(router, h, m, RateLimit{
				MaxRequests: cfg.RateLimit.MaxRequests,
				Window:      cfg.RateLimit.Window,
				Done:        done,
			}, cfg.Auth.JWTSecret)
		})

	for name, check := range checks {
		builder.WithHealthCheck(name, check)
	}

	return builder.Build()
}

// Package handler implements the beacon API.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/attribution"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/gateway"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/middleware"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/tracking"
)

// PageviewRequest is the body of POST /api/v1/pageviews.
type PageviewRequest struct {
	VisitorID            string `binding:"required" json:"visitor_id"`
	BrowsingSessionID    string `binding:"required" json:"browsing_session_id"`
	PageID               string `json:"page_id"`
	URL                  string `binding:"required" json:"url"`
	Referrer             string `json:"referrer"`
	ClientSideNavigation bool   `json:"client_side_navigation"`
	AnalyticsConsent     bool   `json:"analytics_consent"`
}

// PageviewResponse is returned for an accepted page view. Attribution is
// absent for bots and for visitors without analytics consent.
type PageviewResponse struct {
	PageID            string                  `json:"page_id"`
	CleanURL          string                  `json:"clean_url"`
	Attribution       *domain.AttributionView `json:"attribution,omitempty"`
	AttributionParams map[string]any          `json:"attribution_params,omitempty"`
}

// PageviewHandler opens pages and captures attribution.
type PageviewHandler struct {
	regions  RegionOpener
	registry *tracking.Registry
	gateway  *gateway.Gateway
	clock    clockwork.Clock
	logger   infralogger.Logger
}

// NewPageviewHandler creates a PageviewHandler.
func NewPageviewHandler(
	regions RegionOpener,
	registry *tracking.Registry,
	gw *gateway.Gateway,
	clock clockwork.Clock,
	log infralogger.Logger,
) *PageviewHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PageviewHandler{
		regions:  regions,
		registry: registry,
		gateway:  gw,
		clock:    clock,
		logger:   log,
	}
}

// HandlePageview captures attribution for the visitor, publishes
// attribution_data_ready and opens the page.
func (h *PageviewHandler) HandlePageview(c *gin.Context) {
	var req PageviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	nav, err := attribution.NavigationFromURL(req.URL, req.Referrer)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid url"})
		return
	}

	if req.PageID == "" {
		req.PageID = uuid.NewString()
	}

	resp := PageviewResponse{
		PageID:   req.PageID,
		CleanURL: attribution.CleanURL(req.URL),
	}

	if req.AnalyticsConsent && !middleware.IsBot(c) {
		h.captureAttribution(c, req, nav, &resp)
	}

	h.registry.Open(tracking.OpenRequest{
		PageID:     req.PageID,
		VisitorID:  req.VisitorID,
		Consent:    req.AnalyticsConsent,
		Navigation: req.ClientSideNavigation,
	})

	c.JSON(http.StatusOK, resp)
}

func (h *PageviewHandler) captureAttribution(
	c *gin.Context,
	req PageviewRequest,
	nav attribution.Navigation,
	resp *PageviewResponse,
) {
	log := infralogger.FromContext(c.Request.Context())

	durable, session, err := h.regions(req.VisitorID, req.BrowsingSessionID)
	if err != nil {
		log.Warn("Attribution regions unavailable", infralogger.Error(err))
		return
	}

	engine := attribution.NewEngine(durable, session, log)
	scoped := h.gateway.Scoped(req.VisitorID, req.PageID, req.AnalyticsConsent)
	view := engine.Publish(c.Request.Context(), nav, h.clock.Now(), scoped)

	resp.Attribution = &view
	resp.AttributionParams = attribution.LastTouchParams(view)
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/storage"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/tracking"
)

// maxSignalsPerBeacon bounds one signals request.
const maxSignalsPerBeacon = 200

// SignalCounter counts accepted signals by type. *metrics.Metrics implements it.
type SignalCounter interface {
	Signal(signalType string)
}

// EventLister reads persisted events. *storage.EventRepository implements it.
type EventLister interface {
	ListByPage(ctx context.Context, pageID string, limit int) ([]storage.StoredEvent, error)
}

// SignalsRequest is the body of POST /api/v1/pages/:page_id/signals.
type SignalsRequest struct {
	Signals []domain.Signal `binding:"required" json:"signals"`
}

// PageHandler serves the per-page endpoints.
type PageHandler struct {
	registry *tracking.Registry
	counter  SignalCounter
	events   EventLister
}

// NewPageHandler creates a PageHandler. events may be nil when no database is
// configured; ListEvents then answers 503.
func NewPageHandler(registry *tracking.Registry, counter SignalCounter, events EventLister) *PageHandler {
	return &PageHandler{registry: registry, counter: counter, events: events}
}

// HandleSignals dispatches a batch of browser signals to the page's engines.
// Invalid signals are skipped and counted as rejected.
func (h *PageHandler) HandleSignals(c *gin.Context) {
	page, ok := h.registry.Get(c.Param("page_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "page not found"})
		return
	}

	var req SignalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Signals) > maxSignalsPerBeacon {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many signals"})
		return
	}

	accepted, rejected := 0, 0
	for _, sig := range req.Signals {
		err := page.Dispatch(sig)
		switch {
		case errors.Is(err, tracking.ErrPageClosed):
			c.JSON(http.StatusNotFound, gin.H{"error": "page not found"})
			return
		case err != nil:
			rejected++
		default:
			accepted++
			if h.counter != nil {
				h.counter.Signal(string(sig.Type))
			}
		}
	}

	if rejected > 0 {
		infralogger.FromContext(c.Request.Context()).Debug("Signals rejected",
			infralogger.String("page_id", page.ID()),
			infralogger.Int("rejected", rejected),
		)
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted, "rejected": rejected})
}

// HandleClose destroys the page, flushing its final events.
func (h *PageHandler) HandleClose(c *gin.Context) {
	if !h.registry.Close(c.Param("page_id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "page not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListEvents returns the persisted events of a page, oldest first.
func (h *PageHandler) ListEvents(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event store not configured"})
		return
	}

	limit := storage.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, storage.DefaultListLimit)
	}

	events, err := h.events.ListByPage(c.Request.Context(), c.Param("page_id"), limit)
	if err != nil {
		infralogger.FromContext(c.Request.Context()).Error("List events failed", infralogger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

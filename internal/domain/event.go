// Package domain holds the value types shared by the engagement engines.
package domain

import "time"

// Event names understood by the tag-management sink's triggers.
const (
	EventRageClick             = "rage_click"
	EventDeadClick             = "dead_click"
	EventPageVisibilityChange  = "page_visibility_change"
	EventPageEngagementSummary = "page_engagement_summary"
	EventSessionQuality        = "session_quality"
	EventAttributionDataReady  = "attribution_data_ready"
)

// PayloadEventKey is the key that carries the event name in a queue payload.
const PayloadEventKey = "event"

// Event is one emission forwarded by the gateway to a sink.
type Event struct {
	Name      string         `json:"event"`
	Params    map[string]any `json:"params"`
	VisitorID string         `json:"visitor_id,omitempty"`
	PageID    string         `json:"page_id,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// Payload flattens e into the {event: name, ...params} shape pushed onto data layers.
func (e Event) Payload() map[string]any {
	payload := make(map[string]any, len(e.Params)+1)
	for k, v := range e.Params {
		payload[k] = v
	}
	payload[PayloadEventKey] = e.Name
	return payload
}

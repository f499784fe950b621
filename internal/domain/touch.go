package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Recognized attribution query parameters.
const (
	ParamUTMSource   = "utm_source"
	ParamUTMMedium   = "utm_medium"
	ParamUTMCampaign = "utm_campaign"
	ParamUTMTerm     = "utm_term"
	ParamUTMContent  = "utm_content"
	ParamUTMID       = "utm_id"
	ParamGCLID       = "gclid"
	ParamFBCLID      = "fbclid"
	ParamMSCLKID     = "msclkid"
)

// TrackedParams lists the recognized parameters in capture order.
var TrackedParams = []string{
	ParamUTMSource,
	ParamUTMMedium,
	ParamUTMCampaign,
	ParamUTMTerm,
	ParamUTMContent,
	ParamUTMID,
	ParamGCLID,
	ParamFBCLID,
	ParamMSCLKID,
}

// Derived touch fields.
const (
	FieldSource         = "source"
	FieldMedium         = "medium"
	FieldReferrer       = "referrer"
	FieldReferrerDomain = "referrer_domain"
	FieldTimestamp      = "timestamp"
)

// Touch is one classified attribution snapshot captured at a single page view.
// A Touch is a value: build a new one rather than mutating a stored one.
type Touch struct {
	Params         map[string]string
	Source         string
	Medium         string
	Referrer       string
	ReferrerDomain string
	// Timestamp is the capture time in Unix milliseconds. Zero means stripped.
	Timestamp int64
}

// Param returns the value of a recognized parameter, or "".
func (t Touch) Param(name string) string {
	return t.Params[name]
}

// WithTimestamp returns a copy of t captured at ms.
func (t Touch) WithTimestamp(ms int64) Touch {
	t.Params = copyParams(t.Params)
	t.Timestamp = ms
	return t
}

// CapturedAt returns the capture time.
func (t Touch) CapturedAt() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// Fields returns the flat field view of t without its timestamp.
func (t Touch) Fields() map[string]string {
	fields := make(map[string]string, len(t.Params)+4)
	for k, v := range t.Params {
		fields[k] = v
	}
	fields[FieldSource] = t.Source
	fields[FieldMedium] = t.Medium
	if t.Referrer != "" {
		fields[FieldReferrer] = t.Referrer
	}
	if t.ReferrerDomain != "" {
		fields[FieldReferrerDomain] = t.ReferrerDomain
	}
	return fields
}

// MarshalJSON encodes t as one flat object, the layout kept in storage.
func (t Touch) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(t.Params)+5)
	for k, v := range t.Fields() {
		flat[k] = v
	}
	if t.Timestamp != 0 {
		flat[FieldTimestamp] = t.Timestamp
	}
	return json.Marshal(flat)
}

// UnmarshalJSON decodes the flat object written by MarshalJSON.
func (t *Touch) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("decode touch: %w", err)
	}

	decoded := Touch{Params: make(map[string]string)}
	for key, raw := range flat {
		if key == FieldTimestamp {
			if err := json.Unmarshal(raw, &decoded.Timestamp); err != nil {
				return fmt.Errorf("decode touch timestamp: %w", err)
			}
			continue
		}

		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("decode touch field %s: %w", key, err)
		}

		switch key {
		case FieldSource:
			decoded.Source = value
		case FieldMedium:
			decoded.Medium = value
		case FieldReferrer:
			decoded.Referrer = value
		case FieldReferrerDomain:
			decoded.ReferrerDomain = value
		default:
			decoded.Params[key] = value
		}
	}

	*t = decoded
	return nil
}

func copyParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AttributionRecord is the durable first/last touch state of one visitor.
type AttributionRecord struct {
	FirstTouch   Touch
	LastTouch    Touch
	SessionCount int
}

// AttributionView is the public form of a record, timestamps stripped.
type AttributionView struct {
	FirstTouch   map[string]string `json:"first_touch"`
	LastTouch    map[string]string `json:"last_touch"`
	SessionCount int               `json:"session_count"`
}

// View strips timestamps from r.
func (r AttributionRecord) View() AttributionView {
	return AttributionView{
		FirstTouch:   r.FirstTouch.Fields(),
		LastTouch:    r.LastTouch.Fields(),
		SessionCount: r.SessionCount,
	}
}

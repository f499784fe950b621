package session

import "time"

// Quality is the coarse label attached to a session_quality event.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Thresholds of Classify.
const (
	highRate      = 60
	highEngaged   = 30 * time.Second
	highPageViews = 2
	mediumRate    = 30
	mediumEngaged = 15 * time.Second
)

// Classify labels a session. High needs all three of rate, engaged time and
// page views; medium needs either rate or engaged time.
func Classify(rate int, engaged time.Duration, pageViews int) Quality {
	switch {
	case rate >= highRate && engaged >= highEngaged && pageViews >= highPageViews:
		return QualityHigh
	case rate >= mediumRate || engaged >= mediumEngaged:
		return QualityMedium
	default:
		return QualityLow
	}
}

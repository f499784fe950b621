// Package activity models page attention as an explicit three-phase machine.
//
// A page is ActiveVisible while the visitor interacts, IdleVisible once no
// input has arrived for IdleThreshold, and Hidden while the tab is in the
// background. Apply is pure: given the current Accrual, an Input and the time
// it happened, it returns the next Accrual.
package activity

import "time"

// Timing constants of the accrual rule.
const (
	TickInterval  = time.Second
	IdleThreshold = 5 * time.Second
)

// Phase is the attention state of a page.
type Phase int

const (
	ActiveVisible Phase = iota
	IdleVisible
	Hidden
)

func (p Phase) String() string {
	switch p {
	case ActiveVisible:
		return "active_visible"
	case IdleVisible:
		return "idle_visible"
	case Hidden:
		return "hidden"
	default:
		return "unknown"
	}
}

// Input is something that can move the machine.
type Input int

const (
	// InputActivity is a pointer-down, key-down, scroll or touch-start.
	InputActivity Input = iota
	// InputTick is the once-per-second accrual evaluation.
	InputTick
	InputHidden
	InputVisible
)

// Accrual is the state carried between inputs.
type Accrual struct {
	Phase        Phase
	LastActivity time.Time
	Engaged      time.Duration
	Idle         time.Duration
}

// Start returns the accrual of a page that became visible and active at now.
func Start(now time.Time) Accrual {
	return Accrual{Phase: ActiveVisible, LastActivity: now}
}

// Apply returns the accrual after in happened at now.
func Apply(a Accrual, in Input, now time.Time) Accrual {
	switch in {
	case InputActivity, InputVisible:
		a.Phase = ActiveVisible
		a.LastActivity = now
	case InputHidden:
		a.Phase = Hidden
	case InputTick:
		if a.Phase == Hidden {
			return a
		}
		if now.Sub(a.LastActivity) < IdleThreshold {
			a.Phase = ActiveVisible
			a.Engaged += TickInterval
		} else {
			a.Phase = IdleVisible
			a.Idle += TickInterval
		}
	}
	return a
}

// Rate returns engaged time as a rounded percentage of elapsed, or 0 when no
// time has elapsed.
func Rate(engaged, elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	pct := float64(engaged) / float64(elapsed) * 100
	return int(pct + 0.5)
}

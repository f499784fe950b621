package activity_test

import (
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/activity"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestApply_TickAccruesEngagementWhileRecentlyActive(t *testing.T) {
	t.Parallel()

	a := activity.Start(t0)
	a = activity.Apply(a, activity.InputTick, t0.Add(4*time.Second))

	if a.Engaged != time.Second {
		t.Errorf("engaged: got %v, want 1s", a.Engaged)
	}
	if a.Idle != 0 {
		t.Errorf("idle: got %v, want 0", a.Idle)
	}
	if a.Phase != activity.ActiveVisible {
		t.Errorf("phase: got %v, want active_visible", a.Phase)
	}
}

func TestApply_TickAccruesIdleAfterThreshold(t *testing.T) {
	t.Parallel()

	a := activity.Start(t0)
	a = activity.Apply(a, activity.InputTick, t0.Add(5*time.Second))

	if a.Idle != time.Second {
		t.Errorf("idle: got %v, want 1s", a.Idle)
	}
	if a.Engaged != 0 {
		t.Errorf("engaged: got %v, want 0", a.Engaged)
	}
	if a.Phase != activity.IdleVisible {
		t.Errorf("phase: got %v, want idle_visible", a.Phase)
	}
}

func TestApply_HiddenPausesAccrual(t *testing.T) {
	t.Parallel()

	a := activity.Start(t0)
	a = activity.Apply(a, activity.InputHidden, t0.Add(time.Second))
	for i := 2; i < 10; i++ {
		a = activity.Apply(a, activity.InputTick, t0.Add(time.Duration(i)*time.Second))
	}

	if a.Engaged != 0 || a.Idle != 0 {
		t.Errorf("hidden accrual: engaged %v idle %v, want both 0", a.Engaged, a.Idle)
	}
	if a.Phase != activity.Hidden {
		t.Errorf("phase: got %v, want hidden", a.Phase)
	}
}

func TestApply_VisibleAndActivityResetIdleTimer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input activity.Input
	}{
		{name: "activity", input: activity.InputActivity},
		{name: "visible", input: activity.InputVisible},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := activity.Start(t0)
			a = activity.Apply(a, activity.InputHidden, t0)
			a = activity.Apply(a, tc.input, t0.Add(time.Minute))
			a = activity.Apply(a, activity.InputTick, t0.Add(time.Minute+time.Second))

			if a.LastActivity != t0.Add(time.Minute) {
				t.Errorf("last activity: got %v", a.LastActivity)
			}
			if a.Engaged != time.Second {
				t.Errorf("engaged: got %v, want 1s", a.Engaged)
			}
		})
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	a := activity.Start(t0)
	_ = activity.Apply(a, activity.InputTick, t0.Add(time.Second))

	if a.Engaged != 0 {
		t.Errorf("Apply mutated its argument: engaged %v", a.Engaged)
	}
}

func TestRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		engaged time.Duration
		elapsed time.Duration
		want    int
	}{
		{name: "no elapsed time", engaged: time.Second, elapsed: 0, want: 0},
		{name: "half", engaged: 30 * time.Second, elapsed: time.Minute, want: 50},
		{name: "rounds up", engaged: 2 * time.Second, elapsed: 3 * time.Second, want: 67},
		{name: "rounds down", engaged: time.Second, elapsed: 3 * time.Second, want: 33},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := activity.Rate(tc.engaged, tc.elapsed); got != tc.want {
				t.Errorf("Rate(%v, %v) = %d, want %d", tc.engaged, tc.elapsed, got, tc.want)
			}
		})
	}
}

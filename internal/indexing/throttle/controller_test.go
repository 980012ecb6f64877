package throttle

import (
	"testing"
	"time"
)

func TestComputeInterval(t *testing.T) {
	config := DefaultConfig()
	config.MinInterval = 5 * time.Minute
	config.MaxInterval = 6 * time.Hour
	config.ActivityNormalThreshold = 5
	config.ActivityBurstThreshold = 50

	controller := NewAdaptiveController(time.Hour, config)

	tests := []struct {
		name     string
		activity int
		expected time.Duration
	}{
		{
			name:     "quiet groups",
			activity: 0,
			expected: time.Hour, // base interval
		},
		{
			name:     "failed pass",
			activity: -1,
			expected: time.Hour,
		},
		{
			name:     "a few posts",
			activity: 3,
			expected: 30 * time.Minute, // base / 2
		},
		{
			name:     "busy",
			activity: 20,
			expected: 10 * time.Minute, // min * 2
		},
		{
			name:     "burst",
			activity: 100,
			expected: 5 * time.Minute, // min interval
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := controller.ComputeInterval(tt.activity)
			if result != tt.expected {
				t.Errorf("ComputeInterval(%d) = %v, want %v", tt.activity, result, tt.expected)
			}
			if controller.GetCurrentInterval() != result {
				t.Errorf("GetCurrentInterval() = %v, want %v", controller.GetCurrentInterval(), result)
			}
		})
	}
}

func TestComputeInterval_Bounds(t *testing.T) {
	config := DefaultConfig()
	config.MinInterval = 20 * time.Minute
	config.MaxInterval = 2 * time.Hour

	// Half of a short base would undercut the minimum.
	short := NewAdaptiveController(30*time.Minute, config)
	if got := short.ComputeInterval(1); got != 20*time.Minute {
		t.Errorf("expected min bound, got %v", got)
	}

	// A long base is capped when idle.
	long := NewAdaptiveController(12*time.Hour, config)
	if got := long.ComputeInterval(0); got != 2*time.Hour {
		t.Errorf("expected max bound, got %v", got)
	}
}

func TestComputeInterval_Disabled(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = false

	base := 15 * time.Minute
	controller := NewAdaptiveController(base, config)

	// When disabled, should always return base interval
	result := controller.ComputeInterval(100)
	if result != base {
		t.Errorf("ComputeInterval with disabled config = %v, want %v", result, base)
	}
}

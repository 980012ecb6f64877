// Package throttle decides how long the watch loop waits between passes.
package throttle

import (
	"time"

	"github.com/vietddude/groupwatch/internal/indexing/metrics"
)

// AdaptiveController computes the delay before the next pass from how much
// the previous pass found.
type AdaptiveController struct {
	baseInterval time.Duration
	config       AdaptiveConfig

	// Current state (for metrics)
	currentInterval time.Duration
}

// NewAdaptiveController creates a new adaptive controller.
func NewAdaptiveController(baseInterval time.Duration, config AdaptiveConfig) *AdaptiveController {
	return &AdaptiveController{
		baseInterval:    baseInterval,
		config:          config,
		currentInterval: baseInterval,
	}
}

// ComputeInterval calculates the next interval from the number of items the
// last pass fetched.
//
// Algorithm:
//   - activity = 0: base interval (groups are quiet)
//   - activity < normal: base interval × 0.5
//   - activity < burst: min interval × 2
//   - activity ≥ burst: min interval
//
// A failed pass (activity < 0) keeps the base interval so a struggling
// upstream is not polled harder.
func (c *AdaptiveController) ComputeInterval(activity int) time.Duration {
	if !c.config.Enabled {
		c.currentInterval = c.baseInterval
		metrics.WatchInterval.Set(c.baseInterval.Seconds())
		return c.baseInterval
	}

	var interval time.Duration

	switch {
	case activity <= 0:
		interval = c.baseInterval

	case activity < c.config.ActivityNormalThreshold:
		interval = c.baseInterval / 2

	case activity < c.config.ActivityBurstThreshold:
		interval = c.config.MinInterval * 2

	default:
		interval = c.config.MinInterval
	}

	// Enforce bounds
	interval = max(interval, c.config.MinInterval)
	if c.config.MaxInterval > 0 {
		interval = min(interval, c.config.MaxInterval)
	}

	c.currentInterval = interval
	metrics.WatchInterval.Set(interval.Seconds())
	return interval
}

// GetCurrentInterval returns the last computed interval (for metrics).
func (c *AdaptiveController) GetCurrentInterval() time.Duration {
	return c.currentInterval
}

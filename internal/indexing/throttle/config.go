package throttle

import "time"

// AdaptiveConfig holds configuration for adaptive pass scheduling.
type AdaptiveConfig struct {
	// Enabled controls whether the interval adapts at all
	Enabled bool

	// Interval bounds
	MinInterval time.Duration // Fastest pass rate (default: 5m)
	MaxInterval time.Duration // Slowest pass rate (default: 6h)

	// Activity thresholds, in items fetched by the previous pass
	ActivityNormalThreshold int // Below this = half the base interval (default: 5)
	ActivityBurstThreshold  int // At or above this = min interval (default: 50)
}

// DefaultConfig returns sensible defaults for adaptive scheduling.
func DefaultConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Enabled:                 true,
		MinInterval:             5 * time.Minute,
		MaxInterval:             6 * time.Hour,
		ActivityNormalThreshold: 5,
		ActivityBurstThreshold:  50,
	}
}

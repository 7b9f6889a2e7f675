package interp

import (
	"fmt"
	"time"
)

type Config struct {
	// Delay is how far in the past actors are rendered.
	Delay            time.Duration `yaml:"delay" env:"DELAY"`
	MaxExtrapolation time.Duration `yaml:"max_extrapolation" env:"MAX_EXTRAPOLATION"`
	// OffsetSmoothing is the EMA factor of the clock-offset estimate.
	OffsetSmoothing float64       `yaml:"offset_smoothing" env:"OFFSET_SMOOTHING"`
	StaleThreshold  time.Duration `yaml:"stale_threshold" env:"STALE_THRESHOLD"`
	Capacity        int           `yaml:"capacity" env:"CAPACITY"`
}

func DefaultConfig() Config {
	return Config{
		Delay:            100 * time.Millisecond,
		MaxExtrapolation: 50 * time.Millisecond,
		OffsetSmoothing:  0.1,
		StaleThreshold:   time.Second,
		Capacity:         20,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Delay < 0:
		return fmt.Errorf("interp.delay: must not be negative")
	case c.MaxExtrapolation < 0:
		return fmt.Errorf("interp.max_extrapolation: must not be negative")
	case c.OffsetSmoothing <= 0 || c.OffsetSmoothing > 1:
		return fmt.Errorf("interp.offset_smoothing: must be in (0, 1], got %v", c.OffsetSmoothing)
	case c.StaleThreshold <= 0:
		return fmt.Errorf("interp.stale_threshold: must be positive")
	case c.Capacity < 2:
		return fmt.Errorf("interp.capacity: need at least 2 snapshots, got %d", c.Capacity)
	}
	return nil
}

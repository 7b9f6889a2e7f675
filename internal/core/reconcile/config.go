package reconcile

import (
	"fmt"
	"time"
)

// Config tunes matching radii and the retry/timeout windows of all three
// reconciliation paths.
type Config struct {
	// DuplicateRadius (R1) collapses a new host spawn into an existing
	// registered actor of the same type.
	DuplicateRadius float32 `yaml:"duplicate_radius" env:"DUPLICATE_RADIUS"`
	// MatchRadius (R2) is how far a client searches for a local object to
	// bind an announced id to. Must exceed DuplicateRadius.
	MatchRadius float32 `yaml:"match_radius" env:"MATCH_RADIUS"`

	RetryInterval  time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	PendingTimeout time.Duration `yaml:"pending_timeout" env:"PENDING_TIMEOUT"`

	BatchRetryInterval time.Duration `yaml:"batch_retry_interval" env:"BATCH_RETRY_INTERVAL"`
	BatchMaxDuration   time.Duration `yaml:"batch_max_duration" env:"BATCH_MAX_DURATION"`

	PopulationPoll         time.Duration `yaml:"population_poll" env:"POPULATION_POLL"`
	PopulationStableWindow time.Duration `yaml:"population_stable_window" env:"POPULATION_STABLE_WINDOW"`
	PopulationMaxWait      time.Duration `yaml:"population_max_wait" env:"POPULATION_MAX_WAIT"`
}

func DefaultConfig() Config {
	return Config{
		DuplicateRadius:        1.0,
		MatchRadius:            4.0,
		RetryInterval:          250 * time.Millisecond,
		PendingTimeout:         3 * time.Second,
		BatchRetryInterval:     500 * time.Millisecond,
		BatchMaxDuration:       10 * time.Second,
		PopulationPoll:         100 * time.Millisecond,
		PopulationStableWindow: time.Second,
		PopulationMaxWait:      15 * time.Second,
	}
}

// ClaimTTL is how long a client keeps an unannounced local spawn waiting for
// the host's answer.
func (c Config) ClaimTTL() time.Duration { return 2 * c.PendingTimeout }

func (c Config) Validate() error {
	switch {
	case c.DuplicateRadius <= 0:
		return fmt.Errorf("reconcile.duplicate_radius: must be positive")
	case c.MatchRadius <= c.DuplicateRadius:
		return fmt.Errorf("reconcile.match_radius: must exceed duplicate_radius (%v <= %v)", c.MatchRadius, c.DuplicateRadius)
	case c.RetryInterval <= 0:
		return fmt.Errorf("reconcile.retry_interval: must be positive")
	case c.PendingTimeout < c.RetryInterval:
		return fmt.Errorf("reconcile.pending_timeout: must be at least retry_interval")
	case c.BatchRetryInterval <= 0:
		return fmt.Errorf("reconcile.batch_retry_interval: must be positive")
	case c.BatchMaxDuration < c.BatchRetryInterval:
		return fmt.Errorf("reconcile.batch_max_duration: must be at least batch_retry_interval")
	case c.PopulationPoll <= 0:
		return fmt.Errorf("reconcile.population_poll: must be positive")
	case c.PopulationStableWindow <= 0:
		return fmt.Errorf("reconcile.population_stable_window: must be positive")
	case c.PopulationMaxWait < c.PopulationStableWindow:
		return fmt.Errorf("reconcile.population_max_wait: must be at least population_stable_window")
	}
	return nil
}

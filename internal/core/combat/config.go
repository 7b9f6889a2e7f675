package combat

import "fmt"

type Config struct {
	// MaxDamage caps a single hit, 0 disables the cap.
	MaxDamage float32 `yaml:"max_damage" env:"MAX_DAMAGE"`
	// HealthEpsilon is the smallest health change reported as damage.
	// Smaller changes count as a blocked hit.
	HealthEpsilon float32 `yaml:"health_epsilon" env:"HEALTH_EPSILON"`
}

func DefaultConfig() Config {
	return Config{HealthEpsilon: 0.001}
}

func (c Config) Validate() error {
	if c.MaxDamage < 0 {
		return fmt.Errorf("combat.max_damage: must not be negative")
	}
	if c.HealthEpsilon < 0 {
		return fmt.Errorf("combat.health_epsilon: must not be negative")
	}
	return nil
}

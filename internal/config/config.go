// Package config loads the runtime configuration: defaults, then an optional
// YAML file, then COOP_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/session"
)

// EnvPrefix prefixes every environment override, e.g. COOP_LISTEN_ADDR.
const EnvPrefix = "COOP_"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// TickRate is how often the session loop runs, in Hz.
	TickRate float64 `yaml:"tick_rate" env:"TICK_RATE"`
	// Level is loaded by the host right after startup.
	Level string `yaml:"level" env:"LEVEL"`
	Seed  uint32 `yaml:"seed" env:"SEED"`

	Log       log.Config      `yaml:"log" envPrefix:"LOG_"`
	Transport protocol.Config `yaml:"transport"`
	Session   session.Config  `yaml:"session" envPrefix:"SESSION_"`
}

func Default() Config {
	return Config{
		TickRate:  120,
		Level:     "training_ground",
		Log:       log.DefaultConfig(),
		Transport: protocol.DefaultConfig(),
		Session:   session.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TickRate <= 0 {
		return fmt.Errorf("%w: tick_rate: must be positive, got %v", ErrInvalid, c.TickRate)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

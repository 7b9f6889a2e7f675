package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/zeusync/coop/internal/core/combat"
	"github.com/zeusync/coop/internal/core/interp"
	"github.com/zeusync/coop/internal/core/reconcile"
)

type Config struct {
	// Name is shown to other participants.
	Name string `yaml:"name" env:"NAME"`
	// Token identifies this client across reconnects. Empty means a fresh
	// random token per session.
	Token string `yaml:"token" env:"TOKEN"`

	// ActorRate and PlayerRate are outbound state frequencies in Hz.
	ActorRate  float64 `yaml:"actor_rate" env:"ACTOR_RATE"`
	PlayerRate float64 `yaml:"player_rate" env:"PLAYER_RATE"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" env:"HEARTBEAT_TIMEOUT"`

	Reconcile reconcile.Config `yaml:"reconcile" envPrefix:"RECONCILE_"`
	Combat    combat.Config    `yaml:"combat" envPrefix:"COMBAT_"`
	Interp    interp.Config    `yaml:"interp" envPrefix:"INTERP_"`
}

func DefaultConfig() Config {
	return Config{
		Name:              "player",
		ActorRate:         60,
		PlayerRate:        30,
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  5 * time.Second,
		Reconcile:         reconcile.DefaultConfig(),
		Combat:            combat.DefaultConfig(),
		Interp:            interp.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	switch {
	case c.ActorRate <= 0:
		return fmt.Errorf("session.actor_rate: must be positive, got %v", c.ActorRate)
	case c.PlayerRate <= 0:
		return fmt.Errorf("session.player_rate: must be positive, got %v", c.PlayerRate)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("session.heartbeat_interval: must be positive")
	case c.HeartbeatTimeout <= c.HeartbeatInterval:
		return fmt.Errorf("session.heartbeat_timeout: must exceed heartbeat_interval (%v)", c.HeartbeatInterval)
	}
	return errors.Join(c.Reconcile.Validate(), c.Combat.Validate(), c.Interp.Validate())
}

func (c Config) actorPeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.ActorRate)
}

func (c Config) playerPeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.PlayerRate)
}

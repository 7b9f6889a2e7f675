package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/coop/internal/core/protocol"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, float32(4), cfg.Session.Reconcile.MatchRadius)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.Interp.Delay)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
tick_rate: 60
level: harbor
log:
  level: debug
transport:
  kind: websocket
  listen_addr: 127.0.0.1:9000
session:
  name: alice
  heartbeat_timeout: 8s
  reconcile:
    match_radius: 6
    pending_timeout: 2s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, float64(60), cfg.TickRate)
	assert.Equal(t, "harbor", cfg.Level)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, protocol.TransportWebSocket, cfg.Transport.Kind)
	assert.Equal(t, "127.0.0.1:9000", cfg.Transport.ListenAddr)
	assert.Equal(t, "alice", cfg.Session.Name)
	assert.Equal(t, 8*time.Second, cfg.Session.HeartbeatTimeout)
	assert.Equal(t, float32(6), cfg.Session.Reconcile.MatchRadius)
	assert.Equal(t, 2*time.Second, cfg.Session.Reconcile.PendingTimeout)

	// Untouched fields keep their defaults.
	assert.Equal(t, float32(1), cfg.Session.Reconcile.DuplicateRadius)
	assert.Equal(t, Default().Transport.InboxSize, cfg.Transport.InboxSize)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "transport:\n  kind: websocket\n")
	t.Setenv("COOP_TRANSPORT", "quic")
	t.Setenv("COOP_LISTEN_ADDR", "127.0.0.1:7000")
	t.Setenv("COOP_LOG_LEVEL", "warn")
	t.Setenv("COOP_TICK_RATE", "30")
	t.Setenv("COOP_SESSION_RECONCILE_MATCH_RADIUS", "5.5")
	t.Setenv("COOP_SESSION_HEARTBEAT_INTERVAL", "500ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, protocol.TransportQUIC, cfg.Transport.Kind)
	assert.Equal(t, "127.0.0.1:7000", cfg.Transport.ListenAddr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, float64(30), cfg.TickRate)
	assert.Equal(t, float32(5.5), cfg.Session.Reconcile.MatchRadius)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.HeartbeatInterval)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	path := writeFile(t, "session:\n  reconcile:\n    match_radius: 0.5\n")
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "match_radius")

	t.Setenv("COOP_TRANSPORT", "carrier-pigeon")
	_, err = Load("")
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "transport.kind")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "tick_rate: [1, 2"))
	assert.Error(t, err)

	t.Setenv("COOP_TICK_RATE", "fast")
	_, err = Load("")
	assert.Error(t, err)
}

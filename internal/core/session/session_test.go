package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/coop/internal/core/events/bus"
	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/protocol/memory"
	"github.com/zeusync/coop/internal/core/reconcile"
	"github.com/zeusync/coop/internal/core/sim/memsim"
)

const step = 10 * time.Millisecond

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type node struct {
	s     *Session
	world *memsim.World
	tr    *memory.Transport
	seen  []bus.Event
}

func (n *node) of(typ string) []bus.Event {
	var out []bus.Event
	for _, e := range n.seen {
		if e.Type() == typ {
			out = append(out, e)
		}
	}
	return out
}

func (n *node) lastConnection(t *testing.T) bus.ConnectionState {
	t.Helper()
	events := n.of(bus.TypeConnectionState)
	require.NotEmpty(t, events)
	return events[len(events)-1].Data().(bus.ConnectionState)
}

type cluster struct {
	hub   *memory.Hub
	clock *fakeClock
	nodes []*node
}

func newCluster() *cluster {
	return &cluster{
		hub:   memory.NewHub(512),
		clock: &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}
}

func (c *cluster) add(t *testing.T, tr *memory.Transport, name string) *node {
	t.Helper()
	n := &node{world: memsim.New(tr.LocalPeer(), nil), tr: tr}
	events := bus.New()
	for _, typ := range []string{bus.TypeConnectionState, bus.TypePeerJoined, bus.TypePeerLeft, bus.TypeEntityDied} {
		_, err := events.Subscribe(typ, func(e bus.Event) error {
			n.seen = append(n.seen, e)
			return nil
		})
		require.NoError(t, err)
	}

	cfg := DefaultConfig()
	cfg.Name = name
	s, err := New(cfg, n.world, tr, events, log.NewNop(), WithClock(c.clock.Now))
	require.NoError(t, err)
	n.s = s
	c.nodes = append(c.nodes, n)
	return n
}

func (c *cluster) host(t *testing.T) *node {
	return c.add(t, c.hub.Host(), "host")
}

func (c *cluster) join(t *testing.T, name string) *node {
	t.Helper()
	tr, err := c.hub.Join()
	require.NoError(t, err)
	return c.add(t, tr, name)
}

// run advances the shared clock, ticking every node except the paused ones.
func (c *cluster) run(d time.Duration, paused ...*node) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		c.clock.now = c.clock.now.Add(step)
	next:
		for _, n := range c.nodes {
			for _, p := range paused {
				if p == n {
					continue next
				}
			}
			n.s.Tick(c.clock.now)
		}
	}
}

// connected builds a host with the given clients and completes the handshake.
func connected(t *testing.T, names ...string) (*cluster, *node, []*node) {
	t.Helper()
	c := newCluster()
	host := c.host(t)
	clients := make([]*node, 0, len(names))
	for _, name := range names {
		clients = append(clients, c.join(t, name))
	}
	c.run(100 * time.Millisecond)
	for _, cl := range clients {
		require.Equal(t, protocol.ConnectionStateConnected, cl.s.State())
	}
	return c, host, clients
}

var levelActors = []struct {
	kind models.TypeID
	pos  models.Vec3
}{
	{10, models.Vec3{X: 5}},
	{11, models.Vec3{X: 15, Z: 4}},
	{12, models.Vec3{Z: -20}},
}

// loadLevel starts a level on the host and lets both simulations populate it.
func loadLevel(t *testing.T, c *cluster, host *node, clients ...*node) {
	t.Helper()
	require.NoError(t, host.s.StartLevel("arena", 7))
	c.run(50 * time.Millisecond)
	for _, a := range levelActors {
		_, err := host.world.Spawn(a.kind, a.pos)
		require.NoError(t, err)
		for _, cl := range clients {
			_, err = cl.world.Spawn(a.kind, a.pos.Add(models.Vec3{X: 0.5}))
			require.NoError(t, err)
		}
	}
	c.run(2 * time.Second)
	require.Equal(t, reconcile.PhaseDone, host.s.Engine().Phase())
}

func TestHandshake(t *testing.T) {
	c := newCluster()
	host := c.host(t)
	client := c.join(t, "alice")
	assert.Equal(t, protocol.ConnectionStateConnected, host.s.State())
	assert.Equal(t, protocol.ConnectionStateConnecting, client.s.State())

	c.run(100 * time.Millisecond)

	assert.Equal(t, protocol.ConnectionStateConnected, client.s.State())
	assert.NotEmpty(t, host.s.ID())
	assert.Equal(t, host.s.ID(), client.s.ID())
	assert.Equal(t, []models.PeerID{client.s.LocalPeer()}, host.s.Peers())
	assert.Equal(t, protocol.ConnectionStateConnected, client.lastConnection(t).State)

	joined := host.of(bus.TypePeerJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, bus.PeerJoined{Peer: client.s.LocalPeer(), Name: "alice"}, joined[0].Data())

	// A second client learns about the first one.
	bob := c.join(t, "bob")
	c.run(100 * time.Millisecond)
	assert.Equal(t, []models.PeerID{protocol.HostPeerID, client.s.LocalPeer()}, bob.s.Peers())
	require.Len(t, client.of(bus.TypePeerJoined), 1)
	assert.Equal(t, bus.PeerJoined{Peer: bob.s.LocalPeer(), Name: "bob"}, client.of(bus.TypePeerJoined)[0].Data())

	c.run(1500 * time.Millisecond)
	_, ok := host.s.RTT(client.s.LocalPeer())
	assert.True(t, ok, "heartbeats are echoed")
	assert.NotZero(t, host.s.Stats().HeartbeatsSent)
}

func TestFingerprintMismatchIsRejected(t *testing.T) {
	c := newCluster()
	host := c.host(t)
	tr, err := c.hub.Join()
	require.NoError(t, err)

	raw := protocol.NewRouter(tr, log.NewNop())
	var got *protocol.Disconnect
	raw.Handle(protocol.TypeDisconnect, func(_ models.PeerID, m protocol.Message) {
		got = m.(*protocol.Disconnect)
	})
	require.NoError(t, raw.SendToHost(&protocol.Hello{Fingerprint: protocol.Fingerprint() + 1, Name: "old"}, protocol.Reliable))

	c.run(30 * time.Millisecond)
	raw.Poll()

	require.NotNil(t, got)
	assert.Equal(t, protocol.ErrorCodeFingerprintMismatch, got.Code)
	assert.Empty(t, host.s.Peers())
	assert.EqualValues(t, 1, host.s.Stats().Rejected)
	assert.Empty(t, host.of(bus.TypePeerJoined))
}

func TestLevelStartSyncsEntitiesThroughBatch(t *testing.T) {
	c, host, clients := connected(t, "alice")
	client := clients[0]

	require.NoError(t, host.s.StartLevel("arena", 7))
	c.run(50 * time.Millisecond)
	name, hash := client.s.Level()
	assert.Equal(t, "arena", name)
	assert.Equal(t, protocol.LevelHash("arena"), hash)
	assert.True(t, client.s.Engine().AwaitingBatch())

	for _, a := range levelActors {
		_, err := host.world.Spawn(a.kind, a.pos)
		require.NoError(t, err)
		_, err = client.world.Spawn(a.kind, a.pos.Add(models.Vec3{X: 0.5}))
		require.NoError(t, err)
	}
	c.run(2 * time.Second)

	assert.Equal(t, reconcile.PhaseDone, host.s.Engine().Phase())
	require.Equal(t, len(levelActors), client.s.Registry().Len())
	host.s.Registry().Each(func(id models.EntityID, h models.Handle) {
		hostInfo, ok := host.world.Actor(h)
		require.True(t, ok)
		ch, ok := client.s.Registry().TryGetEntity(id)
		require.True(t, ok, "id %d", id)
		clientInfo, ok := client.world.Actor(ch)
		require.True(t, ok)
		assert.Equal(t, hostInfo.Type, clientInfo.Type)
		assert.True(t, client.world.IsPuppet(ch))
	})
	assert.Zero(t, client.s.Engine().Stats().ForcedSpawns)

	require.NoError(t, client.s.LevelLoaded())
	c.run(30 * time.Millisecond)
	assert.Equal(t, []models.PeerID{client.s.LocalPeer()}, host.s.Ready())
}

func TestActorMotionIsInterpolatedOnClients(t *testing.T) {
	c, host, clients := connected(t, "alice")
	client := clients[0]
	loadLevel(t, c, host, client)

	h, ok := host.s.Registry().TryGetEntity(1)
	require.True(t, ok)
	st, err := host.world.ReadState(h)
	require.NoError(t, err)
	st.Position = models.Vec3{X: 40, Y: 2}
	st.Yaw = 90
	require.NoError(t, host.world.WriteState(h, st))

	c.run(500 * time.Millisecond)

	ch, ok := client.s.Registry().TryGetEntity(1)
	require.True(t, ok)
	got, err := client.world.ReadState(ch)
	require.NoError(t, err)
	assert.InDelta(t, 40, got.Position.X, 1e-3)
	assert.InDelta(t, 2, got.Position.Y, 1e-3)
	assert.InDelta(t, 90, got.Yaw, 1e-3)
	assert.Equal(t, len(levelActors), client.s.TrackedActors())
	assert.NotZero(t, host.s.Stats().ActorBroadcasts)
}

func TestPlayerStateIsRelayedThroughHost(t *testing.T) {
	c, host, clients := connected(t, "alice", "bob")
	alice, bob := clients[0], clients[1]

	host.world.AddPlayer(protocol.HostPeerID, models.Vec3{X: 3})
	alice.world.AddPlayer(alice.s.LocalPeer(), models.Vec3{Z: 7})
	c.run(500 * time.Millisecond)

	for _, n := range []*node{alice, bob} {
		h, ok := n.world.PlayerHandle(protocol.HostPeerID)
		require.True(t, ok)
		st, err := n.world.ReadState(h)
		require.NoError(t, err)
		assert.InDelta(t, 3, st.Position.X, 1e-3)
	}
	for _, n := range []*node{host, bob} {
		h, ok := n.world.PlayerHandle(alice.s.LocalPeer())
		require.True(t, ok)
		st, err := n.world.ReadState(h)
		require.NoError(t, err)
		assert.InDelta(t, 7, st.Position.Z, 1e-3)
	}
	assert.GreaterOrEqual(t, host.s.TrackedPlayers(), 2)
}

func TestDeathDropsInterpolationState(t *testing.T) {
	c, host, clients := connected(t, "alice")
	client := clients[0]
	loadLevel(t, c, host, client)
	require.Equal(t, len(levelActors), client.s.TrackedActors())

	ch, _ := client.s.Registry().TryGetEntity(2)
	host.s.Arbiter().Apply(2, 1000, 0, models.Vec3{}, true)
	c.run(30 * time.Millisecond)

	assert.Equal(t, len(levelActors)-1, client.s.Registry().Len())
	assert.Equal(t, len(levelActors)-1, client.s.TrackedActors())
	_, alive := client.world.Actor(ch)
	assert.False(t, alive)
	require.Len(t, client.of(bus.TypeEntityDied), 1)
	assert.Equal(t, models.EntityID(2), client.of(bus.TypeEntityDied)[0].Data().(bus.EntityDied).ID)
}

func TestLateJoinerReceivesLevelAndBatch(t *testing.T) {
	c := newCluster()
	host := c.host(t)
	require.NoError(t, host.s.StartLevel("arena", 7))
	for _, a := range levelActors {
		_, err := host.world.Spawn(a.kind, a.pos)
		require.NoError(t, err)
	}
	c.run(2 * time.Second)
	require.Equal(t, reconcile.PhaseDone, host.s.Engine().Phase())

	late := c.join(t, "late")
	for _, a := range levelActors {
		late.world.Place(a.kind, a.pos)
	}
	c.run(100 * time.Millisecond)

	name, _ := late.s.Level()
	assert.Equal(t, "arena", name)
	assert.Equal(t, len(levelActors), late.s.Registry().Len())
	assert.False(t, late.s.Engine().AwaitingBatch())
}

func TestHeartbeatTimeoutClearsState(t *testing.T) {
	c, host, clients := connected(t, "alice")
	client := clients[0]
	loadLevel(t, c, host, client)
	require.NotZero(t, client.s.Registry().Len())

	c.run(4*time.Second, host)
	assert.Equal(t, protocol.ConnectionStateConnected, client.s.State())

	c.run(1500*time.Millisecond, host)
	assert.Equal(t, protocol.ConnectionStateDisconnected, client.s.State())
	assert.Zero(t, client.s.Registry().Len())
	assert.Zero(t, client.s.Engine().PendingCount())
	assert.Zero(t, client.s.TrackedActors())
	name, _ := client.s.Level()
	assert.Empty(t, name)
	assert.Contains(t, client.lastConnection(t).Reason, protocol.ErrHeartbeatTimeout.Error())

	// The host notices the silent client once its queued traffic is drained.
	c.run(6*time.Second, client)
	assert.Empty(t, host.s.Peers())
	left := host.of(bus.TypePeerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, client.s.LocalPeer(), left[0].Data().(bus.PeerLeft).Peer)
	assert.EqualValues(t, 1, host.s.Stats().Timeouts)
}

func TestHostCloseEndsSessionForClients(t *testing.T) {
	c, host, clients := connected(t, "alice")
	client := clients[0]
	loadLevel(t, c, host, client)

	require.NoError(t, host.s.Close("maintenance"))
	require.NoError(t, host.s.Close("again"))
	assert.ErrorIs(t, host.s.StartLevel("next", 1), ErrClosed)

	c.run(30 * time.Millisecond)
	assert.Equal(t, protocol.ConnectionStateDisconnected, client.s.State())
	assert.Contains(t, client.lastConnection(t).Reason, "maintenance")
	assert.Zero(t, client.s.Registry().Len())
	assert.Len(t, client.of(bus.TypeConnectionState), 2, "connected once, disconnected once")
}

func TestClientCloseNotifiesHost(t *testing.T) {
	c, host, clients := connected(t, "alice", "bob")
	alice, bob := clients[0], clients[1]

	require.NoError(t, alice.s.Close("bye"))
	c.run(30 * time.Millisecond)

	assert.Equal(t, []models.PeerID{bob.s.LocalPeer()}, host.s.Peers())
	left := host.of(bus.TypePeerLeft)
	require.Len(t, left, 1)
	assert.Contains(t, left[0].Data().(bus.PeerLeft).Reason, "bye")

	require.Len(t, bob.of(bus.TypePeerLeft), 1)
	assert.Equal(t, []models.PeerID{protocol.HostPeerID}, bob.s.Peers())
}

func TestAbortedLevelCanBeRestarted(t *testing.T) {
	c, host, clients := connected(t, "alice")
	client := clients[0]

	require.NoError(t, host.s.StartLevel("arena", 7))
	c.run(50 * time.Millisecond)
	var partial []models.Handle
	for _, a := range levelActors[:2] {
		h, err := host.world.Spawn(a.kind, a.pos)
		require.NoError(t, err)
		partial = append(partial, h)
	}
	require.Equal(t, 2, host.s.Registry().Len())
	require.True(t, host.s.Engine().Phase().Loading())

	require.NoError(t, host.s.AbortLevel())
	assert.Zero(t, host.s.Registry().Len())
	assert.Equal(t, reconcile.PhaseIdle, host.s.Engine().Phase())
	name, _ := host.s.Level()
	assert.Empty(t, name)
	assert.ErrorIs(t, host.s.AbortLevel(), ErrNoLevel)

	for _, h := range partial {
		require.NoError(t, host.world.Despawn(h))
	}
	loadLevel(t, c, host, client)

	assert.Equal(t, len(levelActors), host.s.Registry().Len())
	assert.Equal(t, len(levelActors), client.s.Registry().Len())
	assert.Equal(t, host.s.Registry().IDs(), client.s.Registry().IDs())
}

func TestClientOnlyOperations(t *testing.T) {
	_, host, clients := connected(t, "alice")
	assert.ErrorIs(t, clients[0].s.StartLevel("arena", 1), ErrNotHost)
	assert.ErrorIs(t, clients[0].s.AbortLevel(), ErrNotHost)
	assert.ErrorIs(t, clients[0].s.LevelLoaded(), ErrNoLevel)
	assert.NoError(t, host.s.LevelLoaded())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.HeartbeatTimeout = cfg.HeartbeatInterval
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ActorRate = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Reconcile.MatchRadius = 0
	assert.Error(t, cfg.Validate())

	_, err := New(cfg, memsim.New(1, nil), newCluster().hub.Host(), nil, log.NewNop())
	assert.Error(t, err)
}

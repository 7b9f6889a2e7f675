package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/protocol/memory"
)

type received struct {
	from models.PeerID
	msg  protocol.Message
}

func newRouter(t *testing.T, tr protocol.Transport) (*protocol.Router, *[]received) {
	t.Helper()
	r := protocol.NewRouter(tr, log.NewNop())
	var got []received
	record := func(from models.PeerID, m protocol.Message) {
		got = append(got, received{from: from, msg: m})
	}
	for _, typ := range protocol.KnownTypes() {
		r.Handle(typ, record)
	}
	return r, &got
}

func star(t *testing.T, clients int) (*memory.Hub, *memory.Transport, []*memory.Transport) {
	t.Helper()
	hub := memory.NewHub(64)
	host := hub.Host()
	out := make([]*memory.Transport, clients)
	for i := range out {
		c, err := hub.Join()
		require.NoError(t, err)
		out[i] = c
	}
	return hub, host, out
}

func TestRouterRelaysPlayerStateToOtherClients(t *testing.T) {
	_, host, clients := star(t, 2)
	hostRouter, hostGot := newRouter(t, host)
	aRouter, aGot := newRouter(t, clients[0])
	bRouter, bGot := newRouter(t, clients[1])

	// The author field is rewritten by the host.
	require.NoError(t, aRouter.Broadcast(&protocol.PlayerState{Peer: 99, Time: 1}, protocol.Unreliable))

	assert.Equal(t, 1, hostRouter.Poll())
	require.Len(t, *hostGot, 1)
	assert.Equal(t, clients[0].LocalPeer(), (*hostGot)[0].msg.(*protocol.PlayerState).Peer)

	assert.Equal(t, 1, bRouter.Poll())
	require.Len(t, *bGot, 1)
	assert.Equal(t, protocol.HostPeerID, (*bGot)[0].from)
	assert.Equal(t, clients[0].LocalPeer(), (*bGot)[0].msg.(*protocol.PlayerState).Peer)

	assert.Zero(t, aRouter.Poll(), "sender must not get its own relay")
	assert.Empty(t, *aGot)
	assert.EqualValues(t, 1, hostRouter.Stats().Relayed)
}

func TestRouterDoesNotRelayHostOnlyTraffic(t *testing.T) {
	_, host, clients := star(t, 2)
	hostRouter, hostGot := newRouter(t, host)
	aRouter, _ := newRouter(t, clients[0])
	bRouter, bGot := newRouter(t, clients[1])

	require.NoError(t, aRouter.SendToHost(&protocol.DamageRequest{ID: 4, Damage: 10}, protocol.Reliable))
	hostRouter.Poll()
	require.Len(t, *hostGot, 1)

	bRouter.Poll()
	assert.Empty(t, *bGot)
}

func TestRouterForwardsPlayerDamageToTarget(t *testing.T) {
	_, host, clients := star(t, 2)
	hostRouter, hostGot := newRouter(t, host)
	aRouter, _ := newRouter(t, clients[0])
	bRouter, bGot := newRouter(t, clients[1])

	target := clients[1].LocalPeer()
	require.NoError(t, aRouter.SendToHost(&protocol.PlayerDamage{Target: target, Damage: 5}, protocol.Reliable))
	hostRouter.Poll()
	assert.Empty(t, *hostGot, "host only forwards")

	bRouter.Poll()
	require.Len(t, *bGot, 1)
	assert.Equal(t, target, (*bGot)[0].msg.(*protocol.PlayerDamage).Target)

	require.NoError(t, aRouter.SendToHost(&protocol.PlayerDamage{Target: protocol.HostPeerID, Damage: 5}, protocol.Reliable))
	hostRouter.Poll()
	assert.Len(t, *hostGot, 1, "damage aimed at the host is handled locally")
}

func TestRouterDropsMalformed(t *testing.T) {
	_, host, clients := star(t, 1)
	hostRouter, hostGot := newRouter(t, host)

	require.NoError(t, clients[0].SendReliable(protocol.HostPeerID, []byte{0x4F}))
	require.NoError(t, clients[0].SendReliable(protocol.HostPeerID, []byte{byte(protocol.TypeEntityDespawn), 1}))
	data, err := protocol.Encode(&protocol.EntityDespawn{ID: 2})
	require.NoError(t, err)
	require.NoError(t, clients[0].SendReliable(protocol.HostPeerID, data))

	assert.Equal(t, 3, hostRouter.Poll())
	require.Len(t, *hostGot, 1, "session continues after bad input")
	assert.EqualValues(t, 2, hostRouter.Stats().Dropped)
}

func TestRouterSendToSelfHasNoRoute(t *testing.T) {
	_, host, _ := star(t, 1)
	r, _ := newRouter(t, host)
	assert.ErrorIs(t, r.SendTo(host.LocalPeer(), &protocol.Heartbeat{}, protocol.Reliable), protocol.ErrNoRoute)
	assert.NoError(t, r.SendToHost(&protocol.Heartbeat{}, protocol.Reliable))
}

func TestMemoryHubLossAndLeave(t *testing.T) {
	hub, host, clients := star(t, 2)
	hub.SetLoss(func(_, _ models.PeerID, _ []byte) bool { return true })

	require.NoError(t, host.SendUnreliable(clients[0].LocalPeer(), []byte{1}))
	assert.Empty(t, clients[0].Receive())
	require.NoError(t, host.SendReliable(clients[0].LocalPeer(), []byte{1}))
	assert.Len(t, clients[0].Receive(), 1)

	assert.ErrorIs(t, clients[0].SendReliable(clients[1].LocalPeer(), []byte{1}), protocol.ErrNoRoute)

	events := host.PeerEvents()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.PeerConnected, events[0].Kind)

	require.NoError(t, clients[0].Close())
	events = host.PeerEvents()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.PeerDisconnected, events[0].Kind)
	assert.Equal(t, []models.PeerID{clients[1].LocalPeer()}, host.Peers())

	require.NoError(t, host.Close())
	events = clients[1].PeerEvents()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, protocol.PeerDisconnected, last.Kind)
	assert.ErrorIs(t, last.Reason, protocol.ErrHostLeft)
	assert.Empty(t, clients[1].Peers())
}

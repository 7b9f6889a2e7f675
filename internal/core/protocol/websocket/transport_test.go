package websocket

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
)

func TestLoopbackFallbackDelivery(t *testing.T) {
	cfg := protocol.DefaultConfig()
	cfg.Kind = protocol.TransportWebSocket
	cfg.ListenAddr = "127.0.0.1:0"

	host, err := Listen(cfg, log.NewNop())
	require.NoError(t, err)
	defer func() { _ = host.Close() }()

	client, err := Dial(context.Background(), host.Addr().String(), cfg, log.NewNop())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	require.Eventually(t, func() bool { return len(host.Peers()) == 1 }, 5*time.Second, 10*time.Millisecond)
	peer := host.Peers()[0]
	assert.Equal(t, client.LocalPeer(), peer)

	// Unreliable sends ride the ordered connection, so order is kept.
	for i := byte(0); i < 10; i++ {
		require.NoError(t, client.SendUnreliable(protocol.HostPeerID, []byte{i}))
	}
	var got []protocol.Packet
	require.Eventually(t, func() bool {
		got = append(got, host.Receive()...)
		return len(got) == 10
	}, 5*time.Second, 10*time.Millisecond)
	for i, p := range got {
		assert.Equal(t, []byte{byte(i)}, p.Data)
		assert.Equal(t, peer, p.From)
	}

	require.NoError(t, host.Close())
	require.Eventually(t, func() bool {
		for _, e := range client.PeerEvents() {
			if e.Kind == protocol.PeerDisconnected {
				assert.ErrorIs(t, e.Reason, protocol.ErrHostLeft)
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRejectsBadPreface(t *testing.T) {
	cfg := protocol.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	host, err := Listen(cfg, log.NewNop())
	require.NoError(t, err)
	defer func() { _ = host.Close() }()

	conn, _, err := dialRaw(host.Addr().String(), cfg.Path)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	frame, err := host.Framer().Pack([]byte("nope!!"))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))

	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Empty(t, host.Peers())
}

func dialRaw(addr, path string) (*websocket.Conn, *http.Response, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	return websocket.DefaultDialer.Dial(u.String(), nil)
}

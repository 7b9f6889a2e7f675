// Package memory is an in-process Transport. A Hub connects one host and any
// number of clients in a star, exactly like the network transports, but
// delivers frames through channels. Tests use it to run several sessions in
// one process.
package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/protocol"
)

// LossFunc decides whether an unreliable frame is dropped.
type LossFunc func(from, to models.PeerID, data []byte) bool

// Hub owns every endpoint of one in-process session.
type Hub struct {
	mu    sync.Mutex
	nodes map[models.PeerID]*Transport
	next  models.PeerID
	inbox int
	loss  LossFunc
}

func NewHub(inboxSize int) *Hub {
	return &Hub{
		nodes: make(map[models.PeerID]*Transport),
		next:  protocol.HostPeerID,
		inbox: inboxSize,
	}
}

// SetLoss installs a drop policy for unreliable frames.
func (h *Hub) SetLoss(fn LossFunc) {
	h.mu.Lock()
	h.loss = fn
	h.mu.Unlock()
}

// Host creates the host endpoint. It must be called before Join.
func (h *Hub) Host() *Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.nodes[protocol.HostPeerID]; ok {
		return t
	}
	t := h.newTransport(protocol.HostPeerID)
	h.next = protocol.HostPeerID + 1
	return t
}

// Join connects a new client to the host.
func (h *Hub) Join() (*Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	host, ok := h.nodes[protocol.HostPeerID]
	if !ok {
		return nil, fmt.Errorf("%w: no host in hub", protocol.ErrNoRoute)
	}
	t := h.newTransport(h.next)
	h.next++
	host.inbox.PushEvent(protocol.PeerEvent{Peer: t.peer, Kind: protocol.PeerConnected})
	t.inbox.PushEvent(protocol.PeerEvent{Peer: protocol.HostPeerID, Kind: protocol.PeerConnected})
	return t, nil
}

func (h *Hub) newTransport(peer models.PeerID) *Transport {
	t := &Transport{hub: h, peer: peer, inbox: protocol.NewInbox(h.inbox)}
	h.nodes[peer] = t
	return t
}

func (h *Hub) peersOf(peer models.PeerID) []models.PeerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.nodes[peer]; !ok {
		return nil
	}
	if peer != protocol.HostPeerID {
		if _, ok := h.nodes[protocol.HostPeerID]; ok {
			return []models.PeerID{protocol.HostPeerID}
		}
		return nil
	}
	out := make([]models.PeerID, 0, len(h.nodes)-1)
	for id := range h.nodes {
		if id != protocol.HostPeerID {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (h *Hub) deliver(from, to models.PeerID, data []byte, d protocol.Delivery) error {
	h.mu.Lock()
	src, ok := h.nodes[from]
	if !ok {
		h.mu.Unlock()
		return protocol.ErrTransportClosed
	}
	dst, ok := h.nodes[to]
	loss := h.loss
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", protocol.ErrUnknownPeer, to)
	}
	if from != protocol.HostPeerID && to != protocol.HostPeerID {
		return fmt.Errorf("%w: clients only talk to the host", protocol.ErrNoRoute)
	}
	if d == protocol.Unreliable && loss != nil && loss(from, to, data) {
		src.stats.Dropped()
		return nil
	}

	p := protocol.Packet{From: from, Data: slices.Clone(data), Delivery: d}
	if !dst.inbox.Offer(p) {
		if d == protocol.Unreliable {
			dst.stats.Dropped()
			return nil
		}
		return fmt.Errorf("%w: inbox of peer %d is full", protocol.ErrNoRoute, to)
	}
	src.stats.Sent(len(data))
	dst.stats.Received(len(data))
	return nil
}

func (h *Hub) leave(peer models.PeerID, reason error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.nodes[peer]; !ok {
		return
	}
	delete(h.nodes, peer)

	if peer == protocol.HostPeerID {
		for _, t := range h.nodes {
			t.inbox.PushEvent(protocol.PeerEvent{Peer: peer, Kind: protocol.PeerDisconnected, Reason: protocol.ErrHostLeft})
		}
		return
	}
	if host, ok := h.nodes[protocol.HostPeerID]; ok {
		host.inbox.PushEvent(protocol.PeerEvent{Peer: peer, Kind: protocol.PeerDisconnected, Reason: reason})
	}
}

// Transport is one endpoint of a Hub.
type Transport struct {
	hub   *Hub
	peer  models.PeerID
	inbox *protocol.Inbox
	stats protocol.Counters
}

var _ protocol.Transport = (*Transport)(nil)

func (t *Transport) LocalPeer() models.PeerID { return t.peer }

func (t *Transport) HostPeer() models.PeerID { return protocol.HostPeerID }

func (t *Transport) IsHost() bool { return t.peer == protocol.HostPeerID }

func (t *Transport) Peers() []models.PeerID { return t.hub.peersOf(t.peer) }

func (t *Transport) SendReliable(to models.PeerID, data []byte) error {
	return t.hub.deliver(t.peer, to, data, protocol.Reliable)
}

func (t *Transport) SendUnreliable(to models.PeerID, data []byte) error {
	return t.hub.deliver(t.peer, to, data, protocol.Unreliable)
}

func (t *Transport) Receive() []protocol.Packet { return t.inbox.Drain() }

func (t *Transport) PeerEvents() []protocol.PeerEvent { return t.inbox.DrainEvents() }

func (t *Transport) Stats() protocol.TransportStats { return t.stats.Snapshot() }

// Close leaves the hub. Closing the host disconnects every client.
func (t *Transport) Close() error {
	t.hub.leave(t.peer, nil)
	return nil
}

// Drop disconnects the endpoint abnormally, as a network failure would.
func (t *Transport) Drop(reason error) {
	t.hub.leave(t.peer, reason)
}

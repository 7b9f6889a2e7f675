package protocol

import (
	"sync"
	"sync/atomic"

	"github.com/zeusync/coop/internal/core/models"
)

// HostPeerID is the peer id every transport gives the session host.
const HostPeerID models.PeerID = 1

// Packet is one inbound message frame together with its sender.
type Packet struct {
	From     models.PeerID
	Data     []byte
	Delivery Delivery
}

// PeerEventKind says whether a peer joined or left the transport session.
type PeerEventKind uint8

const (
	PeerConnected PeerEventKind = iota + 1
	PeerDisconnected
)

func (k PeerEventKind) String() string {
	switch k {
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PeerEvent is a link-level join or leave. Reason is set on abnormal leaves.
type PeerEvent struct {
	Peer   models.PeerID
	Kind   PeerEventKind
	Reason error
}

// Transport is the point-to-point session the core runs on. The host sees
// every client as a peer; a client sees only the host. Send calls never
// block on the network. Receive and PeerEvents return what was delivered
// since the previous call and never block.
type Transport interface {
	LocalPeer() models.PeerID
	HostPeer() models.PeerID
	IsHost() bool
	// Peers lists the currently connected remote peers.
	Peers() []models.PeerID

	SendReliable(to models.PeerID, data []byte) error
	// SendUnreliable may drop the frame. Transports without a datagram
	// channel fall back to reliable delivery.
	SendUnreliable(to models.PeerID, data []byte) error

	Receive() []Packet
	PeerEvents() []PeerEvent

	Close() error
}

// TransportStats contains transport-level counters.
type TransportStats struct {
	FramesSent     uint64
	FramesReceived uint64
	FramesDropped  uint64
	BytesSent      uint64
	BytesReceived  uint64
}

// Counters is an atomic TransportStats shared by transport goroutines.
type Counters struct {
	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	framesDropped  atomic.Uint64
	bytesSent      atomic.Uint64
	bytesReceived  atomic.Uint64
}

func (c *Counters) Sent(n int) {
	c.framesSent.Add(1)
	c.bytesSent.Add(uint64(n))
}

func (c *Counters) Received(n int) {
	c.framesReceived.Add(1)
	c.bytesReceived.Add(uint64(n))
}

func (c *Counters) Dropped() { c.framesDropped.Add(1) }

func (c *Counters) Snapshot() TransportStats {
	return TransportStats{
		FramesSent:     c.framesSent.Load(),
		FramesReceived: c.framesReceived.Load(),
		FramesDropped:  c.framesDropped.Load(),
		BytesSent:      c.bytesSent.Load(),
		BytesReceived:  c.bytesReceived.Load(),
	}
}

// Inbox buffers packets and peer events produced by socket goroutines until
// the tick loop drains them.
type Inbox struct {
	packets chan Packet

	mu     sync.Mutex
	events []PeerEvent
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = 1024
	}
	return &Inbox{packets: make(chan Packet, size)}
}

// Offer queues p without blocking and reports false when the inbox is full.
func (in *Inbox) Offer(p Packet) bool {
	select {
	case in.packets <- p:
		return true
	default:
		return false
	}
}

// Packets exposes the queue to writers that prefer blocking on a full inbox
// (reliable streams) over dropping.
func (in *Inbox) Packets() chan<- Packet { return in.packets }

func (in *Inbox) PushEvent(e PeerEvent) {
	in.mu.Lock()
	in.events = append(in.events, e)
	in.mu.Unlock()
}

// Drain returns every queued packet.
func (in *Inbox) Drain() []Packet {
	var out []Packet
	for {
		select {
		case p := <-in.packets:
			out = append(out, p)
		default:
			return out
		}
	}
}

// DrainEvents returns every queued peer event.
func (in *Inbox) DrainEvents() []PeerEvent {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.events
	in.events = nil
	return out
}

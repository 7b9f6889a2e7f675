package protocol

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
)

// Link is one established connection of a network transport.
type Link interface {
	// WriteFrame writes one packed reliable frame. It may block.
	WriteFrame(frame []byte) error
	// WriteDatagram sends raw message bytes unreliably, or returns
	// ErrNoDatagrams when the link cannot.
	WriteDatagram(data []byte) error
	Close(code ErrorCode, reason string) error
}

var prefaceMagic = [4]byte{'C', 'O', 'O', 'P'}

// Preface is the first reliable payload a client sends on a new link.
func Preface() []byte {
	w := NewWriterSize(6)
	w.Raw(prefaceMagic[:])
	w.U16(Version)
	return w.Bytes()
}

// CheckPreface validates a client preface.
func CheckPreface(b []byte) error {
	if len(b) != 6 || [4]byte(b[:4]) != prefaceMagic {
		return fmt.Errorf("%w: bad preface", ErrHandshake)
	}
	if v := le.Uint16(b[4:]); v != Version {
		return fmt.Errorf("%w: version %d, want %d", ErrHandshake, v, Version)
	}
	return nil
}

// Assignment is the host's reply to a preface: the client's peer id and
// the host's own.
func Assignment(peer, host models.PeerID) []byte {
	w := NewWriterSize(8)
	w.Peer(peer)
	w.Peer(host)
	return w.Bytes()
}

func ParseAssignment(b []byte) (peer, host models.PeerID, err error) {
	r := NewReader(b)
	peer, host = r.Peer(), r.Peer()
	if r.Err() != nil || r.Remaining() != 0 || peer == models.InvalidPeer || host == models.InvalidPeer {
		return 0, 0, fmt.Errorf("%w: bad assignment", ErrHandshake)
	}
	return peer, host, nil
}

type linkState struct {
	link Link
	out  chan []byte
}

// BaseTransport implements the bookkeeping every network transport shares:
// identity, the peer table, per-link send queues and the inbox. Concrete
// transports embed it and only deal with sockets.
type BaseTransport struct {
	kind   TransportKind
	cfg    Config
	framer Framer
	logger log.Log
	inbox  *Inbox
	stats  Counters

	local models.PeerID
	host  models.PeerID

	nextPeer atomic.Uint32
	closed   atomic.Bool

	mu    sync.RWMutex
	links map[models.PeerID]*linkState
	wg    sync.WaitGroup
}

func NewBaseTransport(kind TransportKind, cfg Config, logger log.Log) *BaseTransport {
	b := &BaseTransport{
		kind:   kind,
		cfg:    cfg,
		framer: cfg.Framer(),
		logger: logger.With(log.String("transport", string(kind))),
		inbox:  NewInbox(cfg.InboxSize),
		links:  make(map[models.PeerID]*linkState),
	}
	b.nextPeer.Store(uint32(HostPeerID))
	return b
}

// SetIdentity fixes the local and host ids. Called once before any link
// is attached.
func (b *BaseTransport) SetIdentity(local, host models.PeerID) {
	b.local, b.host = local, host
	b.logger = b.logger.With(log.Uint32("local_peer", uint32(local)))
}

// NextPeer allocates a client id on the host.
func (b *BaseTransport) NextPeer() models.PeerID {
	return models.PeerID(b.nextPeer.Add(1))
}

func (b *BaseTransport) Kind() TransportKind { return b.kind }

func (b *BaseTransport) Framer() Framer { return b.framer }

func (b *BaseTransport) Logger() log.Log { return b.logger }

func (b *BaseTransport) Config() Config { return b.cfg }

func (b *BaseTransport) LocalPeer() models.PeerID { return b.local }

func (b *BaseTransport) HostPeer() models.PeerID { return b.host }

func (b *BaseTransport) IsHost() bool { return b.local == b.host }

func (b *BaseTransport) IsClosed() bool { return b.closed.Load() }

func (b *BaseTransport) Peers() []models.PeerID {
	b.mu.RLock()
	out := make([]models.PeerID, 0, len(b.links))
	for id := range b.links {
		out = append(out, id)
	}
	b.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (b *BaseTransport) Receive() []Packet { return b.inbox.Drain() }

func (b *BaseTransport) PeerEvents() []PeerEvent { return b.inbox.DrainEvents() }

func (b *BaseTransport) Stats() TransportStats { return b.stats.Snapshot() }

// Attach registers an established link and starts its writer.
func (b *BaseTransport) Attach(peer models.PeerID, l Link) {
	st := &linkState{link: l, out: make(chan []byte, b.cfg.InboxSize)}

	b.mu.Lock()
	if old, ok := b.links[peer]; ok {
		close(old.out)
	}
	b.links[peer] = st
	b.mu.Unlock()

	b.wg.Add(1)
	go b.writeLoop(peer, st)

	b.inbox.PushEvent(PeerEvent{Peer: peer, Kind: PeerConnected})
	b.logger.Info("Peer connected", log.Uint32("peer", uint32(peer)))
}

// Detach removes a link. Only the first call per link reports the leave.
func (b *BaseTransport) Detach(peer models.PeerID, reason error) {
	b.mu.Lock()
	st, ok := b.links[peer]
	if ok {
		delete(b.links, peer)
		close(st.out)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	code := GetErrorCode(reason)
	msg := "closed"
	if reason != nil {
		msg = reason.Error()
	}
	_ = st.link.Close(code, msg)

	if peer == b.host && !b.IsHost() && reason == nil {
		reason = ErrHostLeft
	}
	b.inbox.PushEvent(PeerEvent{Peer: peer, Kind: PeerDisconnected, Reason: reason})
	fields := []log.Field{log.Uint32("peer", uint32(peer))}
	if reason != nil {
		fields = append(fields, log.Error(reason))
	}
	b.logger.Info("Peer disconnected", fields...)
}

func (b *BaseTransport) writeLoop(peer models.PeerID, st *linkState) {
	defer b.wg.Done()
	for frame := range st.out {
		if err := st.link.WriteFrame(frame); err != nil {
			b.logger.Debug("Write failed", log.Uint32("peer", uint32(peer)), log.Error(err))
			go b.Detach(peer, err)
			for range st.out {
			}
			return
		}
		b.stats.Sent(len(frame))
	}
}

func (b *BaseTransport) lookup(peer models.PeerID) (*linkState, error) {
	if b.closed.Load() {
		return nil, ErrTransportClosed
	}
	b.mu.RLock()
	st, ok := b.links[peer]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPeer, peer)
	}
	return st, nil
}

func (b *BaseTransport) SendReliable(to models.PeerID, data []byte) error {
	frame, err := b.framer.Pack(data)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed.Load() {
		return ErrTransportClosed
	}
	st, ok := b.links[to]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, to)
	}
	select {
	case st.out <- frame:
		return nil
	default:
		b.stats.Dropped()
		return fmt.Errorf("%w: peer %d", ErrSendQueueFull, to)
	}
}

// SendUnreliable uses the link's datagram channel and falls back to the
// reliable path when the link has none or the payload does not fit.
func (b *BaseTransport) SendUnreliable(to models.PeerID, data []byte) error {
	st, err := b.lookup(to)
	if err != nil {
		return err
	}
	if len(data) <= MaxDatagramPayload {
		if err = st.link.WriteDatagram(data); err == nil {
			b.stats.Sent(len(data))
			return nil
		}
	}
	return b.SendReliable(to, data)
}

// DeliverReliable queues a reliable payload, waiting for inbox space.
func (b *BaseTransport) DeliverReliable(ctx context.Context, from models.PeerID, data []byte) error {
	b.stats.Received(len(data))
	select {
	case b.inbox.Packets() <- Packet{From: from, Data: data, Delivery: Reliable}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeliverUnreliable queues a datagram or drops it when the inbox is full.
func (b *BaseTransport) DeliverUnreliable(from models.PeerID, data []byte) {
	b.stats.Received(len(data))
	if !b.inbox.Offer(Packet{From: from, Data: data, Delivery: Unreliable}) {
		b.stats.Dropped()
	}
}

// Shutdown marks the transport closed, detaches every link and waits for
// the writers to finish.
func (b *BaseTransport) Shutdown() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	for _, peer := range b.Peers() {
		b.Detach(peer, nil)
	}
	b.wg.Wait()
}

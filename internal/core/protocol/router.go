package protocol

import (
	"errors"
	"fmt"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
)

// HandlerFunc handles one decoded message. from is the link-level sender,
// which for relayed traffic is the host.
type HandlerFunc func(from models.PeerID, m Message)

// Originated is implemented by relayed messages that carry their author.
// The host overwrites the author with the real sender before fan-out.
type Originated interface {
	Message
	SetOrigin(p models.PeerID)
}

// Outbox is the sending half of the Router, the only thing components need.
type Outbox interface {
	LocalPeer() models.PeerID
	IsHost() bool
	SendTo(peer models.PeerID, m Message, d Delivery) error
	SendToHost(m Message, d Delivery) error
	Broadcast(m Message, d Delivery) error
	BroadcastExcept(except models.PeerID, m Message, d Delivery) error
}

// RouterStats counts inbound traffic by outcome.
type RouterStats struct {
	Dispatched uint64
	Dropped    uint64
	Relayed    uint64
	Forwarded  uint64
	Unhandled  uint64
}

// Router decodes inbound frames and dispatches them to per-type handlers.
// On the host it also implements the relay rule: relayed types from a client
// go to every other client, and PlayerDamage goes to its target.
type Router struct {
	tr       Transport
	logger   log.Log
	handlers map[MessageType]HandlerFunc
	relayed  map[MessageType]Delivery
	stats    RouterStats
}

var _ Outbox = (*Router)(nil)

func NewRouter(tr Transport, logger log.Log) *Router {
	r := &Router{
		tr:       tr,
		logger:   logger.With(log.String("component", "router")),
		handlers: make(map[MessageType]HandlerFunc),
		relayed:  make(map[MessageType]Delivery),
	}
	r.Relay(TypePlayerState, Unreliable)
	r.Relay(TypeDebugText, Reliable)
	return r
}

// Handle installs the handler for t, replacing any previous one.
func (r *Router) Handle(t MessageType, h HandlerFunc) {
	r.handlers[t] = h
}

// Relay marks t as client-to-clients traffic fanned out by the host.
func (r *Router) Relay(t MessageType, d Delivery) {
	r.relayed[t] = d
}

func (r *Router) Stats() RouterStats { return r.stats }

func (r *Router) LocalPeer() models.PeerID { return r.tr.LocalPeer() }

func (r *Router) IsHost() bool { return r.tr.IsHost() }

// Poll drains the transport and dispatches everything it delivered.
func (r *Router) Poll() int {
	packets := r.tr.Receive()
	for _, p := range packets {
		r.Dispatch(p)
	}
	return len(packets)
}

// Dispatch handles one inbound packet synchronously. Undecodable packets are
// dropped with a warning.
func (r *Router) Dispatch(p Packet) {
	m, err := Decode(p.Data)
	if err != nil {
		r.stats.Dropped++
		r.logger.Warn("Dropping undecodable message",
			log.Uint32("from", uint32(p.From)),
			log.Int("size", len(p.Data)),
			log.Error(err))
		return
	}

	if r.tr.IsHost() && p.From != r.tr.LocalPeer() {
		if d, ok := r.relayed[m.Type()]; ok {
			if o, ok := m.(Originated); ok {
				o.SetOrigin(p.From)
			}
			if err = r.BroadcastExcept(p.From, m, d); err != nil {
				r.logger.Debug("Relay incomplete", log.String("type", m.Type().String()), log.Error(err))
			}
			r.stats.Relayed++
		}
		if pd, ok := m.(*PlayerDamage); ok && pd.Target != r.tr.LocalPeer() {
			if err = r.SendTo(pd.Target, pd, Reliable); err != nil {
				r.logger.Warn("Cannot forward player damage",
					log.Uint32("target", uint32(pd.Target)), log.Error(err))
			}
			r.stats.Forwarded++
			return
		}
	}

	h, ok := r.handlers[m.Type()]
	if !ok {
		r.stats.Unhandled++
		r.logger.Debug("No handler for message", log.String("type", m.Type().String()))
		return
	}
	r.stats.Dispatched++
	h(p.From, m)
}

func (r *Router) send(to models.PeerID, data []byte, d Delivery) error {
	if d == Unreliable {
		return r.tr.SendUnreliable(to, data)
	}
	return r.tr.SendReliable(to, data)
}

func (r *Router) SendTo(peer models.PeerID, m Message, d Delivery) error {
	if peer == r.tr.LocalPeer() {
		return fmt.Errorf("%w: %d is the local peer", ErrNoRoute, peer)
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return r.send(peer, data, d)
}

// SendToHost sends to the host. On the host itself it is a no-op.
func (r *Router) SendToHost(m Message, d Delivery) error {
	if r.tr.IsHost() {
		return nil
	}
	return r.SendTo(r.tr.HostPeer(), m, d)
}

// Broadcast sends m to every connected peer. A client's only peer is the
// host, so a client broadcast reaches the others through the relay.
func (r *Router) Broadcast(m Message, d Delivery) error {
	return r.BroadcastExcept(models.InvalidPeer, m, d)
}

func (r *Router) BroadcastExcept(except models.PeerID, m Message, d Delivery) error {
	peers := r.tr.Peers()
	if len(peers) == 0 {
		return nil
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}
	var errs []error
	for _, peer := range peers {
		if peer == except {
			continue
		}
		if err = r.send(peer, data, d); err != nil {
			errs = append(errs, fmt.Errorf("peer %d: %w", peer, err))
		}
	}
	return errors.Join(errs...)
}

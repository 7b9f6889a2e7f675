// Package session ties the sync components to one transport session.
//
// A Session owns the entity registry, the reconciliation engine, the combat
// arbiter and the interpolation buffers of one connected session, and drives
// them from a single Tick call. Nothing in it is safe for concurrent use;
// transports hand packets over through their own buffered inboxes.
package session

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/coop/internal/core/combat"
	"github.com/zeusync/coop/internal/core/events/bus"
	"github.com/zeusync/coop/internal/core/interp"
	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/reconcile"
	"github.com/zeusync/coop/internal/core/sim"
)

const eventSource = "session"

type peerState struct {
	name     string
	welcomed bool
	ready    bool
	lastSeen time.Time
	rtt      time.Duration
}

// Stats are cumulative session counters.
type Stats struct {
	Ticks            uint64
	PacketsIn        uint64
	ActorBroadcasts  uint64
	PlayerBroadcasts uint64
	HeartbeatsSent   uint64
	Timeouts         uint64
	Rejected         uint64
}

type Option func(*Session)

// WithClock replaces time.Now for the engine's timers.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) { s.clock = clock }
}

type Session struct {
	cfg     Config
	backend sim.Backend
	tr      protocol.Transport
	router  *protocol.Router
	events  bus.EventBus
	logger  log.Log
	clock   func() time.Time

	registry *models.Registry
	engine   *reconcile.Engine
	arbiter  *combat.Arbiter
	actors   *interp.Tracker[models.EntityID]
	players  *interp.Tracker[models.PeerID]
	subs     []bus.Subscription

	id     string
	token  string
	state  protocol.ConnectionState
	closed bool
	epoch  time.Time
	now    time.Time
	peers  map[models.PeerID]*peerState

	level     string
	levelHash uint64
	seed      uint32

	nextActors    time.Time
	nextPlayer    time.Time
	nextHeartbeat time.Time
	heartbeatSeq  uint32
	heartbeatAt   time.Time

	stats Stats
}

// New builds a session over tr and installs its hooks on backend. A host
// session is connected immediately; a client connects once the host
// answers its Hello.
func New(
	cfg Config,
	backend sim.Backend,
	tr protocol.Transport,
	events bus.EventBus,
	logger log.Log,
	opts ...Option,
) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if events == nil {
		events = bus.New()
	}

	s := &Session{
		cfg:      cfg,
		backend:  backend,
		tr:       tr,
		events:   events,
		clock:    time.Now,
		registry: models.NewRegistry(),
		actors:   interp.NewTracker[models.EntityID](cfg.Interp),
		players:  interp.NewTracker[models.PeerID](cfg.Interp),
		token:    cfg.Token,
		peers:    make(map[models.PeerID]*peerState),
		state:    protocol.ConnectionStateConnecting,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.epoch = s.clock()
	s.now = s.epoch
	s.logger = logger.With(
		log.String("component", "session"),
		log.Uint32("peer", uint32(tr.LocalPeer())))
	if s.token == "" {
		s.token = uuid.NewString()
	}

	s.router = protocol.NewRouter(tr, logger)
	s.engine = reconcile.NewEngine(cfg.Reconcile, backend, s.registry, s.router, events, logger, reconcile.WithClock(s.clock))
	s.arbiter = combat.NewArbiter(cfg.Combat, backend, s.registry, s.router, events, logger)
	s.engine.Routes(s.router)
	s.arbiter.Routes(s.router)
	s.routes()

	sub, err := bus.On(events, bus.TypeEntityDied, func(e bus.EntityDied) {
		s.actors.Remove(e.ID)
	})
	if err != nil {
		return nil, err
	}
	s.subs = append(s.subs, sub)

	backend.SetHooks(sim.Hooks{
		OnSpawn:   s.engine.OnSpawn,
		OnDespawn: s.engine.OnDespawn,
		OnDeath:   s.arbiter.OnDeath,
		OnHit:     s.arbiter.OnHit,
		OnEffect:  s.arbiter.OnEffect,
	})

	if tr.IsHost() {
		s.id = uuid.NewString()
		s.setState(protocol.ConnectionStateConnected, "")
	}
	s.logger.Info("Session created", log.Bool("host", tr.IsHost()))
	return s, nil
}

func (s *Session) routes() {
	r := s.router
	r.Handle(protocol.TypeHello, func(from models.PeerID, m protocol.Message) {
		s.handleHello(from, m.(*protocol.Hello))
	})
	r.Handle(protocol.TypeWelcome, func(from models.PeerID, m protocol.Message) {
		s.handleWelcome(from, m.(*protocol.Welcome))
	})
	r.Handle(protocol.TypeHeartbeat, func(from models.PeerID, m protocol.Message) {
		s.handleHeartbeat(from, m.(*protocol.Heartbeat))
	})
	r.Handle(protocol.TypeDisconnect, func(from models.PeerID, m protocol.Message) {
		s.handleDisconnect(from, m.(*protocol.Disconnect))
	})
	r.Handle(protocol.TypePeerJoined, func(from models.PeerID, m protocol.Message) {
		s.handlePeerJoined(from, m.(*protocol.PeerJoined))
	})
	r.Handle(protocol.TypePeerLeft, func(from models.PeerID, m protocol.Message) {
		s.handlePeerLeft(from, m.(*protocol.PeerLeft))
	})
	r.Handle(protocol.TypeLevelStart, func(from models.PeerID, m protocol.Message) {
		s.handleLevelStart(from, m.(*protocol.LevelStart))
	})
	r.Handle(protocol.TypeLevelReady, func(from models.PeerID, m protocol.Message) {
		s.handleLevelReady(from, m.(*protocol.LevelReady))
	})
	r.Handle(protocol.TypeActorStates, func(from models.PeerID, m protocol.Message) {
		s.handleActorStates(from, m.(*protocol.ActorStates))
	})
	r.Handle(protocol.TypePlayerState, func(from models.PeerID, m protocol.Message) {
		s.handlePlayerState(from, m.(*protocol.PlayerState))
	})
	r.Handle(protocol.TypeSessionEnd, func(from models.PeerID, m protocol.Message) {
		s.handleSessionEnd(from, m.(*protocol.SessionEnd))
	})
	r.Handle(protocol.TypeDebugText, func(from models.PeerID, m protocol.Message) {
		t := m.(*protocol.DebugText)
		s.logger.Info("Debug text", log.Uint32("from", uint32(t.From)), log.String("text", t.Text))
	})
}

func (s *Session) ID() string { return s.id }
func (s *Session) IsHost() bool { return s.tr.IsHost() }
func (s *Session) LocalPeer() models.PeerID { return s.tr.LocalPeer() }
func (s *Session) State() protocol.ConnectionState { return s.state }
func (s *Session) Registry() *models.Registry { return s.registry }
func (s *Session) Engine() *reconcile.Engine { return s.engine }
func (s *Session) Arbiter() *combat.Arbiter { return s.arbiter }
func (s *Session) Router() *protocol.Router { return s.router }
func (s *Session) Events() bus.EventBus { return s.events }
func (s *Session) Level() (name string, hash uint64) { return s.level, s.levelHash }
func (s *Session) Stats() Stats { return s.stats }

// TrackedActors is the number of actors with an interpolation buffer.
func (s *Session) TrackedActors() int { return s.actors.Len() }

// TrackedPlayers is the number of remote players with an interpolation buffer.
func (s *Session) TrackedPlayers() int { return s.players.Len() }

// Peers lists the remote participants that completed the handshake, in
// ascending order.
func (s *Session) Peers() []models.PeerID {
	out := make([]models.PeerID, 0, len(s.peers))
	for id, p := range s.peers {
		if p.welcomed {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// RTT is the last measured heartbeat round trip to peer.
func (s *Session) RTT(peer models.PeerID) (time.Duration, bool) {
	p, ok := s.peers[peer]
	if !ok || p.rtt == 0 {
		return 0, false
	}
	return p.rtt, true
}

// seconds is now on the session clock, the timebase of every outgoing
// snapshot.
func (s *Session) seconds(now time.Time) float64 {
	return now.Sub(s.epoch).Seconds()
}

// Tick runs one frame: inbound traffic, engine timers, heartbeat, outbound
// state, then interpolation.
func (s *Session) Tick(now time.Time) {
	if s.closed {
		return
	}
	s.now = now
	s.stats.Ticks++

	// Packets before link events: a peer's last words explain its leave.
	for _, p := range s.tr.Receive() {
		s.stats.PacketsIn++
		if ps, ok := s.peers[p.From]; ok {
			ps.lastSeen = now
		}
		s.router.Dispatch(p)
	}
	for _, ev := range s.tr.PeerEvents() {
		s.handlePeerEvent(ev, now)
	}

	s.engine.Tick(now)
	s.heartbeat(now)
	if s.state != protocol.ConnectionStateConnected {
		return
	}
	s.broadcastState(now)
	s.sample(now)
}

// SendDebug sends free-form text to every participant.
func (s *Session) SendDebug(text string) error {
	m := &protocol.DebugText{From: s.LocalPeer(), Text: text}
	if s.IsHost() {
		return s.router.Broadcast(m, protocol.Reliable)
	}
	return s.router.SendToHost(m, protocol.Reliable)
}

// Close leaves the session. A host ends it for everyone. Close is
// idempotent.
func (s *Session) Close(reason string) error {
	if s.closed {
		return nil
	}
	if s.IsHost() {
		if err := s.router.Broadcast(&protocol.SessionEnd{Reason: reason}, protocol.Reliable); err != nil {
			s.logger.Debug("Session end not delivered everywhere", log.Error(err))
		}
	} else if s.state != protocol.ConnectionStateDisconnected {
		msg := &protocol.Disconnect{Code: protocol.ErrorCodeClosedByPeer, Reason: reason}
		if err := s.router.SendToHost(msg, protocol.Reliable); err != nil {
			s.logger.Debug("Disconnect not delivered", log.Error(err))
		}
	}
	s.teardown(ErrLocalQuit)
	s.closed = true
	for _, sub := range s.subs {
		_ = sub.Cancel()
	}
	s.backend.SetHooks(sim.Hooks{})
	return s.tr.Close()
}

// clearLevel drops every piece of per-level state.
func (s *Session) clearLevel() {
	s.engine.Reset()
	s.arbiter.Reset()
	s.registry.Clear()
	s.actors.Clear()
}

// teardown clears all session state after the session was lost. Only the
// first call reports the disconnect.
func (s *Session) teardown(reason error) {
	if s.state == protocol.ConnectionStateDisconnected {
		return
	}
	s.clearLevel()
	s.players.Clear()
	clear(s.peers)
	s.level, s.levelHash, s.seed = "", 0, 0

	text := "closed"
	if reason != nil {
		text = reason.Error()
	}
	s.logger.Warn("Session disconnected", log.String("reason", text))
	s.setState(protocol.ConnectionStateDisconnected, text)
}

func (s *Session) setState(state protocol.ConnectionState, reason string) {
	s.state = state
	s.publish(bus.TypeConnectionState, bus.ConnectionState{
		State:  state,
		Peer:   s.LocalPeer(),
		Reason: reason,
	})
}

func (s *Session) publish(typ string, data any) {
	if err := s.events.Publish(bus.NewEvent(typ, eventSource, data)); err != nil {
		s.logger.Warn("Event handler failed", log.String("type", typ), log.Error(err))
	}
}

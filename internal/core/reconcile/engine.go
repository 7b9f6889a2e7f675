// Package reconcile binds host-assigned entity ids to objects of the local
// simulation.
//
// The host assigns an id to every actor its simulation spawns and announces
// it. Each client then searches its own simulation for an unregistered actor
// of the same type near the announced position and turns it into a puppet.
// When nothing matches in time the client force-creates the actor. At level
// start the host waits for its population to settle and sends the whole
// level in one batch instead of individual announcements. Clients that spawn
// something the host never announced ask the host about it, and the host
// answers with the authoritative announce.
//
// The Engine is owned by the session tick goroutine and is not safe for
// concurrent use.
package reconcile

import (
	"time"

	"github.com/zeusync/coop/internal/core/events/bus"
	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/sim"
	"github.com/zeusync/coop/pkg/sequence"
)

const eventSource = "reconcile"

// pendingSpawn is an announce that found no local object yet.
type pendingSpawn struct {
	entry       protocol.SpawnEntry
	announcedAt time.Time
	attempts    int
	item        *sequence.PriorityItem[models.EntityID, int64]
}

// claim is a client-local spawn reported to the host and not yet answered.
type claim struct {
	kind models.TypeID
	pos  models.Vec3
	at   time.Time
}

type Engine struct {
	cfg      Config
	backend  sim.Backend
	registry *models.Registry
	out      protocol.Outbox
	events   bus.EventBus
	logger   log.Log
	clock    func() time.Time

	pending map[models.EntityID]*pendingSpawn
	retries *sequence.PriorityQueue[models.EntityID, int64]
	claims  map[models.Handle]*claim

	levelHash uint64

	// Host level load.
	phase       LoadPhase
	loadStarted time.Time
	nextPoll    time.Time
	lastCount   int
	stableSince time.Time

	// Client level load.
	awaitingBatch bool
	awaitSince    time.Time
	batch         *batchState

	stats Stats
}

type Option func(*Engine)

// WithClock replaces time.Now for message handlers. Tick always uses the
// time it is given.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates an engine sharing registry with the rest of the session.
// events may be nil.
func NewEngine(
	cfg Config,
	backend sim.Backend,
	registry *models.Registry,
	out protocol.Outbox,
	events bus.EventBus,
	logger log.Log,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:      cfg,
		backend:  backend,
		registry: registry,
		out:      out,
		events:   events,
		logger:   logger.With(log.String("component", "reconcile")),
		clock:    time.Now,
		pending:  make(map[models.EntityID]*pendingSpawn),
		retries:  sequence.NewPriorityQueue[models.EntityID, int64](),
		claims:   make(map[models.Handle]*claim),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Routes installs the engine's message handlers.
func (e *Engine) Routes(r *protocol.Router) {
	r.Handle(protocol.TypeSpawnAnnounce, func(from models.PeerID, m protocol.Message) {
		e.HandleSpawnAnnounce(from, m.(*protocol.SpawnAnnounce))
	})
	r.Handle(protocol.TypeClientSpawnNotify, func(from models.PeerID, m protocol.Message) {
		e.HandleClientSpawnNotify(from, m.(*protocol.ClientSpawnNotify))
	})
	r.Handle(protocol.TypeBatchSpawn, func(from models.PeerID, m protocol.Message) {
		e.HandleBatchSpawn(from, m.(*protocol.BatchSpawn))
	})
	r.Handle(protocol.TypeEntityDespawn, func(from models.PeerID, m protocol.Message) {
		e.HandleEntityDespawn(from, m.(*protocol.EntityDespawn))
	})
}

func (e *Engine) Stats() Stats { return e.stats }

func (e *Engine) Phase() LoadPhase { return e.phase }

func (e *Engine) LevelHash() uint64 { return e.levelHash }

// AwaitingBatch reports whether a client is between LevelStart and BatchSpawn.
func (e *Engine) AwaitingBatch() bool { return e.awaitingBatch }

func (e *Engine) PendingCount() int { return len(e.pending) }

func (e *Engine) ClaimCount() int { return len(e.claims) }

// UnmatchedCount is the number of batch entries still being retried.
func (e *Engine) UnmatchedCount() int {
	if e.batch == nil {
		return 0
	}
	return len(e.batch.entries)
}

// Reset drops every pending record, claim and load state. The registry is
// cleared by its owner.
func (e *Engine) Reset() {
	clear(e.pending)
	e.retries.Clear()
	clear(e.claims)
	e.levelHash = 0
	e.phase = PhaseIdle
	e.awaitingBatch = false
	e.batch = nil
}

// OnSpawn is the backend spawn hook.
func (e *Engine) OnSpawn(ev sim.SpawnEvent) {
	// Forced spawns are registered by whoever forced them.
	if ev.Forced || ev.Handle == models.InvalidHandle {
		return
	}
	if info, ok := e.backend.Actor(ev.Handle); ok && info.Player {
		return
	}
	if e.out.IsHost() {
		e.hostSpawn(ev.Handle, ev.Type, ev.Position, ev.Health)
		return
	}
	e.clientSpawn(ev)
}

// OnDespawn is the backend hook for removals that are not deaths.
func (e *Engine) OnDespawn(h models.Handle) {
	delete(e.claims, h)
	id, ok := e.registry.TryGetID(h)
	if !ok {
		return
	}
	e.registry.Unregister(id)
	e.stats.Despawned++
	if !e.out.IsHost() || e.phase.Loading() {
		return
	}
	if err := e.out.Broadcast(&protocol.EntityDespawn{ID: id}, protocol.Reliable); err != nil {
		e.logger.Warn("Cannot broadcast despawn", log.Uint16("id", uint16(id)), log.Error(err))
	}
}

// Tick advances retries, claim expiry and the level-load state machines.
func (e *Engine) Tick(now time.Time) {
	if e.out.IsHost() {
		e.tickPopulation(now)
		return
	}
	e.tickPending(now)
	e.tickClaims(now)
	e.tickBatch(now)
}

// hostSpawn gives a host-local actor its network identity. A same-type
// registered actor within the duplicate radius absorbs the new object, which
// is destroyed.
func (e *Engine) hostSpawn(h models.Handle, kind models.TypeID, pos models.Vec3, health float32) (models.EntityID, bool) {
	if id, ok := e.registry.TryGetID(h); ok {
		return id, true
	}
	if id, _, ok := e.nearestRegistered(kind, pos, e.cfg.DuplicateRadius, h); ok {
		e.stats.DuplicatesCollapsed++
		e.logger.Info("Collapsing duplicate spawn",
			log.Uint16("id", uint16(id)),
			log.Uint32("handle", uint32(h)),
			log.Uint16("type", uint16(kind)))
		if err := sim.Guard(func() error { return e.backend.Destroy(h) }); err != nil {
			e.logger.Error("Cannot destroy duplicate", log.Uint32("handle", uint32(h)), log.Error(err))
		}
		return id, true
	}

	id, err := e.registry.AssignID(h)
	if err != nil {
		e.logger.Error("Cannot assign entity id", log.Uint32("handle", uint32(h)), log.Error(err))
		return models.InvalidEntityID, false
	}
	e.stats.Assigned++
	e.publishSpawned(id, h, kind, pos, bus.SpawnAssigned)
	e.announce(protocol.SpawnEntry{ID: id, Kind: kind, Position: pos, Health: health})
	return id, true
}

// announce broadcasts a spawn unless a level load defers it to the batch.
func (e *Engine) announce(entry protocol.SpawnEntry) {
	if e.phase.Loading() {
		return
	}
	e.stats.Announced++
	if err := e.out.Broadcast(&protocol.SpawnAnnounce{SpawnEntry: entry}, protocol.Reliable); err != nil {
		e.logger.Warn("Cannot broadcast spawn", log.Uint16("id", uint16(entry.ID)), log.Error(err))
	}
}

// HandleSpawnAnnounce binds an announced id on a client.
func (e *Engine) HandleSpawnAnnounce(_ models.PeerID, m *protocol.SpawnAnnounce) {
	if e.out.IsHost() {
		return
	}
	entry := m.SpawnEntry
	if !entry.ID.Valid() {
		e.logger.Warn("Ignoring announce with invalid id")
		return
	}
	if _, ok := e.registry.TryGetEntity(entry.ID); ok {
		return
	}
	if _, ok := e.pending[entry.ID]; ok {
		return
	}
	if e.tryMatch(entry) {
		e.stats.NaturalMatches++
		return
	}
	now := e.clock()
	rec := &pendingSpawn{entry: entry, announcedAt: now}
	rec.item = e.retries.Enqueue(entry.ID, now.Add(e.cfg.RetryInterval).UnixNano())
	e.pending[entry.ID] = rec
	e.logger.Debug("No local match, spawn pending",
		log.Uint16("id", uint16(entry.ID)),
		log.Uint16("type", uint16(entry.Kind)))
}

// HandleClientSpawnNotify answers a client's unannounced spawn on the host:
// re-announce a registered actor nearby, else register a local one nearby,
// else force one into existence.
func (e *Engine) HandleClientSpawnNotify(from models.PeerID, m *protocol.ClientSpawnNotify) {
	if !e.out.IsHost() {
		return
	}
	if id, info, ok := e.nearestRegistered(m.Kind, m.Position, e.cfg.MatchRadius, models.InvalidHandle); ok {
		e.logger.Debug("Re-announcing for client notify",
			log.Uint32("peer", uint32(from)),
			log.Uint16("id", uint16(id)))
		e.announce(protocol.SpawnEntry{ID: id, Kind: info.Type, Position: info.Position, Health: info.Health})
		return
	}
	if info, ok := e.nearestUnregistered(m.Kind, m.Position, e.cfg.MatchRadius); ok {
		e.hostSpawn(info.Handle, info.Type, info.Position, info.Health)
		return
	}

	var h models.Handle
	err := sim.Guard(func() (err error) {
		h, err = e.backend.ForceSpawn(m.Kind, m.Position)
		return err
	})
	if err != nil {
		e.stats.ForceFailures++
		e.logger.Error("Cannot force spawn for client notify",
			log.Uint32("peer", uint32(from)),
			log.Uint16("type", uint16(m.Kind)),
			log.Error(err))
		return
	}
	e.stats.ForcedSpawns++
	health := m.Health
	if info, ok := e.backend.Actor(h); ok {
		health = info.Health
	}
	e.logger.Info("Created actor reported by client",
		log.Uint32("peer", uint32(from)),
		log.Uint16("type", uint16(m.Kind)))
	e.hostSpawn(h, m.Kind, m.Position, health)
}

// HandleEntityDespawn removes an entity the host took out without a death.
func (e *Engine) HandleEntityDespawn(_ models.PeerID, m *protocol.EntityDespawn) {
	if e.out.IsHost() {
		return
	}
	e.dropPending(m.ID)
	if e.batch != nil {
		e.batch.remove(m.ID)
	}
	h, ok := e.registry.TryGetEntity(m.ID)
	if !ok {
		return
	}
	e.registry.Unregister(m.ID)
	e.stats.Despawned++
	if err := sim.Guard(func() error { return e.backend.Destroy(h) }); err != nil {
		e.logger.Debug("Despawned entity already gone", log.Uint16("id", uint16(m.ID)), log.Error(err))
	}
}

// clientSpawn handles a local spawn the host has not announced yet.
func (e *Engine) clientSpawn(ev sim.SpawnEvent) {
	if e.registry.IsRegistered(ev.Handle) {
		return
	}
	// The batch owns everything spawned during a level load.
	if e.awaitingBatch || e.batch != nil {
		return
	}
	// A natural copy of an actor that is already replicated, e.g. one that
	// was force-created after its announce timed out.
	if id, _, ok := e.nearestRegistered(ev.Type, ev.Position, e.cfg.DuplicateRadius, ev.Handle); ok {
		e.stats.DuplicatesCollapsed++
		e.logger.Info("Collapsing duplicate local spawn",
			log.Uint16("id", uint16(id)),
			log.Uint32("handle", uint32(ev.Handle)),
			log.Uint16("type", uint16(ev.Type)))
		if err := sim.Guard(func() error { return e.backend.Destroy(ev.Handle) }); err != nil {
			e.logger.Error("Cannot destroy duplicate", log.Uint32("handle", uint32(ev.Handle)), log.Error(err))
		}
		return
	}
	if rec := e.nearestPending(ev.Type, ev.Position); rec != nil {
		if e.bind(rec.entry, ev.Handle, bus.SpawnMatched) {
			e.dropPending(rec.entry.ID)
			e.stats.NaturalMatches++
		}
		return
	}

	e.claims[ev.Handle] = &claim{kind: ev.Type, pos: ev.Position, at: e.clock()}
	e.stats.Notified++
	msg := &protocol.ClientSpawnNotify{Kind: ev.Type, Position: ev.Position, Health: ev.Health}
	if err := e.out.SendToHost(msg, protocol.Reliable); err != nil {
		e.logger.Warn("Cannot notify host of local spawn", log.Uint32("handle", uint32(ev.Handle)), log.Error(err))
	}
}

func (e *Engine) tryMatch(entry protocol.SpawnEntry) bool {
	info, ok := e.nearestUnregistered(entry.Kind, entry.Position, e.cfg.MatchRadius)
	if !ok {
		return false
	}
	return e.bind(entry, info.Handle, bus.SpawnMatched)
}

// bind registers h under the announced id and hands it over to the network.
func (e *Engine) bind(entry protocol.SpawnEntry, h models.Handle, origin bus.SpawnOrigin) bool {
	if err := e.registry.Register(entry.ID, h); err != nil {
		e.logger.Warn("Cannot bind entity", log.Uint16("id", uint16(entry.ID)), log.Error(err))
		return false
	}
	delete(e.claims, h)
	if err := sim.Guard(func() error { return e.backend.MakePuppet(h) }); err != nil {
		e.logger.Error("Cannot convert to puppet", log.Uint16("id", uint16(entry.ID)), log.Error(err))
	}
	if entry.Health > 0 {
		if err := sim.Guard(func() error { return e.backend.SetHealth(h, entry.Health) }); err != nil {
			e.logger.Error("Cannot set health", log.Uint16("id", uint16(entry.ID)), log.Error(err))
		}
	}
	e.publishSpawned(entry.ID, h, entry.Kind, entry.Position, origin)
	return true
}

func (e *Engine) tickPending(now time.Time) {
	for _, id := range e.retries.PopDue(now.UnixNano()) {
		rec, ok := e.pending[id]
		if !ok {
			continue
		}
		rec.item = nil
		if _, bound := e.registry.TryGetEntity(id); bound {
			delete(e.pending, id)
			continue
		}
		rec.attempts++
		e.stats.Retries++
		if e.tryMatch(rec.entry) {
			delete(e.pending, id)
			e.stats.NaturalMatches++
			continue
		}
		if now.Sub(rec.announcedAt) >= e.cfg.PendingTimeout {
			delete(e.pending, id)
			e.force(rec.entry, rec.attempts)
			continue
		}
		e.logger.Debug("Retrying pending spawn",
			log.Uint16("id", uint16(id)),
			log.Int("attempt", rec.attempts))
		rec.item = e.retries.Enqueue(id, now.Add(e.cfg.RetryInterval).UnixNano())
	}
}

// force creates the announced actor locally after matching gave up.
func (e *Engine) force(entry protocol.SpawnEntry, attempts int) {
	var h models.Handle
	err := sim.Guard(func() (err error) {
		h, err = e.backend.ForceSpawn(entry.Kind, entry.Position)
		return err
	})
	if err != nil {
		e.stats.ForceFailures++
		e.logger.Error("Forced spawn failed", log.Uint16("id", uint16(entry.ID)), log.Error(err))
		return
	}
	if !e.bind(entry, h, bus.SpawnForced) {
		return
	}
	e.stats.ForcedSpawns++
	e.logger.Warn("Forced creation of unmatched entity",
		log.Uint16("id", uint16(entry.ID)),
		log.Uint16("type", uint16(entry.Kind)),
		log.Int("attempts", attempts))
}

func (e *Engine) dropPending(id models.EntityID) {
	rec, ok := e.pending[id]
	if !ok {
		return
	}
	if rec.item != nil {
		e.retries.Remove(rec.item)
	}
	delete(e.pending, id)
}

func (e *Engine) tickClaims(now time.Time) {
	ttl := e.cfg.ClaimTTL()
	for h, c := range e.claims {
		if e.registry.IsRegistered(h) {
			delete(e.claims, h)
			continue
		}
		if now.Sub(c.at) >= ttl {
			delete(e.claims, h)
			e.stats.ExpiredClaims++
			e.logger.Debug("Dropping unanswered spawn claim",
				log.Uint32("handle", uint32(h)),
				log.Uint16("type", uint16(c.kind)))
		}
	}
}

// nearestRegistered finds the closest registered actor of kind within r,
// ignoring exclude.
func (e *Engine) nearestRegistered(kind models.TypeID, pos models.Vec3, r float32, exclude models.Handle) (models.EntityID, sim.ActorInfo, bool) {
	var (
		bestID   models.EntityID
		bestInfo sim.ActorInfo
		bestDist = r * r
		found    bool
	)
	for _, a := range e.backend.AllActors() {
		if a.Player || a.Type != kind || a.Handle == exclude || !a.Position.Within(pos, r) {
			continue
		}
		id, ok := e.registry.TryGetID(a.Handle)
		if !ok {
			continue
		}
		if d := a.Position.DistanceSq(pos); d <= bestDist {
			bestID, bestInfo, bestDist, found = id, a, d, true
		}
	}
	return bestID, bestInfo, found
}

// nearestUnregistered finds the closest unregistered actor of kind within r.
func (e *Engine) nearestUnregistered(kind models.TypeID, pos models.Vec3, r float32) (sim.ActorInfo, bool) {
	var (
		best     sim.ActorInfo
		bestDist = r * r
		found    bool
	)
	for _, a := range e.backend.AllActors() {
		if a.Player || a.Type != kind || !a.Position.Within(pos, r) || e.registry.IsRegistered(a.Handle) {
			continue
		}
		if d := a.Position.DistanceSq(pos); d <= bestDist {
			best, bestDist, found = a, d, true
		}
	}
	return best, found
}

// nearestPending finds the pending announce a fresh local spawn satisfies.
func (e *Engine) nearestPending(kind models.TypeID, pos models.Vec3) *pendingSpawn {
	var (
		best     *pendingSpawn
		bestDist = e.cfg.MatchRadius * e.cfg.MatchRadius
	)
	for _, rec := range e.pending {
		if rec.entry.Kind != kind || !rec.entry.Position.Within(pos, e.cfg.MatchRadius) {
			continue
		}
		d := rec.entry.Position.DistanceSq(pos)
		if d > bestDist {
			continue
		}
		if best == nil || d < bestDist || rec.entry.ID < best.entry.ID {
			best, bestDist = rec, d
		}
	}
	return best
}

func (e *Engine) publishSpawned(id models.EntityID, h models.Handle, kind models.TypeID, pos models.Vec3, origin bus.SpawnOrigin) {
	if e.events == nil {
		return
	}
	ev := bus.EntitySpawned{ID: id, Handle: h, Kind: kind, Position: pos, Origin: origin}
	if err := e.events.Publish(bus.NewEvent(bus.TypeEntitySpawned, eventSource, ev)); err != nil {
		e.logger.Warn("Entity spawned handler failed", log.Error(err))
	}
}

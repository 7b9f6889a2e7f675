// Package combat makes damage host-authoritative.
//
// Clients never apply damage to replicated actors themselves: a local hit
// becomes a DamageRequest. The host runs every hit through the backend's own
// damage pipeline and reports exactly one outcome: EntityDeath when the hit
// killed, DamageResult when the target survived hurt, HitBlocked when only a
// cosmetic effect fired. Cosmetic effects produced while the pipeline runs are
// captured and shipped with the outcome so remote peers replay them verbatim.
package combat

import (
	"github.com/zeusync/coop/internal/core/events/bus"
	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/sim"
)

const eventSource = "combat"

// damageContext correlates one host-side application with the death hook.
// It exists only while ApplyDamage runs.
type damageContext struct {
	id             models.EntityID
	handle         models.Handle
	kind           models.DamageType
	killerIsPlayer bool
	deathReported  bool
	effects        sim.CapturedEffects
}

// Arbiter is owned by the session tick goroutine and is not safe for
// concurrent use.
type Arbiter struct {
	cfg      Config
	backend  sim.Backend
	registry *models.Registry
	out      protocol.Outbox
	events   bus.EventBus
	logger   log.Log

	ctx   *damageContext
	stats Stats
}

// NewArbiter creates an arbiter sharing registry with the rest of the
// session. events may be nil.
func NewArbiter(
	cfg Config,
	backend sim.Backend,
	registry *models.Registry,
	out protocol.Outbox,
	events bus.EventBus,
	logger log.Log,
) *Arbiter {
	return &Arbiter{
		cfg:      cfg,
		backend:  backend,
		registry: registry,
		out:      out,
		events:   events,
		logger:   logger.With(log.String("component", "combat")),
	}
}

// Routes installs the arbiter's message handlers.
func (a *Arbiter) Routes(r *protocol.Router) {
	r.Handle(protocol.TypeDamageRequest, func(from models.PeerID, m protocol.Message) {
		a.HandleDamageRequest(from, m.(*protocol.DamageRequest))
	})
	r.Handle(protocol.TypeDamageResult, func(from models.PeerID, m protocol.Message) {
		a.HandleDamageResult(from, m.(*protocol.DamageResult))
	})
	r.Handle(protocol.TypeHitBlocked, func(from models.PeerID, m protocol.Message) {
		a.HandleHitBlocked(from, m.(*protocol.HitBlocked))
	})
	r.Handle(protocol.TypeEntityDeath, func(from models.PeerID, m protocol.Message) {
		a.HandleEntityDeath(from, m.(*protocol.EntityDeath))
	})
	r.Handle(protocol.TypePlayerDamage, func(from models.PeerID, m protocol.Message) {
		a.HandlePlayerDamage(from, m.(*protocol.PlayerDamage))
	})
}

func (a *Arbiter) Stats() Stats { return a.stats }

// Reset drops an interrupted damage context.
func (a *Arbiter) Reset() {
	a.ctx = nil
}

// OnHit is the backend hit hook. It returns true when the backend must not
// apply the hit itself.
func (a *Arbiter) OnHit(hit sim.Hit) bool {
	if owner, isPlayer := a.backend.PlayerOwner(hit.Target); isPlayer {
		return a.playerHit(hit, owner)
	}

	id, ok := a.registry.TryGetID(hit.Target)
	if !ok {
		// Not replicated, the local simulation keeps it.
		return false
	}
	if a.out.IsHost() {
		a.Apply(id, hit.Amount, hit.Type, hit.Point, hit.Source == sim.SourcePlayer)
		return true
	}

	if hit.Source != sim.SourcePlayer {
		// The host simulates enemies and hazards too and resolves their hits
		// itself; forwarding would apply them twice.
		a.stats.Ignored++
		return true
	}
	a.stats.Requests++
	req := &protocol.DamageRequest{ID: id, Damage: hit.Amount, Kind: hit.Type, Point: hit.Point}
	if err := a.out.SendToHost(req, protocol.Reliable); err != nil {
		a.logger.Warn("Cannot send damage request", log.Uint16("id", uint16(id)), log.Error(err))
	}
	return true
}

func (a *Arbiter) playerHit(hit sim.Hit, owner models.PeerID) bool {
	if hit.Source == sim.SourcePlayer {
		a.stats.PvPFiltered++
		return true
	}
	if owner == a.out.LocalPeer() {
		return false
	}

	a.stats.PlayerDamage++
	msg := &protocol.PlayerDamage{Target: owner, Damage: hit.Amount, Kind: hit.Type, Point: hit.Point}
	var err error
	if a.out.IsHost() {
		err = a.out.SendTo(owner, msg, protocol.Reliable)
	} else {
		err = a.out.SendToHost(msg, protocol.Reliable)
	}
	if err != nil {
		a.logger.Warn("Cannot route player damage", log.Uint32("target", uint32(owner)), log.Error(err))
	}
	return true
}

// HandleDamageRequest resolves a client's hit on the host. Clients only
// request player hits, so the killer is always a player.
func (a *Arbiter) HandleDamageRequest(from models.PeerID, m *protocol.DamageRequest) {
	if !a.out.IsHost() {
		return
	}
	if o := a.Apply(m.ID, m.Damage, m.Kind, m.Point, true); o == OutcomeDropped {
		a.logger.Debug("Dropped damage request",
			log.Uint32("from", uint32(from)),
			log.Uint16("id", uint16(m.ID)))
	}
}

// Apply runs one hit through the backend damage pipeline on the host and
// emits its single outcome.
func (a *Arbiter) Apply(id models.EntityID, amount float32, kind models.DamageType, point models.Vec3, byPlayer bool) Outcome {
	h, ok := a.registry.TryGetEntity(id)
	if !ok {
		a.stats.Dropped++
		return OutcomeDropped
	}
	before, err := a.backend.Health(h)
	if err != nil || before <= 0 {
		a.stats.Dropped++
		return OutcomeDropped
	}
	if a.cfg.MaxDamage > 0 && amount > a.cfg.MaxDamage {
		amount = a.cfg.MaxDamage
	}

	ctx := &damageContext{id: id, handle: h, kind: kind, killerIsPlayer: byPlayer}
	a.ctx = ctx
	err = sim.Guard(func() error {
		_, err := a.backend.ApplyDamage(h, amount, kind, point)
		return err
	})
	a.ctx = nil

	if ctx.deathReported {
		return OutcomeDied
	}
	if err != nil {
		a.stats.Degraded++
		a.logger.Error("Damage pipeline failed, applying directly",
			log.Uint16("id", uint16(id)),
			log.Error(err))
		return a.degraded(ctx, before-amount, amount, point)
	}

	after, err := a.backend.Health(h)
	if err != nil || after <= 0 {
		// Gone or at zero without a death hook: report the death ourselves.
		a.reportDeath(ctx)
		if err == nil {
			a.die(h, id)
		}
		return OutcomeDied
	}

	delta := before - after
	if delta > a.cfg.HealthEpsilon {
		a.sendResult(ctx, after, delta, point)
		return OutcomeDamaged
	}
	if !ctx.effects.Empty() {
		a.stats.Blocked++
		msg := &protocol.HitBlocked{ID: id, Effects: ctx.effects, Point: point}
		if err = a.out.Broadcast(msg, protocol.Reliable); err != nil {
			a.logger.Warn("Cannot broadcast blocked hit", log.Uint16("id", uint16(id)), log.Error(err))
		}
		return OutcomeBlocked
	}
	return OutcomeNoEffect
}

// degraded mutates health directly after the pipeline failed, still emitting
// exactly one outcome.
func (a *Arbiter) degraded(ctx *damageContext, health, amount float32, point models.Vec3) Outcome {
	if health <= 0 {
		if err := sim.Guard(func() error { return a.backend.SetHealth(ctx.handle, 0) }); err != nil {
			a.logger.Error("Cannot set health", log.Uint16("id", uint16(ctx.id)), log.Error(err))
		}
		a.reportDeath(ctx)
		a.die(ctx.handle, ctx.id)
		return OutcomeDied
	}
	if err := sim.Guard(func() error { return a.backend.SetHealth(ctx.handle, health) }); err != nil {
		a.logger.Error("Cannot set health", log.Uint16("id", uint16(ctx.id)), log.Error(err))
	}
	a.sendResult(ctx, health, amount, point)
	return OutcomeDamaged
}

func (a *Arbiter) die(h models.Handle, id models.EntityID) {
	if err := sim.Guard(func() error { return a.backend.Die(h) }); err != nil {
		a.logger.Debug("Local death path failed", log.Uint16("id", uint16(id)), log.Error(err))
	}
}

func (a *Arbiter) sendResult(ctx *damageContext, health, delta float32, point models.Vec3) {
	a.stats.Results++
	msg := &protocol.DamageResult{
		ID:        ctx.id,
		NewHealth: health,
		Delta:     delta,
		Kind:      ctx.kind,
		Point:     point,
		Effects:   ctx.effects,
	}
	if err := a.out.Broadcast(msg, protocol.Reliable); err != nil {
		a.logger.Warn("Cannot broadcast damage result", log.Uint16("id", uint16(ctx.id)), log.Error(err))
	}
	a.publish(bus.TypeDamageApplied, bus.DamageApplied{
		ID:        ctx.id,
		Handle:    ctx.handle,
		NewHealth: health,
		Delta:     delta,
		Kind:      ctx.kind,
		Point:     point,
	})
}

// reportDeath unregisters and broadcasts. Unregistering first makes any
// later death hook for the same handle a no-op.
func (a *Arbiter) reportDeath(ctx *damageContext) {
	ctx.deathReported = true
	a.registry.Unregister(ctx.id)
	a.stats.Deaths++
	msg := &protocol.EntityDeath{ID: ctx.id, Kind: ctx.kind, KillerIsPlayer: ctx.killerIsPlayer}
	if err := a.out.Broadcast(msg, protocol.Reliable); err != nil {
		a.logger.Warn("Cannot broadcast death", log.Uint16("id", uint16(ctx.id)), log.Error(err))
	}
	a.publish(bus.TypeEntityDied, bus.EntityDied{
		ID:             ctx.id,
		Handle:         ctx.handle,
		Kind:           ctx.kind,
		KillerIsPlayer: ctx.killerIsPlayer,
	})
}

// OnDeath is the backend death hook.
func (a *Arbiter) OnDeath(h models.Handle) {
	if ctx := a.ctx; ctx != nil && ctx.handle == h {
		if !ctx.deathReported {
			a.reportDeath(ctx)
		}
		return
	}
	id, ok := a.registry.TryGetID(h)
	if !ok {
		return
	}
	if !a.out.IsHost() {
		// Replicas die when the host says so.
		a.logger.Debug("Ignoring local death of replicated entity", log.Uint16("id", uint16(id)))
		return
	}
	// Death outside an arbitrated hit, e.g. scripted or environmental.
	a.reportDeath(&damageContext{id: id, handle: h})
}

// OnEffect is the backend effect hook. Effects on the target of the running
// application are captured, everything else passes through.
func (a *Arbiter) OnEffect(e sim.Effect) {
	ctx := a.ctx
	if ctx == nil || e.Target != ctx.handle {
		return
	}
	switch e.Kind {
	case sim.EffectHitFlash:
		ctx.effects.HitState = e.HitState
	case sim.EffectBulletHole:
		ctx.effects.BulletHole = &sim.BulletHole{Position: e.Position, Direction: e.Normal, Caliber: e.Caliber}
	case sim.EffectInvulnerable:
		pos := e.Position
		ctx.effects.Invulnerable = &pos
	}
}

func (a *Arbiter) HandleDamageResult(_ models.PeerID, m *protocol.DamageResult) {
	if a.out.IsHost() {
		return
	}
	h, ok := a.registry.TryGetEntity(m.ID)
	if !ok {
		a.logger.Debug("Damage result for unknown entity", log.Uint16("id", uint16(m.ID)))
		return
	}
	if err := sim.Guard(func() error { return a.backend.SetHealth(h, m.NewHealth) }); err != nil {
		a.logger.Error("Cannot set health", log.Uint16("id", uint16(m.ID)), log.Error(err))
	}
	a.replay(h, m.ID, m.Effects)
	a.publish(bus.TypeDamageApplied, bus.DamageApplied{
		ID:        m.ID,
		Handle:    h,
		NewHealth: m.NewHealth,
		Delta:     m.Delta,
		Kind:      m.Kind,
		Point:     m.Point,
	})
}

func (a *Arbiter) HandleHitBlocked(_ models.PeerID, m *protocol.HitBlocked) {
	if a.out.IsHost() {
		return
	}
	if h, ok := a.registry.TryGetEntity(m.ID); ok {
		a.replay(h, m.ID, m.Effects)
	}
}

// HandleEntityDeath kills a replica. The id is unregistered before the local
// death path runs so the death hook ignores it.
func (a *Arbiter) HandleEntityDeath(_ models.PeerID, m *protocol.EntityDeath) {
	if a.out.IsHost() {
		return
	}
	h, ok := a.registry.TryGetEntity(m.ID)
	if !ok {
		return
	}
	a.registry.Unregister(m.ID)
	a.stats.Deaths++
	a.die(h, m.ID)
	a.publish(bus.TypeEntityDied, bus.EntityDied{
		ID:             m.ID,
		Handle:         h,
		Kind:           m.Kind,
		KillerIsPlayer: m.KillerIsPlayer,
	})
}

// HandlePlayerDamage applies host-decided damage to the local player.
func (a *Arbiter) HandlePlayerDamage(from models.PeerID, m *protocol.PlayerDamage) {
	if m.Target != a.out.LocalPeer() {
		return
	}
	err := sim.Guard(func() error { return a.backend.ApplyPlayerDamage(m.Damage, m.Kind, m.Point) })
	if err != nil {
		a.logger.Error("Cannot apply player damage", log.Uint32("from", uint32(from)), log.Error(err))
	}
}

func (a *Arbiter) replay(h models.Handle, id models.EntityID, fx sim.CapturedEffects) {
	if fx.Empty() {
		return
	}
	if err := sim.Guard(func() error { return a.backend.ReplayEffects(h, fx) }); err != nil {
		a.logger.Error("Cannot replay effects", log.Uint16("id", uint16(id)), log.Error(err))
	}
}

func (a *Arbiter) publish(typ string, data any) {
	if a.events == nil {
		return
	}
	if err := a.events.Publish(bus.NewEvent(typ, eventSource, data)); err != nil {
		a.logger.Warn("Event handler failed", log.String("type", typ), log.Error(err))
	}
}

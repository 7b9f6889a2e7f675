// Package memsim is an in-memory simulation backend. It stands in for the
// game engine in tests and in the demo binary, and reproduces the engine
// behaviours the sync core depends on: spawn/death hooks fired synchronously,
// a damage pipeline that emits cosmetic effects, and forced spawns.
package memsim

import (
	"errors"
	"sort"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/sim"
)

var _ sim.Backend = (*World)(nil)

// DamageBullet is the damage type that leaves bullet holes.
const DamageBullet models.DamageType = 1

// Hit state codes reported with EffectHitFlash.
const (
	HitStateNormal uint8 = 1
	HitStateHeavy  uint8 = 2
)

// ErrInjected is returned by calls that a test configured to fail.
var ErrInjected = errors.New("memsim: injected failure")

type actor struct {
	info         sim.ActorInfo
	owner        models.PeerID
	puppet       bool
	invulnerable bool
	state        models.ActorState
}

// Replay records one ReplayEffects call.
type Replay struct {
	Handle  models.Handle
	Effects sim.CapturedEffects
}

// World is a deterministic, single-threaded sim.Backend.
type World struct {
	actors      map[models.Handle]*actor
	next        models.Handle
	hooks       sim.Hooks
	localPeer   models.PeerID
	localPlayer models.Handle
	health      map[models.TypeID]float32

	// Failure injection for degraded-path tests.
	FailDamage  bool
	PanicDamage bool
	FailForce   bool

	Replays      []Replay
	PlayerDamage []sim.Hit
}

// New creates an empty world owned by localPeer. typeHealth gives the spawn
// health per actor type; unknown types spawn with 100.
func New(localPeer models.PeerID, typeHealth map[models.TypeID]float32) *World {
	w := &World{
		actors:    make(map[models.Handle]*actor),
		localPeer: localPeer,
		health:    make(map[models.TypeID]float32),
	}
	for k, v := range typeHealth {
		w.health[k] = v
	}
	return w
}

func (w *World) SetHooks(hooks sim.Hooks) { w.hooks = hooks }

func (w *World) newActor(typ models.TypeID, pos models.Vec3) *actor {
	w.next++
	hp, ok := w.health[typ]
	if !ok {
		hp = 100
	}
	a := &actor{
		info: sim.ActorInfo{
			Handle:   w.next,
			Type:     typ,
			Position: pos,
			Health:   hp,
			Alive:    true,
			Active:   true,
		},
		state: models.ActorState{Position: pos, Grounded: true, Health: models.HealthByte(hp)},
	}
	w.actors[a.info.Handle] = a
	return a
}

func (w *World) spawn(typ models.TypeID, pos models.Vec3, forced bool) models.Handle {
	a := w.newActor(typ, pos)
	if w.hooks.OnSpawn != nil {
		w.hooks.OnSpawn(sim.SpawnEvent{
			Handle:   a.info.Handle,
			Type:     typ,
			Position: pos,
			Health:   a.info.Health,
			Forced:   forced,
		})
	}
	return a.info.Handle
}

// Spawn creates an actor through normal level logic; the spawn hook fires.
func (w *World) Spawn(typ models.TypeID, pos models.Vec3) (models.Handle, error) {
	return w.spawn(typ, pos, false), nil
}

// ForceSpawn creates an actor on request of the sync core.
func (w *World) ForceSpawn(typ models.TypeID, pos models.Vec3) (models.Handle, error) {
	if w.FailForce {
		return models.InvalidHandle, ErrInjected
	}
	return w.spawn(typ, pos, true), nil
}

// Place adds an actor without firing the spawn hook, modelling objects that
// existed before the sync core was attached.
func (w *World) Place(typ models.TypeID, pos models.Vec3) models.Handle {
	return w.newActor(typ, pos).info.Handle
}

// AddPlayer adds a player representation owned by peer.
func (w *World) AddPlayer(peer models.PeerID, pos models.Vec3) models.Handle {
	a := w.newActor(0, pos)
	a.info.Player = true
	a.owner = peer
	if peer == w.localPeer {
		w.localPlayer = a.info.Handle
	}
	return a.info.Handle
}

func (w *World) Die(h models.Handle) error {
	a, ok := w.actors[h]
	if !ok {
		return sim.ErrUnknownHandle
	}
	if !a.info.Alive {
		return sim.ErrNotAlive
	}
	w.kill(a)
	return nil
}

func (w *World) kill(a *actor) {
	a.info.Alive = false
	a.info.Health = 0
	a.state.Health = 0
	if w.hooks.OnDeath != nil {
		w.hooks.OnDeath(a.info.Handle)
	}
	delete(w.actors, a.info.Handle)
}

func (w *World) Destroy(h models.Handle) error {
	if _, ok := w.actors[h]; !ok {
		return sim.ErrUnknownHandle
	}
	delete(w.actors, h)
	return nil
}

// Despawn removes an actor without a death, e.g. level cleanup.
func (w *World) Despawn(h models.Handle) error {
	if _, ok := w.actors[h]; !ok {
		return sim.ErrUnknownHandle
	}
	if w.hooks.OnDespawn != nil {
		w.hooks.OnDespawn(h)
	}
	delete(w.actors, h)
	return nil
}

func (w *World) Health(h models.Handle) (float32, error) {
	a, ok := w.actors[h]
	if !ok {
		return 0, sim.ErrUnknownHandle
	}
	return a.info.Health, nil
}

func (w *World) SetHealth(h models.Handle, health float32) error {
	a, ok := w.actors[h]
	if !ok {
		return sim.ErrUnknownHandle
	}
	a.info.Health = health
	a.state.Health = models.HealthByte(health)
	return nil
}

// SetInvulnerable makes the damage pipeline reject hits with a spark effect.
func (w *World) SetInvulnerable(h models.Handle, on bool) {
	if a, ok := w.actors[h]; ok {
		a.invulnerable = on
	}
}

// SetActive toggles whether the actor counts as active population.
func (w *World) SetActive(h models.Handle, on bool) {
	if a, ok := w.actors[h]; ok {
		a.info.Active = on
	}
}

// ApplyDamage is the engine damage pipeline: effects first, then health, then
// death. The death hook fires before ApplyDamage returns.
func (w *World) ApplyDamage(h models.Handle, amount float32, typ models.DamageType, point models.Vec3) (bool, error) {
	if w.PanicDamage {
		panic("memsim: damage pipeline exploded")
	}
	if w.FailDamage {
		return false, ErrInjected
	}
	a, ok := w.actors[h]
	if !ok {
		return false, sim.ErrUnknownHandle
	}
	if !a.info.Alive {
		return false, sim.ErrNotAlive
	}

	if a.invulnerable {
		w.emit(sim.Effect{Kind: sim.EffectInvulnerable, Target: h, Position: point})
		return false, nil
	}

	state := HitStateNormal
	if amount >= a.info.Health/2 {
		state = HitStateHeavy
	}
	w.emit(sim.Effect{Kind: sim.EffectHitFlash, Target: h, HitState: state})
	if typ == DamageBullet {
		w.emit(sim.Effect{
			Kind:     sim.EffectBulletHole,
			Target:   h,
			Position: point,
			Normal:   a.info.Position.Sub(point),
			Caliber:  9,
		})
	}

	a.info.Health -= amount
	if a.info.Health <= 0 {
		w.kill(a)
		return true, nil
	}
	a.state.Health = models.HealthByte(a.info.Health)
	return true, nil
}

func (w *World) emit(e sim.Effect) {
	if w.hooks.OnEffect != nil {
		w.hooks.OnEffect(e)
	}
}

// Hit models local hit detection: the hit hook may suppress application.
func (w *World) Hit(hit sim.Hit) (applied bool, err error) {
	if w.hooks.OnHit != nil && w.hooks.OnHit(hit) {
		return false, nil
	}
	if owner, ok := w.PlayerOwner(hit.Target); ok && owner == w.localPeer {
		return true, w.ApplyPlayerDamage(hit.Amount, hit.Type, hit.Point)
	}
	return w.ApplyDamage(hit.Target, hit.Amount, hit.Type, hit.Point)
}

func (w *World) ApplyPlayerDamage(amount float32, typ models.DamageType, point models.Vec3) error {
	a, ok := w.actors[w.localPlayer]
	if !ok {
		return sim.ErrNoPlayer
	}
	w.PlayerDamage = append(w.PlayerDamage, sim.Hit{Target: w.localPlayer, Amount: amount, Type: typ, Point: point})
	a.info.Health -= amount
	if a.info.Health < 0 {
		a.info.Health = 0
	}
	a.state.Health = models.HealthByte(a.info.Health)
	return nil
}

func (w *World) PlayerOwner(h models.Handle) (models.PeerID, bool) {
	a, ok := w.actors[h]
	if !ok || !a.info.Player {
		return models.InvalidPeer, false
	}
	return a.owner, true
}

// PlayerHandle returns the representation of peer's player.
func (w *World) PlayerHandle(peer models.PeerID) (models.Handle, bool) {
	for h, a := range w.actors {
		if a.info.Player && a.owner == peer {
			return h, true
		}
	}
	return models.InvalidHandle, false
}

func (w *World) Actor(h models.Handle) (sim.ActorInfo, bool) {
	a, ok := w.actors[h]
	if !ok {
		return sim.ActorInfo{}, false
	}
	return a.info, true
}

// AllActors lists every live actor, active or not, in handle order.
func (w *World) AllActors() []sim.ActorInfo {
	return w.collect(func(*actor) bool { return true })
}

// ActiveActors lists live, active actors in handle order.
func (w *World) ActiveActors() []sim.ActorInfo {
	return w.collect(func(a *actor) bool { return a.info.Active })
}

func (w *World) collect(keep func(*actor) bool) []sim.ActorInfo {
	out := make([]sim.ActorInfo, 0, len(w.actors))
	for _, a := range w.actors {
		if a.info.Alive && keep(a) {
			out = append(out, a.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (w *World) MakePuppet(h models.Handle) error {
	a, ok := w.actors[h]
	if !ok {
		return sim.ErrUnknownHandle
	}
	a.puppet = true
	return nil
}

// IsPuppet reports whether MakePuppet was called for h.
func (w *World) IsPuppet(h models.Handle) bool {
	a, ok := w.actors[h]
	return ok && a.puppet
}

func (w *World) ReadState(h models.Handle) (models.ActorState, error) {
	a, ok := w.actors[h]
	if !ok {
		return models.ActorState{}, sim.ErrUnknownHandle
	}
	return a.state, nil
}

func (w *World) WriteState(h models.Handle, state models.ActorState) error {
	a, ok := w.actors[h]
	if !ok {
		return sim.ErrUnknownHandle
	}
	a.state = state
	a.info.Position = state.Position
	return nil
}

func (w *World) LocalPlayerState() models.ActorState {
	if a, ok := w.actors[w.localPlayer]; ok {
		return a.state
	}
	return models.ActorState{}
}

// WritePlayerState drives peer's player representation, creating it on first use.
func (w *World) WritePlayerState(peer models.PeerID, state models.ActorState) error {
	h, ok := w.PlayerHandle(peer)
	if !ok {
		h = w.AddPlayer(peer, state.Position)
	}
	return w.WriteState(h, state)
}

func (w *World) ReplayEffects(h models.Handle, fx sim.CapturedEffects) error {
	w.Replays = append(w.Replays, Replay{Handle: h, Effects: fx})
	return nil
}

// Step advances every autonomous (non-puppet) actor by its velocity.
func (w *World) Step(dt float32) {
	for _, a := range w.actors {
		if a.puppet || !a.info.Alive {
			continue
		}
		a.state.Position = a.state.Position.Add(a.state.Velocity.Scale(dt))
		a.info.Position = a.state.Position
	}
}

// SetVelocity sets the autonomous velocity of an actor.
func (w *World) SetVelocity(h models.Handle, v models.Vec3) {
	if a, ok := w.actors[h]; ok {
		a.state.Velocity = v
	}
}

// Len returns the number of live actors.
func (w *World) Len() int { return len(w.actors) }

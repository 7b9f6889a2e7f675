// Package sim defines the contract between the sync core and the local game
// simulation. Only adapters implementing Backend touch engine-specific types;
// everything above this package is engine independent.
package sim

import (
	"errors"

	"github.com/zeusync/coop/internal/core/models"
)

var (
	ErrUnknownHandle = errors.New("unknown handle")
	ErrUnknownType   = errors.New("unknown actor type")
	ErrNotAlive      = errors.New("actor is not alive")
	ErrNoPlayer      = errors.New("no player for peer")
)

// ActorInfo is a read-only view of one local actor.
type ActorInfo struct {
	Handle   models.Handle
	Type     models.TypeID
	Position models.Vec3
	Health   float32
	Alive    bool
	// Active actors take part in the running simulation; inactive ones exist
	// (pooled, dormant, not yet triggered) but are not counted as population.
	Active bool
	// Player marks a player representation. Players are never reconciled.
	Player bool
}

// SourceKind classifies who dealt a hit.
type SourceKind uint8

const (
	SourceEnvironment SourceKind = iota
	SourcePlayer
	SourceEnemy
)

// Hit is one damage event observed by the local simulation.
type Hit struct {
	Target models.Handle
	Amount float32
	Type   models.DamageType
	Point  models.Vec3
	Source SourceKind
	// Attacker is the owning peer when Source is SourcePlayer.
	Attacker models.PeerID
}

// EffectKind enumerates the cosmetic side effects a damage application can emit.
type EffectKind uint8

const (
	EffectHitFlash EffectKind = iota + 1
	EffectBulletHole
	EffectInvulnerable
)

// Effect is one cosmetic outcome emitted while the backend damage pipeline runs.
type Effect struct {
	Kind     EffectKind
	Target   models.Handle
	HitState uint8
	Position models.Vec3
	Normal   models.Vec3
	Caliber  uint8
}

// BulletHole describes decal placement.
type BulletHole struct {
	Position  models.Vec3
	Direction models.Vec3
	Caliber   uint8
}

// CapturedEffects is the snapshot of cosmetic outcomes produced by one
// host-side damage application, replayed verbatim by remote peers.
type CapturedEffects struct {
	HitState     uint8
	BulletHole   *BulletHole
	Invulnerable *models.Vec3
}

// Empty reports whether nothing worth replaying was captured.
func (c CapturedEffects) Empty() bool {
	return c.HitState == 0 && c.BulletHole == nil && c.Invulnerable == nil
}

// SpawnEvent is reported for every actor the local simulation creates.
type SpawnEvent struct {
	Handle   models.Handle
	Type     models.TypeID
	Position models.Vec3
	Health   float32
	// Forced is set when the spawn came from ForceSpawn, i.e. it was requested
	// by the sync core itself and must not be reported back to the host.
	Forced bool
}

// Hooks replace runtime interception of engine methods. The backend calls them
// synchronously from inside the corresponding engine operation.
type Hooks struct {
	OnSpawn   func(SpawnEvent)
	OnDeath   func(h models.Handle)
	OnDespawn func(h models.Handle)
	// OnHit runs before the backend applies a hit. Returning true suppresses
	// the backend's own application.
	OnHit func(Hit) bool
	// OnEffect observes cosmetic effects emitted during damage application.
	OnEffect func(Effect)
}

// Backend is the narrow adapter over the local world simulation.
type Backend interface {
	Spawn(typ models.TypeID, pos models.Vec3) (models.Handle, error)
	// ForceSpawn creates an actor outside normal level logic. The resulting
	// SpawnEvent carries Forced=true.
	ForceSpawn(typ models.TypeID, pos models.Vec3) (models.Handle, error)
	// Die kills the actor through the engine's death path (death hook fires).
	Die(h models.Handle) error
	// Destroy removes the object without a death (no hooks fire).
	Destroy(h models.Handle) error

	Health(h models.Handle) (float32, error)
	SetHealth(h models.Handle, health float32) error
	// ApplyDamage runs the engine's own damage pipeline. It reports whether the
	// hit was accepted by the target.
	ApplyDamage(h models.Handle, amount float32, typ models.DamageType, point models.Vec3) (bool, error)
	// ApplyPlayerDamage damages the locally owned player.
	ApplyPlayerDamage(amount float32, typ models.DamageType, point models.Vec3) error
	// PlayerOwner reports the owning peer when h is a player representation.
	PlayerOwner(h models.Handle) (models.PeerID, bool)

	Actor(h models.Handle) (ActorInfo, bool)
	AllActors() []ActorInfo
	ActiveActors() []ActorInfo

	// MakePuppet disables local autonomous behaviour so the actor is driven
	// purely by received state.
	MakePuppet(h models.Handle) error
	ReadState(h models.Handle) (models.ActorState, error)
	WriteState(h models.Handle, state models.ActorState) error

	LocalPlayerState() models.ActorState
	WritePlayerState(peer models.PeerID, state models.ActorState) error

	ReplayEffects(h models.Handle, fx CapturedEffects) error

	SetHooks(hooks Hooks)
}

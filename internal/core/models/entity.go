package models

// EntityID is the host-assigned network identity of a replicated actor.
// Zero is never assigned.
type EntityID uint16

// InvalidEntityID marks "no entity".
const InvalidEntityID EntityID = 0

// Valid reports whether id can refer to a registered entity.
func (id EntityID) Valid() bool { return id != InvalidEntityID }

// Handle is an opaque reference to an object inside the local simulation.
// Handles are issued by the simulation backend and are meaningless on other
// machines. Zero is never a live handle.
type Handle uint32

// InvalidHandle marks "no local object".
const InvalidHandle Handle = 0

// TypeID identifies the kind of actor (enemy archetype, prop, ...). Two
// simulations agree on type ids even when they disagree on everything else.
type TypeID uint16

// PeerID identifies a session participant. Zero is invalid.
type PeerID uint32

// InvalidPeer marks "no peer".
const InvalidPeer PeerID = 0

// DamageType is the backend's damage category, carried verbatim on the wire.
type DamageType uint8

// ActorState is the replicated motion/state sample of one actor.
type ActorState struct {
	Position  Vec3
	Yaw       float32
	Pitch     float32
	Velocity  Vec3
	AnimState uint8
	Grounded  bool
	Health    uint8
}

// HealthByte clamps a floating health value into the byte carried by
// motion snapshots. Authoritative health travels separately as float32.
func HealthByte(health float32) uint8 {
	switch {
	case health <= 0:
		return 0
	case health >= 255:
		return 255
	default:
		return uint8(health + 0.5)
	}
}

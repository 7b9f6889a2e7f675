package protocol

import (
	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/sim"
)

const (
	effectBulletHole   uint8 = 1 << 0
	effectInvulnerable uint8 = 1 << 1
)

// Effects encodes captured cosmetic outcomes as a hit state, a presence
// bitmask and the optional parts in bit order.
func (w *Writer) Effects(fx sim.CapturedEffects) {
	w.U8(fx.HitState)
	var flags uint8
	if fx.BulletHole != nil {
		flags |= effectBulletHole
	}
	if fx.Invulnerable != nil {
		flags |= effectInvulnerable
	}
	w.U8(flags)
	if fx.BulletHole != nil {
		w.Vec3(fx.BulletHole.Position)
		w.Vec3(fx.BulletHole.Direction)
		w.U8(fx.BulletHole.Caliber)
	}
	if fx.Invulnerable != nil {
		w.Vec3(*fx.Invulnerable)
	}
}

func (r *Reader) Effects() sim.CapturedEffects {
	fx := sim.CapturedEffects{HitState: r.U8()}
	flags := r.U8()
	if flags&^(effectBulletHole|effectInvulnerable) != 0 && r.err == nil {
		r.err = ErrMalformed
		return fx
	}
	if flags&effectBulletHole != 0 {
		fx.BulletHole = &sim.BulletHole{
			Position:  r.Vec3(),
			Direction: r.Vec3(),
			Caliber:   r.U8(),
		}
	}
	if flags&effectInvulnerable != 0 {
		p := r.Vec3()
		fx.Invulnerable = &p
	}
	return fx
}

// DamageRequest asks the host to resolve a hit detected on a client.
type DamageRequest struct {
	ID     models.EntityID
	Damage float32
	Kind   models.DamageType
	Point  models.Vec3
}

func (*DamageRequest) Type() MessageType { return TypeDamageRequest }

func (m *DamageRequest) MarshalTo(w *Writer) {
	w.EntityID(m.ID)
	w.F32(m.Damage)
	w.U8(uint8(m.Kind))
	w.Vec3(m.Point)
}

func (m *DamageRequest) UnmarshalFrom(r *Reader) {
	m.ID = r.EntityID()
	m.Damage = r.F32()
	m.Kind = models.DamageType(r.U8())
	m.Point = r.Vec3()
}

// DamageResult reports a hit the target survived with reduced health.
type DamageResult struct {
	ID        models.EntityID
	NewHealth float32
	Delta     float32
	Kind      models.DamageType
	Point     models.Vec3
	Effects   sim.CapturedEffects
}

func (*DamageResult) Type() MessageType { return TypeDamageResult }

func (m *DamageResult) MarshalTo(w *Writer) {
	w.EntityID(m.ID)
	w.F32(m.NewHealth)
	w.F32(m.Delta)
	w.U8(uint8(m.Kind))
	w.Vec3(m.Point)
	w.Effects(m.Effects)
}

func (m *DamageResult) UnmarshalFrom(r *Reader) {
	m.ID = r.EntityID()
	m.NewHealth = r.F32()
	m.Delta = r.F32()
	m.Kind = models.DamageType(r.U8())
	m.Point = r.Vec3()
	m.Effects = r.Effects()
}

// EntityDeath reports an authoritative death.
type EntityDeath struct {
	ID             models.EntityID
	Kind           models.DamageType
	KillerIsPlayer bool
}

func (*EntityDeath) Type() MessageType { return TypeEntityDeath }

func (m *EntityDeath) MarshalTo(w *Writer) {
	w.EntityID(m.ID)
	w.U8(uint8(m.Kind))
	w.Bool(m.KillerIsPlayer)
}

func (m *EntityDeath) UnmarshalFrom(r *Reader) {
	m.ID = r.EntityID()
	m.Kind = models.DamageType(r.U8())
	m.KillerIsPlayer = r.Bool()
}

// HitBlocked reports a hit that changed no health but produced an effect.
type HitBlocked struct {
	ID      models.EntityID
	Effects sim.CapturedEffects
	Point   models.Vec3
}

func (*HitBlocked) Type() MessageType { return TypeHitBlocked }

func (m *HitBlocked) MarshalTo(w *Writer) {
	w.EntityID(m.ID)
	w.Effects(m.Effects)
	w.Vec3(m.Point)
}

func (m *HitBlocked) UnmarshalFrom(r *Reader) {
	m.ID = r.EntityID()
	m.Effects = r.Effects()
	m.Point = r.Vec3()
}

// PlayerDamage tells Target to damage its own player. The host forwards it
// when it arrives from another client.
type PlayerDamage struct {
	Target models.PeerID
	Damage float32
	Kind   models.DamageType
	Point  models.Vec3
}

func (*PlayerDamage) Type() MessageType { return TypePlayerDamage }

func (m *PlayerDamage) MarshalTo(w *Writer) {
	w.Peer(m.Target)
	w.F32(m.Damage)
	w.U8(uint8(m.Kind))
	w.Vec3(m.Point)
}

func (m *PlayerDamage) UnmarshalFrom(r *Reader) {
	m.Target = r.Peer()
	m.Damage = r.F32()
	m.Kind = models.DamageType(r.U8())
	m.Point = r.Vec3()
}

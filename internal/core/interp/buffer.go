// Package interp turns discrete, lossy state updates into smooth motion.
//
// Each replicated actor gets a Buffer of timestamped snapshots. The receiver
// renders every actor a fixed delay in the past, so there is almost always a
// pair of snapshots bracketing the render time to interpolate between. The
// sender's clock is mapped onto the local one through a smoothed offset
// estimate, which absorbs network jitter.
package interp

import (
	"math"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/pkg/sequence"
)

// Snapshot is one timestamped sample. Time is on the sender's clock, in
// seconds.
type Snapshot struct {
	Time  float64
	State models.ActorState
}

// Buffer holds the most recent snapshots of one actor, ordered by time.
// It is not safe for concurrent use.
type Buffer struct {
	cfg  Config
	ring *sequence.Ring[Snapshot]

	offset    float64
	hasOffset bool
}

func NewBuffer(cfg Config) *Buffer {
	return &Buffer{cfg: cfg, ring: sequence.NewRing[Snapshot](cfg.Capacity)}
}

func (b *Buffer) Len() int { return b.ring.Len() }

// Offset is the current estimate of localTime - remoteTime in seconds.
func (b *Buffer) Offset() float64 { return b.offset }

// Newest returns the latest buffered snapshot.
func (b *Buffer) Newest() (Snapshot, bool) {
	if b.ring.Len() == 0 {
		return Snapshot{}, false
	}
	return b.ring.At(b.ring.Len() - 1), true
}

// Reset drops every snapshot and the offset estimate.
func (b *Buffer) Reset() {
	b.ring.Clear()
	b.offset, b.hasOffset = 0, false
}

// Insert adds s, received at localNow (seconds on the local clock).
// Snapshots older than the newest buffered one by more than the stale
// threshold are rejected without touching the offset estimate. A snapshot
// with the same timestamp as a buffered one replaces it. It reports whether
// s was stored.
func (b *Buffer) Insert(s Snapshot, localNow float64) bool {
	n := b.ring.Len()
	if n > 0 {
		newest := b.ring.At(n - 1).Time
		if s.Time < newest-b.cfg.StaleThreshold.Seconds() {
			return false
		}
	}

	skew := localNow - s.Time
	if !b.hasOffset {
		b.offset, b.hasOffset = skew, true
	} else {
		b.offset += (skew - b.offset) * b.cfg.OffsetSmoothing
	}

	// Most snapshots arrive in order, so search from the newest end.
	i := n
	for i > 0 && b.ring.At(i-1).Time > s.Time {
		i--
	}
	if i > 0 && b.ring.At(i-1).Time == s.Time {
		b.ring.Set(i-1, s)
		return true
	}
	if b.ring.Full() && i == 0 {
		// Older than everything in a full buffer: it would be evicted at once.
		return false
	}
	b.ring.Insert(i, s)
	return true
}

// RenderTime maps a local time onto the sender's timeline, delayed by the
// interpolation delay.
func (b *Buffer) RenderTime(localNow float64) float64 {
	return localNow - b.offset - b.cfg.Delay.Seconds()
}

// Sample returns the state to display at localNow.
func (b *Buffer) Sample(localNow float64) (models.ActorState, bool) {
	return b.SampleAt(b.RenderTime(localNow))
}

// SampleAt returns the state at renderTime on the sender's timeline.
// Before the first snapshot it returns the oldest one unchanged; after the
// last it extrapolates along the last velocity for at most the
// extrapolation window.
func (b *Buffer) SampleAt(renderTime float64) (models.ActorState, bool) {
	n := b.ring.Len()
	if n == 0 {
		return models.ActorState{}, false
	}

	oldest := b.ring.At(0)
	if renderTime <= oldest.Time {
		return oldest.State, true
	}

	newest := b.ring.At(n - 1)
	if renderTime >= newest.Time {
		dt := min(renderTime-newest.Time, b.cfg.MaxExtrapolation.Seconds())
		out := newest.State
		out.Position = out.Position.Add(out.Velocity.Scale(float32(dt)))
		return out, true
	}

	for i := 1; i < n; i++ {
		next := b.ring.At(i)
		if next.Time < renderTime {
			continue
		}
		prev := b.ring.At(i - 1)
		t := float32((renderTime - prev.Time) / (next.Time - prev.Time))
		return Blend(prev.State, next.State, t), true
	}
	return newest.State, true
}

// Blend interpolates continuous fields linearly, yaw along the shortest arc
// and picks discrete fields from the nearer sample.
func Blend(a, b models.ActorState, t float32) models.ActorState {
	out := models.ActorState{
		Position: a.Position.Lerp(b.Position, t),
		Yaw:      LerpAngle(a.Yaw, b.Yaw, t),
		Pitch:    a.Pitch + (b.Pitch-a.Pitch)*t,
		Velocity: a.Velocity.Lerp(b.Velocity, t),
	}
	near := a
	if t >= 0.5 {
		near = b
	}
	out.AnimState = near.AnimState
	out.Grounded = near.Grounded
	out.Health = near.Health
	return out
}

// LerpAngle interpolates between two headings in degrees along the shorter
// arc. The result is normalized to [0, 360).
func LerpAngle(a, b, t float32) float32 {
	delta := WrapDegrees(b-a+180) - 180
	return WrapDegrees(a + delta*t)
}

// WrapDegrees normalizes an angle to [0, 360).
func WrapDegrees(d float32) float32 {
	r := float32(math.Mod(float64(d), 360))
	if r < 0 {
		r += 360
	}
	if r >= 360 {
		r = 0
	}
	return r
}

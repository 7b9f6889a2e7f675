package interp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/coop/internal/core/models"
)

const eps = 1e-4

func snap(t float64, x float32) Snapshot {
	return Snapshot{Time: t, State: models.ActorState{
		Position: models.Vec3{X: x},
		Velocity: models.Vec3{X: 10},
	}}
}

func linearBuffer(t *testing.T) *Buffer {
	t.Helper()
	b := NewBuffer(DefaultConfig())
	for i, ts := range []float64{0, 0.1, 0.2} {
		require.True(t, b.Insert(snap(ts, float32(i)), ts))
	}
	return b
}

func TestSampleMidpoint(t *testing.T) {
	b := linearBuffer(t)
	s, ok := b.SampleAt(0.15)
	require.True(t, ok)
	assert.InDelta(t, 1.5, s.Position.X, eps)
	assert.InDelta(t, 10, s.Velocity.X, eps)

	s, _ = b.SampleAt(0.05)
	assert.InDelta(t, 0.5, s.Position.X, eps)
}

func TestSampleExtrapolatesAndClamps(t *testing.T) {
	b := linearBuffer(t)

	s, ok := b.SampleAt(0.23)
	require.True(t, ok)
	assert.InDelta(t, 2+10*0.03, s.Position.X, eps)

	s, _ = b.SampleAt(0.2 + 0.05)
	assert.InDelta(t, 2.5, s.Position.X, eps)

	s, _ = b.SampleAt(5)
	assert.InDelta(t, 2.5, s.Position.X, eps, "extrapolation is clamped to the window")
}

func TestSampleBeforeBufferReturnsOldest(t *testing.T) {
	b := linearBuffer(t)
	s, ok := b.SampleAt(-3)
	require.True(t, ok)
	assert.Equal(t, snap(0, 0).State, s)

	_, ok = NewBuffer(DefaultConfig()).SampleAt(0)
	assert.False(t, ok)
}

func TestSampleUsesOffsetAndDelay(t *testing.T) {
	cfg := DefaultConfig()
	b := NewBuffer(cfg)
	const skew = 1000.0
	for i, ts := range []float64{0, 0.1, 0.2} {
		b.Insert(snap(ts, float32(i)), ts+skew)
	}
	assert.InDelta(t, skew, b.Offset(), 1e-9)

	// localNow = 0.25 + skew renders remote time 0.15 with a 100 ms delay.
	s, ok := b.Sample(0.25 + skew)
	require.True(t, ok)
	assert.InDelta(t, 1.5, s.Position.X, eps)
}

func TestOffsetConverges(t *testing.T) {
	b := NewBuffer(DefaultConfig())
	const skew = 3.25
	// The first sample arrives late and seeds a wrong estimate.
	b.Insert(snap(0, 0), 0+skew+0.4)
	assert.InDelta(t, skew+0.4, b.Offset(), 1e-9)

	for i := 1; i <= 150; i++ {
		ts := float64(i) * 0.016
		b.Insert(snap(ts, 0), ts+skew)
	}
	assert.InDelta(t, skew, b.Offset(), 1e-4)
}

func TestStaleSnapshotRejectedBeforeOffset(t *testing.T) {
	b := NewBuffer(DefaultConfig())
	require.True(t, b.Insert(snap(10, 0), 10))
	before := b.Offset()

	assert.False(t, b.Insert(snap(8.5, 0), 100))
	assert.Equal(t, before, b.Offset())
	assert.Equal(t, 1, b.Len())

	assert.True(t, b.Insert(snap(9.5, 0), 9.6), "reordered but within the threshold")
	assert.Equal(t, 2, b.Len())
}

func TestInsertOrdersReplacesAndEvicts(t *testing.T) {
	cfg := DefaultConfig()
	b := NewBuffer(cfg)
	for _, ts := range []float64{0.3, 0.1, 0.2} {
		b.Insert(snap(ts, float32(ts*10)), 1)
	}
	newest, ok := b.Newest()
	require.True(t, ok)
	assert.Equal(t, 0.3, newest.Time)
	assert.Equal(t, 0.1, b.ring.At(0).Time)

	replaced := snap(0.2, 42)
	assert.True(t, b.Insert(replaced, 1))
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, replaced, b.ring.At(1))

	b.Reset()
	for i := 0; i < cfg.Capacity+5; i++ {
		b.Insert(snap(float64(i)*0.01, 0), 1)
	}
	assert.Equal(t, cfg.Capacity, b.Len())
	assert.InDelta(t, 0.05, b.ring.At(0).Time, 1e-9)
	assert.False(t, b.Insert(snap(0.001, 0), 1), "older than a full buffer")
}

func TestBlendDiscreteFieldsNearestNeighbour(t *testing.T) {
	a := models.ActorState{AnimState: 1, Grounded: true, Health: 100, Pitch: 0, Yaw: 350}
	b := models.ActorState{AnimState: 2, Grounded: false, Health: 50, Pitch: 10, Yaw: 10}

	early := Blend(a, b, 0.3)
	assert.Equal(t, uint8(1), early.AnimState)
	assert.True(t, early.Grounded)
	assert.Equal(t, uint8(100), early.Health)
	assert.InDelta(t, 3, early.Pitch, eps)
	assert.InDelta(t, 356, early.Yaw, eps)

	late := Blend(a, b, 0.7)
	assert.Equal(t, uint8(2), late.AnimState)
	assert.False(t, late.Grounded)
	assert.Equal(t, uint8(50), late.Health)
	assert.InDelta(t, 4, late.Yaw, eps)
}

func TestLerpAngle(t *testing.T) {
	assert.InDelta(t, 0, LerpAngle(350, 10, 0.5), eps)
	assert.InDelta(t, 5, LerpAngle(10, 350, 0.25), eps)
	assert.InDelta(t, 90, LerpAngle(45, 135, 0.5), eps)
	assert.InDelta(t, 270, WrapDegrees(-90), eps)
	assert.InDelta(t, 0, WrapDegrees(720), eps)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.OffsetSmoothing = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Capacity = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.StaleThreshold = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestTracker(t *testing.T) {
	tr := NewTracker[models.EntityID](DefaultConfig())
	tr.Insert(7, snap(0, 1), 0)
	tr.Insert(3, snap(0, 2), 0)

	assert.Equal(t, []models.EntityID{3, 7}, tr.Keys())

	var seen []models.EntityID
	tr.Each(0, func(id models.EntityID, s models.ActorState) {
		seen = append(seen, id)
	})
	assert.Equal(t, []models.EntityID{3, 7}, seen)

	s, ok := tr.Sample(7, 0)
	require.True(t, ok)
	assert.InDelta(t, 1, s.Position.X, eps)

	tr.Remove(7)
	_, ok = tr.Sample(7, 0)
	assert.False(t, ok)
	assert.Equal(t, 1, tr.Len())

	tr.Clear()
	assert.Zero(t, tr.Len())
}

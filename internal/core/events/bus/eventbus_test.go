package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
)

type testObserver struct {
	publishCount   int
	deliveredCount int
	lastErr        error
}

func (o *testObserver) OnPublish(string, Event) {
	o.publishCount++
}

func (o *testObserver) OnDelivered(_ string, handlers int, err error, _ int64) {
	o.deliveredCount += handlers
	o.lastErr = err
}

func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	called := 0
	sub, err := b.Subscribe("test.event", func(e Event) error {
		called++
		assert.Equal(t, "tester", e.Source())
		assert.Equal(t, 123, e.Data())
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, "test.event", sub.EventType())

	require.NoError(t, b.Publish(NewEvent("test.event", "tester", 123)))
	require.NoError(t, b.Publish(NewEvent("other.event", "tester", 1)))
	assert.Equal(t, 1, called)
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	b := New()
	_, err := b.Subscribe("x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
	_, err = b.Subscribe("", func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrEmptyEventType)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	called := 0
	sub, err := b.Subscribe("x", func(Event) error { called++; return nil })
	require.NoError(t, err)

	require.NoError(t, b.Unsubscribe(sub))
	require.NoError(t, sub.Cancel())
	require.NoError(t, b.Unsubscribe(nil))
	assert.False(t, sub.IsActive())

	require.NoError(t, b.Publish(NewEvent("x", "src", nil)))
	assert.Zero(t, called)
}

func TestHandlerErrorsAreJoined(t *testing.T) {
	b := New()
	e1 := errors.New("first")
	e2 := errors.New("second")
	reached := 0
	_, _ = b.Subscribe("x", func(Event) error { reached++; return e1 })
	_, _ = b.Subscribe("x", func(Event) error { reached++; return e2 })
	_, _ = b.Subscribe("x", func(Event) error { reached++; return nil })

	err := b.Publish(NewEvent("x", "src", nil))
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
	assert.Equal(t, 3, reached)
}

func TestObserverMetricsOptional(t *testing.T) {
	b := New()
	_, _ = b.Subscribe("e", func(Event) error { return nil })
	_ = b.Publish(NewEvent("e", "s", nil))
	assert.Zero(t, b.GetMetrics().Published)

	obs := &testObserver{}
	b.AddObserver(obs)
	_ = b.Publish(NewEvent("e", "s", nil))
	m := b.GetMetrics()
	assert.Equal(t, uint64(1), m.Published)
	assert.Equal(t, uint64(1), m.DeliveredHandlers)
	assert.Equal(t, uint64(1), m.SubscribersActive)
	assert.Equal(t, 1, obs.publishCount)
	assert.Equal(t, 1, obs.deliveredCount)

	b.RemoveObserver(obs)
	_ = b.Publish(NewEvent("e", "s", nil))
	assert.Equal(t, 1, obs.publishCount)
}

func TestTypedSubscription(t *testing.T) {
	b := New()
	var got EntityDied
	_, err := On(b, TypeEntityDied, func(e EntityDied) { got = e })
	require.NoError(t, err)

	require.NoError(t, b.Publish(NewEvent(TypeEntityDied, "combat", EntityDied{ID: 7, KillerIsPlayer: true})))
	assert.Equal(t, models.EntityID(7), got.ID)
	assert.True(t, got.KillerIsPlayer)

	err = b.Publish(NewEvent(TypeEntityDied, "combat", "not a payload"))
	assert.ErrorIs(t, err, ErrUnexpectedData)
}

func TestLogObserverDoesNotInterfere(t *testing.T) {
	b := New()
	b.AddObserver(NewLogObserver(log.NewNop()))
	calls := 0
	_, _ = On(b, TypePeerJoined, func(PeerJoined) { calls++ })
	require.NoError(t, b.Publish(NewEvent(TypePeerJoined, "session", PeerJoined{Peer: 2})))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "forced", SpawnForced.String())
}

package bus

import (
	"fmt"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
)

// Event types produced by a session.
const (
	TypeEntitySpawned   = "entity.spawned"
	TypeEntityDied      = "entity.died"
	TypeDamageApplied   = "damage.applied"
	TypeConnectionState = "connection.state"
	TypePeerJoined      = "peer.joined"
	TypePeerLeft        = "peer.left"
)

// SpawnOrigin tells how an entity got its network identity.
type SpawnOrigin uint8

const (
	// SpawnAssigned: the host assigned a fresh id to a local spawn.
	SpawnAssigned SpawnOrigin = iota
	// SpawnMatched: a client bound an announce to a nearby local object.
	SpawnMatched
	// SpawnForced: no local object matched in time and one was created.
	SpawnForced
	// SpawnTypeOnly: the last-resort batch match ignored position.
	SpawnTypeOnly
)

func (o SpawnOrigin) String() string {
	switch o {
	case SpawnAssigned:
		return "assigned"
	case SpawnMatched:
		return "matched"
	case SpawnForced:
		return "forced"
	case SpawnTypeOnly:
		return "type_only"
	default:
		return fmt.Sprintf("origin(%d)", uint8(o))
	}
}

type EntitySpawned struct {
	ID       models.EntityID
	Handle   models.Handle
	Kind     models.TypeID
	Position models.Vec3
	Origin   SpawnOrigin
}

type EntityDied struct {
	ID             models.EntityID
	Handle         models.Handle
	Kind           models.DamageType
	KillerIsPlayer bool
}

type DamageApplied struct {
	ID        models.EntityID
	Handle    models.Handle
	NewHealth float32
	Delta     float32
	Kind      models.DamageType
	Point     models.Vec3
}

// ConnectionState carries a human-readable Reason when State is disconnected.
type ConnectionState struct {
	State  protocol.ConnectionState
	Peer   models.PeerID
	Reason string
}

type PeerJoined struct {
	Peer models.PeerID
	Name string
}

type PeerLeft struct {
	Peer   models.PeerID
	Reason string
}

// On subscribes fn to eventType and unwraps the payload as T. A payload of
// another type is reported as ErrUnexpectedData.
func On[T any](b EventBus, eventType string, fn func(T)) (Subscription, error) {
	return b.Subscribe(eventType, func(e Event) error {
		data, ok := e.Data().(T)
		if !ok {
			return fmt.Errorf("%w: %s carries %T", ErrUnexpectedData, eventType, e.Data())
		}
		fn(data)
		return nil
	})
}

// LogObserver writes every published event to a debug log and reports
// handler failures as warnings.
type LogObserver struct {
	logger log.Log
}

func NewLogObserver(logger log.Log) *LogObserver {
	return &LogObserver{logger: logger.With(log.String("component", "events"))}
}

func (o *LogObserver) OnPublish(eventType string, event Event) {
	o.logger.Debug("Event published",
		log.String("type", eventType),
		log.String("source", event.Source()),
		log.Any("data", event.Data()))
}

func (o *LogObserver) OnDelivered(eventType string, handlers int, err error, durationMicros int64) {
	if err != nil {
		o.logger.Warn("Event handler failed",
			log.String("type", eventType),
			log.Int("handlers", handlers),
			log.Int64("duration_us", durationMicros),
			log.Error(err))
	}
}

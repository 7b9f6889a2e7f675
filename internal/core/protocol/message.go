package protocol

import (
	"fmt"
	"sort"
)

// Message is one typed protocol message. The wire form is
// [1-byte type tag][payload], payload fields fixed-width little-endian.
type Message interface {
	Type() MessageType
	MarshalTo(w *Writer)
	UnmarshalFrom(r *Reader)
}

// factories maps each known tag to a constructor of an empty message.
var factories = map[MessageType]func() Message{
	TypeHello:             func() Message { return &Hello{} },
	TypeWelcome:           func() Message { return &Welcome{} },
	TypeHeartbeat:         func() Message { return &Heartbeat{} },
	TypeDisconnect:        func() Message { return &Disconnect{} },
	TypePeerJoined:        func() Message { return &PeerJoined{} },
	TypePeerLeft:          func() Message { return &PeerLeft{} },
	TypePlayerState:       func() Message { return &PlayerState{} },
	TypeLevelStart:        func() Message { return &LevelStart{} },
	TypeLevelReady:        func() Message { return &LevelReady{} },
	TypeDamageRequest:     func() Message { return &DamageRequest{} },
	TypeDamageResult:      func() Message { return &DamageResult{} },
	TypeEntityDeath:       func() Message { return &EntityDeath{} },
	TypeHitBlocked:        func() Message { return &HitBlocked{} },
	TypePlayerDamage:      func() Message { return &PlayerDamage{} },
	TypeSpawnAnnounce:     func() Message { return &SpawnAnnounce{} },
	TypeClientSpawnNotify: func() Message { return &ClientSpawnNotify{} },
	TypeBatchSpawn:        func() Message { return &BatchSpawn{} },
	TypeEntityDespawn:     func() Message { return &EntityDespawn{} },
	TypeActorStates:       func() Message { return &ActorStates{} },
	TypeSessionEnd:        func() Message { return &SessionEnd{} },
	TypeDebugText:         func() Message { return &DebugText{} },
}

// KnownTypes returns every registered tag in ascending order.
func KnownTypes() []MessageType {
	out := make([]MessageType, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EncodeTo appends the wire form of m to w.
func EncodeTo(w *Writer, m Message) error {
	w.U8(uint8(m.Type()))
	m.MarshalTo(w)
	if err := w.Err(); err != nil {
		return fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return nil
}

// Encode returns a freshly allocated wire form of m.
func Encode(m Message) ([]byte, error) {
	w := AcquireWriter()
	defer ReleaseWriter(w)
	if err := EncodeTo(w, m); err != nil {
		return nil, err
	}
	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out, nil
}

// Decode parses one message. Unknown tags yield ErrUnknownType; short,
// oversized or otherwise inconsistent payloads yield ErrMalformed.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	t := MessageType(data[0])
	factory, ok := factories[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	m := factory()
	r := NewReader(data[1:])
	m.UnmarshalFrom(r)
	if err := r.Err(); err != nil {
		return nil, malformed(t, err)
	}
	if r.Remaining() != 0 {
		return nil, malformed(t, ErrTrailingPayload)
	}
	return m, nil
}

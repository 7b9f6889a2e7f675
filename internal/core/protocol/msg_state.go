package protocol

import "github.com/zeusync/coop/internal/core/models"

// actorStateSize is the encoded size of models.ActorState.
const actorStateSize = 12 + 4 + 4 + 12 + 1 + 1 + 1

// actorStateEntrySize is one ActorStates entry: id + state.
const actorStateEntrySize = 2 + actorStateSize

// MaxActorStatesPerPacket keeps one ActorStates message inside a single
// datagram of MaxDatagramPayload bytes.
const MaxActorStatesPerPacket = (MaxDatagramPayload - 1 - 8 - 2) / actorStateEntrySize

// MaxDatagramPayload is the conservative datagram budget shared by all
// transports (fits the minimum QUIC MTU after framing overhead).
const MaxDatagramPayload = 1100

func (w *Writer) ActorState(s models.ActorState) {
	w.Vec3(s.Position)
	w.F32(s.Yaw)
	w.F32(s.Pitch)
	w.Vec3(s.Velocity)
	w.U8(s.AnimState)
	w.Bool(s.Grounded)
	w.U8(s.Health)
}

func (r *Reader) ActorState() models.ActorState {
	return models.ActorState{
		Position:  r.Vec3(),
		Yaw:       r.F32(),
		Pitch:     r.F32(),
		Velocity:  r.Vec3(),
		AnimState: r.U8(),
		Grounded:  r.Bool(),
		Health:    r.U8(),
	}
}

// PlayerState carries one participant's own player. Clients send it to the
// host, which stamps Peer with the sender and re-broadcasts it.
type PlayerState struct {
	Peer models.PeerID
	// Time is the sender's clock in seconds.
	Time  float64
	State models.ActorState
}

func (*PlayerState) Type() MessageType { return TypePlayerState }

func (m *PlayerState) MarshalTo(w *Writer) {
	w.Peer(m.Peer)
	w.F64(m.Time)
	w.ActorState(m.State)
}

func (m *PlayerState) UnmarshalFrom(r *Reader) {
	m.Peer = r.Peer()
	m.Time = r.F64()
	m.State = r.ActorState()
}

func (m *PlayerState) SetOrigin(p models.PeerID) { m.Peer = p }

// ActorStateEntry is the state of one registered actor.
type ActorStateEntry struct {
	ID    models.EntityID
	State models.ActorState
}

// ActorStates is the host's periodic motion broadcast for registered actors.
type ActorStates struct {
	Time    float64
	Entries []ActorStateEntry
}

func (*ActorStates) Type() MessageType { return TypeActorStates }

func (m *ActorStates) MarshalTo(w *Writer) {
	w.F64(m.Time)
	w.Count(len(m.Entries))
	for _, e := range m.Entries {
		w.EntityID(e.ID)
		w.ActorState(e.State)
	}
}

func (m *ActorStates) UnmarshalFrom(r *Reader) {
	m.Time = r.F64()
	n := r.Count(actorStateEntrySize)
	if n == 0 {
		m.Entries = nil
		return
	}
	m.Entries = make([]ActorStateEntry, n)
	for i := range m.Entries {
		m.Entries[i].ID = r.EntityID()
		m.Entries[i].State = r.ActorState()
	}
}

// ChunkActorStates splits entries into messages that each fit one datagram.
func ChunkActorStates(now float64, entries []ActorStateEntry) []*ActorStates {
	if len(entries) == 0 {
		return nil
	}
	out := make([]*ActorStates, 0, (len(entries)+MaxActorStatesPerPacket-1)/MaxActorStatesPerPacket)
	for start := 0; start < len(entries); start += MaxActorStatesPerPacket {
		end := min(start+MaxActorStatesPerPacket, len(entries))
		out = append(out, &ActorStates{Time: now, Entries: entries[start:end]})
	}
	return out
}

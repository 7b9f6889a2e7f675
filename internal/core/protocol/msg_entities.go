package protocol

import "github.com/zeusync/coop/internal/core/models"

// spawnEntrySize is the encoded size of SpawnEntry.
const spawnEntrySize = 2 + 2 + 12 + 4

// SpawnEntry is one host-registered actor.
type SpawnEntry struct {
	ID       models.EntityID
	Kind     models.TypeID
	Position models.Vec3
	Health   float32
}

func (w *Writer) SpawnEntry(e SpawnEntry) {
	w.EntityID(e.ID)
	w.U16(uint16(e.Kind))
	w.Vec3(e.Position)
	w.F32(e.Health)
}

func (r *Reader) SpawnEntry() SpawnEntry {
	return SpawnEntry{
		ID:       r.EntityID(),
		Kind:     models.TypeID(r.U16()),
		Position: r.Vec3(),
		Health:   r.F32(),
	}
}

// SpawnAnnounce binds a host-assigned id to an actor.
type SpawnAnnounce struct {
	SpawnEntry
}

func (*SpawnAnnounce) Type() MessageType { return TypeSpawnAnnounce }

func (m *SpawnAnnounce) MarshalTo(w *Writer) { w.SpawnEntry(m.SpawnEntry) }

func (m *SpawnAnnounce) UnmarshalFrom(r *Reader) { m.SpawnEntry = r.SpawnEntry() }

// ClientSpawnNotify reports an actor the client spawned before the host
// announced it.
type ClientSpawnNotify struct {
	Kind     models.TypeID
	Position models.Vec3
	Health   float32
}

func (*ClientSpawnNotify) Type() MessageType { return TypeClientSpawnNotify }

func (m *ClientSpawnNotify) MarshalTo(w *Writer) {
	w.U16(uint16(m.Kind))
	w.Vec3(m.Position)
	w.F32(m.Health)
}

func (m *ClientSpawnNotify) UnmarshalFrom(r *Reader) {
	m.Kind = models.TypeID(r.U16())
	m.Position = r.Vec3()
	m.Health = r.F32()
}

// BatchSpawn lists every registered actor of a level after population settled.
type BatchSpawn struct {
	Hash    uint64
	Entries []SpawnEntry
}

func (*BatchSpawn) Type() MessageType { return TypeBatchSpawn }

func (m *BatchSpawn) MarshalTo(w *Writer) {
	w.U64(m.Hash)
	w.Count(len(m.Entries))
	for _, e := range m.Entries {
		w.SpawnEntry(e)
	}
}

func (m *BatchSpawn) UnmarshalFrom(r *Reader) {
	m.Hash = r.U64()
	n := r.Count(spawnEntrySize)
	if n == 0 {
		m.Entries = nil
		return
	}
	m.Entries = make([]SpawnEntry, n)
	for i := range m.Entries {
		m.Entries[i] = r.SpawnEntry()
	}
}

// EntityDespawn removes an entity without a death.
type EntityDespawn struct {
	ID models.EntityID
}

func (*EntityDespawn) Type() MessageType { return TypeEntityDespawn }

func (m *EntityDespawn) MarshalTo(w *Writer) { w.EntityID(m.ID) }

func (m *EntityDespawn) UnmarshalFrom(r *Reader) { m.ID = r.EntityID() }

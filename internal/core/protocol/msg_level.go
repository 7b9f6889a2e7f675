package protocol

// LevelStart tells clients the host began loading a level. Every component
// clears its per-level state on receipt.
type LevelStart struct {
	Level string
	// Hash is LevelHash(Level); peers compare it instead of the name.
	Hash uint64
	Seed uint32
}

func (*LevelStart) Type() MessageType { return TypeLevelStart }

func (m *LevelStart) MarshalTo(w *Writer) {
	w.String(m.Level)
	w.U64(m.Hash)
	w.U32(m.Seed)
}

func (m *LevelStart) UnmarshalFrom(r *Reader) {
	m.Level = r.String()
	m.Hash = r.U64()
	m.Seed = r.U32()
}

// LevelReady is sent by a client once its local level finished loading.
type LevelReady struct {
	Hash uint64
}

func (*LevelReady) Type() MessageType { return TypeLevelReady }

func (m *LevelReady) MarshalTo(w *Writer) { w.U64(m.Hash) }

func (m *LevelReady) UnmarshalFrom(r *Reader) { m.Hash = r.U64() }

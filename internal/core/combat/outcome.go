package combat

// Outcome is the terminal branch a host-side hit took. Exactly one fires
// per applied hit.
type Outcome uint8

const (
	// OutcomeDropped: the target was unknown or already dead.
	OutcomeDropped Outcome = iota
	OutcomeDied
	OutcomeDamaged
	OutcomeBlocked
	// OutcomeNoEffect: nothing changed and nothing was emitted.
	OutcomeNoEffect
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDropped:
		return "dropped"
	case OutcomeDied:
		return "died"
	case OutcomeDamaged:
		return "damaged"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeNoEffect:
		return "no_effect"
	default:
		return "unknown"
	}
}

// Stats counts arbitration outcomes since the arbiter was created.
type Stats struct {
	Requests     uint64
	Results      uint64
	Blocked      uint64
	Deaths       uint64
	Dropped      uint64
	Degraded     uint64
	PvPFiltered  uint64
	PlayerDamage uint64

	// Ignored counts non-player hits on replicas seen by a client.
	Ignored uint64
}

package reconcile

// LoadPhase is the host's level-load batch state.
type LoadPhase uint8

const (
	PhaseIdle LoadPhase = iota
	PhaseWaitingForPopulation
	PhaseStabilizing
	PhaseDone
)

func (p LoadPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaitingForPopulation:
		return "waiting_for_population"
	case PhaseStabilizing:
		return "stabilizing"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Loading reports whether announcements are currently deferred to the batch.
func (p LoadPhase) Loading() bool {
	return p == PhaseWaitingForPopulation || p == PhaseStabilizing
}

package reconcile

// Stats counts reconciliation outcomes since the engine was created.
// Reset does not zero them.
type Stats struct {
	Assigned            uint64
	Announced           uint64
	NaturalMatches      uint64
	Retries             uint64
	ForcedSpawns        uint64
	ForceFailures       uint64
	TypeOnlyMatches     uint64
	Abandoned           uint64
	DuplicatesCollapsed uint64
	Notified            uint64
	ExpiredClaims       uint64
	Despawned           uint64
}

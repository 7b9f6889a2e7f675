package reconcile

import (
	"math"
	"slices"
	"time"

	"github.com/kelindar/bitmap"

	"github.com/zeusync/coop/internal/core/events/bus"
	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/sim"
)

// batchState is a client's not yet matched part of a BatchSpawn.
type batchState struct {
	hash      uint64
	entries   []protocol.SpawnEntry
	started   time.Time
	nextRetry time.Time
}

func (b *batchState) remove(id models.EntityID) {
	b.entries = slices.DeleteFunc(b.entries, func(e protocol.SpawnEntry) bool { return e.ID == id })
}

// BeginLevelLoad starts the level-load protocol for the level identified by
// hash. The host begins watching its population, a client starts waiting for
// the host's batch. Calling it while a load is running restarts the load.
func (e *Engine) BeginLevelLoad(hash uint64, now time.Time) {
	if e.phase.Loading() || e.awaitingBatch || e.batch != nil {
		e.logger.Info("Restarting level load", log.Uint64("hash", hash))
	}
	e.Reset()
	e.levelHash = hash
	if e.out.IsHost() {
		e.phase = PhaseWaitingForPopulation
		e.loadStarted = now
		e.nextPoll = now
		e.lastCount = -1
		return
	}
	e.awaitingBatch = true
	e.awaitSince = now
}

// CancelLevelLoad aborts a running level load. Cancelling twice, or with no
// load running, does nothing.
func (e *Engine) CancelLevelLoad() {
	if !e.phase.Loading() && !e.awaitingBatch && e.batch == nil {
		return
	}
	e.logger.Info("Level load cancelled", log.String("phase", e.phase.String()))
	if e.phase.Loading() {
		e.phase = PhaseIdle
	}
	e.awaitingBatch = false
	e.batch = nil
}

// population counts the host's active non-player actors.
func (e *Engine) population() int {
	n := 0
	for _, a := range e.backend.ActiveActors() {
		if !a.Player {
			n++
		}
	}
	return n
}

// tickPopulation advances Idle -> WaitingForPopulation -> Stabilizing -> Done.
// The population must keep the same count for the stable window; the max
// wait bounds the whole load.
func (e *Engine) tickPopulation(now time.Time) {
	if !e.phase.Loading() || now.Before(e.nextPoll) {
		return
	}
	e.nextPoll = now.Add(e.cfg.PopulationPoll)
	count := e.population()

	switch e.phase {
	case PhaseWaitingForPopulation:
		if count > 0 {
			e.phase = PhaseStabilizing
			e.lastCount = count
			e.stableSince = now
			e.logger.Debug("Population appeared", log.Int("count", count))
		}
	case PhaseStabilizing:
		if count != e.lastCount {
			e.lastCount = count
			e.stableSince = now
		} else if now.Sub(e.stableSince) >= e.cfg.PopulationStableWindow {
			e.finishLoad(now, false)
			return
		}
	}
	if now.Sub(e.loadStarted) >= e.cfg.PopulationMaxWait {
		e.finishLoad(now, true)
	}
}

// finishLoad registers every remaining actor and broadcasts the batch.
func (e *Engine) finishLoad(now time.Time, timedOut bool) {
	for _, a := range e.backend.AllActors() {
		if a.Player || e.registry.IsRegistered(a.Handle) {
			continue
		}
		id, err := e.registry.AssignID(a.Handle)
		if err != nil {
			e.logger.Error("Cannot assign entity id", log.Uint32("handle", uint32(a.Handle)), log.Error(err))
			break
		}
		e.stats.Assigned++
		e.publishSpawned(id, a.Handle, a.Type, a.Position, bus.SpawnAssigned)
	}
	e.phase = PhaseDone

	msg := e.buildBatch()
	e.logger.Info("Level population settled",
		log.Int("entities", len(msg.Entries)),
		log.Bool("timed_out", timedOut),
		log.Duration("took", now.Sub(e.loadStarted)))
	if err := e.out.Broadcast(msg, protocol.Reliable); err != nil {
		e.logger.Warn("Cannot broadcast batch", log.Error(err))
	}
}

func (e *Engine) buildBatch() *protocol.BatchSpawn {
	msg := &protocol.BatchSpawn{Hash: e.levelHash}
	e.registry.Each(func(id models.EntityID, h models.Handle) {
		a, ok := e.backend.Actor(h)
		if !ok || !a.Alive {
			return
		}
		msg.Entries = append(msg.Entries, protocol.SpawnEntry{
			ID:       id,
			Kind:     a.Type,
			Position: a.Position,
			Health:   a.Health,
		})
	})
	return msg
}

// SendBatchTo brings a late joiner up to date with every registration. While
// a load is still settling the coming batch broadcast covers the peer.
func (e *Engine) SendBatchTo(peer models.PeerID) error {
	if !e.out.IsHost() || e.phase.Loading() {
		return nil
	}
	return e.out.SendTo(peer, e.buildBatch(), protocol.Reliable)
}

// HandleBatchSpawn matches a level's worth of entities on a client.
func (e *Engine) HandleBatchSpawn(_ models.PeerID, m *protocol.BatchSpawn) {
	if e.out.IsHost() {
		return
	}
	if e.levelHash != 0 && m.Hash != e.levelHash {
		e.logger.Warn("Ignoring batch for another level",
			log.Uint64("expected", e.levelHash),
			log.Uint64("got", m.Hash))
		return
	}
	now := e.clock()
	e.awaitingBatch = false

	entries := make([]protocol.SpawnEntry, 0, len(m.Entries))
	for _, entry := range m.Entries {
		if !entry.ID.Valid() {
			continue
		}
		if _, ok := e.registry.TryGetEntity(entry.ID); ok {
			continue
		}
		e.dropPending(entry.ID)
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b protocol.SpawnEntry) int { return int(a.ID) - int(b.ID) })

	e.batch = &batchState{
		hash:      m.Hash,
		entries:   entries,
		started:   now,
		nextRetry: now.Add(e.cfg.BatchRetryInterval),
	}
	matched := e.matchBatch(false)
	e.logger.Info("Batch received",
		log.Int("entries", len(m.Entries)),
		log.Int("matched", matched),
		log.Int("unmatched", len(e.batch.entries)))
	if len(e.batch.entries) == 0 {
		e.batch = nil
	}
}

func (e *Engine) tickBatch(now time.Time) {
	if e.awaitingBatch && now.Sub(e.awaitSince) >= e.cfg.BatchMaxDuration {
		e.awaitingBatch = false
		e.logger.Warn("No batch received for level", log.Uint64("hash", e.levelHash))
	}
	b := e.batch
	if b == nil {
		return
	}
	if now.Sub(b.started) >= e.cfg.BatchMaxDuration {
		e.matchBatch(false)
		if n := e.matchBatch(true); n > 0 {
			e.logger.Warn("Batch entries matched by type only", log.Int("count", n))
		}
		e.abandon(b.entries)
		e.batch = nil
		return
	}
	if now.Before(b.nextRetry) {
		return
	}
	b.nextRetry = now.Add(e.cfg.BatchRetryInterval)
	e.stats.Retries++
	e.matchBatch(false)
	if len(b.entries) == 0 {
		e.batch = nil
		e.logger.Info("Batch fully reconciled")
	}
}

// matchBatch binds as many unmatched entries as possible in one pass. Each
// local candidate can satisfy one entry at most. typeOnly ignores distance
// and may pick the wrong one of several same-type candidates.
func (e *Engine) matchBatch(typeOnly bool) int {
	b := e.batch
	candidates := e.unregisteredActors()
	var used bitmap.Bitmap
	left := make([]protocol.SpawnEntry, 0, len(b.entries))
	matched := 0

	radius := e.cfg.MatchRadius
	origin := bus.SpawnMatched
	if typeOnly {
		radius = float32(math.Inf(1))
		origin = bus.SpawnTypeOnly
	}

	for _, entry := range b.entries {
		if _, ok := e.registry.TryGetEntity(entry.ID); ok {
			continue
		}
		idx := nearestCandidate(candidates, &used, entry, radius)
		if idx < 0 || !e.bind(entry, candidates[idx].Handle, origin) {
			left = append(left, entry)
			continue
		}
		used.Set(uint32(idx))
		matched++
		if typeOnly {
			e.stats.TypeOnlyMatches++
		} else {
			e.stats.NaturalMatches++
		}
	}
	b.entries = left
	return matched
}

func (e *Engine) unregisteredActors() []sim.ActorInfo {
	all := e.backend.AllActors()
	out := make([]sim.ActorInfo, 0, len(all))
	for _, a := range all {
		if !a.Player && !e.registry.IsRegistered(a.Handle) {
			out = append(out, a)
		}
	}
	return out
}

func nearestCandidate(candidates []sim.ActorInfo, used *bitmap.Bitmap, entry protocol.SpawnEntry, r float32) int {
	best := -1
	bestDist := r * r
	for i, a := range candidates {
		if a.Type != entry.Kind || used.Contains(uint32(i)) {
			continue
		}
		if d := a.Position.DistanceSq(entry.Position); d <= bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// abandon gives up on entries with enough context to tell a missing actor
// from one that drifted too far.
func (e *Engine) abandon(entries []protocol.SpawnEntry) {
	if len(entries) == 0 {
		return
	}
	all := e.backend.AllActors()
	for _, entry := range entries {
		total, unregistered := 0, 0
		closest := float32(-1)
		for _, a := range all {
			if a.Player || a.Type != entry.Kind {
				continue
			}
			total++
			if e.registry.IsRegistered(a.Handle) {
				continue
			}
			unregistered++
			if d := a.Position.Distance(entry.Position); closest < 0 || d < closest {
				closest = d
			}
		}
		e.stats.Abandoned++
		e.logger.Warn("Abandoning unmatched batch entry",
			log.Uint16("id", uint16(entry.ID)),
			log.Uint16("type", uint16(entry.Kind)),
			log.Int("total_of_type", total),
			log.Int("unregistered_of_type", unregistered),
			log.Float32("closest_distance", closest))
	}
}

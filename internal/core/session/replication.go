package session

import (
	"time"

	"github.com/zeusync/coop/internal/core/interp"
	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/sim"
)

// broadcastState emits motion at the configured rates. The host sends every
// registered actor; everyone sends their own player.
func (s *Session) broadcastState(now time.Time) {
	if len(s.peers) == 0 {
		return
	}
	if s.IsHost() && !now.Before(s.nextActors) {
		s.nextActors = now.Add(s.cfg.actorPeriod())
		if !s.engine.Phase().Loading() {
			s.sendActorStates(now)
		}
	}
	if !now.Before(s.nextPlayer) {
		s.nextPlayer = now.Add(s.cfg.playerPeriod())
		s.sendPlayerState(now)
	}
}

func (s *Session) sendActorStates(now time.Time) {
	entries := make([]protocol.ActorStateEntry, 0, s.registry.Len())
	s.registry.Each(func(id models.EntityID, h models.Handle) {
		var st models.ActorState
		err := sim.Guard(func() (err error) {
			st, err = s.backend.ReadState(h)
			return err
		})
		if err != nil {
			s.logger.Debug("Cannot read actor state", log.Uint16("id", uint16(id)), log.Error(err))
			return
		}
		entries = append(entries, protocol.ActorStateEntry{ID: id, State: st})
	})

	for _, m := range protocol.ChunkActorStates(s.seconds(now), entries) {
		if err := s.router.Broadcast(m, protocol.Unreliable); err != nil {
			s.logger.Debug("Actor states not delivered everywhere", log.Error(err))
		}
		s.stats.ActorBroadcasts++
	}
}

func (s *Session) sendPlayerState(now time.Time) {
	m := &protocol.PlayerState{
		Peer:  s.LocalPeer(),
		Time:  s.seconds(now),
		State: s.backend.LocalPlayerState(),
	}
	var err error
	if s.IsHost() {
		err = s.router.Broadcast(m, protocol.Unreliable)
	} else {
		err = s.router.SendToHost(m, protocol.Unreliable)
	}
	if err != nil {
		s.logger.Debug("Player state not delivered", log.Error(err))
		return
	}
	s.stats.PlayerBroadcasts++
}

func (s *Session) handleActorStates(from models.PeerID, m *protocol.ActorStates) {
	if s.IsHost() || from != s.tr.HostPeer() {
		return
	}
	local := s.seconds(s.now)
	for _, e := range m.Entries {
		if _, ok := s.registry.TryGetEntity(e.ID); !ok {
			continue
		}
		s.actors.Insert(e.ID, interp.Snapshot{Time: m.Time, State: e.State}, local)
	}
}

func (s *Session) handlePlayerState(_ models.PeerID, m *protocol.PlayerState) {
	if m.Peer == s.LocalPeer() || m.Peer == models.InvalidPeer {
		return
	}
	s.players.Insert(m.Peer, interp.Snapshot{Time: m.Time, State: m.State}, s.seconds(s.now))
}

// sample writes interpolated states into puppets and remote players.
func (s *Session) sample(now time.Time) {
	local := s.seconds(now)

	var gone []models.EntityID
	s.actors.Each(local, func(id models.EntityID, st models.ActorState) {
		h, ok := s.registry.TryGetEntity(id)
		if !ok {
			gone = append(gone, id)
			return
		}
		if err := sim.Guard(func() error { return s.backend.WriteState(h, st) }); err != nil {
			s.logger.Debug("Cannot write actor state", log.Uint16("id", uint16(id)), log.Error(err))
		}
	})
	for _, id := range gone {
		s.actors.Remove(id)
	}

	s.players.Each(local, func(peer models.PeerID, st models.ActorState) {
		if err := sim.Guard(func() error { return s.backend.WritePlayerState(peer, st) }); err != nil {
			s.logger.Debug("Cannot write player state", log.Uint32("peer", uint32(peer)), log.Error(err))
		}
	})
}

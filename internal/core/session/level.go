package session

import (
	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
)

// StartLevel begins a level on the host. Per-level state is cleared on
// every peer and the host starts settling its population for the batch.
// The backend is expected to load the level right after.
func (s *Session) StartLevel(name string, seed uint32) error {
	if !s.IsHost() {
		return ErrNotHost
	}
	if s.closed {
		return ErrClosed
	}
	s.clearLevel()
	s.level, s.levelHash, s.seed = name, protocol.LevelHash(name), seed
	s.engine.BeginLevelLoad(s.levelHash, s.clock())
	for _, p := range s.peers {
		p.ready = false
	}

	s.logger.Info("Level started", log.String("level", name), log.Uint64("hash", s.levelHash))
	return s.router.Broadcast(s.levelStart(), protocol.Reliable)
}

// AbortLevel abandons the current level on the host. Ids assigned during
// the load are discarded with the rest of the level state; clients keep
// waiting until the next StartLevel resets them.
func (s *Session) AbortLevel() error {
	if !s.IsHost() {
		return ErrNotHost
	}
	if s.closed {
		return ErrClosed
	}
	if s.level == "" {
		return ErrNoLevel
	}
	s.engine.CancelLevelLoad()
	s.clearLevel()
	s.logger.Info("Level aborted", log.String("level", s.level))
	s.level, s.levelHash, s.seed = "", 0, 0
	return nil
}

// LevelLoaded tells the host that the local level finished loading.
func (s *Session) LevelLoaded() error {
	if s.IsHost() {
		return nil
	}
	if s.level == "" {
		return ErrNoLevel
	}
	return s.router.SendToHost(&protocol.LevelReady{Hash: s.levelHash}, protocol.Reliable)
}

// Ready lists peers that reported the current level as loaded.
func (s *Session) Ready() []models.PeerID {
	var out []models.PeerID
	for _, id := range s.Peers() {
		if s.peers[id].ready {
			out = append(out, id)
		}
	}
	return out
}

func (s *Session) levelStart() *protocol.LevelStart {
	return &protocol.LevelStart{Level: s.level, Hash: s.levelHash, Seed: s.seed}
}

// syncLateJoiner brings a freshly welcomed client into the running level.
func (s *Session) syncLateJoiner(peer models.PeerID) {
	if s.level == "" {
		return
	}
	if err := s.router.SendTo(peer, s.levelStart(), protocol.Reliable); err != nil {
		s.logger.Warn("Cannot send level to late joiner", log.Uint32("peer", uint32(peer)), log.Error(err))
		return
	}
	if err := s.engine.SendBatchTo(peer); err != nil {
		s.logger.Warn("Cannot send batch to late joiner", log.Uint32("peer", uint32(peer)), log.Error(err))
	}
}

func (s *Session) handleLevelStart(from models.PeerID, m *protocol.LevelStart) {
	if s.IsHost() || from != s.tr.HostPeer() {
		return
	}
	s.clearLevel()
	s.level, s.levelHash, s.seed = m.Level, m.Hash, m.Seed
	s.engine.BeginLevelLoad(m.Hash, s.now)
	s.logger.Info("Level started by host", log.String("level", m.Level), log.Uint64("hash", m.Hash))
}

func (s *Session) handleLevelReady(from models.PeerID, m *protocol.LevelReady) {
	if !s.IsHost() {
		return
	}
	p, ok := s.peers[from]
	if !ok {
		return
	}
	if m.Hash != s.levelHash {
		s.logger.Debug("Ready for another level", log.Uint32("peer", uint32(from)), log.Uint64("hash", m.Hash))
		return
	}
	p.ready = true
}

package session

import (
	"fmt"
	"time"

	"github.com/zeusync/coop/internal/core/events/bus"
	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
)

func (s *Session) handlePeerEvent(ev protocol.PeerEvent, now time.Time) {
	switch ev.Kind {
	case protocol.PeerConnected:
		if s.IsHost() {
			// The Hello may have been dispatched earlier in this tick.
			if p, ok := s.peers[ev.Peer]; ok {
				p.lastSeen = now
			} else {
				s.peers[ev.Peer] = &peerState{lastSeen: now}
			}
			return
		}
		if ev.Peer == s.tr.HostPeer() {
			s.hostState(now)
			s.sendHello()
		}
	case protocol.PeerDisconnected:
		if s.IsHost() {
			s.dropPeer(ev.Peer, ev.Reason)
			return
		}
		if ev.Peer == s.tr.HostPeer() {
			reason := ev.Reason
			if reason == nil {
				reason = protocol.ErrHostLeft
			}
			s.teardown(reason)
		}
	}
}

// hostState returns the client's record of the host link.
func (s *Session) hostState(now time.Time) *peerState {
	p, ok := s.peers[s.tr.HostPeer()]
	if !ok {
		p = &peerState{lastSeen: now}
		s.peers[s.tr.HostPeer()] = p
	}
	return p
}

func (s *Session) sendHello() {
	msg := &protocol.Hello{Fingerprint: protocol.Fingerprint(), Token: s.token, Name: s.cfg.Name}
	if err := s.router.SendToHost(msg, protocol.Reliable); err != nil {
		s.logger.Warn("Cannot send hello", log.Error(err))
	}
}

func (s *Session) handleHello(from models.PeerID, m *protocol.Hello) {
	if !s.IsHost() {
		return
	}
	p, ok := s.peers[from]
	if !ok {
		p = &peerState{lastSeen: s.now}
		s.peers[from] = p
	}

	if want := protocol.Fingerprint(); m.Fingerprint != want {
		s.stats.Rejected++
		s.logger.Warn("Rejecting peer with a different protocol",
			log.Uint32("from", uint32(from)),
			log.Uint64("fingerprint", m.Fingerprint),
			log.Uint64("expected", want))
		msg := &protocol.Disconnect{
			Code:   protocol.ErrorCodeFingerprintMismatch,
			Reason: fmt.Sprintf("%s: %016x != %016x", protocol.ErrFingerprintMismatch, m.Fingerprint, want),
		}
		if err := s.router.SendTo(from, msg, protocol.Reliable); err != nil {
			s.logger.Debug("Cannot send rejection", log.Error(err))
		}
		delete(s.peers, from)
		return
	}

	rejoin := p.welcomed
	p.name = m.Name
	p.welcomed = true

	others := make([]models.PeerID, 0, len(s.peers))
	for _, id := range s.Peers() {
		if id != from {
			others = append(others, id)
		}
	}
	welcome := &protocol.Welcome{Peer: from, Host: s.LocalPeer(), SessionID: s.id, Peers: others}
	if err := s.router.SendTo(from, welcome, protocol.Reliable); err != nil {
		s.logger.Warn("Cannot send welcome", log.Uint32("peer", uint32(from)), log.Error(err))
		return
	}
	s.logger.Info("Peer joined",
		log.Uint32("peer", uint32(from)),
		log.String("name", m.Name),
		log.Bool("rejoin", rejoin))

	if !rejoin {
		if err := s.router.BroadcastExcept(from, &protocol.PeerJoined{Peer: from, Name: m.Name}, protocol.Reliable); err != nil {
			s.logger.Debug("Peer join not announced everywhere", log.Error(err))
		}
		s.publish(bus.TypePeerJoined, bus.PeerJoined{Peer: from, Name: m.Name})
	}
	s.syncLateJoiner(from)
}

func (s *Session) handleWelcome(from models.PeerID, m *protocol.Welcome) {
	if s.IsHost() || from != s.tr.HostPeer() {
		return
	}
	if m.Peer != s.LocalPeer() {
		s.logger.Warn("Welcome addressed to another peer", log.Uint32("peer", uint32(m.Peer)))
	}
	if s.state == protocol.ConnectionStateConnected && s.id == m.SessionID {
		return
	}

	s.id = m.SessionID
	s.hostState(s.now).welcomed = true
	for _, id := range m.Peers {
		if id != s.LocalPeer() {
			s.peers[id] = &peerState{welcomed: true}
		}
	}
	s.logger.Info("Joined session", log.String("session", s.id), log.Int("peers", len(m.Peers)))
	s.setState(protocol.ConnectionStateConnected, "")
}

func (s *Session) handlePeerJoined(from models.PeerID, m *protocol.PeerJoined) {
	if s.IsHost() || m.Peer == s.LocalPeer() {
		return
	}
	s.peers[m.Peer] = &peerState{name: m.Name, welcomed: true}
	s.publish(bus.TypePeerJoined, bus.PeerJoined{Peer: m.Peer, Name: m.Name})
}

func (s *Session) handlePeerLeft(from models.PeerID, m *protocol.PeerLeft) {
	if s.IsHost() {
		return
	}
	delete(s.peers, m.Peer)
	s.players.Remove(m.Peer)
	s.publish(bus.TypePeerLeft, bus.PeerLeft{Peer: m.Peer, Reason: fmt.Sprintf("code %d", m.Code)})
}

// dropPeer forgets a client on the host and tells everyone else.
func (s *Session) dropPeer(peer models.PeerID, reason error) {
	p, ok := s.peers[peer]
	if !ok {
		return
	}
	delete(s.peers, peer)
	s.players.Remove(peer)

	text := "closed"
	if reason != nil {
		text = reason.Error()
	}
	s.logger.Info("Peer left", log.Uint32("peer", uint32(peer)), log.String("reason", text))
	if !p.welcomed {
		return
	}
	msg := &protocol.PeerLeft{Peer: peer, Code: protocol.GetErrorCode(reason)}
	if err := s.router.BroadcastExcept(peer, msg, protocol.Reliable); err != nil {
		s.logger.Debug("Peer leave not announced everywhere", log.Error(err))
	}
	s.publish(bus.TypePeerLeft, bus.PeerLeft{Peer: peer, Reason: text})
}

func (s *Session) handleDisconnect(from models.PeerID, m *protocol.Disconnect) {
	reason := protocol.NewProtocolError(m.Code, m.Reason, nil)
	if s.IsHost() {
		s.dropPeer(from, reason)
		return
	}
	if from == s.tr.HostPeer() {
		s.teardown(reason)
	}
}

func (s *Session) handleSessionEnd(from models.PeerID, m *protocol.SessionEnd) {
	if s.IsHost() || from != s.tr.HostPeer() {
		return
	}
	s.teardown(protocol.NewProtocolError(protocol.ErrorCodeSessionEnded, "session ended: "+m.Reason, nil))
}

// heartbeat sends the periodic keepalive and expires silent links.
func (s *Session) heartbeat(now time.Time) {
	if s.state == protocol.ConnectionStateDisconnected {
		return
	}

	deadline := now.Add(-s.cfg.HeartbeatTimeout)
	if s.IsHost() {
		for id, p := range s.peers {
			if p.lastSeen.Before(deadline) {
				s.stats.Timeouts++
				msg := &protocol.Disconnect{Code: protocol.ErrorCodeHeartbeatTimeout, Reason: protocol.ErrHeartbeatTimeout.Error()}
				if err := s.router.SendTo(id, msg, protocol.Reliable); err != nil {
					s.logger.Debug("Cannot notify timed out peer", log.Error(err))
				}
				s.dropPeer(id, protocol.ErrHeartbeatTimeout)
			}
		}
	} else if p, ok := s.peers[s.tr.HostPeer()]; ok && p.lastSeen.Before(deadline) {
		s.stats.Timeouts++
		s.teardown(protocol.ErrHeartbeatTimeout)
		return
	}

	if now.Before(s.nextHeartbeat) {
		return
	}
	s.nextHeartbeat = now.Add(s.cfg.HeartbeatInterval)
	s.heartbeatSeq++
	s.heartbeatAt = now
	msg := &protocol.Heartbeat{Seq: s.heartbeatSeq}

	var err error
	if s.IsHost() {
		if len(s.peers) == 0 {
			return
		}
		err = s.router.Broadcast(msg, protocol.Reliable)
	} else {
		if _, ok := s.peers[s.tr.HostPeer()]; !ok {
			return
		}
		err = s.router.SendToHost(msg, protocol.Reliable)
	}
	if err != nil {
		s.logger.Debug("Heartbeat not delivered", log.Error(err))
		return
	}
	s.stats.HeartbeatsSent++
}

func (s *Session) handleHeartbeat(from models.PeerID, m *protocol.Heartbeat) {
	if !m.Echo {
		reply := &protocol.Heartbeat{Seq: m.Seq, Echo: true}
		if err := s.router.SendTo(from, reply, protocol.Reliable); err != nil {
			s.logger.Debug("Cannot answer heartbeat", log.Error(err))
		}
		return
	}
	if p, ok := s.peers[from]; ok && m.Seq == s.heartbeatSeq {
		p.rtt = s.now.Sub(s.heartbeatAt)
	}
}

package protocol

import "github.com/zeusync/coop/internal/core/models"

// Hello opens a session from the client side.
type Hello struct {
	Fingerprint uint64
	// Token identifies the client across reconnects.
	Token string
	Name  string
}

func (*Hello) Type() MessageType { return TypeHello }

func (m *Hello) MarshalTo(w *Writer) {
	w.U64(m.Fingerprint)
	w.String(m.Token)
	w.String(m.Name)
}

func (m *Hello) UnmarshalFrom(r *Reader) {
	m.Fingerprint = r.U64()
	m.Token = r.String()
	m.Name = r.String()
}

// Welcome accepts a Hello. Peers lists everyone already in the session.
type Welcome struct {
	Peer      models.PeerID
	Host      models.PeerID
	SessionID string
	Peers     []models.PeerID
}

func (*Welcome) Type() MessageType { return TypeWelcome }

func (m *Welcome) MarshalTo(w *Writer) {
	w.Peer(m.Peer)
	w.Peer(m.Host)
	w.String(m.SessionID)
	w.Count(len(m.Peers))
	for _, p := range m.Peers {
		w.Peer(p)
	}
}

func (m *Welcome) UnmarshalFrom(r *Reader) {
	m.Peer = r.Peer()
	m.Host = r.Peer()
	m.SessionID = r.String()
	n := r.Count(4)
	if n == 0 {
		m.Peers = nil
		return
	}
	m.Peers = make([]models.PeerID, n)
	for i := range m.Peers {
		m.Peers[i] = r.Peer()
	}
}

// Heartbeat keeps a link alive. Echo is set on the reply.
type Heartbeat struct {
	Seq  uint32
	Echo bool
}

func (*Heartbeat) Type() MessageType { return TypeHeartbeat }

func (m *Heartbeat) MarshalTo(w *Writer) {
	w.U32(m.Seq)
	w.Bool(m.Echo)
}

func (m *Heartbeat) UnmarshalFrom(r *Reader) {
	m.Seq = r.U32()
	m.Echo = r.Bool()
}

// Disconnect announces that the sender is closing the link.
type Disconnect struct {
	Code   ErrorCode
	Reason string
}

func (*Disconnect) Type() MessageType { return TypeDisconnect }

func (m *Disconnect) MarshalTo(w *Writer) {
	w.U16(uint16(m.Code))
	w.String(m.Reason)
}

func (m *Disconnect) UnmarshalFrom(r *Reader) {
	m.Code = ErrorCode(r.U16())
	m.Reason = r.String()
}

type PeerJoined struct {
	Peer models.PeerID
	Name string
}

func (*PeerJoined) Type() MessageType { return TypePeerJoined }

func (m *PeerJoined) MarshalTo(w *Writer) {
	w.Peer(m.Peer)
	w.String(m.Name)
}

func (m *PeerJoined) UnmarshalFrom(r *Reader) {
	m.Peer = r.Peer()
	m.Name = r.String()
}

type PeerLeft struct {
	Peer models.PeerID
	Code ErrorCode
}

func (*PeerLeft) Type() MessageType { return TypePeerLeft }

func (m *PeerLeft) MarshalTo(w *Writer) {
	w.Peer(m.Peer)
	w.U16(uint16(m.Code))
}

func (m *PeerLeft) UnmarshalFrom(r *Reader) {
	m.Peer = r.Peer()
	m.Code = ErrorCode(r.U16())
}

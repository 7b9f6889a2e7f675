package protocol

import "github.com/zeusync/coop/internal/core/models"

// SessionEnd is sent by the host before it shuts the session down.
type SessionEnd struct {
	Reason string
}

func (*SessionEnd) Type() MessageType { return TypeSessionEnd }

func (m *SessionEnd) MarshalTo(w *Writer) { w.String(m.Reason) }

func (m *SessionEnd) UnmarshalFrom(r *Reader) { m.Reason = r.String() }

// DebugText is free-form text relayed to every participant.
type DebugText struct {
	From models.PeerID
	Text string
}

func (*DebugText) Type() MessageType { return TypeDebugText }

func (m *DebugText) MarshalTo(w *Writer) {
	w.Peer(m.From)
	w.String(m.Text)
}

func (m *DebugText) UnmarshalFrom(r *Reader) {
	m.From = r.Peer()
	m.Text = r.String()
}

func (m *DebugText) SetOrigin(p models.PeerID) { m.From = p }

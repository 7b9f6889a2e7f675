package quic

import (
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/coop/internal/core/protocol"
)

// link is the reliable stream plus the datagram channel of one connection.
type link struct {
	conn         *quic.Conn
	stream       *quic.Stream
	writeTimeout time.Duration
}

func (l *link) WriteFrame(frame []byte) error {
	if l.writeTimeout > 0 {
		_ = l.stream.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	_, err := l.stream.Write(frame)
	return err
}

// WriteDatagram fails when the peer did not negotiate datagrams or the
// payload exceeds the current path MTU; the caller then falls back to the
// stream.
func (l *link) WriteDatagram(data []byte) error {
	return l.conn.SendDatagram(data)
}

func (l *link) Close(code protocol.ErrorCode, reason string) error {
	_ = l.stream.Close()
	return l.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

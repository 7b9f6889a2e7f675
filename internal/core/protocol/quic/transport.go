package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
)

// Transport is a protocol.Transport over QUIC.
type Transport struct {
	*protocol.BaseTransport

	listener *quic.Listener
	conn     *quic.Conn // client side only

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

var _ protocol.Transport = (*Transport)(nil)

func quicConfig(cfg protocol.Config) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:       cfg.IdleTimeout,
		KeepAlivePeriod:      cfg.KeepAlive,
		HandshakeIdleTimeout: cfg.DialTimeout,
		EnableDatagrams:      true,
	}
}

func newTransport(cfg protocol.Config, logger log.Log) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &Transport{
		BaseTransport: protocol.NewBaseTransport(protocol.TransportQUIC, cfg, logger),
		ctx:           ctx,
		cancel:        cancel,
		group:         group,
	}
}

// Listen starts a host on cfg.ListenAddr.
func Listen(cfg protocol.Config, tlsConfig *tls.Config, logger log.Log) (*Transport, error) {
	t := newTransport(cfg, logger)
	t.SetIdentity(protocol.HostPeerID, protocol.HostPeerID)

	ln, err := quic.ListenAddr(cfg.ListenAddr, tlsConfig, quicConfig(cfg))
	if err != nil {
		t.cancel()
		return nil, pkgerrors.Wrap(err, "failed to start QUIC listener")
	}
	t.listener = ln
	t.Logger().Info("QUIC host listening", log.String("addr", ln.Addr().String()))

	t.group.Go(t.acceptLoop)
	return t, nil
}

// Addr is the bound listen address of a host.
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Dial connects to a host and completes the link handshake.
func Dial(ctx context.Context, addr string, cfg protocol.Config, tlsConfig *tls.Config, logger log.Log) (*Transport, error) {
	t := newTransport(cfg, logger)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, addr, tlsConfig, quicConfig(cfg))
	if err != nil {
		t.cancel()
		return nil, pkgerrors.Wrapf(err, "failed to dial %s", addr)
	}
	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		_ = conn.CloseWithError(0, "handshake failed")
		t.cancel()
		return nil, pkgerrors.Wrap(err, "failed to open QUIC stream")
	}

	l := &link{conn: conn, stream: stream, writeTimeout: cfg.WriteTimeout}
	framer := t.Framer()
	frame, err := framer.Pack(protocol.Preface())
	if err == nil {
		err = l.WriteFrame(frame)
	}
	r := bufio.NewReader(stream)
	var reply []byte
	if err == nil {
		_ = stream.SetReadDeadline(time.Now().Add(cfg.DialTimeout))
		reply, err = framer.ReadFrame(r)
		_ = stream.SetReadDeadline(time.Time{})
	}
	var local, host models.PeerID
	if err == nil {
		local, host, err = protocol.ParseAssignment(reply)
	}
	if err != nil {
		_ = conn.CloseWithError(quic.ApplicationErrorCode(protocol.ErrorCodeProtocolViolation), "handshake failed")
		t.cancel()
		return nil, pkgerrors.Wrap(err, "QUIC handshake")
	}

	t.conn = conn
	t.SetIdentity(local, host)
	t.Attach(host, l)
	t.Logger().Info("Joined QUIC host", log.String("addr", addr), log.Uint32("host", uint32(host)))

	t.group.Go(func() error { return t.readStream(host, l, r) })
	t.group.Go(func() error { return t.readDatagrams(host, conn) })
	return t, nil
}

func (t *Transport) acceptLoop() error {
	for {
		conn, err := t.listener.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil || t.IsClosed() {
				return nil
			}
			return pkgerrors.Wrap(err, "failed to accept QUIC connection")
		}
		t.group.Go(func() error {
			t.serve(conn)
			return nil
		})
	}
}

// serve runs the host side of one client connection until it closes.
func (t *Transport) serve(conn *quic.Conn) {
	logger := t.Logger().With(log.String("remote_addr", conn.RemoteAddr().String()))

	ctx, cancel := context.WithTimeout(t.ctx, t.Config().DialTimeout)
	stream, err := conn.AcceptStream(ctx)
	cancel()
	if err != nil {
		logger.Warn("Client opened no stream", log.Error(err))
		_ = conn.CloseWithError(quic.ApplicationErrorCode(protocol.ErrorCodeProtocolViolation), "no stream")
		return
	}

	l := &link{conn: conn, stream: stream, writeTimeout: t.Config().WriteTimeout}
	r := bufio.NewReader(stream)
	framer := t.Framer()

	_ = stream.SetReadDeadline(time.Now().Add(t.Config().DialTimeout))
	preface, err := framer.ReadFrame(r)
	_ = stream.SetReadDeadline(time.Time{})
	if err == nil {
		err = protocol.CheckPreface(preface)
	}
	if err != nil {
		logger.Warn("Rejected QUIC client", log.Error(err))
		_ = l.Close(protocol.ErrorCodeProtocolViolation, err.Error())
		return
	}

	peer := t.NextPeer()
	frame, err := framer.Pack(protocol.Assignment(peer, t.LocalPeer()))
	if err == nil {
		err = l.WriteFrame(frame)
	}
	if err != nil {
		logger.Warn("Cannot complete QUIC handshake", log.Error(err))
		_ = l.Close(protocol.ErrorCodeProtocolViolation, err.Error())
		return
	}

	t.Attach(peer, l)

	var g errgroup.Group
	g.Go(func() error { return t.readStream(peer, l, r) })
	g.Go(func() error { return t.readDatagrams(peer, conn) })
	_ = g.Wait()
}

func (t *Transport) readStream(peer models.PeerID, l *link, r *bufio.Reader) error {
	framer := t.Framer()
	for {
		payload, err := framer.ReadFrame(r)
		if err != nil {
			t.Detach(peer, closeReason(err))
			return nil
		}
		if err = t.DeliverReliable(t.ctx, peer, payload); err != nil {
			t.Detach(peer, nil)
			return nil
		}
	}
}

func (t *Transport) readDatagrams(peer models.PeerID, conn *quic.Conn) error {
	for {
		data, err := conn.ReceiveDatagram(t.ctx)
		if err != nil {
			return nil
		}
		t.DeliverUnreliable(peer, data)
	}
}

// closeReason maps a read failure to a leave reason. A graceful close by
// the remote application is not an error.
func closeReason(err error) error {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == 0 {
		return nil
	}
	var idle *quic.IdleTimeoutError
	if errors.As(err, &idle) {
		return protocol.ErrHeartbeatTimeout
	}
	return err
}

// Close detaches every peer and stops the socket goroutines.
func (t *Transport) Close() error {
	if t.IsClosed() {
		return nil
	}
	t.Shutdown()
	t.cancel()
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	if gerr := t.group.Wait(); err == nil {
		err = gerr
	}
	t.Logger().Info("QUIC transport closed")
	return err
}

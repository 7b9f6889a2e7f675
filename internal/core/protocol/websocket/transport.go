// Package websocket runs the session transport over WebSocket for networks
// where UDP is blocked. It has no datagram channel, so unreliable frames
// travel on the same ordered connection as reliable ones.
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/coop/internal/core/models"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
)

// Transport is a protocol.Transport over WebSocket.
type Transport struct {
	*protocol.BaseTransport

	upgrader websocket.Upgrader
	server   *http.Server
	addr     net.Addr

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

var _ protocol.Transport = (*Transport)(nil)

func newTransport(cfg protocol.Config, logger log.Log) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &Transport{
		BaseTransport: protocol.NewBaseTransport(protocol.TransportWebSocket, cfg, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		group:  group,
	}
}

// Listen starts a host serving cfg.Path on cfg.ListenAddr.
func Listen(cfg protocol.Config, logger log.Log) (*Transport, error) {
	t := newTransport(cfg, logger)
	t.SetIdentity(protocol.HostPeerID, protocol.HostPeerID)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		t.cancel()
		return nil, pkgerrors.Wrap(err, "failed to listen for WebSocket clients")
	}
	t.addr = ln.Addr()

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, t.handleUpgrade)
	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: cfg.DialTimeout,
	}

	t.group.Go(func() error {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return pkgerrors.Wrap(err, "WebSocket server stopped")
		}
		return nil
	})
	t.Logger().Info("WebSocket host listening", log.String("addr", t.addr.String()), log.String("path", cfg.Path))
	return t, nil
}

// Addr is the bound listen address of a host.
func (t *Transport) Addr() net.Addr { return t.addr }

// Dial connects to ws://addr<cfg.Path> and completes the link handshake.
func Dial(ctx context.Context, addr string, cfg protocol.Config, logger log.Log) (*Transport, error) {
	t := newTransport(cfg, logger)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	u := url.URL{Scheme: "ws", Host: addr, Path: cfg.Path}
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		t.cancel()
		return nil, pkgerrors.Wrapf(err, "failed to dial %s", u.String())
	}
	l := newLink(conn, cfg)

	framer := t.Framer()
	frame, err := framer.Pack(protocol.Preface())
	if err == nil {
		err = l.WriteFrame(frame)
	}
	var reply []byte
	if err == nil {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.DialTimeout))
		reply, err = l.readFrame(framer)
	}
	var local, host models.PeerID
	if err == nil {
		local, host, err = protocol.ParseAssignment(reply)
	}
	if err != nil {
		_ = l.Close(protocol.ErrorCodeProtocolViolation, "handshake failed")
		t.cancel()
		return nil, pkgerrors.Wrap(err, "WebSocket handshake")
	}

	t.SetIdentity(local, host)
	t.Attach(host, l)
	t.Logger().Info("Joined WebSocket host", log.String("url", u.String()), log.Uint32("host", uint32(host)))

	t.group.Go(func() error {
		t.readLoop(host, l)
		return nil
	})
	t.group.Go(func() error {
		t.pingLoop(host, l)
		return nil
	})
	return t, nil
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if t.IsClosed() {
		http.Error(w, "closing", http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.Logger().Warn("WebSocket upgrade failed", log.Error(err))
		return
	}
	cfg := t.Config()
	l := newLink(conn, cfg)
	framer := t.Framer()

	_ = conn.SetReadDeadline(time.Now().Add(cfg.DialTimeout))
	preface, err := l.readFrame(framer)
	if err == nil {
		err = protocol.CheckPreface(preface)
	}
	if err != nil {
		t.Logger().Warn("Rejected WebSocket client", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		_ = l.Close(protocol.ErrorCodeProtocolViolation, err.Error())
		return
	}

	peer := t.NextPeer()
	frame, err := framer.Pack(protocol.Assignment(peer, t.LocalPeer()))
	if err == nil {
		err = l.WriteFrame(frame)
	}
	if err != nil {
		_ = l.Close(protocol.ErrorCodeProtocolViolation, err.Error())
		return
	}

	t.Attach(peer, l)
	done := make(chan struct{})
	go func() {
		t.pingLoop(peer, l)
		close(done)
	}()
	t.readLoop(peer, l)
	<-done
}

func (t *Transport) readLoop(peer models.PeerID, l *link) {
	framer := t.Framer()
	idle := t.Config().IdleTimeout
	l.conn.SetPongHandler(func(string) error {
		if idle > 0 {
			return l.conn.SetReadDeadline(time.Now().Add(idle))
		}
		return nil
	})
	for {
		if idle > 0 {
			_ = l.conn.SetReadDeadline(time.Now().Add(idle))
		}
		payload, err := l.readFrame(framer)
		if err != nil {
			t.Detach(peer, closeReason(err))
			l.stop()
			return
		}
		if err = t.DeliverReliable(t.ctx, peer, payload); err != nil {
			t.Detach(peer, nil)
			l.stop()
			return
		}
	}
}

func (t *Transport) pingLoop(peer models.PeerID, l *link) {
	interval := t.Config().KeepAlive
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				t.Logger().Debug("Ping failed", log.Uint32("peer", uint32(peer)), log.Error(err))
				return
			}
		case <-l.done:
			return
		case <-t.ctx.Done():
			return
		}
	}
}

func closeReason(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return protocol.ErrHeartbeatTimeout
	}
	return err
}

// Close detaches every peer, stops the server and waits for its goroutines.
func (t *Transport) Close() error {
	if t.IsClosed() {
		return nil
	}
	t.Shutdown()
	t.cancel()
	var err error
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = t.server.Shutdown(ctx)
		cancel()
	}
	if gerr := t.group.Wait(); err == nil {
		err = gerr
	}
	t.Logger().Info("WebSocket transport closed")
	return err
}

// maxCloseReason keeps the close frame within the 125-byte control limit.
const maxCloseReason = 120

// link is one WebSocket connection. gorilla allows one concurrent writer,
// so data writes are serialized; control frames are safe concurrently.
type link struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

func newLink(conn *websocket.Conn, cfg protocol.Config) *link {
	conn.SetReadLimit(int64(cfg.MaxFrameSize) + 5)
	return &link{conn: conn, writeTimeout: cfg.WriteTimeout, done: make(chan struct{})}
}

func (l *link) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *link) readFrame(f protocol.Framer) ([]byte, error) {
	for {
		kind, data, err := l.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		return f.Unpack(data)
	}
}

func (l *link) WriteFrame(frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.writeTimeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	return l.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (l *link) WriteDatagram([]byte) error { return protocol.ErrNoDatagrams }

func (l *link) Close(code protocol.ErrorCode, reason string) error {
	l.stop()
	status := websocket.CloseNormalClosure
	if code != protocol.ErrorCodeNone {
		status = websocket.ClosePolicyViolation
	}
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	msg := websocket.FormatCloseMessage(status, reason)
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return l.conn.Close()
}

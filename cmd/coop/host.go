package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/zeusync/coop/internal/config"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/protocol/quic"
	"github.com/zeusync/coop/internal/core/protocol/websocket"
)

var errMemoryTransport = errors.New("the memory transport only works inside one process")

// listener is a hosting transport that knows its bound address.
type listener interface {
	protocol.Transport
	Addr() net.Addr
}

func newHostCmd(opts *rootOptions) *cobra.Command {
	var (
		listen    string
		transport string
		level     string
	)
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Start a session and accept players",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			transportFlag(&cfg, transport)
			if listen != "" {
				cfg.Transport.ListenAddr = listen
			}
			if level != "" {
				cfg.Level = level
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runHost(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "address to listen on (overrides transport.listen_addr)")
	cmd.Flags().StringVarP(&transport, "transport", "t", "", "quic or websocket")
	cmd.Flags().StringVar(&level, "level", "", "level to start once listening")
	return cmd
}

func listenTransport(cfg config.Config, logger log.Log) (listener, error) {
	switch cfg.Transport.Kind {
	case protocol.TransportQUIC:
		tlsConfig, err := quic.GenerateSelfSignedTLS()
		if err != nil {
			return nil, err
		}
		return quic.Listen(cfg.Transport, tlsConfig, logger)
	case protocol.TransportWebSocket:
		return websocket.Listen(cfg.Transport, logger)
	default:
		return nil, fmt.Errorf("host: %w", errMemoryTransport)
	}
}

func runHost(ctx context.Context, cfg config.Config) error {
	bootLogger, err := log.New(cfg.Log)
	if err != nil {
		return err
	}
	tr, err := listenTransport(cfg, bootLogger)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	bootLogger.Info("Hosting",
		log.String("transport", string(cfg.Transport.Kind)),
		log.String("addr", tr.Addr().String()))

	p, err := newPeer(cfg, tr)
	if err != nil {
		_ = tr.Close()
		return err
	}
	defer p.cleanup()

	if err = p.app.Session.StartLevel(cfg.Level, cfg.Seed); err != nil {
		return err
	}
	p.demo.load(cfg.Level, cfg.Seed)
	return p.run(ctx)
}

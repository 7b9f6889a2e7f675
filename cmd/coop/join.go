package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeusync/coop/internal/config"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/protocol/quic"
	"github.com/zeusync/coop/internal/core/protocol/websocket"
)

var errNoAddr = errors.New("join: --addr is required")

func newJoinCmd(opts *rootOptions) *cobra.Command {
	var (
		addr      string
		transport string
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Connect to a running host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				return errNoAddr
			}
			cfg := opts.cfg
			transportFlag(&cfg, transport)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runJoin(cmd.Context(), cfg, addr)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "host address, host:port for quic or a ws:// URL")
	cmd.Flags().StringVarP(&transport, "transport", "t", "", "quic or websocket")
	return cmd
}

func dialTransport(ctx context.Context, cfg config.Config, addr string, logger log.Log) (protocol.Transport, error) {
	switch cfg.Transport.Kind {
	case protocol.TransportQUIC:
		return quic.Dial(ctx, addr, cfg.Transport, quic.ClientTLS(), logger)
	case protocol.TransportWebSocket:
		return websocket.Dial(ctx, addr, cfg.Transport, logger)
	default:
		return nil, fmt.Errorf("join: %w", errMemoryTransport)
	}
}

func runJoin(ctx context.Context, cfg config.Config, addr string) error {
	bootLogger, err := log.New(cfg.Log)
	if err != nil {
		return err
	}
	tr, err := dialTransport(ctx, cfg, addr, bootLogger)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	bootLogger.Info("Connected", log.String("addr", addr), log.Uint32("peer", uint32(tr.LocalPeer())))

	p, err := newPeer(cfg, tr)
	if err != nil {
		_ = tr.Close()
		return err
	}
	defer p.cleanup()
	return p.run(ctx)
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/coop/internal/config"
	"github.com/zeusync/coop/internal/core/events/bus"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/session"
	"github.com/zeusync/coop/internal/injector"
)

const statsInterval = 10 * time.Second

var errSessionLost = errors.New("session lost")

// peer runs one session against the demo world.
type peer struct {
	cfg     config.Config
	app     *injector.App
	demo    *demoWorld
	cleanup func()
	logger  log.Log

	stats atomic.Pointer[session.Stats]
	lost  atomic.Pointer[string]
}

func newPeer(cfg config.Config, tr protocol.Transport) (*peer, error) {
	demo := newDemoWorld(tr.LocalPeer())
	app, cleanup, err := injector.InitializeApp(cfg, demo.world, tr)
	if err != nil {
		return nil, err
	}
	p := &peer{
		cfg:     cfg,
		app:     app,
		demo:    demo,
		cleanup: cleanup,
		logger:  app.Logger.Named("coop"),
	}
	_, err = bus.On(app.Events, bus.TypeConnectionState, func(e bus.ConnectionState) {
		if e.State == protocol.ConnectionStateDisconnected {
			reason := e.Reason
			p.lost.Store(&reason)
		}
	})
	if err != nil {
		cleanup()
		return nil, err
	}
	return p, nil
}

// run drives the session until ctx ends or the session is lost.
func (p *peer) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	lines := make(chan string, 16)
	go readLines(os.Stdin, lines)

	g.Go(func() error { return p.tickLoop(ctx, lines) })
	g.Go(func() error { return p.reportLoop(ctx) })
	return g.Wait()
}

func (p *peer) tickLoop(ctx context.Context, lines <-chan string) error {
	s := p.app.Session
	period := time.Duration(float64(time.Second) / p.cfg.TickRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return s.Close("shutdown")
		case line := <-lines:
			if err := s.SendDebug(line); err != nil {
				p.logger.Warn("Debug text not sent", log.Error(err))
			}
		case now := <-ticker.C:
			p.demo.step(float32(now.Sub(last).Seconds()))
			last = now
			s.Tick(now)

			if !s.IsHost() {
				if name, _ := s.Level(); name != "" && name != p.demo.level {
					p.demo.load(name, 0)
					if err := s.LevelLoaded(); err != nil {
						p.logger.Warn("Level ready not sent", log.Error(err))
					}
				}
			}
			st := s.Stats()
			p.stats.Store(&st)

			if reason := p.lost.Load(); reason != nil {
				_ = s.Close(*reason)
				return fmt.Errorf("%w: %s", errSessionLost, *reason)
			}
		}
	}
}

func (p *peer) reportLoop(ctx context.Context) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := p.stats.Load()
			if st == nil {
				continue
			}
			p.logger.Info("Session stats",
				log.Uint64("ticks", st.Ticks),
				log.Uint64("packets_in", st.PacketsIn),
				log.Uint64("actor_broadcasts", st.ActorBroadcasts),
				log.Uint64("player_broadcasts", st.PlayerBroadcasts),
				log.Uint64("timeouts", st.Timeouts))
		}
	}
}

// readLines forwards non-empty stdin lines. It exits at EOF.
func readLines(f *os.File, out chan<- string) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out <- line
		}
	}
}

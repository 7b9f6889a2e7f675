package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/coop/internal/config"
	"github.com/zeusync/coop/internal/core/events/bus"
	"github.com/zeusync/coop/internal/core/observability/log"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/session"
	"github.com/zeusync/coop/internal/core/sim"
)

// App is everything a running peer needs besides its transport loop.
type App struct {
	Logger  *log.Logger
	Events  bus.EventBus
	Session *session.Session
}

var ProviderSet = wire.NewSet(
	wire.FieldsOf(new(config.Config), "Log", "Session"),
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideEventBus,
	ProvideSession,
	wire.Struct(new(App), "*"),
)

// ProvideLogger builds the process logger. The cleanup flushes it.
func ProvideLogger(cfg log.Config) (*log.Logger, func(), error) {
	logger, err := log.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideEventBus returns a bus that mirrors every event to the debug log.
func ProvideEventBus(logger log.Log) bus.EventBus {
	events := bus.New()
	events.AddObserver(bus.NewLogObserver(logger))
	return events
}

func ProvideSession(
	cfg session.Config,
	backend sim.Backend,
	tr protocol.Transport,
	events bus.EventBus,
	logger log.Log,
) (*session.Session, error) {
	return session.New(cfg, backend, tr, events, logger)
}

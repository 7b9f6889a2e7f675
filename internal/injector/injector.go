//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/coop/internal/config"
	"github.com/zeusync/coop/internal/core/protocol"
	"github.com/zeusync/coop/internal/core/sim"
)

func InitializeApp(cfg config.Config, backend sim.Backend, tr protocol.Transport) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}

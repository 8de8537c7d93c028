//go:build wireinject
// +build wireinject

package di

import (
	"CryptoDaily/pkg/config"
	"CryptoDaily/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideMongoClient,
		ProvideCache,
		ProvideBarSinks,

		// Repositories and upstream
		ProvideAssetRepository,
		ProvideSyncState,
		ProvideMarketClient,

		// Use cases
		ProvideDaylineSync,
		ProvideScheduler,

		// Transport
		ProvideStatusHandler,
		ProvideHTTPServer,

		// Application server
		server.New,
	)
	return nil, nil, nil
}

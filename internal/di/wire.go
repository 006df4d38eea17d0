//go:build wireinject
// +build wireinject

package di

import (
	"StockPulse/pkg/config"
	"StockPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,
		ProvideLocation,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideRedisCache,
		ProvideCache,

		// Repositories
		ProvideStateStore,
		ProvideBarStore,
		ProvideTradeStore,
		ProvideTradeSink,

		// Execution and engine
		ProvideBrokerAdapter,
		ProvideExecutionAdapter,
		ProvideTradeJournal,
		ProvideScheduler,

		// Use cases
		ProvideTrader,
		ProvideBarProcessor,
		ProvideBarCollector,
		ProvideKafkaConsumer,
		ProvideKafkaBarsHandler,
		ProvideJobPublisher,
		ProvideOptimizeService,
		ProvideBarsUseCase,

		// HTTP
		ProvideTraderHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}

//go:build wireinject
// +build wireinject

package di

import (
	"MTFTrader/pkg/config"
	"MTFTrader/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideHTTPMetrics,
		ProvideRedis,
		ProvideCache,
		ProvideClickHouse,

		// Repositories
		ProvideCandleStore,
		ProvideStores,
		ProvideStatusCache,
		ProvideEventPublisher,
		ProvideDispatcher,

		// Domain services
		ProvideTimeframes,
		ProvideWeights,
		ProvideSignalParams,
		ProvideHistoryFetcher,
		ProvidePredictor,
		ProvideTrainer,
		ProvidePrecomputeBuilder,
		ProvideBacktestRunner,
		ProvideOptimizer,
		ProvideQuoteCache,

		// Use cases
		ProvideProfiles,
		ProvideBotManager,
		ProvideCandleSync,
		ProvideMarketService,
		ProvideJobRunner,
		ProvideQuoteCollector,
		ProvideKafkaConsumer,

		// Application server
		ProvideRoutes,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}

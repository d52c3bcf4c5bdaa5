//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"GateKeeper/pkg/config"
	"GateKeeper/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideOwner,
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideMetrics,
	ProvideCache,
	ProvidePostgres,
	ProvideClickHouseClient,
)

var guardSet = wire.NewSet(
	ProvideNotifier,
	ProvideLockStore,
	ProvideLockManager,
	ProvideGateStore,
	ProvideAnalyzer,
	ProvideGate,
	ProvideAttemptLog,
	ProvideThrottle,
	ProvideOrderBroker,
	ProvideOrderGuard,
	ProvideRegimes,
	ProvideDetector,
	ProvideCycleRunner,
)

var feedSet = wire.NewSet(
	ProvidePipeline,
	ProvideSnapshotCollector,
	ProvideKafkaConsumer,
	ProvideKafkaSnapshotHandler,
	ProvideScheduler,
)

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,
		guardSet,
		feedSet,
		ProvideAdminHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}

//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"TrustGate/internal/usecase"
	"TrustGate/pkg/config"
	"TrustGate/pkg/server"
)

// InitializeApp wires up all dependencies for one run mode.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config, mode usecase.Mode) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideClickHouseClient,
		ProvideCache,

		// Repositories
		ProvideRecorder,
		ProvideSnapshotStore,
		ProvideSummaryWriter,

		// Sources
		ProvideKafkaEventsHandler,
		ProvideKafkaConsumer,
		ProvideSources,

		// Gate
		ProvideGatePipeline,
		ProvideEventQueue,
		ProvideRunStats,
		ProvideTransitionLog,
		ProvideGateRunner,

		// Application server
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}

//go:build wireinject
// +build wireinject

package di

import (
	"PerpCast/pkg/config"
	"PerpCast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvideHorizons,

		// Market feed and feature pipeline
		ProvideSnapshotSource,
		ProvideHistory,
		ProvideFeatureEngine,
		ProvidePredictors,
		ProvideEnsemble,
		ProvideResolver,

		// Sinks and publishers
		ProvideRecordSink,
		ProvideClickHouseClient,
		ProvideMirrors,
		ProvideKafkaProducer,
		ProvidePublisher,
		ProvideCache,

		// Loop and surface
		ProvideScheduler,
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}

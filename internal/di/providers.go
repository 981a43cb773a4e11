package di

import (
	"context"
	"fmt"
	"time"

	"PerpCast/internal/domain/models"
	"PerpCast/internal/domain/repository"
	domsvc "PerpCast/internal/domain/service"
	"PerpCast/internal/handler/api"
	internalrepo "PerpCast/internal/repository"
	"PerpCast/internal/service/hyperliquid"
	"PerpCast/internal/services/features"
	"PerpCast/internal/services/predictors"
	"PerpCast/internal/usecase"
	"PerpCast/pkg/cache"
	pkgch "PerpCast/pkg/clickhouse"
	"PerpCast/pkg/config"
	xhttp "PerpCast/pkg/http"
	pkgkafka "PerpCast/pkg/kafka"
	applogger "PerpCast/pkg/logger"
	"PerpCast/pkg/metrics"
	"PerpCast/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideHorizons converts configured durations to prediction horizons.
func ProvideHorizons(cfg *config.Config) []models.Horizon {
	hs := make([]models.Horizon, 0, len(cfg.Engine.Horizons))
	for _, d := range cfg.Engine.Horizons {
		hs = append(hs, models.Horizon(d))
	}
	return hs
}

// ProvideSnapshotSource creates the Hyperliquid market feed.
func ProvideSnapshotSource(cfg *config.Config, logger *applogger.Logger) repository.SnapshotSource {
	return hyperliquid.New(
		cfg.Market.WebSocketURL,
		cfg.Market.Coin,
		cfg.Market.ReconnectDelay,
		cfg.Market.PingInterval,
		logger,
		hyperliquid.WithStaleAfter(cfg.Market.StaleAfter),
		hyperliquid.WithOFIHalfLife(cfg.Market.OFIHalfLife),
		hyperliquid.WithDepthLevels(cfg.Market.DepthLevels),
	)
}

// ProvideHistory creates the snapshot ring buffer. Capacity covers the long
// volatility window with headroom for feature lags.
func ProvideHistory(cfg *config.Config) *features.History {
	capacity := 4 * cfg.Engine.MinHistory
	if capacity < 256 {
		capacity = 256
	}
	return features.NewHistory(capacity)
}

// ProvideFeatureEngine creates the feature extractor.
func ProvideFeatureEngine(cfg *config.Config) *features.Engine {
	return features.NewEngine(
		features.WithMinHistory(cfg.Engine.MinHistory),
	)
}

// ProvidePredictors creates the model set in recorded column order.
func ProvidePredictors(cfg *config.Config, horizons []models.Horizon) []domsvc.Predictor {
	return []domsvc.Predictor{
		predictors.NewHCQR(horizons, cfg.Engine.Cadence),
		predictors.NewLVP(horizons, cfg.Engine.Cadence),
		predictors.NewRRF(horizons, cfg.Engine.Cadence),
	}
}

// ProvideEnsemble creates the blender with configured weights.
func ProvideEnsemble(cfg *config.Config) *usecase.Ensemble {
	return usecase.NewEnsemble(
		usecase.WithWeights(map[string]float64{
			predictors.NameHCQR: cfg.Engine.Weights.HCQR,
			predictors.NameLVP:  cfg.Engine.Weights.LVP,
			predictors.NameRRF:  cfg.Engine.Weights.RRF,
		}),
		usecase.WithCalibrationShrink(cfg.Engine.CalibrationShrink),
	)
}

// ProvideResolver creates the outcome resolver.
func ProvideResolver(cfg *config.Config, horizons []models.Horizon, m repository.Metrics, logger *applogger.Logger) *usecase.Resolver {
	return usecase.NewResolver(horizons, cfg.Engine.Grace, m, logger)
}

// ProvideRecordSink opens the durable CSV record.
func ProvideRecordSink(cfg *config.Config, preds []domsvc.Predictor, horizons []models.Horizon) (repository.RecordSink, error) {
	sink, err := internalrepo.NewCSVRecordStore(cfg.Record.Path, modelNames(preds), horizons)
	if err != nil {
		return nil, fmt.Errorf("record sink: %w", err)
	}
	return sink, nil
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the
// prediction table exists. Returns nil when the mirror is disabled.
func ProvideClickHouseClient(cfg *config.Config, preds []domsvc.Predictor, horizons []models.Horizon) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	table := cfg.ClickHouse.Database + "." + cfg.ClickHouse.Table
	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
		internalrepo.RecordSchemaDDL(table, modelNames(preds), horizons),
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideMirrors creates the analytical mirror sinks.
func ProvideMirrors(chClient *pkgch.Client, cfg *config.Config, preds []domsvc.Predictor, horizons []models.Horizon) []repository.RecordSink {
	if chClient == nil {
		return nil
	}
	table := cfg.ClickHouse.Database + "." + cfg.ClickHouse.Table
	return []repository.RecordSink{
		internalrepo.NewClickHouseRecordStore(chClient.DB(), table, modelNames(preds), horizons),
	}
}

// ProvideKafkaProducer creates a Kafka producer, nil when disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher creates the signal publisher, nil when Kafka is disabled.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config, horizons []models.Horizon) repository.SignalPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaSignalPublisher(producer, cfg.Kafka.Topic, cfg.Market.Coin, horizons)
}

// ProvideCache creates the latest-signal cache: Redis when enabled, else an
// in-process cache so the API works without external infrastructure.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
}

// ProvideScheduler assembles the tick loop.
func ProvideScheduler(
	cfg *config.Config,
	source repository.SnapshotSource,
	engine *features.Engine,
	history *features.History,
	preds []domsvc.Predictor,
	ensemble *usecase.Ensemble,
	resolver *usecase.Resolver,
	record repository.RecordSink,
	mirrors []repository.RecordSink,
	publisher repository.SignalPublisher,
	cacheSvc cache.Service,
	m repository.Metrics,
	logger *applogger.Logger,
	horizons []models.Horizon,
) (*usecase.TickScheduler, error) {
	return usecase.NewTickScheduler(usecase.SchedulerParams{
		Source:       source,
		Engine:       engine,
		History:      history,
		Predictors:   preds,
		Ensemble:     ensemble,
		Resolver:     resolver,
		Record:       record,
		Mirrors:      mirrors,
		Publisher:    publisher,
		Cache:        cacheSvc,
		Metrics:      m,
		Logger:       logger,
		Horizons:     horizons,
		Cadence:      cfg.Engine.Cadence,
		ModelTimeout: cfg.Engine.ModelTimeout,
		WriteRetries: cfg.Record.WriteRetries,
		WriteBackoff: cfg.Record.WriteBackoff,
	})
}

// ProvideHTTPHandler creates the Echo route handler.
func ProvideHTTPHandler(logger *applogger.Logger, cacheSvc cache.Service, scheduler *usecase.TickScheduler) xhttp.Handler {
	return api.NewSignalsEchoHandler(logger, cacheSvc, scheduler)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	logger *applogger.Logger,
	source repository.SnapshotSource,
	scheduler *usecase.TickScheduler,
	handler xhttp.Handler,
	chClient *pkgch.Client,
	cacheSvc cache.Service,
	record repository.RecordSink,
	publisher repository.SignalPublisher,
) *server.App {
	return server.New(cfg, logger, source, scheduler, handler, chClient, cacheSvc, record, publisher)
}

func modelNames(preds []domsvc.Predictor) []string {
	names := make([]string, len(preds))
	for i, p := range preds {
		names[i] = p.Name()
	}
	return names
}

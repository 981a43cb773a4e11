package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	domrepo "PerpCast/internal/domain/repository"
	"PerpCast/internal/usecase"
	"PerpCast/pkg/cache"
	pkgch "PerpCast/pkg/clickhouse"
	"PerpCast/pkg/config"
	xhttp "PerpCast/pkg/http"
	applogger "PerpCast/pkg/logger"
)

// App encapsulates the entire application lifecycle: the market feed, the
// tick scheduler, the HTTP surface, and ordered shutdown of the sinks.
type App struct {
	cfg       *config.Config
	logger    *applogger.Logger
	source    domrepo.SnapshotSource
	scheduler *usecase.TickScheduler
	handler   xhttp.Handler

	httpServer *xhttp.Server

	// Optional infrastructure; nil when disabled in config.
	chClient  *pkgch.Client
	cacheSvc  cache.Service
	record    domrepo.RecordSink
	publisher domrepo.SignalPublisher
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	source domrepo.SnapshotSource,
	scheduler *usecase.TickScheduler,
	handler xhttp.Handler,
	chClient *pkgch.Client,
	cacheSvc cache.Service,
	record domrepo.RecordSink,
	publisher domrepo.SignalPublisher,
) *App {
	return &App{
		cfg:       cfg,
		logger:    logger,
		source:    source,
		scheduler: scheduler,
		handler:   handler,
		chClient:  chClient,
		cacheSvc:  cacheSvc,
		record:    record,
		publisher: publisher,
	}
}

// Run starts the application and blocks until interrupted or until the
// scheduler halts on an unwritable record.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.source.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("market feed started",
		applogger.String("coin", a.cfg.Market.Coin),
		applogger.String("url", a.cfg.Market.WebSocketURL))

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- a.scheduler.Run(ctx)
	}()

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetrics(a.cfg.Metrics.Enabled, a.cfg.Metrics.Path),
	)
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	schedDone := false
	select {
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received", applogger.String("signal", sig.String()))
	case err := <-schedErr:
		// Scheduler only returns early on a fatal record failure.
		runErr = err
		schedDone = true
	}

	cancel()
	a.shutdown(schedErr, schedDone)
	return runErr
}

// shutdown stops the components in dependency order: feed first so no new
// ticks form, then the scheduler drains, then the sinks close.
func (a *App) shutdown(schedErr chan error, schedDone bool) {
	if err := a.source.Close(); err != nil {
		a.logger.Warn("market feed close error", applogger.Error(err))
	}

	// Wait for the scheduler to flush pending rows.
	if !schedDone {
		select {
		case err := <-schedErr:
			if err != nil {
				a.logger.Warn("scheduler stopped with error", applogger.Error(err))
			}
		case <-time.After(a.cfg.Server.ShutdownTimeout):
			a.logger.Warn("scheduler drain timed out")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close error", applogger.Error(err))
		}
	}
	if a.record != nil {
		if err := a.record.Close(); err != nil {
			a.logger.Warn("record close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.logger.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.cacheSvc != nil {
		if err := a.cacheSvc.Close(); err != nil {
			a.logger.Warn("cache close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/bus"
	"github.com/souravs72/cg-notification-sub001/internal/config"
	"github.com/souravs72/cg-notification-sub001/internal/db"
	"github.com/souravs72/cg-notification-sub001/internal/messages"
	"github.com/souravs72/cg-notification-sub001/internal/observability"
	"github.com/souravs72/cg-notification-sub001/internal/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("starting retry and scheduler loop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	queue, err := bus.Connect(ctx, cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer queue.Close()

	metrics := observability.NewMetrics()
	store := messages.NewStore(database, logger)

	var metricsSrv *observability.MetricsServer
	if cfg.MetricsEnabled {
		metricsSrv = observability.NewMetricsServer(cfg.MetricsPort, logger)
		metricsSrv.Start()
	}

	loop := retry.NewLoop(store, queue, cfg, metrics, logger)
	loop.Run(ctx)

	logger.Info("shutting down")
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		metricsSrv.Stop(shutdownCtx)
	}
	logger.Info("retry loop stopped")
}

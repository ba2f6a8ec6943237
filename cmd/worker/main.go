package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/bus"
	"github.com/souravs72/cg-notification-sub001/internal/config"
	"github.com/souravs72/cg-notification-sub001/internal/db"
	"github.com/souravs72/cg-notification-sub001/internal/messages"
	"github.com/souravs72/cg-notification-sub001/internal/observability"
	"github.com/souravs72/cg-notification-sub001/internal/provider"
	"github.com/souravs72/cg-notification-sub001/internal/secrets"
	"github.com/souravs72/cg-notification-sub001/internal/sites"
	"github.com/souravs72/cg-notification-sub001/internal/worker"
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

	channel := messages.Channel(strings.ToUpper(cfg.Channel))
	if channel != messages.ChannelEmail && channel != messages.ChannelWhatsApp {
		logger.Fatal("CHANNEL must be EMAIL or WHATSAPP", zap.String("channel", cfg.Channel))
	}
	logger.Info("starting channel worker", zap.String("channel", string(channel)))

	ctx := context.Background()
	database, err := db.NewPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	redisDB, err := db.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()

	queue, err := bus.Connect(ctx, cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer queue.Close()

	encryptor, err := secrets.NewEncryptor(cfg.EncryptionSecret)
	if err != nil {
		logger.Fatal("failed to initialize encryptor", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	store := messages.NewStore(database, logger)
	siteStore := sites.NewStore(database, logger)
	siteService := sites.NewService(siteStore, redisDB, encryptor, logger)
	resolver := worker.NewCredentialResolver(siteService, cfg)

	var handler *worker.Handler
	switch channel {
	case messages.ChannelEmail:
		sender := provider.NewSendGridClient(cfg.SendGridBaseURL, cfg.ProviderTimeout, logger)
		handler = worker.NewEmailHandler(store, resolver, sender, metrics, logger)
	case messages.ChannelWhatsApp:
		sender := provider.NewWASenderClient(cfg.WASenderBaseURL, cfg.ProviderTimeout, logger)
		seq := worker.NewSequencer(cfg.WhatsAppSendDelay)
		handler = worker.NewWhatsAppHandler(store, resolver, sender, seq, metrics, logger)
	}

	consumer := bus.NewConsumer(queue, channel, cfg.WorkerCount, handler.Handle, logger)
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("failed to start consumer", zap.Error(err))
	}

	var metricsSrv *observability.MetricsServer
	if cfg.MetricsEnabled {
		metricsSrv = observability.NewMetricsServer(cfg.MetricsPort, logger)
		metricsSrv.Start()
	}

	logger.Info("channel worker running",
		zap.String("channel", string(channel)),
		zap.Int("workers", cfg.WorkerCount))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	consumer.Stop(cfg.ShutdownGrace)
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		metricsSrv.Stop(shutdownCtx)
	}
	logger.Info("channel worker stopped")
}

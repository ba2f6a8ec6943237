package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/api"
	"github.com/souravs72/cg-notification-sub001/internal/bus"
	"github.com/souravs72/cg-notification-sub001/internal/config"
	"github.com/souravs72/cg-notification-sub001/internal/db"
	"github.com/souravs72/cg-notification-sub001/internal/messages"
	"github.com/souravs72/cg-notification-sub001/internal/observability"
	"github.com/souravs72/cg-notification-sub001/internal/rate"
	"github.com/souravs72/cg-notification-sub001/internal/secrets"
	"github.com/souravs72/cg-notification-sub001/internal/sites"
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
	logger.Info("starting notification gateway")

	ctx := context.Background()
	database, err := db.NewPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.RunMigrations(cfg.MigrationsPath); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

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
	limiter := rate.NewLimiter(redisDB, logger, cfg.RateLimitRPS, cfg.RateLimitBurst)

	handlers := api.NewHandlers(logger, store, siteService, queue, limiter, metrics)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logger.Error("unhandled request error", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		},
	})

	api.SetupRoutes(app, logger, metrics, handlers)

	var metricsSrv *observability.MetricsServer
	if cfg.MetricsEnabled {
		metricsSrv = observability.NewMetricsServer(cfg.MetricsPort, logger)
		metricsSrv.Start()
	}

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()
	logger.Info("notification gateway listening", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("failed to shut down gracefully", zap.Error(err))
	}
	if metricsSrv != nil {
		metricsSrv.Stop(shutdownCtx)
	}
	logger.Info("notification gateway stopped")
}

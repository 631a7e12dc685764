package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"provengine/internal/blocking"
	"provengine/internal/config"
	"provengine/internal/handler"
	"provengine/internal/infra/postgresql"
	"provengine/internal/infra/postgresql/migrations"
	infraredis "provengine/internal/infra/redis"
	"provengine/internal/notify"
	"provengine/internal/observability"
	"provengine/internal/pipeline"
	"provengine/internal/provider"
	"provengine/internal/queue"
	"provengine/internal/registry"
	"provengine/internal/repository"
	"provengine/internal/transport"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()
	publisher := queue.NewRabbitMQPublisher(broker)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	prov, err := buildProvider(cfg, limiter)
	if err != nil {
		logger.Fatal("provider initialization failed", zap.Error(err))
	}
	logger.Info("provider selected", zap.String("mode", cfg.ProviderMode))

	channel, err := buildChannel(cfg, logger)
	if err != nil {
		logger.Fatal("progress channel initialization failed", zap.Error(err))
	}

	arena := registry.New()

	notifier, err := notify.NewNotifier(arena, channel, cfg.NotifyInterval(), cfg.NotifyMinDelta, logger)
	if err != nil {
		logger.Fatal("notifier initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	notifier.SetMetrics(metrics)

	coordinator, err := pipeline.NewCoordinator(
		arena,
		prov,
		publisher,
		notifier,
		pipeline.Stores{
			Batches:  repository.NewGormBatchRepo(db),
			Units:    repository.NewGormUnitRepo(db),
			Attempts: repository.NewGormAttemptRepo(db),
		},
		pipeline.Settings{
			MaxInFlight:   cfg.MaxInflightUnits,
			VerifyTimeout: cfg.VerifyTimeout(),
			CleanupGrace:  cfg.CleanupGrace(),
		},
		logger,
	)
	if err != nil {
		logger.Fatal("coordinator initialization failed", zap.Error(err))
	}
	coordinator.SetMetrics(metrics)

	collector, err := pipeline.NewCollector(arena, repository.NewGormUnitRepo(db), logger)
	if err != nil {
		logger.Fatal("collector initialization failed", zap.Error(err))
	}

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	defer janitorCancel()
	go func() {
		if err := coordinator.RunJanitor(janitorCtx); err != nil {
			logger.Error("janitor stopped with error", zap.Error(err))
		}
	}()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterBatchRoutes(app, coordinator, collector); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("api server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
	janitorCancel()
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Error("coordinator shutdown incomplete", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		logger.Error("publisher close failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildProvider(cfg *config.Config, limiter *infraredis.RedisRateLimiter) (provider.Provider, error) {
	switch cfg.ProviderMode {
	case config.ProviderModeReal:
		return provider.NewHTTPBackendProvider(cfg.BackendBaseURL, cfg.BackendAPIKey, limiter)
	case config.ProviderModeSimulated:
		pool := blocking.NewPool(cfg.BlockingPoolSize)
		return provider.NewSimulatedProvider(pool, 250*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unsupported provider mode %q", cfg.ProviderMode)
	}
}

func buildChannel(cfg *config.Config, logger *zap.Logger) (notify.Channel, error) {
	if cfg.TelegramBotToken == "" {
		logger.Warn("no telegram bot token configured, progress pushes disabled")
		return notify.NopChannel{}, nil
	}
	return notify.NewTelegramChannel(cfg.TelegramBotToken)
}

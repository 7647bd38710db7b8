package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nexadex/swapflow/api"
	"github.com/nexadex/swapflow/internal/config"
	"github.com/nexadex/swapflow/internal/executor"
	"github.com/nexadex/swapflow/internal/messaging"
	"github.com/nexadex/swapflow/internal/order"
	"github.com/nexadex/swapflow/internal/pipeline"
	"github.com/nexadex/swapflow/internal/queue"
	"github.com/nexadex/swapflow/internal/resilience"
	"github.com/nexadex/swapflow/internal/router"
	"github.com/nexadex/swapflow/internal/stream"
	"github.com/nexadex/swapflow/internal/venue"
	"github.com/nexadex/swapflow/pkg/errors"
	"github.com/nexadex/swapflow/pkg/logger"
)

const shutdownGrace = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig(os.Getenv("SWAPFLOW_CONFIG"))
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	zapLogger, err := logger.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		log.Printf("Failed to create logger: %v", err)
		return 1
	}
	defer zapLogger.Sync()

	// Relational order store.
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		zapLogger.Error("Failed to connect to PostgreSQL", zap.Error(err))
		return 1
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)
	}
	if err := order.Migrate(db); err != nil {
		zapLogger.Error("Failed to migrate schema", zap.Error(err))
		return 1
	}
	store := order.NewGormStore(db)

	// Redis-backed in-flight cache.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		zapLogger.Error("Failed to connect to Redis", zap.Error(err))
		return 1
	}
	cache := order.NewRedisCache(redisClient, cfg.CacheTTL())

	// Durable work queue.
	backoff := queue.BackoffPolicy{
		MaxAttempts: cfg.Queue.MaxRetries,
		BaseDelay:   cfg.BackoffBase(),
		Multiplier:  cfg.Queue.BackoffMultiplier,
		MaxDelay:    cfg.BackoffMax(),
	}
	workQueue, err := queue.NewBadgerQueue(cfg.Queue.Path, backoff, zapLogger)
	if err != nil {
		zapLogger.Error("Failed to open work queue", zap.Error(err))
		return 1
	}

	// Venue adapters, each behind its own circuit breaker.
	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout(),
		MonitoringPeriod: cfg.MonitoringPeriod(),
	}
	venues := make([]venue.Adapter, 0, len(venue.Names))
	for _, name := range venue.Names {
		var inner venue.Adapter
		if cfg.Venues.Implementation == config.VenueImplReal {
			inner = venue.NewHTTPAdapter(name, cfg.Venues.RPCURL, cfg.Venues.SigningKey)
		} else {
			inner = mockVenue(name)
		}
		venues = append(venues, venue.NewGuardedAdapter(inner, breakerCfg, zapLogger))
	}

	rt := router.New(venues, cfg.QuoteTimeout(), zapLogger)
	ex := executor.New(venues, cfg.Executor.DefaultSlippage, cfg.Executor.MaxSlippage, zapLogger)
	hub := stream.NewHub(zapLogger)

	var publisher messaging.Publisher = messaging.NopPublisher{}
	if cfg.Messaging.Enabled {
		publisher = messaging.NewKafkaPublisher(cfg.Messaging.Brokers, cfg.Messaging.Topic, zapLogger)
	}

	// Operator-facing critical error feed.
	bus := errors.NewBus()
	go func() {
		for e := range bus.Subscribe() {
			zapLogger.Error("critical system error",
				zap.String("kind", string(e.Kind)),
				zap.String("message", e.Message),
				zap.Any("context", e.Context))
		}
	}()

	retry := resilience.RetryPolicy{
		MaxAttempts: cfg.Queue.MaxRetries,
		BaseDelay:   cfg.BackoffBase(),
		Multiplier:  cfg.Queue.BackoffMultiplier,
		MaxDelay:    cfg.BackoffMax(),
	}
	worker := pipeline.NewWorker(store, cache, rt, ex, hub, publisher, bus, retry, cfg.CacheTTL(), zapLogger)
	pool := pipeline.NewPool(workQueue, worker, cfg.Queue.Concurrency, zapLogger)
	pool.Start(context.Background())

	server := api.NewServer(cfg, store, cache, workQueue, hub, publisher, zapLogger)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		zapLogger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			zapLogger.Error("http server failed", zap.Error(err))
			return 1
		}
	}

	// Shutdown order: stop intake, let in-flight jobs finish, then close
	// the fan-out and the resources.
	exitCode := 0
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("http shutdown failed", zap.Error(err))
		exitCode = 1
	}
	pool.Shutdown(shutdownGrace)
	hub.CloseAll()
	bus.Close()
	if err := publisher.Close(); err != nil {
		zapLogger.Error("publisher close failed", zap.Error(err))
		exitCode = 1
	}
	if err := workQueue.Close(); err != nil {
		zapLogger.Error("queue close failed", zap.Error(err))
		exitCode = 1
	}
	if err := cache.Close(); err != nil {
		zapLogger.Error("cache close failed", zap.Error(err))
		exitCode = 1
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			zapLogger.Error("database close failed", zap.Error(err))
			exitCode = 1
		}
	}

	zapLogger.Info("shutdown complete", zap.Int("exit_code", exitCode))
	return exitCode
}

// mockVenue builds the default simulated venues: Raydium quoting 1.00 at
// 25 bps, Orca quoting 1.01 at 20 bps.
func mockVenue(name string) venue.Adapter {
	switch name {
	case venue.Orca:
		return venue.NewMockAdapter(name, decimal.NewFromFloat(1.01), decimal.NewFromFloat(0.002))
	default:
		return venue.NewMockAdapter(name, decimal.NewFromFloat(1.00), decimal.NewFromFloat(0.0025))
	}
}

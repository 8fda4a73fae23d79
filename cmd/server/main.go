package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	lifecycleapp "github.com/shipsync/backend/internal/application/lifecycle"
	"github.com/shipsync/backend/internal/application/orderimport"
	"github.com/shipsync/backend/internal/application/shipsync"
	"github.com/shipsync/backend/internal/domain/lifecycle"
	"github.com/shipsync/backend/internal/domain/shipping"
	"github.com/shipsync/backend/internal/infrastructure/carrier"
	"github.com/shipsync/backend/internal/infrastructure/config"
	"github.com/shipsync/backend/internal/infrastructure/event"
	"github.com/shipsync/backend/internal/infrastructure/logger"
	"github.com/shipsync/backend/internal/infrastructure/orderplatform"
	"github.com/shipsync/backend/internal/infrastructure/persistence"
	"github.com/shipsync/backend/internal/infrastructure/queue"
	"github.com/shipsync/backend/internal/infrastructure/scheduler"
	"github.com/shipsync/backend/internal/infrastructure/telemetry"
	"github.com/shipsync/backend/internal/interfaces/http/handler"
	"github.com/shipsync/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config.toml (default: ./config.toml or /etc/shipsync/config.toml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server terminated", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func run(cfg *config.Config, baseLog *zap.Logger) error {
	ctx := context.Background()

	telCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		Insecure:          cfg.Telemetry.Insecure,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		LogsEnabled:       cfg.Telemetry.LogsEnabled,
	}

	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telCfg, baseLog)
	if err != nil {
		return fmt.Errorf("log exporter: %w", err)
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log := loggerProvider.Bridge(baseLog, telCfg.ServiceName, level)

	log.Info("Starting shipsync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telCfg, log)
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telCfg, log)
	if err != nil {
		return fmt.Errorf("metric exporter: %w", err)
	}
	defer shutdownTelemetry(log, meterProvider, tracerProvider, loggerProvider)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Database.LogLevel), cfg.Database.SlowThreshold)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.InstrumentGorm(db.DB, telCfg, log); err != nil {
		return err
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := telemetry.RegisterPoolMetrics(meterProvider.Meter("shipsync/db"), sqlDB.Stats); err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(); err != nil {
			return err
		}
		log.Info("Database schema migrated")
	}
	log.Info("Database connected successfully")

	// Queue store and run-id mutex
	redisClient, err := queue.NewRedisClient(ctx, queue.ClientConfig{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	queueStore := queue.NewRedisQueueStore(redisClient, cfg.Redis.KeyPrefix, queue.WithLogger(log))
	defer func() {
		if err := queueStore.Close(); err != nil {
			log.Error("Error closing Redis", zap.Error(err))
		}
	}()
	runState := queue.NewRedisRunState(redisClient, cfg.Redis.KeyPrefix)

	// Remote platforms
	carrierAdapter, err := carrier.NewAdapter(&carrier.Config{
		BaseURL:        cfg.Carrier.BaseURL,
		APIKey:         cfg.Carrier.APIKey,
		APISecret:      cfg.Carrier.APISecret,
		TimeoutSeconds: cfg.Carrier.TimeoutSeconds,
		PageSize:       cfg.Carrier.PageSize,
	})
	if err != nil {
		return err
	}
	orderPlatform, err := orderplatform.NewAdapter(&orderplatform.Config{
		BaseURL:        cfg.OrderPlatform.BaseURL,
		APIKey:         cfg.OrderPlatform.APIKey,
		APISecret:      cfg.OrderPlatform.APISecret,
		TimeoutSeconds: cfg.OrderPlatform.TimeoutSeconds,
	})
	if err != nil {
		return err
	}

	// Repositories
	orderRepo := persistence.NewOrderRepository(db.DB)
	shipmentRepo := persistence.NewShipmentRepository(db.DB)
	deadLetterRepo := persistence.NewDeadLetterRepository(db.DB)

	// Change broadcaster
	eventBus := event.NewInMemoryEventBus(log)
	eventBus.Subscribe(event.NewChangeLogHandler(log))
	if err := eventBus.Start(ctx); err != nil {
		return err
	}

	// Lifecycle
	lifecycleService := lifecycleapp.NewService(
		orderRepo, shipmentRepo, lifecycle.NewEvaluator(cfg.Sync.HoldFallback), eventBus, log,
	)
	for _, effect := range []lifecycle.SideEffect{
		lifecycle.SideEffectExplodeInventory,
		lifecycle.SideEffectAssignPackaging,
		lifecycle.SideEffectCreateSession,
	} {
		lifecycleService.RegisterHook(effect, lifecycleapp.PublishingHook(eventBus))
	}

	// Workers
	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider.Meter(telemetry.InstrumentationName))
	if err != nil {
		return err
	}
	deadLetters := shipsync.NewDeadLetterLogger(deadLetterRepo, log)
	resolver := shipsync.NewResolver(
		carrierAdapter,
		shipmentRepo,
		persistence.NewOrderLookup(orderRepo),
		queueStore,
		lifecycleService,
		deadLetters,
		shipsync.ResolverConfig{MaxOrderRetries: cfg.Sync.MaxRetries, MaxRemoteRetries: cfg.Sync.MaxRetries},
		log,
	)
	importer := orderimport.NewImporter(
		orderPlatform, orderRepo, shipmentRepo, queueStore, deadLetters,
		orderimport.Config{MaxRetries: cfg.Sync.MaxRetries},
		log,
	)

	handlers := map[shipping.QueueClass]shipsync.Handler{shipping.QueueShipmentSync: resolver}
	if cfg.Sync.ImportEnabled {
		handlers[shipping.QueueOrderImport] = importer
	}

	coordinators := make(map[shipping.QueueClass]*scheduler.Coordinator, len(handlers))
	reporters := make(map[shipping.QueueClass]handler.StatusReporter, len(handlers))
	for class, h := range handlers {
		worker := shipsync.NewWorker(queueStore, h, deadLetters, shipsync.WorkerConfig{
			Queue:           class,
			BatchSize:       cfg.Sync.BatchSize,
			CourtesyDelay:   cfg.Sync.CourtesyDelay,
			RateLimitBuffer: cfg.Sync.RateLimitBuffer,
		}, log, shipsync.WithPublisher(eventBus), shipsync.WithMetrics(syncMetrics))

		coordinator, err := scheduler.NewCoordinator(scheduler.CoordinatorConfig{
			Name:         class.String(),
			PollInterval: cfg.Sync.PollInterval,
			LeaseTTL:     cfg.Sync.LeaseTTL,
			RunOnStart:   true,
		}, runState, batchFunc(worker), log)
		if err != nil {
			return err
		}
		coordinators[class] = coordinator
		reporters[class] = coordinator
	}

	if cfg.Sync.Enabled {
		for _, c := range coordinators {
			if err := c.Start(ctx); err != nil {
				return err
			}
		}
	} else {
		log.Warn("Sync coordinators disabled by configuration")
	}

	// HTTP
	engine := router.New(router.Config{
		ServiceName:    telCfg.ServiceName,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		WebhookToken:   cfg.HTTP.WebhookToken,
		TracingEnabled: tracerProvider.IsEnabled(),
	}, log, router.Handlers{
		Webhook: handler.NewWebhookHandler(queueStore),
		Sync:    handler.NewSyncHandler(queueStore, deadLetterRepo, reporters),
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
			"database": sqlDB.PingContext,
			"redis":    redisPing(redisClient),
		}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-quit:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case runErr = <-serveErr:
		log.Error("Server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	for _, c := range coordinators {
		c.Stop()
	}
	for class, c := range coordinators {
		if err := c.Wait(shutdownCtx); err != nil {
			log.Warn("Batch still running at shutdown", zap.String("queue", class.String()), zap.Error(err))
		}
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus stop failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	return runErr
}

// batchFunc adapts a worker to the coordinator, logging the batch summary
func batchFunc(worker *shipsync.Worker) scheduler.BatchFunc {
	return func(ctx context.Context, runID int64) error {
		report, err := worker.RunBatch(ctx, runID)
		if err != nil {
			return err
		}
		if report.Dequeued > 0 {
			logger.For(ctx).Info("batch finished",
				zap.String("queue", worker.Queue().String()),
				zap.Int("dequeued", report.Dequeued),
				zap.Int("processed", report.Processed()),
				zap.Int("retried", report.Retried),
				zap.Int("requeued", report.Requeued),
				zap.Bool("rate_limited", report.RateLimited),
			)
		}
		return nil
	}
}

func redisPing(client *redis.Client) handler.HealthCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func shutdownTelemetry(log *zap.Logger, providers ...shutdowner) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, p := range providers {
		if err := p.Shutdown(ctx); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}
}

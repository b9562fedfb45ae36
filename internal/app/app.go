// Package app wires the storefront service together: config, stores, Kafka,
// services, background workers, and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lacehub/storefront/internal/catalog"
	"github.com/lacehub/storefront/internal/config"
	"github.com/lacehub/storefront/internal/event"
	handlerhttp "github.com/lacehub/storefront/internal/handler/http"
	"github.com/lacehub/storefront/internal/repository/postgres"
	redisrepo "github.com/lacehub/storefront/internal/repository/redis"
	"github.com/lacehub/storefront/internal/service"
	"github.com/lacehub/storefront/internal/worker"
	"github.com/lacehub/storefront/migrations"
	"github.com/lacehub/storefront/pkg/database"
	"github.com/lacehub/storefront/pkg/health"
	pkgkafka "github.com/lacehub/storefront/pkg/kafka"
	"github.com/lacehub/storefront/pkg/middleware"
	"github.com/lacehub/storefront/pkg/tracing"
)

// App is the assembled storefront service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool        *pgxpool.Pool
	redisClient *redis.Client
	producer    *pkgkafka.Producer
	dlq         *pkgkafka.DLQProducer
	consumer    *event.PaymentConsumer
	server      *http.Server

	sweeper    *worker.Sweeper
	cartWatch  *worker.CartWatcher
	shutdownTr func(context.Context) error
}

// New builds the application from configuration. Everything that can fail at
// startup fails here, before any traffic is accepted.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "storefront",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)

	pool, err := database.NewPostgresPool(ctx, &database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	database.RegisterPoolMetrics(pool, "storefront")

	if err := database.RunMigrations(ctx, pool, migrations.Files, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	events := event.NewProducer(producer, logger)

	stockRepo := postgres.NewStockRepository(pool)
	reservationRepo := postgres.NewReservationRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	cartRepo := redisrepo.NewCartRepository(redisClient, cfg.CartTTLDuration())

	catalogClient := catalog.NewClient(cfg.CatalogBaseURL, logger)

	stockSvc := service.NewStockService(stockRepo, events, logger)
	reservationSvc := service.NewReservationService(reservationRepo, events, logger, cfg.ReservationTTLDuration())
	cartSvc := service.NewCartService(cartRepo, reservationSvc, stockSvc, catalogClient, logger)
	checkoutSvc := service.NewCheckoutService(reservationSvc, stockSvc, orderRepo, events, logger)

	idempotency := pkgkafka.NewRedisIdempotencyStore(redisClient, "storefront:payments", 24*time.Hour)
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	consumer := event.NewPaymentConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, idempotency, dlq, checkoutSvc, logger)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", pool.Ping)
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", producer.Ping)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.Environment = cfg.Environment

	router := handlerhttp.NewRouter(handlerhttp.Handlers{
		Stock:       handlerhttp.NewStockHandler(stockSvc, logger),
		Reservation: handlerhttp.NewReservationHandler(reservationSvc, logger),
		Cart:        handlerhttp.NewCartHandler(cartSvc, logger),
		Checkout:    handlerhttp.NewCheckoutHandler(checkoutSvc, cartSvc, logger),
		Health:      healthHandler,
	}, corsCfg, logger)

	return &App{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		redisClient: redisClient,
		producer:    producer,
		dlq:         dlq,
		consumer:    consumer,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		sweeper:    worker.NewSweeper(reservationSvc, cfg.SweepIntervalDuration(), logger),
		cartWatch:  worker.NewCartWatcher(cartRepo, cartSvc, cfg.CartRevalidationDuration(), logger),
		shutdownTr: shutdownTracer,
	}, nil
}

// Run starts the consumers, workers, and HTTP server, blocking until the
// context is cancelled, then shuts everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	a.consumer.Start(workerCtx)
	go a.sweeper.Run(workerCtx)
	go a.cartWatch.Run(workerCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	// Stop taking new work first, then drain in-flight requests, then close
	// the stores the drained requests depend on.
	cancelWorkers()
	if err := a.consumer.Close(); err != nil {
		a.logger.Error("failed to close kafka consumers", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown failed", slog.String("error", err.Error()))
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("failed to close kafka producer", slog.String("error", err.Error()))
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("failed to close dlq producer", slog.String("error", err.Error()))
	}
	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("failed to close redis client", slog.String("error", err.Error()))
	}
	a.pool.Close()

	if err := a.shutdownTr(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown failed", slog.String("error", err.Error()))
	}

	a.logger.Info("shutdown complete")
	return nil
}

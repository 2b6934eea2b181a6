package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/orderflow/platform/health/http"
	platformkafka "github.com/shestoi/orderflow/platform/kafka"
	platformlogging "github.com/shestoi/orderflow/platform/logging"
	platformmetrics "github.com/shestoi/orderflow/platform/metrics"
	platformobservability "github.com/shestoi/orderflow/platform/observability"
	platformrabbitmq "github.com/shestoi/orderflow/platform/rabbitmq"
	platformshutdown "github.com/shestoi/orderflow/platform/shutdown"
	httpapi "github.com/shestoi/orderflow/services/order/internal/api/http"
	"github.com/shestoi/orderflow/services/order/internal/config"
	eventrabbitmq "github.com/shestoi/orderflow/services/order/internal/event/rabbitmq"
	"github.com/shestoi/orderflow/services/order/internal/repository"
	"github.com/shestoi/orderflow/services/order/internal/repository/memory"
	"github.com/shestoi/orderflow/services/order/internal/repository/postgres"
	"github.com/shestoi/orderflow/services/order/internal/service"
	"github.com/shestoi/orderflow/services/order/migrations"
)

// App содержит все зависимости для запуска и корректного shutdown Order Service
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	consumer    *platformrabbitmq.Consumer
	dispatcher  *eventrabbitmq.OutboxDispatcher
	shutdownMgr *platformshutdown.Manager
	runCtx      context.Context
	wg          sync.WaitGroup
}

// Build создаёт и настраивает все зависимости Order Service
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"
	ctx := context.Background()

	// Создаём logger
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "order",
		Env:         string(cfg.AppEnv),
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      os.Getenv("LOG_FORMAT"),
	})
	if err != nil {
		return nil, err
	}

	// OpenTelemetry: traces + metrics (noop если OTEL_ENABLED=false)
	otelShutdown, err := platformobservability.Init(ctx, platformobservability.Config{
		Enabled:               cfg.OTelEnabled,
		OTLPEndpoint:          cfg.OTelEndpoint,
		SamplingRatio:         cfg.OTelSamplingRatio,
		ServiceName:           "order",
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building Order service",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("storage", string(cfg.Storage)),
		zap.String("dlq_backend", string(cfg.DLQBackend)),
	)

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)
	shutdownMgr.Add(platformshutdown.PhaseTelemetry, "otel", otelShutdown)

	var checks []platformhealth.Check

	// Хранилище заказов
	var orderRepo repository.OrderRepository
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("Using in-memory order storage, data is lost on restart")
		orderRepo = memory.NewMemoryRepository()
	default:
		pool, err := connectPostgres(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		shutdownMgr.Add(platformshutdown.PhaseConnections, "postgres_pool", platformshutdown.ClosePool(pool))
		checks = append(checks, platformhealth.Check{Name: "postgres", Fn: pool.Ping})
		orderRepo = postgres.NewRepository(pool)
	}

	// RabbitMQ: соединение, топология, publisher
	conn, err := platformrabbitmq.Dial(ctx, cfg.RabbitMQ, "order-service", logger)
	if err != nil {
		return nil, err
	}
	shutdownMgr.Add(platformshutdown.PhaseConnections, "rabbitmq_connection", platformshutdown.CloseCloser(conn))
	checks = append(checks, platformhealth.Check{Name: "rabbitmq", Fn: conn.Ping})

	if err := platformrabbitmq.DeclareWith(conn, platformrabbitmq.DefaultTopology(cfg.RabbitMQ)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}
	logger.Info("RabbitMQ topology declared", zap.String("exchange", cfg.RabbitMQ.Exchange))

	metrics := platformmetrics.New("order")

	publisher := platformrabbitmq.NewPublisher(conn, cfg.RabbitMQ, "order", logger, metrics)
	shutdownMgr.Add(platformshutdown.PhaseEgress, "rabbitmq_publisher", platformshutdown.CloseCloser(publisher))

	var sink platformrabbitmq.DeadLetterSink
	switch cfg.DLQBackend {
	case config.DLQBackendKafka:
		kafkaSink := platformkafka.NewDLQSink(logger, cfg.Kafka)
		shutdownMgr.Add(platformshutdown.PhaseEgress, "kafka_dlq_sink", platformshutdown.CloseCloser(kafkaSink))
		sink = kafkaSink
	default:
		sink = platformrabbitmq.NewDLXSink(logger, publisher, cfg.RabbitMQ.DeadLetterExchange)
	}

	// Метрики обработки (order_processing_duration_ms); при отключённом OTEL - noop
	var processingMetrics service.MetricsRecorder
	if cfg.OTelEnabled {
		recorder, err := newProcessingMetricsRecorder(otel.Meter("order"))
		if err != nil {
			logger.Warn("order_processing_duration_ms histogram disabled", zap.Error(err))
		} else {
			processingMetrics = recorder
		}
	}

	orderService := service.NewOrderService(logger, orderRepo, eventrabbitmq.NewOrderEventPublisher(publisher), processingMetrics)

	consumer := platformrabbitmq.NewConsumer(
		conn,
		platformrabbitmq.ConsumerConfigFor(cfg.RabbitMQ, platformrabbitmq.OrderUpdatesQueue, "order-service"),
		"order",
		logger,
		sink,
		metrics,
	)
	eventrabbitmq.RegisterHandlers(consumer, orderService)
	shutdownMgr.Add(platformshutdown.PhaseIngress, "rabbitmq_consumer", consumer.Stop)

	dispatcher := eventrabbitmq.NewOutboxDispatcher(logger, orderService, cfg.OutboxInterval, cfg.OutboxMinAge, cfg.OutboxBatchSize)
	// фоновые воркеры останавливаются до закрытия publisher-а
	runCtx, stopWorkers := context.WithCancel(context.Background())
	shutdownMgr.Add(platformshutdown.PhaseWorkers, "background_workers", func(ctx context.Context) error {
		stopWorkers()
		return nil
	})

	handler := httpapi.NewHandler(orderService, logger)
	router := httpapi.NewRouter(handler, logger, metrics.Handler(), checks...)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	shutdownMgr.Add(platformshutdown.PhaseIngress, "http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	return &App{
		logger:      logger,
		httpServer:  httpServer,
		consumer:    consumer,
		dispatcher:  dispatcher,
		shutdownMgr: shutdownMgr,
		runCtx:      runCtx,
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting Order service", zap.String("addr", a.httpServer.Addr))
	a.logger.Info("Health check available", zap.String("url", "http://"+a.httpServer.Addr+"/health"))

	ctx := a.runCtx

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
			a.shutdownMgr.Trigger("http server failed")
		}
	}()
	go func() {
		defer a.wg.Done()
		if err := a.consumer.Start(ctx); err != nil {
			a.logger.Error("rabbitmq consumer error", zap.Error(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		a.dispatcher.Start(ctx)
	}()

	shutdownErr := a.shutdownMgr.Wait()
	a.wg.Wait()

	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	a.logger.Info("Order service stopped")
	return nil
}

func connectPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*pgxpool.Pool, error) {
	logger.Info("Connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("PostgreSQL connection established")

	// Применяем миграции
	logger.Info("Applying database migrations")
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.UpContext(ctx, db, "."); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")
	return pool, nil
}

// processingMetricsRecorder записывает order_processing_duration_ms в OTLP histogram.
type processingMetricsRecorder struct {
	histogram metric.Int64Histogram
}

func newProcessingMetricsRecorder(meter metric.Meter) (*processingMetricsRecorder, error) {
	hist, err := meter.Int64Histogram("order_processing_duration_ms",
		metric.WithDescription("Time from checkout to terminal order status"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_processing_duration_ms histogram: %w", err)
	}
	return &processingMetricsRecorder{histogram: hist}, nil
}

func (r *processingMetricsRecorder) RecordProcessingDuration(ctx context.Context, durationMs int64, status string) {
	if r.histogram == nil {
		return
	}
	r.histogram.Record(ctx, durationMs, metric.WithAttributes(attribute.String("status", status)))
}

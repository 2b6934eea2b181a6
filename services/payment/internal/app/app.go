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
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/orderflow/platform/health/http"
	platformkafka "github.com/shestoi/orderflow/platform/kafka"
	platformlogging "github.com/shestoi/orderflow/platform/logging"
	platformmetrics "github.com/shestoi/orderflow/platform/metrics"
	platformobservability "github.com/shestoi/orderflow/platform/observability"
	platformrabbitmq "github.com/shestoi/orderflow/platform/rabbitmq"
	platformshutdown "github.com/shestoi/orderflow/platform/shutdown"
	httpapi "github.com/shestoi/orderflow/services/payment/internal/api/http"
	"github.com/shestoi/orderflow/services/payment/internal/config"
	eventrabbitmq "github.com/shestoi/orderflow/services/payment/internal/event/rabbitmq"
	"github.com/shestoi/orderflow/services/payment/internal/gateway"
	"github.com/shestoi/orderflow/services/payment/internal/repository"
	"github.com/shestoi/orderflow/services/payment/internal/repository/memory"
	"github.com/shestoi/orderflow/services/payment/internal/repository/postgres"
	"github.com/shestoi/orderflow/services/payment/internal/service"
	"github.com/shestoi/orderflow/services/payment/migrations"
)

// App содержит все зависимости для запуска и корректного shutdown Payment Service
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	consumer    *platformrabbitmq.Consumer
	shutdownMgr *platformshutdown.Manager
	wg          sync.WaitGroup
}

// Build создаёт и настраивает все зависимости Payment Service
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"
	ctx := context.Background()

	// Создаём logger
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "payment",
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
		ServiceName:           "payment",
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building Payment service",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("storage", string(cfg.Storage)),
		zap.String("gateway", string(cfg.Gateway)),
		zap.Duration("gateway_timeout", cfg.GatewayTimeout),
	)

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)
	shutdownMgr.Add(platformshutdown.PhaseTelemetry, "otel", otelShutdown)

	var checks []platformhealth.Check

	var paymentRepo repository.PaymentRepository
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("Using in-memory payment storage, data is lost on restart")
		paymentRepo = memory.NewMemoryRepository()
	default:
		pool, err := connectPostgres(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		shutdownMgr.Add(platformshutdown.PhaseConnections, "postgres_pool", platformshutdown.ClosePool(pool))
		checks = append(checks, platformhealth.Check{Name: "postgres", Fn: pool.Ping})
		paymentRepo = postgres.NewRepository(pool)
	}

	// Платёжный шлюз
	var gw gateway.Gateway
	if cfg.Gateway == config.GatewayHTTP {
		gw = gateway.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayTimeout)
	} else {
		gw = gateway.NewFakeGateway(cfg.FakeSuccessRate, cfg.FakeLatency)
	}

	conn, err := platformrabbitmq.Dial(ctx, cfg.RabbitMQ, "payment-service", logger)
	if err != nil {
		return nil, err
	}
	shutdownMgr.Add(platformshutdown.PhaseConnections, "rabbitmq_connection", platformshutdown.CloseCloser(conn))
	checks = append(checks, platformhealth.Check{Name: "rabbitmq", Fn: conn.Ping})

	if err := platformrabbitmq.DeclareWith(conn, platformrabbitmq.DefaultTopology(cfg.RabbitMQ)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}

	metrics := platformmetrics.New("payment")

	publisher := platformrabbitmq.NewPublisher(conn, cfg.RabbitMQ, "payment", logger, metrics)
	shutdownMgr.Add(platformshutdown.PhaseEgress, "rabbitmq_publisher", platformshutdown.CloseCloser(publisher))

	var sink platformrabbitmq.DeadLetterSink
	if cfg.DLQBackend == "kafka" {
		kafkaSink := platformkafka.NewDLQSink(logger, cfg.Kafka)
		shutdownMgr.Add(platformshutdown.PhaseEgress, "kafka_dlq_sink", platformshutdown.CloseCloser(kafkaSink))
		sink = kafkaSink
	} else {
		sink = platformrabbitmq.NewDLXSink(logger, publisher, cfg.RabbitMQ.DeadLetterExchange)
	}

	paymentService := service.NewPaymentService(logger, paymentRepo, gw, eventrabbitmq.NewPaymentEventPublisher(publisher), service.Options{
		GatewayTimeout:     cfg.GatewayTimeout,
		GatewayMaxAttempts: cfg.GatewayMaxAttempts,
		GatewayBackoff:     cfg.GatewayBackoff,
	})

	consumer := platformrabbitmq.NewConsumer(
		conn,
		platformrabbitmq.ConsumerConfigFor(cfg.RabbitMQ, platformrabbitmq.PaymentQueue, "payment-service"),
		"payment",
		logger,
		sink,
		metrics,
	)
	eventrabbitmq.RegisterHandlers(consumer, paymentService)
	// consumer дренируется до закрытия publisher-а: текущий платёж успевает опубликовать исход
	shutdownMgr.Add(platformshutdown.PhaseIngress, "rabbitmq_consumer", consumer.Stop)

	router := httpapi.NewRouter(httpapi.NewHandler(paymentService, logger), logger, metrics.Handler(), checks...)
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
		shutdownMgr: shutdownMgr,
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting Payment service", zap.String("addr", a.httpServer.Addr))

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
			a.shutdownMgr.Trigger("http server failed")
		}
	}()
	go func() {
		defer a.wg.Done()
		// Stop из shutdown manager завершает Start после обработки текущего сообщения
		if err := a.consumer.Start(context.Background()); err != nil {
			a.logger.Error("rabbitmq consumer error", zap.Error(err))
		}
	}()

	shutdownErr := a.shutdownMgr.Wait()
	a.wg.Wait()

	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	a.logger.Info("Payment service stopped")
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

	// Применяем миграции
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

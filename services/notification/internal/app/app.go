package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/orderflow/platform/health/http"
	"github.com/shestoi/orderflow/platform/idempotency"
	platformkafka "github.com/shestoi/orderflow/platform/kafka"
	platformlogging "github.com/shestoi/orderflow/platform/logging"
	platformmetrics "github.com/shestoi/orderflow/platform/metrics"
	platformobservability "github.com/shestoi/orderflow/platform/observability"
	platformrabbitmq "github.com/shestoi/orderflow/platform/rabbitmq"
	platformshutdown "github.com/shestoi/orderflow/platform/shutdown"
	httpapi "github.com/shestoi/orderflow/services/notification/internal/api/http"
	"github.com/shestoi/orderflow/services/notification/internal/config"
	eventrabbitmq "github.com/shestoi/orderflow/services/notification/internal/event/rabbitmq"
	"github.com/shestoi/orderflow/services/notification/internal/sender"
	"github.com/shestoi/orderflow/services/notification/internal/service"
	"github.com/shestoi/orderflow/services/notification/internal/templates"
)

// App содержит все зависимости для запуска и корректного shutdown Notification Service
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	consumer    *platformrabbitmq.Consumer
	shutdownMgr *platformshutdown.Manager
	wg          sync.WaitGroup
}

// Build создаёт и настраивает все зависимости Notification Service
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"
	ctx := context.Background()

	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "notification",
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
		ServiceName:           "notification",
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building Notification service",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("dedupe", string(cfg.Dedupe)),
		zap.String("sender", string(cfg.Sender)),
	)

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)
	shutdownMgr.Add(platformshutdown.PhaseTelemetry, "otel", otelShutdown)

	var checks []platformhealth.Check

	// Кэш дедупликации
	var dedupe idempotency.Store
	switch cfg.Dedupe {
	case config.DedupeMemory:
		logger.Warn("Using in-memory dedupe store, notifications may repeat after restart")
		dedupe = idempotency.NewMemoryStore()
	default:
		redisStore, redisClient, err := connectRedis(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		shutdownMgr.Add(platformshutdown.PhaseConnections, "redis_client", platformshutdown.CloseCloser(redisClient))
		checks = append(checks, platformhealth.Check{Name: "redis", Fn: redisStore.Ping})
		dedupe = redisStore
	}

	notifier, err := newSender(cfg, logger)
	if err != nil {
		return nil, err
	}
	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, err
	}

	conn, err := platformrabbitmq.Dial(ctx, cfg.RabbitMQ, "notification-service", logger)
	if err != nil {
		return nil, err
	}
	shutdownMgr.Add(platformshutdown.PhaseConnections, "rabbitmq_connection", platformshutdown.CloseCloser(conn))
	checks = append(checks, platformhealth.Check{Name: "rabbitmq", Fn: conn.Ping})

	if err := platformrabbitmq.DeclareWith(conn, platformrabbitmq.DefaultTopology(cfg.RabbitMQ)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}

	metrics := platformmetrics.New("notification")

	// Publisher-а нет: исчерпавшие попытки сообщения уходят в DLX через nack самого брокера
	var sink platformrabbitmq.DeadLetterSink
	if cfg.DLQBackend == "kafka" {
		kafkaSink := platformkafka.NewDLQSink(logger, cfg.Kafka)
		shutdownMgr.Add(platformshutdown.PhaseEgress, "kafka_dlq_sink", platformshutdown.CloseCloser(kafkaSink))
		sink = kafkaSink
	}

	notificationService := service.NewNotificationService(logger, dedupe, notifier, renderer, service.Options{
		ReserveTTL: cfg.DedupeReserveTTL,
		DedupeTTL:  cfg.DedupeTTL,
	})

	consumer := platformrabbitmq.NewConsumer(
		conn,
		platformrabbitmq.ConsumerConfigFor(cfg.RabbitMQ, platformrabbitmq.NotificationQueue, "notification-service"),
		"notification",
		logger,
		sink,
		metrics,
	)
	eventrabbitmq.RegisterHandlers(consumer, notificationService)
	shutdownMgr.Add(platformshutdown.PhaseIngress, "rabbitmq_consumer", consumer.Stop)

	var alertSender sender.Sender
	if cfg.AlertsEnabled {
		alertSender = notifier
	}
	router := httpapi.NewRouter(httpapi.NewAlertmanagerHandler(logger, alertSender, cfg.AlertRecipient), logger, metrics.Handler(), checks...)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 20 * time.Second,
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

	a.logger.Info("Starting Notification service", zap.String("addr", a.httpServer.Addr))

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
		// Stop из shutdown manager завершает Start после отправки текущего уведомления
		if err := a.consumer.Start(context.Background()); err != nil {
			a.logger.Error("rabbitmq consumer error", zap.Error(err))
		}
	}()

	shutdownErr := a.shutdownMgr.Wait()
	a.wg.Wait()

	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	a.logger.Info("Notification service stopped")
	return nil
}

func connectRedis(ctx context.Context, cfg config.Config, logger *zap.Logger) (*idempotency.RedisStore, *redis.Client, error) {
	logger.Info("Connecting to Redis", zap.String("addr", cfg.RedisAddr))
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("Redis connection established")

	return idempotency.NewRedisStore(client, logger, "notification:"), client, nil
}

func newSender(cfg config.Config, logger *zap.Logger) (sender.Sender, error) {
	switch cfg.Sender {
	case config.SenderLog:
		return sender.NewLogSender(logger), nil
	case config.SenderSMTP:
		return sender.NewSMTPSender(logger, sender.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}), nil
	case config.SenderTelegram:
		return sender.NewTelegramSender(logger, cfg.TelegramAPIURL, cfg.TelegramBotToken, cfg.TelegramChatID), nil
	}
	return nil, fmt.Errorf("unknown sender %q", cfg.Sender)
}

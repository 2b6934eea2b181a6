package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/platform/metrics"
	"github.com/shestoi/orderflow/platform/observability"
)

// HandlerFunc обрабатывает одно событие.
// Должен быть идемпотентным: доставка at-least-once, одно и то же событие может прийти повторно.
// Ошибка, обёрнутая в Permanent, не ретраится.
type HandlerFunc func(ctx context.Context, env events.Envelope) error

// ConsumerConfig параметры подписки на очередь
type ConsumerConfig struct {
	Queue          string
	ConsumerTag    string
	Prefetch       int
	MaxAttempts    int
	BackoffBase    time.Duration
	ReconnectDelay time.Duration
}

// ConsumerConfigFor собирает ConsumerConfig для очереди из общей конфигурации RabbitMQ
func ConsumerConfigFor(cfg Config, queue, tag string) ConsumerConfig {
	return ConsumerConfig{
		Queue:          queue,
		ConsumerTag:    tag,
		Prefetch:       cfg.Prefetch,
		MaxAttempts:    cfg.RetryMaxAttempts,
		BackoffBase:    cfg.RetryBackoffBase,
		ReconnectDelay: cfg.ReconnectDelay,
	}
}

// subscribeFunc открывает подписку: канал доставок и функция закрытия AMQP-канала
type subscribeFunc func() (<-chan amqp.Delivery, func() error, error)

// Consumer читает одну очередь в отдельной горутине и раздаёт события handler-ам по типу.
// Сообщение подтверждается (ack) только после успешной обработки или отправки в DLQ.
type Consumer struct {
	logger   *zap.Logger
	service  string
	cfg      ConsumerConfig
	handlers map[events.Type]HandlerFunc
	sink     DeadLetterSink
	metrics  *metrics.Metrics

	subscribe subscribeFunc
	sleep     func(ctx context.Context, d time.Duration) error

	started  atomic.Bool
	stopping chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewConsumer создаёт consumer для очереди cfg.Queue.
// sink может быть nil: тогда сообщение после исчерпания ретраев уходит в DLQ через dead-letter exchange брокера (nack без requeue).
func NewConsumer(conn *Connection, cfg ConsumerConfig, service string, logger *zap.Logger, sink DeadLetterSink, m *metrics.Metrics) *Consumer {
	c := newConsumer(nil, cfg, service, logger, sink, m)
	c.subscribe = func() (<-chan amqp.Delivery, func() error, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, nil, err
		}
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			return nil, nil, fmt.Errorf("%w: qos: %v", ErrBrokerUnavailable, err)
		}
		deliveries, err := ch.Consume(c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
		if err != nil {
			ch.Close()
			return nil, nil, fmt.Errorf("%w: consume %s: %v", ErrBrokerUnavailable, c.cfg.Queue, err)
		}
		return deliveries, ch.Close, nil
	}
	return c
}

func newConsumer(subscribe subscribeFunc, cfg ConsumerConfig, service string, logger *zap.Logger, sink DeadLetterSink, m *metrics.Metrics) *Consumer {
	// Safety defaults (на случай кривого env/config)
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = service
	}

	return &Consumer{
		logger:    logger.With(zap.String("queue", cfg.Queue)),
		service:   service,
		cfg:       cfg,
		handlers:  make(map[events.Type]HandlerFunc),
		sink:      sink,
		metrics:   m,
		subscribe: subscribe,
		sleep:     sleepContext,
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Handle регистрирует handler для типа события. Вызывать до Start.
func (c *Consumer) Handle(eventType events.Type, h HandlerFunc) {
	c.handlers[eventType] = h
}

// Start блокируется и обрабатывает сообщения, пока не отменён ctx или не вызван Stop.
// После обрыва канала подписка переоткрывается через ReconnectDelay.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("rabbitmq: consumer already started")
	}
	defer close(c.done)

	// runCtx отменяется и по ctx, и по Stop: им прерываются ожидания (backoff, reconnect)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopping:
			cancel()
		case <-runCtx.Done():
		}
	}()

	c.logger.Info("starting rabbitmq consumer",
		zap.Int("prefetch", c.cfg.Prefetch),
		zap.Int("max_retry_attempts", c.cfg.MaxAttempts),
		zap.Duration("backoff_base", c.cfg.BackoffBase),
	)

	for {
		deliveries, closeFn, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe to queue", zap.Error(err))
		} else {
			stopped := c.consume(runCtx, deliveries)
			if closeErr := closeFn(); closeErr != nil && !errors.Is(closeErr, amqp.ErrClosed) {
				c.logger.Warn("failed to close consumer channel", zap.Error(closeErr))
			}
			if stopped {
				c.logger.Info("consumer stopped")
				return nil
			}
			c.logger.Warn("delivery channel closed, resubscribing",
				zap.Duration("delay", c.cfg.ReconnectDelay),
			)
		}

		if err := c.sleep(runCtx, c.cfg.ReconnectDelay); err != nil {
			c.logger.Info("consumer stopped")
			return nil
		}
	}
}

// consume читает доставки до остановки (true) или закрытия канала (false).
// Текущее сообщение всегда дообрабатывается до конца.
func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-deliveries:
			if !ok {
				return ctx.Err() != nil
			}
			c.processDelivery(ctx, d)
		}
	}
}

// Stop прекращает приём новых сообщений и ждёт завершения обработки текущего
func (c *Consumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopping) })
	if !c.started.Load() {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processDelivery обрабатывает одну доставку и подтверждает её.
// Возвращает исход для метрик.
func (c *Consumer) processDelivery(ctx context.Context, d amqp.Delivery) string {
	env, err := events.Decode(d.Body)
	if err != nil {
		c.logger.Error("failed to decode event envelope - sending to DLQ",
			zap.Error(err),
			zap.String("routing_key", d.RoutingKey),
			zap.String("message_id", d.MessageId),
		)
		return c.deadLetter(ctx, d, env, err, 0)
	}

	handler, ok := c.handlers[env.EventType]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)
		c.logger.Error("no handler for event type - sending to DLQ",
			zap.String("event_type", string(env.EventType)),
			zap.String("correlation_id", env.CorrelationID),
		)
		return c.deadLetter(ctx, d, env, err, 0)
	}

	spanCtx, span := observability.StartConsumeSpan(ctx, c.service, c.cfg.Queue, d)
	defer span.End()

	log := observability.EventLogger(spanCtx, c.logger, env)
	log.Info("received event", zap.String("routing_key", d.RoutingKey))

	attempts, err := c.handleWithRetry(spanCtx, log, handler, env)
	if err == nil {
		c.ack(d, env)
		c.metrics.ObserveConsumed(c.cfg.Queue, string(env.EventType), metrics.ResultAcked)
		log.Info("event processed successfully", zap.Int("attempts", attempts))
		return metrics.ResultAcked
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if ctx.Err() != nil && !IsPermanent(err) && attempts < c.cfg.MaxAttempts {
		// остановка во время backoff: вернуть сообщение в очередь, его дообработает следующий consumer
		log.Warn("consumer stopping, requeueing event", zap.Error(err), zap.Int("attempts", attempts))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack delivery", zap.Error(nackErr))
		}
		c.metrics.ObserveConsumed(c.cfg.Queue, string(env.EventType), metrics.ResultRequeued)
		return metrics.ResultRequeued
	}

	log.Error("failed to handle event - sending to DLQ", zap.Error(err), zap.Int("attempts", attempts))
	dlqErr := &ProcessingError{
		Message:  "failed after all retry attempts",
		Attempts: attempts,
		Err:      err,
	}
	if IsPermanent(err) {
		dlqErr.Message = "permanent failure"
	}
	return c.deadLetter(ctx, d, env, dlqErr, attempts)
}

// handleWithRetry вызывает handler до MaxAttempts раз с экспоненциальным backoff: base, 2*base, 4*base...
// Возвращает число сделанных попыток и последнюю ошибку.
func (c *Consumer) handleWithRetry(ctx context.Context, log *zap.Logger, h HandlerFunc, env events.Envelope) (int, error) {
	// handler дорабатывает даже во время остановки; отменяется только ожидание между попытками
	handlerCtx := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.cfg.BackoffBase * time.Duration(1<<uint(attempt-2))
			log.Info("retrying event",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.cfg.MaxAttempts),
				zap.Duration("backoff", backoff),
			)
			if err := c.sleep(ctx, backoff); err != nil {
				return attempt - 1, lastErr
			}
		}

		start := time.Now()
		err := c.invoke(handlerCtx, h, env)
		c.metrics.ObserveHandled(c.cfg.Queue, string(env.EventType), time.Since(start))
		if err == nil {
			return attempt, nil
		}

		lastErr = err
		var parseErr *events.ParseError
		if errors.As(err, &parseErr) {
			lastErr = Permanent(err)
		}
		if IsPermanent(lastErr) {
			log.Warn("permanent handler error, not retrying", zap.Error(err), zap.Int("attempt", attempt))
			return attempt, lastErr
		}

		log.Warn("failed to handle event",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
		)
		if attempt < c.cfg.MaxAttempts {
			c.metrics.ObserveConsumed(c.cfg.Queue, string(env.EventType), metrics.ResultRetried)
		}
	}

	log.Error("exhausted all retry attempts", zap.Error(lastErr), zap.Int("max_attempts", c.cfg.MaxAttempts))
	return c.cfg.MaxAttempts, lastErr
}

// invoke вызывает handler, превращая panic в ошибку
func (c *Consumer) invoke(ctx context.Context, h HandlerFunc, env events.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, env)
}

// deadLetter отправляет сообщение в sink и подтверждает его.
// Если sink недоступен, nack без requeue: брокер сам перекинет сообщение в DLX.
func (c *Consumer) deadLetter(ctx context.Context, d amqp.Delivery, env events.Envelope, cause error, attempts int) string {
	eventType := string(env.EventType)
	if eventType == "" {
		eventType = "unknown"
	}
	defer c.metrics.ObserveConsumed(c.cfg.Queue, eventType, metrics.ResultDeadLettered)

	if c.sink != nil {
		dl := DeadLetter{
			Queue:         c.cfg.Queue,
			RoutingKey:    d.RoutingKey,
			Body:          d.Body,
			Err:           cause,
			Attempts:      attempts,
			EventType:     string(env.EventType),
			EventID:       env.EventID,
			CorrelationID: env.CorrelationID,
			FailedAt:      time.Now().UTC(),
		}
		err := c.sink.Send(context.WithoutCancel(ctx), dl)
		if err == nil {
			c.ack(d, env)
			return metrics.ResultDeadLettered
		}
		c.logger.Error("failed to send message to DLQ, falling back to broker dead-lettering",
			zap.Error(err),
			zap.String("correlation_id", env.CorrelationID),
		)
	}

	if err := d.Nack(false, false); err != nil {
		c.logger.Error("failed to nack delivery", zap.Error(err), zap.String("correlation_id", env.CorrelationID))
	}
	return metrics.ResultDeadLettered
}

func (c *Consumer) ack(d amqp.Delivery, env events.Envelope) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack delivery", append(observability.EventFields(env), zap.Error(err))...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

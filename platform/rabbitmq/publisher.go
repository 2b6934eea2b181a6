package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/platform/metrics"
	"github.com/shestoi/orderflow/platform/observability"
)

// confirmation ожидание publisher confirm от брокера
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// publishChannel подмножество канала, которое нужно publisher-у
type publishChannel interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	IsClosed() bool
	Close() error
}

// confirmChannel адаптер *amqp.Channel в режиме publisher confirms
type confirmChannel struct {
	*amqp.Channel
}

func (c confirmChannel) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, nil
	}
	return dc, nil
}

// Publisher публикует конверты событий в topic exchange.
// Безопасен для конкурентного использования: канал AMQP не потокобезопасен, доступ под mutex.
type Publisher struct {
	logger   *zap.Logger
	service  string
	exchange string
	timeout  time.Duration
	metrics  *metrics.Metrics

	mu   sync.Mutex
	ch   publishChannel
	open func() (publishChannel, error)
}

// NewPublisher создаёт publisher поверх соединения сервиса.
// Канал открывается лениво и переоткрывается после обрыва.
func NewPublisher(conn *Connection, cfg Config, service string, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	open := func() (publishChannel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("%w: enable confirms: %v", ErrBrokerUnavailable, err)
		}
		return confirmChannel{Channel: ch}, nil
	}
	return newPublisher(open, cfg.Exchange, cfg.PublishTimeout, service, logger, m)
}

func newPublisher(open func() (publishChannel, error), exchange string, timeout time.Duration, service string, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		logger:   logger,
		service:  service,
		exchange: exchange,
		timeout:  timeout,
		metrics:  m,
		open:     open,
	}
}

// Publish собирает конверт и отправляет его с routing key "<origin>.<event.type>".
// Возвращает ошибку, если брокер недоступен или не подтвердил сообщение:
// вызывающий обязан вернуть её наверх, а не считать событие отправленным.
func (p *Publisher) Publish(ctx context.Context, eventType events.Type, correlationID string, payload any) error {
	env, err := events.New(eventType, correlationID, payload)
	if err != nil {
		return err
	}
	return p.PublishEnvelope(ctx, env)
}

// PublishEnvelope отправляет готовый конверт
func (p *Publisher) PublishEnvelope(ctx context.Context, env events.Envelope) error {
	key, ok := events.RoutingKeyFor(env.EventType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)
	}

	body, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	ctx, span := observability.StartPublishSpan(ctx, p.service, p.exchange, key)
	defer span.End()

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.EventID,
		CorrelationId: env.CorrelationID,
		Type:          string(env.EventType),
		Timestamp:     env.EmittedAt,
		AppId:         p.service,
		Headers:       observability.InjectAMQP(ctx, nil),
		Body:          body,
	}

	err = p.PublishRaw(ctx, p.exchange, key, msg)
	p.metrics.ObservePublished(string(env.EventType), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.EventLogger(ctx, p.logger, env).Error("failed to publish event",
			zap.Error(err),
			zap.String("routing_key", key),
		)
		return err
	}

	observability.EventLogger(ctx, p.logger, env).Info("event published", zap.String("routing_key", key))
	return nil
}

// PublishRaw отправляет произвольное сообщение и ждёт подтверждения брокера
func (p *Publisher) PublishRaw(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}

	confirm, err := ch.publish(ctx, exchange, key, msg)
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("%w: publish: %v", ErrBrokerUnavailable, err)
	}
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		// канал мог остаться в неизвестном состоянии, следующий publish откроет новый
		p.resetLocked()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %v", ErrPublishNotConfirmed, err)
		}
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	if !acked {
		return ErrPublishNotConfirmed
	}
	return nil
}

func (p *Publisher) channelLocked() (publishChannel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}

// Close закрывает канал publisher-а (соединение закрывает владелец)
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Connection долгоживущее AMQP соединение сервиса.
// Одно на процесс: publisher и consumer берут из него свои каналы.
// При обрыве соединение восстанавливается в фоне; пока его нет, Channel возвращает ErrBrokerUnavailable.
type Connection struct {
	url            string
	name           string
	logger         *zap.Logger
	reconnectDelay time.Duration

	mu   sync.RWMutex
	conn *amqp.Connection

	done      chan struct{}
	closeOnce sync.Once
}

// Dial устанавливает соединение, делая до cfg.DialAttempts попыток (брокер может подниматься позже сервиса)
func Dial(ctx context.Context, cfg Config, name string, logger *zap.Logger) (*Connection, error) {
	c := &Connection{
		url:            cfg.URL,
		name:           name,
		logger:         logger,
		reconnectDelay: cfg.ReconnectDelay,
		done:           make(chan struct{}),
	}
	if c.reconnectDelay <= 0 {
		c.reconnectDelay = 2 * time.Second
	}

	attempts := cfg.DialAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := c.dial()
		if err == nil {
			c.conn = conn
			go c.watch(conn)
			logger.Info("connected to rabbitmq", zap.Int("attempt", attempt))
			return c, nil
		}

		lastErr = err
		logger.Warn("failed to connect to rabbitmq",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
		)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, lastErr)
}

func (c *Connection) dial() (*amqp.Connection, error) {
	return amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Properties: amqp.Table{"connection_name": c.name},
	})
}

// watch ждёт закрытия соединения и переподключается, пока не вызван Close
func (c *Connection) watch(conn *amqp.Connection) {
	for {
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.done:
			return
		case amqpErr, ok := <-closed:
			if !ok {
				// штатное закрытие через Close
				return
			}
			c.logger.Error("rabbitmq connection lost", zap.String("reason", amqpErr.Error()))
		}

		next, ok := c.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

func (c *Connection) reconnect() (*amqp.Connection, bool) {
	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(c.reconnectDelay):
		}

		conn, err := c.dial()
		if err != nil {
			c.logger.Warn("rabbitmq reconnect failed", zap.Error(err), zap.Int("attempt", attempt))
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("rabbitmq connection restored", zap.Int("attempt", attempt))
		return conn, true
	}
}

// Channel открывает новый канал; вызывающий отвечает за его закрытие
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrBrokerUnavailable
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", ErrBrokerUnavailable, err)
	}
	return ch, nil
}

// Ping проверка готовности для /health
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.conn.IsClosed() {
		return ErrBrokerUnavailable
	}
	return nil
}

// Close закрывает соединение и останавливает переподключение
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil && !c.conn.IsClosed() {
			err = c.conn.Close()
		}
	})
	return err
}

package rabbitmq

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Republisher переопубликовывает OrderCreated для заказов, публикация которых не прошла
type Republisher interface {
	RepublishUnpublished(ctx context.Context, minAge time.Duration, limit int) (int, error)
}

// OutboxDispatcher периодически догоняет заказы, оставшиеся без OrderCreated
// (брокер был недоступен во время checkout). Без него такой заказ висел бы в pending навсегда.
type OutboxDispatcher struct {
	logger    *zap.Logger
	svc       Republisher
	interval  time.Duration
	minAge    time.Duration
	batchSize int
}

// NewOutboxDispatcher создаёт dispatcher
func NewOutboxDispatcher(logger *zap.Logger, svc Republisher, interval, minAge time.Duration, batchSize int) *OutboxDispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OutboxDispatcher{
		logger:    logger,
		svc:       svc,
		interval:  interval,
		minAge:    minAge,
		batchSize: batchSize,
	}
}

// Start блокируется до отмены ctx
func (d *OutboxDispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting outbox dispatcher",
		zap.Int("batch_size", d.batchSize),
		zap.Duration("interval", d.interval),
		zap.Duration("min_age", d.minAge),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// Обрабатываем сразу при старте: заказы могли остаться с прошлого запуска
	d.processBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher context cancelled, stopping")
			return nil
		case <-ticker.C:
			d.processBatch(ctx)
		}
	}
}

func (d *OutboxDispatcher) processBatch(ctx context.Context) {
	n, err := d.svc.RepublishUnpublished(ctx, d.minAge, d.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.logger.Warn("failed to republish pending order events", zap.Error(err), zap.Int("published", n))
		return
	}
	if n > 0 {
		d.logger.Info("republished pending order events", zap.Int("count", n))
	}
}

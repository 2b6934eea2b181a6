package service

import (
	"context"

	"github.com/shestoi/orderflow/platform/events"
)

// EventPublisher публикует события Order Service в брокер.
// Ошибка означает, что событие не доставлено в брокер: вызывающий не должен считать его отправленным.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, payload events.OrderCreatedPayload) error
}

// MetricsRecorder записывает время обработки заказа (order_processing_duration_ms)
type MetricsRecorder interface {
	RecordProcessingDuration(ctx context.Context, durationMs int64, status string)
}

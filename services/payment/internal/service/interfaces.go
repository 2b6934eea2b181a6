package service

import (
	"context"

	"github.com/shestoi/orderflow/platform/events"
)

// EventPublisher публикует исход оплаты
type EventPublisher interface {
	PublishPaymentProcessed(ctx context.Context, payload events.PaymentProcessedPayload) error
}

package rabbitmq

import (
	"context"

	"github.com/shestoi/orderflow/platform/events"
)

type envelopePublisher interface {
	Publish(ctx context.Context, eventType events.Type, correlationID string, payload any) error
}

// PaymentEventPublisher публикует PaymentProcessed с correlation id = order id
type PaymentEventPublisher struct {
	publisher envelopePublisher
}

// NewPaymentEventPublisher создаёт publisher событий оплаты
func NewPaymentEventPublisher(publisher envelopePublisher) *PaymentEventPublisher {
	return &PaymentEventPublisher{publisher: publisher}
}

// PublishPaymentProcessed отправляет событие с routing key payment.payment.processed
func (p *PaymentEventPublisher) PublishPaymentProcessed(ctx context.Context, payload events.PaymentProcessedPayload) error {
	return p.publisher.Publish(ctx, events.PaymentProcessed, payload.OrderID, payload)
}

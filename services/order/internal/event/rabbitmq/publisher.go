package rabbitmq

import (
	"context"

	"github.com/shestoi/orderflow/platform/events"
)

// envelopePublisher подмножество platform/rabbitmq.Publisher
type envelopePublisher interface {
	Publish(ctx context.Context, eventType events.Type, correlationID string, payload any) error
}

// OrderEventPublisher публикует события заказа; correlation id = order id
type OrderEventPublisher struct {
	publisher envelopePublisher
}

// NewOrderEventPublisher создаёт publisher событий заказа
func NewOrderEventPublisher(publisher envelopePublisher) *OrderEventPublisher {
	return &OrderEventPublisher{publisher: publisher}
}

// PublishOrderCreated отправляет OrderCreated с routing key order.order.created
func (p *OrderEventPublisher) PublishOrderCreated(ctx context.Context, payload events.OrderCreatedPayload) error {
	return p.publisher.Publish(ctx, events.OrderCreated, payload.OrderID, payload)
}

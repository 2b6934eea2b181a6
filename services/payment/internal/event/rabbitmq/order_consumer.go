package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/shestoi/orderflow/platform/events"
	platformrabbitmq "github.com/shestoi/orderflow/platform/rabbitmq"
	"github.com/shestoi/orderflow/services/payment/internal/service"
)

// OrderCreatedService обработчик новых заказов
type OrderCreatedService interface {
	HandleOrderCreated(ctx context.Context, event service.OrderCreatedEvent) error
}

// RegisterHandlers подписывает Payment Service на OrderCreated в payment_service_queue
func RegisterHandlers(consumer *platformrabbitmq.Consumer, svc OrderCreatedService) {
	consumer.Handle(events.OrderCreated, OrderCreatedHandler(svc))
}

// OrderCreatedHandler разбирает payload OrderCreated и запускает оплату
func OrderCreatedHandler(svc OrderCreatedService) platformrabbitmq.HandlerFunc {
	return func(ctx context.Context, env events.Envelope) error {
		var payload events.OrderCreatedPayload
		if err := events.DecodePayload(env, &payload); err != nil {
			return err
		}

		orderID := payload.OrderID
		if orderID == "" {
			orderID = env.CorrelationID
		}
		if orderID != env.CorrelationID {
			return platformrabbitmq.Permanent(fmt.Errorf("payload order id %q does not match correlation id %q", orderID, env.CorrelationID))
		}

		err := svc.HandleOrderCreated(ctx, service.OrderCreatedEvent{
			OrderID:   orderID,
			UserID:    payload.UserID,
			UserEmail: payload.UserEmail,
			Amount:    payload.TotalAmount,
		})
		if errors.Is(err, service.ErrInvalidEvent) {
			return platformrabbitmq.Permanent(err)
		}
		return err
	}
}

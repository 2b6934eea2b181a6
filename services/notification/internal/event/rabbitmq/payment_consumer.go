package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/shestoi/orderflow/platform/events"
	platformrabbitmq "github.com/shestoi/orderflow/platform/rabbitmq"
	"github.com/shestoi/orderflow/services/notification/internal/service"
)

// PaymentProcessedService получатель исходов оплаты
type PaymentProcessedService interface {
	HandlePaymentProcessed(ctx context.Context, event service.PaymentProcessedEvent) error
}

// RegisterHandlers подписывает Notification Service на PaymentProcessed в email_service_queue
func RegisterHandlers(consumer *platformrabbitmq.Consumer, svc PaymentProcessedService) {
	consumer.Handle(events.PaymentProcessed, PaymentProcessedHandler(svc))
}

// PaymentProcessedHandler переводит envelope в service.PaymentProcessedEvent
func PaymentProcessedHandler(svc PaymentProcessedService) platformrabbitmq.HandlerFunc {
	return func(ctx context.Context, env events.Envelope) error {
		var payload events.PaymentProcessedPayload
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

		err := svc.HandlePaymentProcessed(ctx, service.PaymentProcessedEvent{
			OrderID:       orderID,
			PaymentID:     payload.PaymentID,
			UserID:        payload.UserID,
			UserEmail:     payload.UserEmail,
			Amount:        payload.Amount,
			Status:        payload.Status,
			TransactionID: payload.TransactionID,
			Reason:        payload.Reason,
		})
		if errors.Is(err, service.ErrInvalidEvent) {
			return platformrabbitmq.Permanent(err)
		}
		return err
	}
}

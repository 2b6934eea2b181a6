package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shestoi/orderflow/platform/events"
	platformrabbitmq "github.com/shestoi/orderflow/platform/rabbitmq"
	"github.com/shestoi/orderflow/services/payment/internal/service"
)

type mockEnvelopePublisher struct {
	mock.Mock
}

func (m *mockEnvelopePublisher) Publish(ctx context.Context, eventType events.Type, correlationID string, payload any) error {
	return m.Called(ctx, eventType, correlationID, payload).Error(0)
}

type mockOrderService struct {
	mock.Mock
}

func (m *mockOrderService) HandleOrderCreated(ctx context.Context, event service.OrderCreatedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func TestPaymentEventPublisher(t *testing.T) {
	ctx := context.Background()
	pub := &mockEnvelopePublisher{}
	payload := events.PaymentProcessedPayload{OrderID: "order-1", Status: events.PaymentStatusFailed, Reason: "insufficient_funds"}
	pub.On("Publish", ctx, events.PaymentProcessed, "order-1", payload).Return(nil).Once()

	require.NoError(t, NewPaymentEventPublisher(pub).PublishPaymentProcessed(ctx, payload))
	pub.AssertExpectations(t)
}

func TestOrderCreatedHandler(t *testing.T) {
	ctx := context.Background()

	newEnv := func(t *testing.T, corrID string, payload events.OrderCreatedPayload) events.Envelope {
		env, err := events.New(events.OrderCreated, corrID, payload)
		require.NoError(t, err)
		return env
	}

	t.Run("maps payload", func(t *testing.T) {
		svc := &mockOrderService{}
		svc.On("HandleOrderCreated", ctx, service.OrderCreatedEvent{
			OrderID: "order-1", UserID: "user-1", UserEmail: "u@example.com", Amount: 10000,
		}).Return(nil).Once()

		env := newEnv(t, "order-1", events.OrderCreatedPayload{OrderID: "order-1", UserID: "user-1", UserEmail: "u@example.com", TotalAmount: 10000})
		require.NoError(t, OrderCreatedHandler(svc)(ctx, env))
		svc.AssertExpectations(t)
	})

	t.Run("mismatched ids are permanent", func(t *testing.T) {
		svc := &mockOrderService{}
		env := newEnv(t, "order-1", events.OrderCreatedPayload{OrderID: "order-2", TotalAmount: 1})

		assert.True(t, platformrabbitmq.IsPermanent(OrderCreatedHandler(svc)(ctx, env)))
		svc.AssertNotCalled(t, "HandleOrderCreated", mock.Anything, mock.Anything)
	})

	t.Run("bad payload is a parse error", func(t *testing.T) {
		svc := &mockOrderService{}
		env := events.Envelope{EventType: events.OrderCreated, CorrelationID: "order-1", Payload: json.RawMessage(`[1,2]`)}

		var parseErr *events.ParseError
		assert.ErrorAs(t, OrderCreatedHandler(svc)(ctx, env), &parseErr)
	})

	t.Run("transient service error stays retryable", func(t *testing.T) {
		svc := &mockOrderService{}
		svc.On("HandleOrderCreated", ctx, mock.Anything).Return(errors.New("broker unavailable")).Once()

		err := OrderCreatedHandler(svc)(ctx, newEnv(t, "order-1", events.OrderCreatedPayload{OrderID: "order-1", TotalAmount: 1}))
		require.Error(t, err)
		assert.False(t, platformrabbitmq.IsPermanent(err))
	})
}

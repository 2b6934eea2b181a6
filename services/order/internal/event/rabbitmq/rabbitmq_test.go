package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/events"
	platformrabbitmq "github.com/shestoi/orderflow/platform/rabbitmq"
	"github.com/shestoi/orderflow/services/order/internal/service"
)

type mockEnvelopePublisher struct {
	mock.Mock
}

func (m *mockEnvelopePublisher) Publish(ctx context.Context, eventType events.Type, correlationID string, payload any) error {
	return m.Called(ctx, eventType, correlationID, payload).Error(0)
}

type mockPaymentService struct {
	mock.Mock
}

func (m *mockPaymentService) HandlePaymentProcessed(ctx context.Context, event service.PaymentProcessedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func envelope(t *testing.T, corrID string, payload any) events.Envelope {
	t.Helper()
	env, err := events.New(events.PaymentProcessed, corrID, payload)
	require.NoError(t, err)
	return env
}

func TestOrderEventPublisher_UsesOrderIDAsCorrelationID(t *testing.T) {
	ctx := context.Background()
	pub := &mockEnvelopePublisher{}
	payload := events.OrderCreatedPayload{OrderID: "order-1", TotalAmount: 10000}
	pub.On("Publish", ctx, events.OrderCreated, "order-1", payload).Return(nil).Once()

	require.NoError(t, NewOrderEventPublisher(pub).PublishOrderCreated(ctx, payload))
	pub.AssertExpectations(t)
}

func TestPaymentProcessedHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("maps payload to service event", func(t *testing.T) {
		svc := &mockPaymentService{}
		svc.On("HandlePaymentProcessed", ctx, service.PaymentProcessedEvent{
			OrderID:       "order-1",
			PaymentID:     "pay-1",
			Status:        events.PaymentStatusCompleted,
			TransactionID: "TXN-ABC",
		}).Return(nil).Once()

		env := envelope(t, "order-1", events.PaymentProcessedPayload{
			PaymentID: "pay-1", OrderID: "order-1", Status: events.PaymentStatusCompleted, TransactionID: "TXN-ABC",
		})
		require.NoError(t, PaymentProcessedHandler(svc)(ctx, env))
		svc.AssertExpectations(t)
	})

	t.Run("order id falls back to correlation id", func(t *testing.T) {
		svc := &mockPaymentService{}
		svc.On("HandlePaymentProcessed", ctx, mock.MatchedBy(func(e service.PaymentProcessedEvent) bool {
			return e.OrderID == "order-2"
		})).Return(nil).Once()

		env := envelope(t, "order-2", events.PaymentProcessedPayload{Status: events.PaymentStatusFailed})
		require.NoError(t, PaymentProcessedHandler(svc)(ctx, env))
		svc.AssertExpectations(t)
	})

	t.Run("mismatched ids are permanent", func(t *testing.T) {
		svc := &mockPaymentService{}
		env := envelope(t, "order-1", events.PaymentProcessedPayload{OrderID: "order-9", Status: events.PaymentStatusFailed})

		err := PaymentProcessedHandler(svc)(ctx, env)
		assert.True(t, platformrabbitmq.IsPermanent(err))
		svc.AssertNotCalled(t, "HandlePaymentProcessed", mock.Anything, mock.Anything)
	})

	t.Run("broken payload is a parse error", func(t *testing.T) {
		svc := &mockPaymentService{}
		env := events.Envelope{EventType: events.PaymentProcessed, CorrelationID: "order-1", Payload: json.RawMessage(`"oops"`)}

		err := PaymentProcessedHandler(svc)(ctx, env)
		var parseErr *events.ParseError
		assert.ErrorAs(t, err, &parseErr)
	})

	t.Run("unknown outcome is permanent, storage error is transient", func(t *testing.T) {
		svc := &mockPaymentService{}
		svc.On("HandlePaymentProcessed", ctx, mock.MatchedBy(func(e service.PaymentProcessedEvent) bool { return e.Status == "refunded" })).
			Return(service.ErrUnknownOutcome).Once()
		svc.On("HandlePaymentProcessed", ctx, mock.MatchedBy(func(e service.PaymentProcessedEvent) bool { return e.Status == "completed" })).
			Return(errors.New("db down")).Once()

		err := PaymentProcessedHandler(svc)(ctx, envelope(t, "order-1", events.PaymentProcessedPayload{OrderID: "order-1", Status: "refunded"}))
		assert.True(t, platformrabbitmq.IsPermanent(err))

		err = PaymentProcessedHandler(svc)(ctx, envelope(t, "order-1", events.PaymentProcessedPayload{OrderID: "order-1", Status: "completed"}))
		require.Error(t, err)
		assert.False(t, platformrabbitmq.IsPermanent(err))
	})
}

type fakeRepublisher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRepublisher) RepublishUnpublished(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	f.calls.Add(1)
	return 0, f.err
}

func TestOutboxDispatcher_RunsUntilCancelled(t *testing.T) {
	rep := &fakeRepublisher{err: errors.New("broker unavailable")}
	d := NewOutboxDispatcher(zap.NewNop(), rep, 5*time.Millisecond, time.Second, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return rep.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

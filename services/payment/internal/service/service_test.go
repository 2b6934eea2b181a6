package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/services/payment/internal/gateway"
	"github.com/shestoi/orderflow/services/payment/internal/repository"
	"github.com/shestoi/orderflow/services/payment/internal/repository/memory"
	repomocks "github.com/shestoi/orderflow/services/payment/internal/repository/mocks"
	"github.com/shestoi/orderflow/services/payment/internal/service/mocks"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestService(repo repository.PaymentRepository, gw gateway.Gateway, pub EventPublisher) (*PaymentService, *[]time.Duration) {
	svc := NewPaymentService(zap.NewNop(), repo, gw, pub, Options{
		GatewayTimeout:     time.Second,
		GatewayMaxAttempts: 3,
		GatewayBackoff:     100 * time.Millisecond,
	})
	svc.now = func() time.Time { return fixedNow }
	svc.newID = func() string { return "pay-1" }

	sleeps := &[]time.Duration{}
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return svc, sleeps
}

var orderCreated = OrderCreatedEvent{OrderID: "order-1", UserID: "user-1", UserEmail: "user@example.com", Amount: 10000}

func TestPaymentService_HandleOrderCreated(t *testing.T) {
	ctx := context.Background()

	t.Run("approved charge completes payment and publishes completed", func(t *testing.T) {
		repo := memory.NewMemoryRepository()
		gw := mocks.NewGateway(t)
		pub := mocks.NewEventPublisher(t)
		svc, _ := newTestService(repo, gw, pub)

		gw.On("Charge", mock.Anything, gateway.ChargeRequest{
			OrderID: "order-1", UserID: "user-1", Amount: 10000, IdempotencyKey: "order-1",
		}).Return(gateway.ChargeResult{Approved: true, TransactionID: "TXN-0123456789AB"}, nil).Once()
		pub.On("PublishPaymentProcessed", ctx, events.PaymentProcessedPayload{
			PaymentID:     "pay-1",
			OrderID:       "order-1",
			UserID:        "user-1",
			UserEmail:     "user@example.com",
			Amount:        10000,
			Status:        events.PaymentStatusCompleted,
			TransactionID: "TXN-0123456789AB",
		}).Return(nil).Once()

		require.NoError(t, svc.HandleOrderCreated(ctx, orderCreated))

		p, err := repo.GetByOrderID(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, p.Status)
	})

	t.Run("decline is a normal failed outcome", func(t *testing.T) {
		repo := memory.NewMemoryRepository()
		pub := mocks.NewEventPublisher(t)
		svc, _ := newTestService(repo, gateway.NewFakeGateway(0, 0), pub)

		pub.On("PublishPaymentProcessed", ctx, mock.MatchedBy(func(p events.PaymentProcessedPayload) bool {
			return p.Status == events.PaymentStatusFailed && p.Reason == gateway.DeclineInsufficientFunds && p.TransactionID == ""
		})).Return(nil).Once()

		require.NoError(t, svc.HandleOrderCreated(ctx, orderCreated))

		p, err := repo.GetByOrderID(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusFailed, p.Status)
		assert.Equal(t, gateway.DeclineInsufficientFunds, p.FailureReason)
	})

	t.Run("replayed OrderCreated charges once and republishes the same outcome", func(t *testing.T) {
		repo := memory.NewMemoryRepository()
		gw := mocks.NewGateway(t)
		pub := mocks.NewEventPublisher(t)
		svc, _ := newTestService(repo, gw, pub)

		gw.On("Charge", mock.Anything, mock.Anything).
			Return(gateway.ChargeResult{Approved: true, TransactionID: "TXN-1"}, nil).Once()
		pub.On("PublishPaymentProcessed", ctx, mock.MatchedBy(func(p events.PaymentProcessedPayload) bool {
			return p.PaymentID == "pay-1" && p.TransactionID == "TXN-1"
		})).Return(nil).Twice()

		require.NoError(t, svc.HandleOrderCreated(ctx, orderCreated))
		svc.newID = func() string { return "pay-2" }
		require.NoError(t, svc.HandleOrderCreated(ctx, orderCreated))

		_, err := repo.GetByOrderID(ctx, "order-1")
		require.NoError(t, err)
	})

	t.Run("non-positive amount fails without calling gateway", func(t *testing.T) {
		repo := memory.NewMemoryRepository()
		gw := mocks.NewGateway(t)
		pub := mocks.NewEventPublisher(t)
		svc, _ := newTestService(repo, gw, pub)

		pub.On("PublishPaymentProcessed", ctx, mock.MatchedBy(func(p events.PaymentProcessedPayload) bool {
			return p.Status == events.PaymentStatusFailed && p.Reason == ReasonInvalidAmount
		})).Return(nil).Once()

		event := orderCreated
		event.Amount = 0
		require.NoError(t, svc.HandleOrderCreated(ctx, event))
		gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
	})

	t.Run("gateway retried with own backoff, then recovers", func(t *testing.T) {
		repo := memory.NewMemoryRepository()
		gw := mocks.NewGateway(t)
		pub := mocks.NewEventPublisher(t)
		svc, sleeps := newTestService(repo, gw, pub)

		gw.On("Charge", mock.Anything, mock.Anything).Return(gateway.ChargeResult{}, gateway.ErrUnavailable).Twice()
		gw.On("Charge", mock.Anything, mock.Anything).Return(gateway.ChargeResult{Approved: true, TransactionID: "TXN-2"}, nil).Once()
		pub.On("PublishPaymentProcessed", ctx, mock.MatchedBy(func(p events.PaymentProcessedPayload) bool {
			return p.Status == events.PaymentStatusCompleted
		})).Return(nil).Once()

		require.NoError(t, svc.HandleOrderCreated(ctx, orderCreated))
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *sleeps)
	})

	t.Run("gateway never answers: payment failed, pipeline not stalled", func(t *testing.T) {
		repo := memory.NewMemoryRepository()
		gw := mocks.NewGateway(t)
		pub := mocks.NewEventPublisher(t)
		svc, _ := newTestService(repo, gw, pub)

		gw.On("Charge", mock.Anything, mock.Anything).Return(gateway.ChargeResult{}, gateway.ErrUnavailable).Times(3)
		pub.On("PublishPaymentProcessed", ctx, mock.MatchedBy(func(p events.PaymentProcessedPayload) bool {
			return p.Status == events.PaymentStatusFailed && p.Reason == ReasonGatewayUnavailable
		})).Return(nil).Once()

		require.NoError(t, svc.HandleOrderCreated(ctx, orderCreated))
	})

	t.Run("gateway never answers: unknown outcome logged for reconciliation", func(t *testing.T) {
		gw := mocks.NewGateway(t)
		pub := mocks.NewEventPublisher(t)
		svc, _ := newTestService(memory.NewMemoryRepository(), gw, pub)
		core, logs := observer.New(zap.ErrorLevel)
		svc.logger = zap.New(core)

		gw.On("Charge", mock.Anything, mock.Anything).Return(gateway.ChargeResult{}, gateway.ErrUnavailable).Times(3)
		pub.On("PublishPaymentProcessed", ctx, mock.Anything).Return(nil).Once()

		require.NoError(t, svc.HandleOrderCreated(ctx, orderCreated))

		entries := logs.FilterField(zap.Bool("reconcile", true)).All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "pay-1", fields["payment_id"])
		assert.Equal(t, "order-1", fields["idempotency_key"])
		assert.Equal(t, "order-1", fields["order_id"])
		assert.Equal(t, "100.00", fields["amount"])
	})

	t.Run("publish failure is returned, redelivery republishes without recharge", func(t *testing.T) {
		repo := memory.NewMemoryRepository()
		gw := mocks.NewGateway(t)
		pub := mocks.NewEventPublisher(t)
		svc, _ := newTestService(repo, gw, pub)

		gw.On("Charge", mock.Anything, mock.Anything).Return(gateway.ChargeResult{Approved: true, TransactionID: "TXN-3"}, nil).Once()
		pub.On("PublishPaymentProcessed", ctx, mock.Anything).Return(errors.New("broker unavailable")).Once()
		pub.On("PublishPaymentProcessed", ctx, mock.Anything).Return(nil).Once()

		err := svc.HandleOrderCreated(ctx, orderCreated)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publish PaymentProcessed")

		require.NoError(t, svc.HandleOrderCreated(ctx, orderCreated))
	})

	t.Run("storage error is returned and nothing is published", func(t *testing.T) {
		repo := repomocks.NewPaymentRepository(t)
		gw := mocks.NewGateway(t)
		pub := mocks.NewEventPublisher(t)
		svc, _ := newTestService(repo, gw, pub)

		repo.On("CreatePending", ctx, mock.Anything).Return(repository.Payment{}, false, errors.New("db down")).Once()

		err := svc.HandleOrderCreated(ctx, orderCreated)
		require.Error(t, err)
		pub.AssertNotCalled(t, "PublishPaymentProcessed", mock.Anything, mock.Anything)
	})

	t.Run("concurrent finisher wins: its outcome is published", func(t *testing.T) {
		repo := repomocks.NewPaymentRepository(t)
		gw := mocks.NewGateway(t)
		pub := mocks.NewEventPublisher(t)
		svc, _ := newTestService(repo, gw, pub)

		pending := repository.Payment{ID: "pay-1", OrderID: "order-1", UserID: "user-1", Amount: 10000, Status: repository.StatusPending}
		repo.On("CreatePending", ctx, mock.Anything).Return(pending, true, nil).Once()
		gw.On("Charge", mock.Anything, mock.Anything).Return(gateway.ChargeResult{Approved: true, TransactionID: "TXN-4"}, nil).Once()
		repo.On("Complete", ctx, "pay-1", "TXN-4", fixedNow).Return(repository.ErrNotPending).Once()

		finished := pending
		finished.Status = repository.StatusCompleted
		finished.TransactionID = "TXN-4"
		repo.On("GetByOrderID", ctx, "order-1").Return(finished, nil).Once()
		pub.On("PublishPaymentProcessed", ctx, mock.MatchedBy(func(p events.PaymentProcessedPayload) bool {
			return p.Status == events.PaymentStatusCompleted && p.TransactionID == "TXN-4"
		})).Return(nil).Once()

		require.NoError(t, svc.HandleOrderCreated(ctx, orderCreated))
	})

	t.Run("empty order id is rejected", func(t *testing.T) {
		svc, _ := newTestService(memory.NewMemoryRepository(), mocks.NewGateway(t), mocks.NewEventPublisher(t))
		assert.ErrorIs(t, svc.HandleOrderCreated(ctx, OrderCreatedEvent{}), ErrInvalidEvent)
	})
}

func TestPaymentService_GetByOrderID(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	svc, _ := newTestService(repo, mocks.NewGateway(t), mocks.NewEventPublisher(t))

	_, err := svc.GetByOrderID(ctx, "order-1")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, _, err = repo.CreatePending(ctx, repository.Payment{ID: "pay-1", OrderID: "order-1"})
	require.NoError(t, err)
	p, err := svc.GetByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", p.ID)
}

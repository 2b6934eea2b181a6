package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/platform/idempotency"
	"github.com/shestoi/orderflow/services/notification/internal/sender"
	"github.com/shestoi/orderflow/services/notification/internal/service/mocks"
	"github.com/shestoi/orderflow/services/notification/internal/templates"
)

func newRenderer(t *testing.T) *templates.Renderer {
	t.Helper()
	r, err := templates.NewRenderer()
	require.NoError(t, err)
	return r
}

func completedEvent() PaymentProcessedEvent {
	return PaymentProcessedEvent{
		OrderID:       "order-1",
		PaymentID:     "pay-1",
		UserID:        "user-1",
		UserEmail:     "u@example.com",
		Amount:        10000,
		Status:        events.PaymentStatusCompleted,
		TransactionID: "TXN-0A1B2C3D4E5F",
	}
}

func TestHandlePaymentProcessed_SendsConfirmation(t *testing.T) {
	ctx := context.Background()
	s := mocks.NewSender(t)
	s.On("Send", ctx, mock.MatchedBy(func(msg sender.Message) bool {
		return msg.To == "u@example.com" &&
			msg.Subject == "Order Confirmation #order-1" &&
			strings.Contains(msg.Body, "Total: $100.00")
	})).Return(nil).Once()

	svc := NewNotificationService(zap.NewNop(), idempotency.NewMemoryStore(), s, newRenderer(t), Options{})
	require.NoError(t, svc.HandlePaymentProcessed(ctx, completedEvent()))
}

func TestHandlePaymentProcessed_SendsFailureNotice(t *testing.T) {
	ctx := context.Background()
	s := mocks.NewSender(t)
	s.On("Send", ctx, mock.MatchedBy(func(msg sender.Message) bool {
		return msg.Subject == "Payment failed for order #order-1"
	})).Return(nil).Once()

	event := completedEvent()
	event.Status = events.PaymentStatusFailed
	event.TransactionID = ""
	event.Reason = "insufficient_funds"

	svc := NewNotificationService(zap.NewNop(), idempotency.NewMemoryStore(), s, newRenderer(t), Options{})
	require.NoError(t, svc.HandlePaymentProcessed(ctx, event))
}

func TestHandlePaymentProcessed_RedeliveryDoesNotDoubleSend(t *testing.T) {
	ctx := context.Background()
	s := mocks.NewSender(t)
	s.On("Send", ctx, mock.Anything).Return(nil).Once()

	svc := NewNotificationService(zap.NewNop(), idempotency.NewMemoryStore(), s, newRenderer(t), Options{})
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.HandlePaymentProcessed(ctx, completedEvent()))
	}
}

func TestHandlePaymentProcessed_SendFailureReleasesKey(t *testing.T) {
	ctx := context.Background()
	s := mocks.NewSender(t)
	s.On("Send", ctx, mock.Anything).Return(errors.New("smtp down")).Once()
	s.On("Send", ctx, mock.Anything).Return(nil).Once()

	store := idempotency.NewMemoryStore()
	svc := NewNotificationService(zap.NewNop(), store, s, newRenderer(t), Options{})

	err := svc.HandlePaymentProcessed(ctx, completedEvent())
	require.Error(t, err)
	processed, err := store.IsProcessed(ctx, "PaymentProcessed:order-1")
	require.NoError(t, err)
	assert.False(t, processed)

	// повторная доставка отправляет уведомление
	require.NoError(t, svc.HandlePaymentProcessed(ctx, completedEvent()))
}

func TestHandlePaymentProcessed_NoRecipientIsNotRetried(t *testing.T) {
	ctx := context.Background()
	s := mocks.NewSender(t)
	s.On("Send", ctx, mock.Anything).Return(sender.ErrNoRecipient).Once()

	event := completedEvent()
	event.UserEmail = ""

	svc := NewNotificationService(zap.NewNop(), idempotency.NewMemoryStore(), s, newRenderer(t), Options{})
	require.NoError(t, svc.HandlePaymentProcessed(ctx, event))
	require.NoError(t, svc.HandlePaymentProcessed(ctx, event))
}

func TestHandlePaymentProcessed_InvalidEvents(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *PaymentProcessedEvent)
	}{
		{name: "unknown status", mutate: func(e *PaymentProcessedEvent) { e.Status = "refunded" }},
		{name: "empty order id", mutate: func(e *PaymentProcessedEvent) { e.OrderID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mocks.NewSender(t)
			store := mocks.NewDedupeStore(t)
			svc := NewNotificationService(zap.NewNop(), store, s, newRenderer(t), Options{})

			event := completedEvent()
			tt.mutate(&event)
			assert.ErrorIs(t, svc.HandlePaymentProcessed(context.Background(), event), ErrInvalidEvent)
		})
	}
}

func TestHandlePaymentProcessed_DedupeStoreErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("reserve failure is retryable", func(t *testing.T) {
		s := mocks.NewSender(t)
		store := mocks.NewDedupeStore(t)
		store.On("Reserve", ctx, "PaymentProcessed:order-1", 5*time.Minute).Return(false, errors.New("redis down")).Once()

		svc := NewNotificationService(zap.NewNop(), store, s, newRenderer(t), Options{})
		err := svc.HandlePaymentProcessed(ctx, completedEvent())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("mark failure after send is tolerated", func(t *testing.T) {
		s := mocks.NewSender(t)
		s.On("Send", ctx, mock.Anything).Return(nil).Once()
		store := mocks.NewDedupeStore(t)
		store.On("Reserve", ctx, "PaymentProcessed:order-1", time.Minute).Return(true, nil).Once()
		store.On("MarkProcessed", ctx, "PaymentProcessed:order-1", time.Hour).Return(errors.New("redis down")).Once()

		svc := NewNotificationService(zap.NewNop(), store, s, newRenderer(t), Options{ReserveTTL: time.Minute, DedupeTTL: time.Hour})
		require.NoError(t, svc.HandlePaymentProcessed(ctx, completedEvent()))
	})
}

func TestHandlePaymentProcessed_RedisDedupeSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	s := mocks.NewSender(t)
	s.On("Send", ctx, mock.Anything).Return(nil).Once()

	// два экземпляра сервиса с общим Redis, как после рестарта
	for i := 0; i < 2; i++ {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		store := idempotency.NewRedisStore(client, zap.NewNop(), "notification:")
		svc := NewNotificationService(zap.NewNop(), store, s, newRenderer(t), Options{DedupeTTL: time.Hour})
		require.NoError(t, svc.HandlePaymentProcessed(ctx, completedEvent()))
		require.NoError(t, client.Close())
	}

	assert.True(t, mr.Exists("notification:PaymentProcessed:order-1"))
	assert.Equal(t, time.Hour, mr.TTL("notification:PaymentProcessed:order-1"))
}

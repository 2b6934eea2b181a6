package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/services/payment/internal/gateway"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// EventPublisher mock для service.EventPublisher
type EventPublisher struct {
	mock.Mock
}

// NewEventPublisher создаёт mock и проверяет ожидания при завершении теста
func NewEventPublisher(t testingT) *EventPublisher {
	m := &EventPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *EventPublisher) PublishPaymentProcessed(ctx context.Context, payload events.PaymentProcessedPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

// Gateway mock для gateway.Gateway
type Gateway struct {
	mock.Mock
}

// NewGateway создаёт mock и проверяет ожидания при завершении теста
func NewGateway(t testingT) *Gateway {
	m := &Gateway{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *Gateway) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(gateway.ChargeResult), args.Error(1)
}

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shestoi/orderflow/services/payment/internal/repository"
)

// PaymentRepository mock для repository.PaymentRepository
type PaymentRepository struct {
	mock.Mock
}

// NewPaymentRepository создаёт mock и проверяет ожидания при завершении теста
func NewPaymentRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *PaymentRepository {
	m := &PaymentRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *PaymentRepository) CreatePending(ctx context.Context, p repository.Payment) (repository.Payment, bool, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(repository.Payment), args.Bool(1), args.Error(2)
}

func (m *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (repository.Payment, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(repository.Payment), args.Error(1)
}

func (m *PaymentRepository) Complete(ctx context.Context, id, transactionID string, at time.Time) error {
	args := m.Called(ctx, id, transactionID, at)
	return args.Error(0)
}

func (m *PaymentRepository) Fail(ctx context.Context, id, reason string, at time.Time) error {
	args := m.Called(ctx, id, reason, at)
	return args.Error(0)
}

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shestoi/orderflow/services/order/internal/repository"
)

// OrderRepository mock для repository.OrderRepository
type OrderRepository struct {
	mock.Mock
}

// NewOrderRepository создаёт mock и проверяет ожидания при завершении теста
func NewOrderRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *OrderRepository {
	m := &OrderRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *OrderRepository) Create(ctx context.Context, order repository.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *OrderRepository) GetByID(ctx context.Context, id string) (repository.Order, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(repository.Order), args.Error(1)
}

func (m *OrderRepository) UpdateStatus(ctx context.Context, id string, upd repository.StatusUpdate) error {
	args := m.Called(ctx, id, upd)
	return args.Error(0)
}

func (m *OrderRepository) ListByUser(ctx context.Context, userID string) ([]repository.Order, error) {
	args := m.Called(ctx, userID)
	orders, _ := args.Get(0).([]repository.Order)
	return orders, args.Error(1)
}

func (m *OrderRepository) MarkEventPublished(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *OrderRepository) ListUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]repository.Order, error) {
	args := m.Called(ctx, createdBefore, limit)
	orders, _ := args.Get(0).([]repository.Order)
	return orders, args.Error(1)
}

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shestoi/orderflow/services/notification/internal/sender"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// Sender mock для sender.Sender
type Sender struct {
	mock.Mock
}

// NewSender создаёт mock и проверяет ожидания при завершении теста
func NewSender(t testingT) *Sender {
	m := &Sender{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *Sender) Send(ctx context.Context, msg sender.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// DedupeStore mock для idempotency.Store
type DedupeStore struct {
	mock.Mock
}

// NewDedupeStore создаёт mock и проверяет ожидания при завершении теста
func NewDedupeStore(t testingT) *DedupeStore {
	m := &DedupeStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *DedupeStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *DedupeStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

func (m *DedupeStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *DedupeStore) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shestoi/orderflow/platform/events"
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

func (m *EventPublisher) PublishOrderCreated(ctx context.Context, payload events.OrderCreatedPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

// MetricsRecorder mock для service.MetricsRecorder
type MetricsRecorder struct {
	mock.Mock
}

// NewMetricsRecorder создаёт mock и проверяет ожидания при завершении теста
func NewMetricsRecorder(t testingT) *MetricsRecorder {
	m := &MetricsRecorder{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MetricsRecorder) RecordProcessingDuration(ctx context.Context, durationMs int64, status string) {
	m.Called(ctx, durationMs, status)
}

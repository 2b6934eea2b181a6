package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shestoi/orderflow/platform/events"
)

// Status статус платежа
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal true для completed и failed
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Payment доменная модель платежа. На один заказ не больше одного платежа.
type Payment struct {
	ID            string
	OrderID       string
	UserID        string
	UserEmail     string
	Amount        events.Money
	Status        Status
	TransactionID string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentRepository определяет интерфейс для работы с хранилищем платежей
// Service слой зависит от этого интерфейса, а не от конкретной реализации
type PaymentRepository interface {
	// CreatePending создаёт pending платёж, если для заказа ещё нет платежа.
	// Если есть, возвращает существующий и created=false.
	CreatePending(ctx context.Context, p Payment) (payment Payment, created bool, err error)

	// GetByOrderID возвращает ErrNotFound, если платежа нет
	GetByOrderID(ctx context.Context, orderID string) (Payment, error)

	// Complete переводит pending платёж в completed; ErrNotPending если он уже завершён
	Complete(ctx context.Context, id, transactionID string, at time.Time) error

	// Fail переводит pending платёж в failed; ErrNotPending если он уже завершён
	Fail(ctx context.Context, id, reason string, at time.Time) error
}

var (
	// ErrNotFound возвращается, когда платёж не найден в хранилище
	ErrNotFound = errors.New("payment not found")
	// ErrNotPending платёж уже в финальном статусе
	ErrNotPending = errors.New("payment is not pending")
)

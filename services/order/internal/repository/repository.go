package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shestoi/orderflow/platform/events"
)

// Status статус заказа
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// Terminal сообщает, что статус финальный и больше не меняется
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// Order представляет доменную модель заказа
// Это бизнес-сущность, не привязанная к HTTP или БД
type Order struct {
	ID          string
	UserID      string
	UserEmail   string
	Items       []OrderItem
	TotalAmount events.Money
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// ProcessingDurationMs время от создания до финального статуса; nil пока заказ pending
	ProcessingDurationMs *int64
	// EventPublished OrderCreated подтверждён брокером
	EventPublished bool
}

// OrderItem представляет товар в заказе (цена зафиксирована на момент checkout)
type OrderItem struct {
	ProductID string
	Quantity  int32
	UnitPrice events.Money
}

// StatusUpdate перевод заказа из From в To
type StatusUpdate struct {
	From                 Status
	To                   Status
	ProcessingDurationMs int64
	UpdatedAt            time.Time
}

// OrderRepository определяет интерфейс для работы с хранилищем заказов
// Service слой зависит от этого интерфейса, а не от конкретной реализации
type OrderRepository interface {
	// Create сохраняет новый заказ; ErrAlreadyExists если id занят
	Create(ctx context.Context, order Order) error

	// GetByID получает заказ по ID
	// Возвращает ErrNotFound, если заказ не найден
	GetByID(ctx context.Context, id string) (Order, error)

	// UpdateStatus меняет статус только если текущий равен upd.From.
	// ErrNotFound если заказа нет, ErrStatusConflict если статус уже другой.
	UpdateStatus(ctx context.Context, id string, upd StatusUpdate) error

	// ListByUser заказы пользователя, новые первыми
	ListByUser(ctx context.Context, userID string) ([]Order, error)

	// MarkEventPublished отмечает, что OrderCreated для заказа ушёл в брокер
	MarkEventPublished(ctx context.Context, id string) error

	// ListUnpublished заказы без опубликованного OrderCreated, созданные раньше createdBefore (старые первыми)
	ListUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]Order, error)
}

var (
	// ErrNotFound возвращается, когда заказ не найден в хранилище
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyExists заказ с таким id уже сохранён
	ErrAlreadyExists = errors.New("order already exists")
	// ErrStatusConflict текущий статус не совпал с ожидаемым
	ErrStatusConflict = errors.New("order status conflict")
)

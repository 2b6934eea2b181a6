package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shestoi/orderflow/services/order/internal/repository"
)

// MemoryRepository реализует OrderRepository используя in-memory хранилище
// Используется для локального запуска (STORAGE=memory) и тестов
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]repository.Order
}

// NewMemoryRepository создаёт новый in-memory репозиторий
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]repository.Order),
	}
}

// Create сохраняет заказ в памяти
func (r *MemoryRepository) Create(ctx context.Context, order repository.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return repository.ErrAlreadyExists
	}
	r.orders[order.ID] = clone(order)
	return nil
}

// GetByID получает заказ по ID из памяти
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, exists := r.orders[id]
	if !exists {
		return repository.Order{}, repository.ErrNotFound
	}
	return clone(order), nil
}

// UpdateStatus меняет статус под мьютексом: проверка From и запись атомарны
func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, upd repository.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, exists := r.orders[id]
	if !exists {
		return repository.ErrNotFound
	}
	if order.Status != upd.From {
		return repository.ErrStatusConflict
	}

	duration := upd.ProcessingDurationMs
	order.Status = upd.To
	order.UpdatedAt = upd.UpdatedAt
	order.ProcessingDurationMs = &duration
	r.orders[id] = order
	return nil
}

// ListByUser заказы пользователя, новые первыми
func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]repository.Order, 0)
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// MarkEventPublished отмечает заказ опубликованным
func (r *MemoryRepository) MarkEventPublished(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, exists := r.orders[id]
	if !exists {
		return repository.ErrNotFound
	}
	order.EventPublished = true
	r.orders[id] = order
	return nil
}

// ListUnpublished заказы без опубликованного события, старые первыми
func (r *MemoryRepository) ListUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]repository.Order, 0)
	for _, o := range r.orders {
		if !o.EventPublished && o.CreatedAt.Before(createdBefore) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// clone копирует срез items и указатель, чтобы вызывающий не менял данные хранилища
func clone(o repository.Order) repository.Order {
	o.Items = append([]repository.OrderItem(nil), o.Items...)
	if o.ProcessingDurationMs != nil {
		d := *o.ProcessingDurationMs
		o.ProcessingDurationMs = &d
	}
	return o
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shestoi/orderflow/services/payment/internal/repository"
)

// MemoryRepository реализует PaymentRepository используя in-memory хранилище
// Используется для разработки и тестирования (STORAGE=memory)
type MemoryRepository struct {
	mu        sync.RWMutex
	byOrderID map[string]repository.Payment
	orderByID map[string]string // payment id -> order id
}

// NewMemoryRepository создаёт новый in-memory репозиторий
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byOrderID: make(map[string]repository.Payment),
		orderByID: make(map[string]string),
	}
}

// CreatePending атомарно под мьютексом: второй вызов для того же заказа вернёт первый платёж
func (r *MemoryRepository) CreatePending(ctx context.Context, p repository.Payment) (repository.Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byOrderID[p.OrderID]; ok {
		return existing, false, nil
	}

	p.Status = repository.StatusPending
	r.byOrderID[p.OrderID] = p
	r.orderByID[p.ID] = p.OrderID
	return p, true, nil
}

// GetByOrderID получает платёж по orderID из памяти
func (r *MemoryRepository) GetByOrderID(ctx context.Context, orderID string) (repository.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byOrderID[orderID]
	if !ok {
		return repository.Payment{}, repository.ErrNotFound
	}
	return p, nil
}

// Complete завершает платёж успешно
func (r *MemoryRepository) Complete(ctx context.Context, id, transactionID string, at time.Time) error {
	return r.finish(id, at, func(p *repository.Payment) {
		p.Status = repository.StatusCompleted
		p.TransactionID = transactionID
	})
}

// Fail завершает платёж отказом
func (r *MemoryRepository) Fail(ctx context.Context, id, reason string, at time.Time) error {
	return r.finish(id, at, func(p *repository.Payment) {
		p.Status = repository.StatusFailed
		p.FailureReason = reason
	})
}

func (r *MemoryRepository) finish(id string, at time.Time, apply func(p *repository.Payment)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	orderID, ok := r.orderByID[id]
	if !ok {
		return repository.ErrNotFound
	}
	p := r.byOrderID[orderID]
	if p.Status != repository.StatusPending {
		return repository.ErrNotPending
	}
	apply(&p)
	p.UpdatedAt = at
	r.byOrderID[orderID] = p
	return nil
}

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/services/payment/internal/repository"
)

// Repository реализует PaymentRepository используя PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт новый PostgreSQL репозиторий
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
	}
}

const selectPayment = `SELECT id, order_id, user_id, user_email, amount_cents, status,
	transaction_id, failure_reason, created_at, updated_at FROM payments`

// CreatePending опирается на UNIQUE(order_id): при конфликте INSERT ничего не вставляет,
// и возвращается уже существующий платёж
func (r *Repository) CreatePending(ctx context.Context, p repository.Payment) (repository.Payment, bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO payments (id, order_id, user_id, user_email, amount_cents, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (order_id) DO NOTHING`,
		p.ID, p.OrderID, p.UserID, p.UserEmail, int64(p.Amount), string(repository.StatusPending), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return repository.Payment{}, false, err
	}

	stored, err := r.GetByOrderID(ctx, p.OrderID)
	if err != nil {
		return repository.Payment{}, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

// GetByOrderID получает платёж по orderID
func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (repository.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, selectPayment+` WHERE order_id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Payment{}, repository.ErrNotFound
		}
		return repository.Payment{}, err
	}
	return p, nil
}

// Complete завершает платёж успешно (только из pending)
func (r *Repository) Complete(ctx context.Context, id, transactionID string, at time.Time) error {
	return r.finish(ctx,
		`UPDATE payments SET status = 'completed', transaction_id = $2, updated_at = $3
		 WHERE id = $1 AND status = 'pending'`,
		id, transactionID, at)
}

// Fail завершает платёж отказом (только из pending)
func (r *Repository) Fail(ctx context.Context, id, reason string, at time.Time) error {
	return r.finish(ctx,
		`UPDATE payments SET status = 'failed', failure_reason = $2, updated_at = $3
		 WHERE id = $1 AND status = 'pending'`,
		id, reason, at)
}

func (r *Repository) finish(ctx context.Context, sql, id, value string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, sql, id, value, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrNotPending
}

func scanPayment(row pgx.Row) (repository.Payment, error) {
	var (
		p           repository.Payment
		amountCents int64
		status      string
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &p.UserEmail, &amountCents, &status,
		&p.TransactionID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return repository.Payment{}, err
	}
	p.Amount = events.Money(amountCents)
	p.Status = repository.Status(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

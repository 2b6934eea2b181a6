package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/services/order/internal/repository"
)

// uniqueViolation код ошибки PostgreSQL для нарушения уникальности
const uniqueViolation = "23505"

// Repository реализует OrderRepository используя PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт новый PostgreSQL репозиторий
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
	}
}

// itemRow снимок позиции заказа в колонке items (JSONB)
type itemRow struct {
	ProductID string       `json:"productId"`
	Quantity  int32        `json:"quantity"`
	UnitPrice events.Money `json:"unitPrice"`
}

// Create сохраняет заказ одним INSERT: позиции лежат в JSONB, транзакция не нужна
func (r *Repository) Create(ctx context.Context, order repository.Order) error {
	rows := make([]itemRow, 0, len(order.Items))
	for _, it := range order.Items {
		rows = append(rows, itemRow{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	items, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, user_email, items, total_amount_cents, status, event_published, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.UserID, order.UserEmail, items, int64(order.TotalAmount), string(order.Status),
		order.EventPublished, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrAlreadyExists
		}
		return err
	}
	return nil
}

const selectOrder = `SELECT id, user_id, user_email, items, total_amount_cents, status,
	processing_duration_ms, event_published, created_at, updated_at FROM orders`

// GetByID получает заказ по ID из PostgreSQL
func (r *Repository) GetByID(ctx context.Context, id string) (repository.Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Order{}, repository.ErrNotFound
		}
		return repository.Order{}, err
	}
	return order, nil
}

// UpdateStatus выполняет compare-and-set по статусу: WHERE status = From.
// Две конкурентные доставки PaymentProcessed не могут обе перевести заказ.
func (r *Repository) UpdateStatus(ctx context.Context, id string, upd repository.StatusUpdate) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $3, processing_duration_ms = $4, updated_at = $5
		 WHERE id = $1 AND status = $2`,
		id, string(upd.From), string(upd.To), upd.ProcessingDurationMs, upd.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrStatusConflict
}

// ListByUser заказы пользователя, новые первыми
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]repository.Order, error) {
	return r.queryOrders(ctx, selectOrder+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// MarkEventPublished отмечает, что OrderCreated подтверждён брокером
func (r *Repository) MarkEventPublished(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET event_published = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListUnpublished заказы без опубликованного OrderCreated (частичный индекс idx_orders_unpublished)
func (r *Repository) ListUnpublished(ctx context.Context, createdBefore time.Time, limit int) ([]repository.Order, error) {
	return r.queryOrders(ctx,
		selectOrder+` WHERE NOT event_published AND created_at < $1 ORDER BY created_at LIMIT $2`,
		createdBefore, limit)
}

func (r *Repository) queryOrders(ctx context.Context, sql string, args ...any) ([]repository.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]repository.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (repository.Order, error) {
	var (
		order      repository.Order
		items      []byte
		totalCents int64
		status     string
		duration   *int64
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := row.Scan(&order.ID, &order.UserID, &order.UserEmail, &items, &totalCents, &status,
		&duration, &order.EventPublished, &createdAt, &updatedAt)
	if err != nil {
		return repository.Order{}, err
	}

	var rows []itemRow
	if err := json.Unmarshal(items, &rows); err != nil {
		return repository.Order{}, fmt.Errorf("unmarshal items of order %s: %w", order.ID, err)
	}
	order.Items = make([]repository.OrderItem, 0, len(rows))
	for _, it := range rows {
		order.Items = append(order.Items, repository.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}

	order.TotalAmount = events.Money(totalCents)
	order.Status = repository.Status(status)
	order.ProcessingDurationMs = duration
	order.CreatedAt = createdAt.UTC()
	order.UpdatedAt = updatedAt.UTC()
	return order, nil
}

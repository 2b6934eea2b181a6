//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/jackc/pgx/v5/stdlib" //для goose миграций

	"github.com/shestoi/orderflow/services/payment/internal/repository"
	"github.com/shestoi/orderflow/services/payment/migrations"
)

func TestRepository_Integration(t *testing.T) {
	ctx := context.Background()

	// Поднимаем PostgreSQL контейнер через testcontainers
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("payments"),
		postgres.WithUsername("payment_user"),
		postgres.WithPassword("payment_password"),
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, postgresContainer.Terminate(ctx))
	}()

	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	var pingErr error
	for i := 0; i < 10; i++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	require.NoError(t, pingErr, "Failed to ping database after retries")

	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.UpContext(ctx, db, "."), "Failed to run migrations")

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	repo := NewRepository(pool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("concurrent CreatePending keeps one payment per order", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
		)
		for _, id := range []string{"pay-a", "pay-b", "pay-c", "pay-d"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, ok, err := repo.CreatePending(ctx, repository.Payment{
					ID: id, OrderID: "order-1", UserID: "user-1", Amount: 10000, CreatedAt: now, UpdatedAt: now,
				})
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}(id)
		}
		wg.Wait()
		assert.Equal(t, 1, created)

		p, err := repo.GetByOrderID(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusPending, p.Status)
		assert.Equal(t, int64(10000), int64(p.Amount))
	})

	t.Run("Complete then Fail is rejected", func(t *testing.T) {
		p, err := repo.GetByOrderID(ctx, "order-1")
		require.NoError(t, err)

		require.NoError(t, repo.Complete(ctx, p.ID, "TXN-0123456789AB", now))
		assert.ErrorIs(t, repo.Fail(ctx, p.ID, "insufficient_funds", now), repository.ErrNotPending)
		assert.ErrorIs(t, repo.Fail(ctx, "missing", "x", now), repository.ErrNotFound)

		p, err = repo.GetByOrderID(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, p.Status)
		assert.Equal(t, "TXN-0123456789AB", p.TransactionID)
	})

	t.Run("GetByOrderID not found", func(t *testing.T) {
		_, err := repo.GetByOrderID(ctx, "nope")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

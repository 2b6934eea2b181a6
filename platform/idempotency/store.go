package idempotency

import (
	"context"
	"time"
)

// Store хранит ключи уже обработанных событий.
// Ключ = тип события + correlation id (см. Key).
type Store interface {
	// IsProcessed возвращает true, если ключ отмечен и ttl ещё не истёк
	IsProcessed(ctx context.Context, key string) (bool, error)
	// MarkProcessed отмечает ключ обработанным на ttl; повторный вызов не ошибка
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) error
	// Reserve атомарно занимает ключ. false значит ключ уже занят (дубликат)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release снимает ключ (обработка не удалась, нужен повтор)
	Release(ctx context.Context, key string) error
}

// Key строит ключ идемпотентности "<eventType>:<correlationID>"
func Key(eventType, correlationID string) string {
	return eventType + ":" + correlationID
}

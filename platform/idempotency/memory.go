package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore реализует Store на map с TTL.
// Для local окружения и тестов: после рестарта процесса ключи теряются.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]time.Time // key -> expiresAt
	now  func() time.Time
}

// NewMemoryStore создаёт пустой in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

// IsProcessed проверяет ключ с учётом ttl
func (s *MemoryStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.aliveLocked(key), nil
}

// MarkProcessed отмечает ключ (продлевает ttl, если уже был)
func (s *MemoryStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupExpiredLocked()
	s.keys[key] = s.now().Add(ttl)
	return nil
}

// Reserve занимает ключ, если он свободен
func (s *MemoryStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aliveLocked(key) {
		return false, nil
	}
	s.keys[key] = s.now().Add(ttl)
	return true, nil
}

// Release удаляет ключ
func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, key)
	return nil
}

// aliveLocked вызывается под mu; протухший ключ удаляется сразу
func (s *MemoryStore) aliveLocked(key string) bool {
	expiresAt, ok := s.keys[key]
	if !ok {
		return false
	}
	if !s.now().Before(expiresAt) {
		delete(s.keys, key)
		return false
	}
	return true
}

// cleanupExpiredLocked ленивая очистка протухших ключей
func (s *MemoryStore) cleanupExpiredLocked() {
	now := s.now()
	for key, expiresAt := range s.keys {
		if !now.Before(expiresAt) {
			delete(s.keys, key)
		}
	}
}

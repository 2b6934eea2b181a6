package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "processed:"

// RedisStore реализует Store на Redis: SET NX PX для Reserve, EXISTS для IsProcessed.
// Переживает рестарт сервиса и общий для нескольких инстансов consumer-а.
type RedisStore struct {
	client redis.UniversalClient
	logger *zap.Logger
	prefix string
}

// NewRedisStore создаёт store; prefix по умолчанию "processed:"
func NewRedisStore(client redis.UniversalClient, logger *zap.Logger, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		logger: logger,
		prefix: prefix,
	}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

// IsProcessed проверяет наличие ключа (ttl отслеживает сам Redis)
func (s *RedisStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.redisKey(key)).Result()
	if err != nil {
		s.logger.Error("failed to check processed key in redis",
			zap.Error(err),
			zap.String("key", key),
		)
		return false, fmt.Errorf("check processed key: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed записывает ключ с ttl (перезаписывает существующий)
func (s *RedisStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.redisKey(key), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		s.logger.Error("failed to mark key processed in redis",
			zap.Error(err),
			zap.String("key", key),
		)
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// Reserve атомарно занимает ключ через SET NX
func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.redisKey(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		s.logger.Error("failed to reserve key in redis",
			zap.Error(err),
			zap.String("key", key),
		)
		return false, fmt.Errorf("reserve key: %w", err)
	}
	if !ok {
		s.logger.Debug("key already reserved", zap.String("key", key))
	}
	return ok, nil
}

// Release удаляет ключ
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		s.logger.Error("failed to release key in redis",
			zap.Error(err),
			zap.String("key", key),
		)
		return fmt.Errorf("release key: %w", err)
	}
	return nil
}

// Ping для health check
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

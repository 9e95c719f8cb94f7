package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage persists session keys in Redis.
type RedisStorage struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisStorage constructs a RedisStorage. A zero ttl keeps keys until removed.
func NewRedisStorage(client *redis.Client, namespace string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, namespace: namespace, ttl: ttl}
}

func (s *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("session/redis: get %s: %w", key, err)
	}
	return value, nil
}

func (s *RedisStorage) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.redisKey(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("session/redis: set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session/redis: del %s: %w", key, err)
	}
	return nil
}

// SetMany writes every value inside a MULTI/EXEC block.
func (s *RedisStorage) SetMany(ctx context.Context, values map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, s.redisKey(k), v, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session/redis: set many: %w", err)
	}
	return nil
}

// RemoveMany deletes keys in a single DEL.
func (s *RedisStorage) RemoveMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = s.redisKey(k)
	}
	if err := s.client.Del(ctx, redisKeys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session/redis: del many: %w", err)
	}
	return nil
}

func (s *RedisStorage) redisKey(key string) string {
	if s.namespace == "" {
		return "session:" + key
	}
	return "session:" + s.namespace + ":" + key
}

var (
	_ Storage = (*RedisStorage)(nil)
	_ Batcher = (*RedisStorage)(nil)
)

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"nodeseek-bot/internal/domain"
)

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client *redis.Client
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set задаёт значение.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Get возвращает значение; второй результат false при промахе.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Noop — пустой кэш для конфигураций без Redis.
type Noop struct{}

var _ domain.Cache = Noop{}

// Set ничего не делает.
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

// Get всегда промахивается.
func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a thin JSON cache over Redis.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCache creates a cache whose keys are namespaced by prefix.
func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// GetJSON decodes the value under key into dest. It reports false on a miss.
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores value as JSON with the given TTL.
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// TTL returns the remaining lifetime of key.
func (c *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.client.TTL(ctx, c.key(key)).Result()
}

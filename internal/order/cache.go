package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nexadex/swapflow/pkg/errors"
)

// Cache is the advisory low-latency view of in-flight orders. It is never
// a source of truth for status; the store is.
type Cache interface {
	Set(ctx context.Context, o *Order, ttl time.Duration) error
	Get(ctx context.Context, orderID uuid.UUID) (*Order, error)
	Delete(ctx context.Context, orderID uuid.UUID) error
	Exists(ctx context.Context, orderID uuid.UUID) (bool, error)
	RefreshTTL(ctx context.Context, orderID uuid.UUID, ttl time.Duration) error
	Close() error
}

const cacheKeyPrefix = "order:inflight:"

func cacheKey(orderID uuid.UUID) string {
	return cacheKeyPrefix + orderID.String()
}

// RedisCache implements Cache on a redis connection.
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// NewRedisCache wraps an open redis client. ttl is the default entry
// lifetime used when Set receives a non-positive one.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, defaultTTL: ttl}
}

// Set writes the order state under its id.
func (c *RedisCache) Set(ctx context.Context, o *Order, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return errors.NewSystem("cache: encoding order: %s", err).WithCause(err)
	}
	if err := c.client.Set(ctx, cacheKey(o.ID), payload, ttl).Err(); err != nil {
		return errors.NewSystem("cache: setting order: %s", err).WithCause(err)
	}
	return nil
}

// Get returns the cached order or nil on a miss.
func (c *RedisCache) Get(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	payload, err := c.client.Get(ctx, cacheKey(orderID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewSystem("cache: getting order: %s", err).WithCause(err)
	}
	var o Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, errors.NewSystem("cache: decoding order: %s", err).WithCause(err)
	}
	return &o, nil
}

// Delete removes the entry. Deleting an absent key is not an error.
func (c *RedisCache) Delete(ctx context.Context, orderID uuid.UUID) error {
	if err := c.client.Del(ctx, cacheKey(orderID)).Err(); err != nil {
		return errors.NewSystem("cache: deleting order: %s", err).WithCause(err)
	}
	return nil
}

// Exists reports whether the entry is present.
func (c *RedisCache) Exists(ctx context.Context, orderID uuid.UUID) (bool, error) {
	n, err := c.client.Exists(ctx, cacheKey(orderID)).Result()
	if err != nil {
		return false, errors.NewSystem("cache: checking order: %s", err).WithCause(err)
	}
	return n > 0, nil
}

// RefreshTTL extends the entry's lifetime.
func (c *RedisCache) RefreshTTL(ctx context.Context, orderID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Expire(ctx, cacheKey(orderID), ttl).Err(); err != nil {
		return errors.NewSystem("cache: refreshing ttl: %s", err).WithCause(err)
	}
	return nil
}

// Close releases the underlying connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

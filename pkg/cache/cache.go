package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/northgate/transfer-bookings/pkg/config"
)

// ErrMiss is returned by Get when the key is absent. Callers are expected
// to treat any other error the same way: fall through to the durable store.
var ErrMiss = errors.New("cache: miss")

const indexPrefix = "idx:"

// Cache is a best-effort read-through/write-through layer over Redis.
// Every key written for an entity is registered in a per-entity index set
// so invalidation never relies on prefix or wildcard scans.
type Cache struct {
	rdb *redis.Client
}

func New(cfg config.RedisConfig) *Cache {
	return &Cache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores value under key and records the key in the index set for
// entity (e.g. "booking:42"). The index lives slightly longer than the
// data so invalidation still sees keys that are about to expire.
func (c *Cache) Set(ctx context.Context, entity, key string, value []byte, ttl time.Duration) error {
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, key, value, ttl)
	pipe.SAdd(ctx, indexPrefix+entity, key)
	pipe.Expire(ctx, indexPrefix+entity, ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// InvalidateEntity removes every cached key registered for the entity,
// then the index itself.
func (c *Cache) InvalidateEntity(ctx context.Context, entity string) error {
	idx := indexPrefix + entity
	keys, err := c.rdb.SMembers(ctx, idx).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	keys = append(keys, idx)
	return c.rdb.Del(ctx, keys...).Err()
}

// Incr increments a counter key, setting its expiry on first use.
// Used by the fixed-window rate limiter.
func (c *Cache) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

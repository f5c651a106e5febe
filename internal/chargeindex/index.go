// Package chargeindex maps gateway charge ids back to local orders so the
// payment callback can recover its order.
package chargeindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "charge:"

// DefaultTTL is how long a charge stays resolvable.
const DefaultTTL = 24 * time.Hour

var ErrMiss = errors.New("cache miss")

// Cache is the small key/value surface the index needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

type Index struct {
	cache Cache
	ttl   time.Duration
}

func New(cache Cache, ttl time.Duration) *Index {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Index{cache: cache, ttl: ttl}
}

func (i *Index) Put(ctx context.Context, chargeID string, orderID int64) error {
	if err := i.cache.Set(ctx, keyPrefix+chargeID, strconv.FormatInt(orderID, 10), i.ttl); err != nil {
		return fmt.Errorf("failed to index charge %s: %w", chargeID, err)
	}
	return nil
}

// OrderID resolves chargeID. found is false when the entry expired or never existed.
func (i *Index) OrderID(ctx context.Context, chargeID string) (orderID int64, found bool, err error) {
	val, err := i.cache.Get(ctx, keyPrefix+chargeID)
	if errors.Is(err, ErrMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve charge %s: %w", chargeID, err)
	}
	orderID, err = strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt charge index entry %s: %w", chargeID, err)
	}
	return orderID, true, nil
}

// Touch restarts the entry's expiry.
func (i *Index) Touch(ctx context.Context, chargeID string) error {
	return i.cache.Expire(ctx, keyPrefix+chargeID, i.ttl)
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	Client *redis.Client
}

func (c RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	}
	return val, err
}

func (c RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

func (c RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.Client.Expire(ctx, key, ttl).Err()
}

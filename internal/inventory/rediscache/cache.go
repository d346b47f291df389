// Package rediscache backs the stock counters with Redis.
package rediscache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sunchuangxin/mall/internal/inventory"
)

type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) Get(ctx context.Context, productID int64) (int64, bool, error) {
	n, err := c.rdb.Get(ctx, inventory.StockKey(productID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get stock %d: %w", productID, err)
	}
	return n, true, nil
}

func (c *Cache) Decrement(ctx context.Context, productID int64, n int64) (int64, error) {
	v, err := c.rdb.DecrBy(ctx, inventory.StockKey(productID), n).Result()
	if err != nil {
		return 0, fmt.Errorf("decrement stock %d: %w", productID, err)
	}
	return v, nil
}

func (c *Cache) Increment(ctx context.Context, productID int64, n int64) (int64, error) {
	v, err := c.rdb.IncrBy(ctx, inventory.StockKey(productID), n).Result()
	if err != nil {
		return 0, fmt.Errorf("increment stock %d: %w", productID, err)
	}
	return v, nil
}

// Set seeds the counter for a product. Used by operational tooling and the
// integration environment, not by the reservation path.
func (c *Cache) Set(ctx context.Context, productID int64, n int64) error {
	return c.rdb.Set(ctx, inventory.StockKey(productID), n, 0).Err()
}

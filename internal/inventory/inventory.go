// Package inventory defines the ports gating all mutating access to the
// cached stock counters: the counter store itself and the lock coordinator
// that serializes writers per product.
package inventory

import (
	"context"
	"strconv"
)

const (
	stockKeyPrefix  = "stock:"
	cacheLockPrefix = "lock:stock:cache:"
)

// StockKey is the cache key holding the counter for one product.
func StockKey(productID int64) string {
	return stockKeyPrefix + strconv.FormatInt(productID, 10)
}

// CacheLock names the mutex guarding one product's cached counter.
func CacheLock(productID int64) string {
	return cacheLockPrefix + strconv.FormatInt(productID, 10)
}

// Guard represents a held lock. Release is idempotent: releasing an
// already-released guard is a no-op, so cleanup paths may call it freely.
type Guard interface {
	Release(ctx context.Context) error
}

// Locker acquires named mutual-exclusion resources. Multi-name calls
// acquire in canonical (sorted) order so that any two concurrent requests
// sharing resources attempt them in the same relative order; this is the
// deadlock-avoidance invariant. Acquisition blocks with a bounded wait.
type Locker interface {
	Acquire(ctx context.Context, names ...string) (Guard, error)
}

// StockCache is the fast per-product counter. It offers no atomicity
// across keys; multi-key atomicity is the Locker's job.
type StockCache interface {
	// Get returns the counter, or found=false when the product has no key.
	Get(ctx context.Context, productID int64) (count int64, found bool, err error)
	Decrement(ctx context.Context, productID int64, n int64) (int64, error)
	Increment(ctx context.Context, productID int64, n int64) (int64, error)
}

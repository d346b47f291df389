// Package redislock implements the lock coordinator on redsync mutexes.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/sunchuangxin/mall/internal/inventory"
)

// ErrLockTimeout is returned when the bounded wait for a resource expires.
var ErrLockTimeout = errors.New("lock acquisition timed out")

const (
	defaultExpiry     = 8 * time.Second
	defaultTries      = 16
	defaultRetryDelay = 50 * time.Millisecond
)

type Locker struct {
	log    *slog.Logger
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
	delay  time.Duration
}

func New(log *slog.Logger, rdb *redis.Client) *Locker {
	return &Locker{
		log:    log,
		rs:     redsync.New(goredis.NewPool(rdb)),
		expiry: defaultExpiry,
		tries:  defaultTries,
		delay:  defaultRetryDelay,
	}
}

// Acquire takes every named resource in canonical (sorted, deduplicated)
// order. The sort happens here rather than at call sites so the ordering
// invariant cannot be broken by a future caller. On failure any mutexes
// already taken are unwound before the error is returned.
func (l *Locker) Acquire(ctx context.Context, names ...string) (inventory.Guard, error) {
	if len(names) == 0 {
		return nil, errors.New("acquire: no resource names")
	}
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	g := &guard{log: l.log}
	for _, name := range sorted {
		mu := l.rs.NewMutex(name,
			redsync.WithExpiry(l.expiry),
			redsync.WithTries(l.tries),
			redsync.WithRetryDelay(l.delay),
		)
		if err := mu.LockContext(ctx); err != nil {
			if rerr := g.Release(context.WithoutCancel(ctx)); rerr != nil {
				l.log.Error("unwind after failed acquire", "resource", name, "err", rerr)
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, name, err)
		}
		g.held = append(g.held, mu)
	}
	return g, nil
}

type guard struct {
	log      *slog.Logger
	mu       sync.Mutex
	held     []*redsync.Mutex
	released bool
}

// Release unlocks in reverse acquisition order. Safe to call more than
// once; repeated calls are no-ops.
func (g *guard) Release(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil
	}
	g.released = true

	var errs []error
	for i := len(g.held) - 1; i >= 0; i-- {
		if _, err := g.held[i].UnlockContext(ctx); err != nil {
			g.log.Error("unlock failed", "resource", g.held[i].Name(), "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sunchuangxin/mall/internal/inventory"
	"github.com/sunchuangxin/mall/internal/order/domain"
	"github.com/sunchuangxin/mall/pkg/metrics"
)

// Compensator cancels orders whose payment window expired unpaid and
// returns their stock. Durable restoration rides the cancel transaction, so
// a retried signal that finds the order already CANCELLED (or PAID) does
// nothing; stock is never credited twice.
type Compensator struct {
	log       *slog.Logger
	lifecycle *Lifecycle
	cache     inventory.StockCache
	locker    inventory.Locker
}

func NewCompensator(log *slog.Logger, lifecycle *Lifecycle, cache inventory.StockCache, locker inventory.Locker) *Compensator {
	return &Compensator{log: log, lifecycle: lifecycle, cache: cache, locker: locker}
}

func (c *Compensator) HandleOrderExpired(ctx context.Context, ev domain.OrderExpired) error {
	lines, cancelled, err := c.lifecycle.Cancel(ctx, ev.OrderID)
	if err != nil {
		metrics.CompensationsTotal.WithLabelValues("error").Inc()
		return err
	}
	if !cancelled {
		// Paid, already cancelled, or not yet persisted under this ID.
		c.log.Info("expiry signal ignored, order already settled", "order_id", ev.OrderID)
		metrics.CompensationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	for _, ln := range lines {
		if err := c.restoreCached(ctx, ln); err != nil {
			// Durable state is already consistent; only the cache lags. The
			// signal is failed for redelivery, but a retry short-circuits on
			// the CANCELLED status, so the gap is surfaced for operations.
			c.log.Error("cached stock restore failed",
				"order_id", ev.OrderID, "product_id", ln.ProductID, "quantity", ln.Quantity, "err", err)
			metrics.CompensationsTotal.WithLabelValues("cache_restore_failed").Inc()
			return fmt.Errorf("restore cached stock for order %d: %w", ev.OrderID, err)
		}
	}

	c.log.Info("unpaid order cancelled, stock restored", "order_id", ev.OrderID, "lines", len(lines))
	metrics.CompensationsTotal.WithLabelValues("cancelled").Inc()
	return nil
}

func (c *Compensator) restoreCached(ctx context.Context, ln domain.Line) error {
	guard, err := c.locker.Acquire(ctx, inventory.CacheLock(ln.ProductID))
	if err != nil {
		return err
	}
	defer func() {
		if rerr := guard.Release(context.WithoutCancel(ctx)); rerr != nil {
			c.log.Error("lock release failed", "product_id", ln.ProductID, "err", rerr)
		}
	}()
	_, err = c.cache.Increment(ctx, ln.ProductID, int64(ln.Quantity))
	return err
}

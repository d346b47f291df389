package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sunchuangxin/mall/internal/order/domain"
)

// Lifecycle applies order status transitions. Every change goes through the
// repository's transactional compare-and-set, so a concurrent payment
// confirmation and compensation can never both depart from TO_BE_PAID.
type Lifecycle struct {
	log  *slog.Logger
	repo OrderRepository
}

func NewLifecycle(log *slog.Logger, repo OrderRepository) *Lifecycle {
	return &Lifecycle{log: log, repo: repo}
}

// Transition moves the order from -> to, appending one timeline entry.
// A stale source status yields domain.ErrInvalidTransition; the state
// machine is monotonic, so callers treat that as a no-op, not a fault.
func (l *Lifecycle) Transition(ctx context.Context, id int64, from, to domain.Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	applied, err := l.repo.Transition(ctx, id, from, to)
	if err != nil {
		return fmt.Errorf("transition order %d: %w", id, err)
	}
	if !applied {
		current, gerr := l.repo.GetStatus(ctx, id)
		if gerr != nil {
			return gerr
		}
		l.log.Warn("stale transition skipped", "order_id", id, "from", from, "to", to, "current", current)
		return fmt.Errorf("%w: order %d is %s, not %s", domain.ErrInvalidTransition, id, current, from)
	}
	l.log.Info("order transitioned", "order_id", id, "from", from, "to", to)
	return nil
}

// Pay records an external payment confirmation.
func (l *Lifecycle) Pay(ctx context.Context, id int64) error {
	return l.Transition(ctx, id, domain.StatusToBePaid, domain.StatusPaid)
}

// Cancel transitions an unpaid order to CANCELLED and restores its durable
// stock in the same transaction. cancelled=false means the order already
// left TO_BE_PAID and nothing was changed.
func (l *Lifecycle) Cancel(ctx context.Context, id int64) ([]domain.Line, bool, error) {
	lines, cancelled, err := l.repo.CancelUnpaid(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("cancel order %d: %w", id, err)
	}
	if cancelled {
		l.log.Info("order transitioned", "order_id", id, "from", domain.StatusToBePaid, "to", domain.StatusCancelled)
	}
	return lines, cancelled, nil
}

package application

import (
	"context"
	"time"

	"github.com/sunchuangxin/mall/internal/order/domain"
)

// OrderRepository is the durable store behind orders, lines, the status
// timeline, durable product stock and the expiry schedule. The compound
// operations are transactional so that redelivered events and signals stay
// idempotent.
type OrderRepository interface {
	// CreateOrder persists the order, its lines, the initial timeline entry
	// and the expiry schedule row, and decrements durable product stock per
	// line, all in one transaction. A duplicate order ID is a no-op success
	// with created=false; nothing is decremented twice.
	CreateOrder(ctx context.Context, o domain.Order, fireAt time.Time) (created bool, err error)

	// Transition compare-and-sets the order status and appends the timeline
	// entry in one transaction. applied=false means the order was not in
	// the expected source status (or does not exist).
	Transition(ctx context.Context, id int64, from, to domain.Status) (applied bool, err error)

	// CancelUnpaid atomically transitions TO_BE_PAID -> CANCELLED, restores
	// durable product stock per line and appends the timeline entry. When
	// the order is no longer TO_BE_PAID nothing happens and cancelled is
	// false, which is what makes retried expiry signals safe.
	CancelUnpaid(ctx context.Context, id int64) (lines []domain.Line, cancelled bool, err error)

	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	GetStatus(ctx context.Context, id int64) (domain.Status, error)
	GetTimeline(ctx context.Context, id int64) ([]domain.TimelineEntry, error)
}

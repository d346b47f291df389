package application

import (
	"context"

	"github.com/sunchuangxin/mall/internal/order/domain"
)

// CreationPublisher hands a finished reservation to the order creation
// pipeline. Delivery is at-least-once; the pipeline is idempotent by
// order ID.
type CreationPublisher interface {
	PublishOrderCreated(ctx context.Context, ev domain.OrderCreated) error
}

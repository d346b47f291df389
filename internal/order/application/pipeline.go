package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sunchuangxin/mall/internal/order/domain"
)

// Pipeline consumes creation events and makes reservations durable. It is
// built to be retried to completion rather than to unwind: a persistence
// failure propagates to the messaging layer and the event is redelivered,
// while a duplicate delivery short-circuits on the existing order row.
type Pipeline struct {
	log    *slog.Logger
	repo   OrderRepository
	window time.Duration
}

// NewPipeline wires the creation pipeline with the payment window after
// which an unpaid order expires.
func NewPipeline(log *slog.Logger, repo OrderRepository, window time.Duration) *Pipeline {
	return &Pipeline{log: log, repo: repo, window: window}
}

func (p *Pipeline) HandleOrderCreated(ctx context.Context, ev domain.OrderCreated) error {
	o := domain.NewOrder(ev.OrderID, ev.Owner, ev.Items)
	fireAt := time.Now().UTC().Add(p.window)

	created, err := p.repo.CreateOrder(ctx, o, fireAt)
	if err != nil {
		return fmt.Errorf("persist order %d: %w", ev.OrderID, err)
	}
	if !created {
		p.log.Info("duplicate creation event skipped", "order_id", ev.OrderID)
		return nil
	}
	p.log.Info("order persisted", "order_id", ev.OrderID, "owner", ev.Owner, "expires_at", fireAt)
	return nil
}

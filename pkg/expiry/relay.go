package expiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/sunchuangxin/mall/pkg/metrics"
)

type Store interface {
	// ClaimDue leases due schedule rows for this relay instance. Rows whose
	// lease lapsed are claimed again, so a crashed relay loses nothing.
	ClaimDue(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Signal, error)
	MarkSent(ctx context.Context, orderIDs []int64) error
	MarkFailed(ctx context.Context, orderID int64, errMsg string) error
}

type Publisher interface {
	PublishOrderExpired(ctx context.Context, orderID int64) error
}

type Relay struct {
	log       *slog.Logger
	store     Store
	publisher Publisher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

func NewRelay(log *slog.Logger, store Store, publisher Publisher, relayID string) *Relay {
	return &Relay{
		log:       log,
		store:     store,
		publisher: publisher,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("expiry relay stopping", "relay_id", r.relayID)
			return nil
		case <-t.C:
			r.drain(ctx)
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	signals, err := r.store.ClaimDue(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		r.log.Error("expiry claim failed", "relay_id", r.relayID, "err", err)
		return
	}
	if len(signals) == 0 {
		return
	}

	sent := make([]int64, 0, len(signals))
	for _, sig := range signals {
		if err := r.publisher.PublishOrderExpired(ctx, sig.OrderID); err != nil {
			r.log.Error("expiry publish failed", "order_id", sig.OrderID, "err", err)
			metrics.ExpirySignalsTotal.WithLabelValues("publish_failed").Inc()
			if merr := r.store.MarkFailed(ctx, sig.OrderID, err.Error()); merr != nil {
				r.log.Error("expiry mark failed error", "order_id", sig.OrderID, "err", merr)
			}
			continue
		}
		sent = append(sent, sig.OrderID)
		metrics.ExpirySignalsTotal.WithLabelValues("published").Inc()
	}
	if len(sent) > 0 {
		if err := r.store.MarkSent(ctx, sent); err != nil {
			r.log.Error("expiry mark sent failed", "count", len(sent), "err", err)
		}
	}
}

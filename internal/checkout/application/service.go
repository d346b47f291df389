package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sunchuangxin/mall/internal/inventory"
	"github.com/sunchuangxin/mall/internal/order/domain"
	"github.com/sunchuangxin/mall/pkg/metrics"
)

var (
	ErrEmptyReservation  = errors.New("reservation has no items")
	ErrInvalidQuantity   = errors.New("item quantity must be positive")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrLockTimeout       = errors.New("stock lock wait timed out")
)

// Service is the stock reservation engine. It pre-deducts cached stock
// under a multi-lock and emits the creation event; durable persistence is
// asynchronous and owned by the order creation pipeline.
type Service struct {
	log    *slog.Logger
	locker inventory.Locker
	cache  inventory.StockCache
	events CreationPublisher
	node   *snowflake.Node
	tracer trace.Tracer
}

func NewService(log *slog.Logger, locker inventory.Locker, cache inventory.StockCache, events CreationPublisher, node *snowflake.Node) *Service {
	return &Service{
		log:    log,
		locker: locker,
		cache:  cache,
		events: events,
		node:   node,
		tracer: otel.Tracer("checkout"),
	}
}

// Reserve validates and pre-deducts cached stock for every item, then
// publishes the creation event and returns the new order ID. Validation is
// all-or-nothing: no counter is touched unless every item passes.
func (s *Service) Reserve(ctx context.Context, ownerID string, items []domain.Item) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "Reserve")
	defer span.End()

	if len(items) == 0 {
		metrics.ReservationsTotal.WithLabelValues("empty").Inc()
		return 0, ErrEmptyReservation
	}
	// A non-positive quantity would pass the counter check and then
	// inflate the counter on decrement, so it is rejected outright.
	for _, it := range items {
		if it.Quantity <= 0 {
			metrics.ReservationsTotal.WithLabelValues("invalid").Inc()
			return 0, fmt.Errorf("%w: product %d, quantity %d", ErrInvalidQuantity, it.ProductID, it.Quantity)
		}
	}
	merged := mergeItems(items)

	names := make([]string, 0, len(merged))
	for _, it := range merged {
		names = append(names, inventory.CacheLock(it.ProductID))
	}
	guard, err := s.locker.Acquire(ctx, names...)
	if err != nil {
		metrics.ReservationsTotal.WithLabelValues("lock_timeout").Inc()
		return 0, fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	defer func() {
		if rerr := guard.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.log.Error("lock release failed", "err", rerr)
		}
	}()

	for _, it := range merged {
		count, found, err := s.cache.Get(ctx, it.ProductID)
		if err != nil {
			metrics.ReservationsTotal.WithLabelValues("error").Inc()
			return 0, err
		}
		if !found {
			metrics.ReservationsTotal.WithLabelValues("not_found").Inc()
			return 0, fmt.Errorf("%w: product %d", ErrProductNotFound, it.ProductID)
		}
		if count < int64(it.Quantity) {
			metrics.ReservationsTotal.WithLabelValues("insufficient").Inc()
			return 0, fmt.Errorf("%w: product %d has %d, want %d", ErrInsufficientStock, it.ProductID, count, it.Quantity)
		}
	}

	// All items validated; only now touch the counters, so a failed
	// reservation never needs a cache rollback.
	for _, it := range merged {
		if _, err := s.cache.Decrement(ctx, it.ProductID, int64(it.Quantity)); err != nil {
			metrics.ReservationsTotal.WithLabelValues("error").Inc()
			return 0, err
		}
	}

	if err := guard.Release(ctx); err != nil {
		s.log.Error("lock release failed", "err", err)
	}

	orderID := s.node.Generate().Int64()
	ev := domain.OrderCreated{OrderID: orderID, Owner: ownerID, Items: merged}
	if err := s.events.PublishOrderCreated(ctx, ev); err != nil {
		// The cache is now under-counted until operational reconciliation;
		// durable stock has not been touched.
		s.log.Error("creation event publish failed after cache decrement",
			"order_id", orderID, "owner", ownerID, "err", err)
		metrics.ReservationsTotal.WithLabelValues("publish_failed").Inc()
		return 0, fmt.Errorf("publish order created: %w", err)
	}

	s.log.Info("stock reserved", "order_id", orderID, "owner", ownerID, "items", len(merged))
	metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
	return orderID, nil
}

// mergeItems folds duplicate product positions into one quantity each and
// returns them sorted by product ID, so validation sees the true total per
// product and lock names derive from a stable order.
func mergeItems(items []domain.Item) []domain.Item {
	byProduct := make(map[int64]int, len(items))
	for _, it := range items {
		byProduct[it.ProductID] += it.Quantity
	}
	merged := make([]domain.Item, 0, len(byProduct))
	for id, qty := range byProduct {
		merged = append(merged, domain.Item{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}

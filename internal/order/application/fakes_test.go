package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sunchuangxin/mall/internal/inventory"
	"github.com/sunchuangxin/mall/internal/order/domain"
)

// fakeRepo mimics the durable store: orders, timeline, durable product
// stock and the expiry schedule, with the same compare-and-set semantics as
// the Postgres repository.
type fakeRepo struct {
	mu       sync.Mutex
	orders   map[int64]*domain.Order
	timeline map[int64][]domain.TimelineEntry
	stock    map[int64]int
	expiries map[int64]time.Time

	createErr error
	cancelErr error
}

func newFakeRepo(stock map[int64]int) *fakeRepo {
	if stock == nil {
		stock = map[int64]int{}
	}
	return &fakeRepo{
		orders:   map[int64]*domain.Order{},
		timeline: map[int64][]domain.TimelineEntry{},
		stock:    stock,
		expiries: map[int64]time.Time{},
	}
}

func (r *fakeRepo) CreateOrder(ctx context.Context, o domain.Order, fireAt time.Time) (bool, error) {
	if r.createErr != nil {
		return false, r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; exists {
		return false, nil
	}
	for _, ln := range o.Lines {
		if r.stock[ln.ProductID] < ln.Quantity {
			return false, fmt.Errorf("durable stock underflow: product %d", ln.ProductID)
		}
	}
	stored := o
	stored.Lines = append([]domain.Line(nil), o.Lines...)
	r.orders[o.ID] = &stored
	r.timeline[o.ID] = append(r.timeline[o.ID], domain.TimelineEntry{OrderID: o.ID, Status: o.Status, CreatedAt: o.CreatedAt})
	for _, ln := range o.Lines {
		r.stock[ln.ProductID] -= ln.Quantity
	}
	r.expiries[o.ID] = fireAt
	return true, nil
}

func (r *fakeRepo) Transition(ctx context.Context, id int64, from, to domain.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	r.timeline[id] = append(r.timeline[id], domain.TimelineEntry{OrderID: id, Status: to, CreatedAt: time.Now().UTC()})
	return true, nil
}

func (r *fakeRepo) CancelUnpaid(ctx context.Context, id int64) ([]domain.Line, bool, error) {
	if r.cancelErr != nil {
		return nil, false, r.cancelErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != domain.StatusToBePaid {
		return nil, false, nil
	}
	o.Status = domain.StatusCancelled
	for _, ln := range o.Lines {
		r.stock[ln.ProductID] += ln.Quantity
	}
	r.timeline[id] = append(r.timeline[id], domain.TimelineEntry{OrderID: id, Status: domain.StatusCancelled, CreatedAt: time.Now().UTC()})
	return append([]domain.Line(nil), o.Lines...), true, nil
}

func (r *fakeRepo) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	return *o, nil
}

func (r *fakeRepo) GetStatus(ctx context.Context, id int64) (domain.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	return o.Status, nil
}

func (r *fakeRepo) GetTimeline(ctx context.Context, id int64) ([]domain.TimelineEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TimelineEntry(nil), r.timeline[id]...), nil
}

func (r *fakeRepo) durableStock(productID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[productID]
}

type fakeGuard struct {
	once    sync.Once
	release func()
}

func (g *fakeGuard) Release(ctx context.Context) error {
	g.once.Do(g.release)
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	acquired []string
	err      error
}

func (l *fakeLocker) Acquire(ctx context.Context, names ...string) (inventory.Guard, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	l.acquired = append(l.acquired, names...)
	return &fakeGuard{release: l.mu.Unlock}, nil
}

type fakeCache struct {
	mu     sync.Mutex
	counts map[int64]int64
	incErr error
}

func newFakeCache(counts map[int64]int64) *fakeCache {
	if counts == nil {
		counts = map[int64]int64{}
	}
	return &fakeCache{counts: counts}
}

func (c *fakeCache) Get(ctx context.Context, productID int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[productID]
	return n, ok, nil
}

func (c *fakeCache) Decrement(ctx context.Context, productID int64, n int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[productID] -= n
	return c.counts[productID], nil
}

func (c *fakeCache) Increment(ctx context.Context, productID int64, n int64) (int64, error) {
	if c.incErr != nil {
		return 0, c.incErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[productID] += n
	return c.counts[productID], nil
}

func (c *fakeCache) count(productID int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[productID]
}

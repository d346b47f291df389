package application

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunchuangxin/mall/internal/order/domain"
)

func TestPipelinePersistsOrder(t *testing.T) {
	repo := newFakeRepo(map[int64]int{1: 10, 2: 4})
	p := NewPipeline(slog.Default(), repo, 30*time.Minute)

	ev := domain.OrderCreated{
		OrderID: 100,
		Owner:   "alice",
		Items:   []domain.Item{{ProductID: 1, Quantity: 3}, {ProductID: 2, Quantity: 1}},
	}
	require.NoError(t, p.HandleOrderCreated(context.Background(), ev))

	o, err := repo.GetOrder(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusToBePaid, o.Status)
	assert.Equal(t, "alice", o.Owner)
	assert.Len(t, o.Lines, 2)

	assert.Equal(t, 7, repo.durableStock(1))
	assert.Equal(t, 3, repo.durableStock(2))

	entries, err := repo.GetTimeline(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusToBePaid, entries[0].Status)

	fireAt, ok := repo.expiries[100]
	require.True(t, ok, "an expiry signal must be scheduled")
	assert.WithinDuration(t, time.Now().UTC().Add(30*time.Minute), fireAt, 5*time.Second)
}

func TestPipelineRedeliveryIsIdempotent(t *testing.T) {
	repo := newFakeRepo(map[int64]int{1: 10})
	p := NewPipeline(slog.Default(), repo, time.Minute)

	ev := domain.OrderCreated{OrderID: 100, Owner: "alice", Items: []domain.Item{{ProductID: 1, Quantity: 3}}}
	require.NoError(t, p.HandleOrderCreated(context.Background(), ev))
	require.NoError(t, p.HandleOrderCreated(context.Background(), ev))

	assert.Equal(t, 7, repo.durableStock(1), "stock must be decremented exactly once")
	entries, err := repo.GetTimeline(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "replay must not duplicate timeline entries")
}

func TestPipelinePersistenceFailurePropagates(t *testing.T) {
	repo := newFakeRepo(nil)
	repo.createErr = errors.New("connection reset")
	p := NewPipeline(slog.Default(), repo, time.Minute)

	err := p.HandleOrderCreated(context.Background(), domain.OrderCreated{OrderID: 100, Owner: "alice"})
	assert.Error(t, err, "the messaging layer owns the retry; the pipeline must surface the failure")
}

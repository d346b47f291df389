package integration

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/sunchuangxin/mall/internal/order/domain"
	orderpg "github.com/sunchuangxin/mall/internal/order/infrastructure/postgres"
)

// pgPool starts a throwaway Postgres and bootstraps the schema twice, since
// every service binary runs EnsureSchema on startup.
func pgPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("MALL_INTEGRATION") == "" {
		t.Skip("set MALL_INTEGRATION to run container tests")
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mall"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	url, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := orderpg.NewRepository(slog.Default(), pool)
	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.EnsureSchema(ctx))
	return pool
}

func TestExpiryClaimReclaimsLapsedLease(t *testing.T) {
	ctx := context.Background()
	pool := pgPool(t, ctx)
	store := orderpg.NewExpiryStore(slog.Default(), pool)

	_, err := pool.Exec(ctx,
		`INSERT INTO order_expiry (order_id, fire_at) VALUES (101, now() - interval '1 second')`)
	require.NoError(t, err)

	// relay-a claims the row with a short lease and then dies without
	// marking it.
	claimed, err := store.ClaimDue(ctx, "relay-a", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.EqualValues(t, 101, claimed[0].OrderID)

	// While the lease holds, nobody else may take the row.
	claimed, err = store.ClaimDue(ctx, "relay-b", 10, time.Second)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	time.Sleep(1500 * time.Millisecond)

	// Lease lapsed: the in_progress row goes back into circulation.
	claimed, err = store.ClaimDue(ctx, "relay-b", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.EqualValues(t, 101, claimed[0].OrderID)

	require.NoError(t, store.MarkSent(ctx, []int64{101}))
	claimed, err = store.ClaimDue(ctx, "relay-b", 10, time.Second)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestCancelUnpaidRestoresStockOnce(t *testing.T) {
	ctx := context.Background()
	pool := pgPool(t, ctx)
	repo := orderpg.NewRepository(slog.Default(), pool)

	require.NoError(t, repo.SeedProduct(ctx, 1, 10))
	require.NoError(t, repo.SeedProduct(ctx, 2, 10))

	// Lines arrive in descending product order on purpose.
	o := domain.NewOrder(201, "alice", []domain.Item{
		{ProductID: 2, Quantity: 4},
		{ProductID: 1, Quantity: 3},
	})
	created, err := repo.CreateOrder(ctx, o, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, created)

	lines, cancelled, err := repo.CancelUnpaid(ctx, 201)
	require.NoError(t, err)
	require.True(t, cancelled)
	require.Len(t, lines, 2)
	// Lines come back in ascending product order, matching the lock order
	// used during creation.
	assert.EqualValues(t, 1, lines[0].ProductID)
	assert.EqualValues(t, 2, lines[1].ProductID)

	var stock1, stock2 int
	require.NoError(t, pool.QueryRow(ctx, `SELECT stock FROM product WHERE id=1`).Scan(&stock1))
	require.NoError(t, pool.QueryRow(ctx, `SELECT stock FROM product WHERE id=2`).Scan(&stock2))
	assert.Equal(t, 10, stock1)
	assert.Equal(t, 10, stock2)

	// A redelivered cancellation must not credit stock again.
	_, cancelled, err = repo.CancelUnpaid(ctx, 201)
	require.NoError(t, err)
	assert.False(t, cancelled)
	require.NoError(t, pool.QueryRow(ctx, `SELECT stock FROM product WHERE id=1`).Scan(&stock1))
	assert.Equal(t, 10, stock1)
}

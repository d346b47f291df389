package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sunchuangxin/mall/pkg/expiry"
)

// ExpiryStore drains the order_expiry schedule for the relay.
type ExpiryStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewExpiryStore(log *slog.Logger, pool *pgxpool.Pool) *ExpiryStore {
	return &ExpiryStore{log: log, pool: pool}
}

func (s *ExpiryStore) ClaimDue(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]expiry.Signal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// in_progress rows with a lapsed lease belonged to a relay that died
	// mid-batch; they are fair game for any claimant.
	rows, err := tx.Query(ctx, `
		SELECT order_id, fire_at, retry_count
		FROM order_expiry
		WHERE status IN ($1, $2, $3)
		  AND fire_at <= now()
		  AND (lease_until IS NULL OR lease_until < now())
		ORDER BY fire_at
		FOR UPDATE SKIP LOCKED
		LIMIT $4
	`, expiry.StatusPending, expiry.StatusFailed, expiry.StatusInProgress, batchSize)
	if err != nil {
		return nil, err
	}
	signals, err := pgx.CollectRows(rows, pgx.RowToStructByPos[expiry.Signal])
	if err != nil {
		return nil, err
	}
	if len(signals) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(signals))
	for _, sig := range signals {
		ids = append(ids, sig.OrderID)
	}
	_, err = tx.Exec(ctx, `UPDATE order_expiry
		SET status=$1, relay_id=$2, lease_until=now() + $3::interval
		WHERE order_id = ANY($4)`,
		expiry.StatusInProgress, relayID, lease.String(), ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return signals, nil
}

func (s *ExpiryStore) MarkSent(ctx context.Context, orderIDs []int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE order_expiry SET status=$1, lease_until=NULL WHERE order_id = ANY($2)`,
		expiry.StatusSent, orderIDs)
	return err
}

func (s *ExpiryStore) MarkFailed(ctx context.Context, orderID int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `UPDATE order_expiry
		SET status=$1, lease_until=NULL, last_error=$2, retry_count=retry_count+1
		WHERE order_id=$3`,
		expiry.StatusFailed, errMsg, orderID)
	return err
}

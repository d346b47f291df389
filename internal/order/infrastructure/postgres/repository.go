package postgres

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sunchuangxin/mall/internal/order/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// EnsureSchema creates the tables this repository owns. Schema evolution
// beyond bootstrap is handled outside this service.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS product (
			id    BIGINT PRIMARY KEY,
			stock INT NOT NULL CHECK (stock >= 0)
		);
		CREATE TABLE IF NOT EXISTS orders (
			id         BIGINT PRIMARY KEY,
			owner      TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS order_line (
			order_id   BIGINT NOT NULL REFERENCES orders(id),
			product_id BIGINT NOT NULL,
			quantity   INT NOT NULL,
			PRIMARY KEY (order_id, product_id)
		);
		CREATE TABLE IF NOT EXISTS order_timeline (
			id         BIGSERIAL PRIMARY KEY,
			order_id   BIGINT NOT NULL,
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS order_expiry (
			order_id    BIGINT PRIMARY KEY,
			fire_at     TIMESTAMPTZ NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			relay_id    TEXT,
			lease_until TIMESTAMPTZ,
			retry_count INT NOT NULL DEFAULT 0,
			last_error  TEXT
		);
	`)
	return err
}

// CreateOrder persists order, lines, initial timeline entry and expiry
// schedule, and decrements durable product stock, in one transaction. The
// insert is keyed by order ID, so a redelivered creation event that finds
// the row commits nothing and reports created=false.
func (r *Repository) CreateOrder(ctx context.Context, o domain.Order, fireAt time.Time) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `INSERT INTO orders (id, owner, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.Owner, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	batch := &pgx.Batch{}
	for _, ln := range o.Lines {
		batch.Queue(`INSERT INTO order_line (order_id, product_id, quantity) VALUES ($1,$2,$3)`,
			o.ID, ln.ProductID, ln.Quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx, `INSERT INTO order_timeline (order_id, status, created_at) VALUES ($1,$2,$3)`,
		o.ID, o.Status, o.CreatedAt)
	if err != nil {
		return false, err
	}

	// Advisory locks are taken in ascending product order everywhere a
	// transaction touches more than one product, so concurrent creation
	// and cancellation cannot deadlock on each other.
	lines := slices.Clone(o.Lines)
	slices.SortFunc(lines, func(a, b domain.Line) int { return cmp.Compare(a.ProductID, b.ProductID) })
	for _, ln := range lines {
		if err := decrementStock(ctx, tx, ln.ProductID, ln.Quantity); err != nil {
			return false, err
		}
	}

	_, err = tx.Exec(ctx, `INSERT INTO order_expiry (order_id, fire_at) VALUES ($1,$2)
		ON CONFLICT (order_id) DO NOTHING`, o.ID, fireAt)
	if err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// decrementStock serializes the durable write per product with a
// transaction-scoped advisory lock, then decrements guarded by the
// non-negative constraint. Zero rows means the cached counter and durable
// stock diverged; failing the transaction hands the event back for retry.
func decrementStock(ctx context.Context, tx pgx.Tx, productID int64, qty int) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, productID); err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, `UPDATE product SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
		productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("durable stock underflow: product %d, want %d", productID, qty)
	}
	return nil
}

// Transition compare-and-sets the status and appends the timeline entry.
func (r *Repository) Transition(ctx context.Context, id int64, from, to domain.Status) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`,
		id, from, to)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}
	_, err = tx.Exec(ctx, `INSERT INTO order_timeline (order_id, status, created_at) VALUES ($1,$2,now())`,
		id, to)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// CancelUnpaid is the durable half of compensation: the status CAS, the
// stock restoration and the timeline entry commit or fail together, so a
// retried expiry signal can never credit stock twice.
func (r *Repository) CancelUnpaid(ctx context.Context, id int64) ([]domain.Line, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1 AND status=$3`,
		id, domain.StatusCancelled, domain.StatusToBePaid)
	if err != nil {
		return nil, false, err
	}
	if ct.RowsAffected() == 0 {
		return nil, false, tx.Commit(ctx)
	}

	// Same ascending product order as order creation; see CreateOrder.
	rows, err := tx.Query(ctx, `SELECT order_id, product_id, quantity FROM order_line WHERE order_id=$1 ORDER BY product_id`, id)
	if err != nil {
		return nil, false, err
	}
	lines, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.Line])
	if err != nil {
		return nil, false, err
	}

	for _, ln := range lines {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ln.ProductID); err != nil {
			return nil, false, err
		}
		ct, err := tx.Exec(ctx, `UPDATE product SET stock = stock + $2 WHERE id = $1`, ln.ProductID, ln.Quantity)
		if err != nil {
			return nil, false, err
		}
		if ct.RowsAffected() == 0 {
			return nil, false, fmt.Errorf("restore stock: product %d missing", ln.ProductID)
		}
	}

	_, err = tx.Exec(ctx, `INSERT INTO order_timeline (order_id, status, created_at) VALUES ($1,$2,now())`,
		id, domain.StatusCancelled)
	if err != nil {
		return nil, false, err
	}
	return lines, true, tx.Commit(ctx)
}

func (r *Repository) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `SELECT id, owner, status, created_at, updated_at FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.Owner, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	if err != nil {
		return domain.Order{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT order_id, product_id, quantity FROM order_line WHERE order_id=$1 ORDER BY product_id`, id)
	if err != nil {
		return domain.Order{}, err
	}
	o.Lines, err = pgx.CollectRows(rows, pgx.RowToStructByPos[domain.Line])
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) GetStatus(ctx context.Context, id int64) (domain.Status, error) {
	var s domain.Status
	err := r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
	}
	return s, err
}

func (r *Repository) GetTimeline(ctx context.Context, id int64) ([]domain.TimelineEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, status, created_at FROM order_timeline WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[domain.TimelineEntry])
}

// SeedProduct upserts durable stock for a product. Operational bootstrap
// only; reservation-path writes go through the transactional methods above.
func (r *Repository) SeedProduct(ctx context.Context, productID int64, stock int) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO product (id, stock) VALUES ($1,$2)
		ON CONFLICT (id) DO UPDATE SET stock=$2`, productID, stock)
	return err
}

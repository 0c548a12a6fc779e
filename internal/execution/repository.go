package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-warrant/internal/contracts"
)

// RepositorySchema creates the order journal table
var RepositorySchema = []string{
	`CREATE SCHEMA IF NOT EXISTS execution`,
	`CREATE TABLE IF NOT EXISTS execution.warrant_orders (
		order_id        TEXT PRIMARY KEY,
		client_order_id TEXT NOT NULL,
		day_key         TEXT NOT NULL,
		symbol          TEXT NOT NULL,
		underlying      TEXT,
		side            TEXT NOT NULL,
		order_type      TEXT NOT NULL,
		qty             BIGINT NOT NULL,
		price           NUMERIC(18,6) NOT NULL,
		filled_qty      BIGINT NOT NULL DEFAULT 0,
		avg_fill_price  NUMERIC(18,6) NOT NULL DEFAULT 0,
		status          TEXT NOT NULL,
		reason          TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_warrant_orders_day ON execution.warrant_orders (day_key)`,
}

// Repository journals orders to Postgres
// ⭐ SSOT: 주문 기록 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository; a nil pool disables it
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Enabled reports whether orders are persisted
func (r *Repository) Enabled() bool {
	return r != nil && r.pool != nil
}

// SaveOrder upserts the order under its day key
func (r *Repository) SaveOrder(ctx context.Context, dayKey string, order *contracts.Order) error {
	if !r.Enabled() {
		return nil
	}

	query := `
		INSERT INTO execution.warrant_orders (
			order_id, client_order_id, day_key, symbol, underlying, side, order_type,
			qty, price, filled_qty, avg_fill_price, status, reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), $14, $15)
		ON CONFLICT (order_id) DO UPDATE SET
			filled_qty = EXCLUDED.filled_qty,
			avg_fill_price = EXCLUDED.avg_fill_price,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		order.ID, order.ClientOrderID, dayKey, order.Symbol, order.Underlying,
		string(order.Side), string(order.OrderType),
		order.Qty, order.Price, order.FilledQty, order.AvgFillPrice,
		string(order.Status), order.Reason, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// OrdersByDay returns the journaled orders of a day, oldest first
func (r *Repository) OrdersByDay(ctx context.Context, dayKey string) ([]contracts.Order, error) {
	if !r.Enabled() {
		return nil, nil
	}

	query := `
		SELECT order_id, client_order_id, symbol, COALESCE(underlying, ''), side, order_type,
		       qty, price, filled_qty, avg_fill_price, status, COALESCE(reason, ''),
		       created_at, updated_at
		FROM execution.warrant_orders
		WHERE day_key = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, dayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]contracts.Order, 0)
	for rows.Next() {
		var (
			o                       contracts.Order
			side, orderType, status string
			createdAt, updatedAt    time.Time
		)
		err := rows.Scan(
			&o.ID, &o.ClientOrderID, &o.Symbol, &o.Underlying, &side, &orderType,
			&o.Qty, &o.Price, &o.FilledQty, &o.AvgFillPrice, &status, &o.Reason,
			&createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Side = contracts.OrderSide(side)
		o.OrderType = contracts.OrderType(orderType)
		o.Status = contracts.Status(status)
		o.CreatedAt = createdAt
		o.UpdatedAt = updatedAt
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return orders, nil
}

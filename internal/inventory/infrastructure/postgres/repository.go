package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commercekit/fulfillment/internal/inventory/application"
	"github.com/commercekit/fulfillment/internal/inventory/domain"
)

// Repository implements the ledger on Postgres. The conditional UPDATE is the
// oversell guard: the row lock serializes concurrent decrements on one SKU,
// and `quantity >= $2` rejects rather than clamps. The stock_movements table
// is the durable applied-marker keyed (order_id, sku).
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) ApplyDecrement(ctx context.Context, orderID, sku string, qty int) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Claim the marker first. A duplicate delivery finds the row and
	// returns without touching quantity.
	ct, err := tx.Exec(ctx, `
		INSERT INTO stock_movements (order_id, sku, qty, applied_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (order_id, sku) DO NOTHING`,
		orderID, sku, qty)
	if err != nil {
		return 0, fmt.Errorf("claim movement: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var quantity int
		if err := tx.QueryRow(ctx, `SELECT quantity FROM inventory WHERE sku=$1`, sku).Scan(&quantity); err != nil {
			return 0, fmt.Errorf("read quantity: %w", err)
		}
		return quantity, tx.Commit(ctx)
	}

	var remaining int
	err = tx.QueryRow(ctx, `
		UPDATE inventory
		SET quantity = quantity - $2, updated_at = now()
		WHERE sku = $1 AND quantity >= $2
		RETURNING quantity`,
		sku, qty).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if scanErr := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM inventory WHERE sku=$1)`, sku).Scan(&exists); scanErr == nil && !exists {
			return 0, application.ErrNotFound
		}
		// Rolling back also releases the marker, so a later retry of the
		// same order may succeed once stock returns.
		return 0, &domain.InsufficientStockError{SKU: sku, Requested: qty}
	}
	if err != nil {
		return 0, fmt.Errorf("decrement %s: %w", sku, err)
	}
	return remaining, tx.Commit(ctx)
}

func (r *Repository) ReverseDecrement(ctx context.Context, orderID, sku string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var qty int
	err = tx.QueryRow(ctx, `
		DELETE FROM stock_movements
		WHERE order_id = $1 AND sku = $2
		RETURNING qty`,
		orderID, sku).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return tx.Commit(ctx) // nothing was applied, nothing to undo
	}
	if err != nil {
		return fmt.Errorf("release movement: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inventory
		SET quantity = quantity + $2, updated_at = now()
		WHERE sku = $1`,
		sku, qty); err != nil {
		return fmt.Errorf("increment %s: %w", sku, err)
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, sku string) (domain.Record, error) {
	var rec domain.Record
	err := r.pool.QueryRow(ctx, `
		SELECT sku, name, quantity, updated_at FROM inventory WHERE sku=$1`, sku).
		Scan(&rec.SKU, &rec.Name, &rec.Quantity, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, application.ErrNotFound
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("get %s: %w", sku, err)
	}
	return rec, nil
}

func (r *Repository) Search(ctx context.Context, query string) ([]domain.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sku, name, quantity, updated_at
		FROM inventory
		WHERE sku ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%'`,
		query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		var rec domain.Record
		if err := rows.Scan(&rec.SKU, &rec.Name, &rec.Quantity, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

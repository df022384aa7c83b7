package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/downpay/internal/domain/order"
)

const (
	orderColumns = `id, user_id, product_id, product_name, price, down_payment,
		remaining_payment, authorization_id, payer_name, created_at`

	insertOrderSQL = `INSERT INTO orders (id, user_id, product_id, product_name, price,
		down_payment, remaining_payment, authorization_id, payer_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (authorization_id) DO NOTHING
		RETURNING ` + orderColumns

	getOrderByAuthorizationSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE authorization_id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// UNIQUE constraint on authorization_id makes CreateOrGet idempotent.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateOrGet inserts rec, or returns the order already recorded for its
// authorization id.
func (r *OrderRepository) CreateOrGet(ctx context.Context, rec *order.Record) (*order.Record, bool, error) {
	rows, err := r.pool.Query(ctx, insertOrderSQL,
		rec.ID, rec.UserID, rec.ProductID, rec.ProductName, rec.Price,
		rec.DownPayment, rec.RemainingPayment, rec.AuthorizationID, rec.PayerName,
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting order %q: %w", rec.AuthorizationID, err)
	}

	created, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	switch {
	case err == nil:
		return &created, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Lost the race or a replay: the conflicting row is the result.
		existing, err := r.GetByAuthorization(ctx, rec.AuthorizationID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("inserting order %q: %w", rec.AuthorizationID, err)
	}
}

// GetByAuthorization returns the order recorded for an authorization id.
func (r *OrderRepository) GetByAuthorization(ctx context.Context, authorizationID string) (*order.Record, error) {
	rows, err := r.pool.Query(ctx, getOrderByAuthorizationSQL, authorizationID)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", authorizationID, err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", authorizationID, err)
	}
	return &rec, nil
}

// ListByUser returns up to limit orders of userID, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]order.Record, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func scanOrder(row pgx.CollectableRow) (order.Record, error) {
	var rec order.Record
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.ProductID, &rec.ProductName, &rec.Price,
		&rec.DownPayment, &rec.RemainingPayment, &rec.AuthorizationID, &rec.PayerName,
		&rec.CreatedAt,
	)
	return rec, err
}

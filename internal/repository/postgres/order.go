package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lacehub/storefront/internal/domain"
	"github.com/lacehub/storefront/pkg/database"
	apperrors "github.com/lacehub/storefront/pkg/errors"
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order and its line items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	orderQuery := `
		INSERT INTO orders (id, user_id, session_id, status, total_amount, currency, payment_txn_id, captured_cents, notes, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING created_at, updated_at`

	err = tx.QueryRow(ctx, orderQuery,
		order.ID,
		order.UserID,
		order.SessionID,
		order.Status,
		order.TotalAmount,
		order.Currency,
		order.PaymentTxnID,
		order.CapturedCents,
		order.Notes,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, variant_id, name, sku, price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.OrderID = order.ID

		_, err = tx.Exec(ctx, itemQuery,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.VariantID,
			item.Name,
			item.SKU,
			item.Price,
			item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves an order with its line items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	orderQuery := `
		SELECT id, COALESCE(user_id, ''), COALESCE(session_id, ''), status, total_amount, currency, payment_txn_id, captured_cents, notes, created_at, updated_at
		FROM orders
		WHERE id = $1`

	var o domain.Order
	err := r.pool.QueryRow(ctx, orderQuery, id).Scan(
		&o.ID,
		&o.UserID,
		&o.SessionID,
		&o.Status,
		&o.TotalAmount,
		&o.Currency,
		&o.PaymentTxnID,
		&o.CapturedCents,
		&o.Notes,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}

	itemQuery := `
		SELECT id, order_id, product_id, variant_id, name, sku, price, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, itemQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.VariantID,
			&item.Name,
			&item.SKU,
			&item.Price,
			&item.Quantity,
		); err != nil {
			return nil, fmt.Errorf("scan order item row: %w", err)
		}
		o.Items = append(o.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order item rows: %w", err)
	}

	if o.Items == nil {
		o.Items = []domain.OrderItem{}
	}

	return &o, nil
}

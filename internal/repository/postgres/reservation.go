package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lacehub/storefront/internal/domain"
	"github.com/lacehub/storefront/pkg/database"
	apperrors "github.com/lacehub/storefront/pkg/errors"
)

// ReservationRepository implements repository.ReservationRepository using
// PostgreSQL. All status transitions are single conditional statements so the
// confirm-vs-expire race resolves to exactly one winner.
type ReservationRepository struct {
	pool database.DBTX
}

// NewReservationRepository creates a new PostgreSQL-backed reservation repository.
func NewReservationRepository(pool database.DBTX) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

// CreateReserving atomically verifies available(variant) >= quantity and
// inserts the reservation. The variant row is locked FOR UPDATE for the span
// of the check-and-insert, serializing concurrent creates per variant so two
// holds can never jointly exceed availability.
func (r *ReservationRepository) CreateReserving(ctx context.Context, res *domain.Reservation) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockQuery := `
		SELECT on_hand FROM stock_variants
		WHERE id = $1 AND active
		FOR UPDATE`

	var onHand int
	err = tx.QueryRow(ctx, lockQuery, res.VariantID).Scan(&onHand)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("lock variant row: %w", err)
	}

	reservedQuery := `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations
		WHERE variant_id = $1 AND status = 'active' AND expires_at > NOW()`

	var reserved int
	if err := tx.QueryRow(ctx, reservedQuery, res.VariantID).Scan(&reserved); err != nil {
		return fmt.Errorf("sum active reservations: %w", err)
	}

	if onHand-reserved < res.Quantity {
		return apperrors.InsufficientStock(fmt.Sprintf(
			"variant %s has %d available, requested %d", res.VariantID, onHand-reserved, res.Quantity))
	}

	insertQuery := `
		INSERT INTO stock_reservations (id, variant_id, product_id, quantity, user_id, session_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)`

	_, err = tx.Exec(ctx, insertQuery,
		res.ID,
		res.VariantID,
		res.ProductID,
		res.Quantity,
		res.UserID,
		res.SessionID,
		res.Status,
		res.ExpiresAt,
		res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a reservation by its identifier.
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `
		SELECT id, variant_id, product_id, quantity, COALESCE(user_id, ''), COALESCE(session_id, ''), status, COALESCE(order_id, ''), expires_at, created_at
		FROM stock_reservations
		WHERE id = $1`

	var res domain.Reservation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&res.ID,
		&res.VariantID,
		&res.ProductID,
		&res.Quantity,
		&res.UserID,
		&res.SessionID,
		&res.Status,
		&res.OrderID,
		&res.ExpiresAt,
		&res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get reservation by id: %w", err)
	}

	return &res, nil
}

// BestVariantForProduct returns the active variant of the product with the
// highest derived availability. Ties break arbitrarily.
func (r *ReservationRepository) BestVariantForProduct(ctx context.Context, productID string) (*domain.Variant, error) {
	query := `
		SELECT v.id, v.product_id, v.name, v.sku, v.price, v.on_hand, v.active, v.low_stock_threshold, v.created_at, v.updated_at
		FROM stock_variants v
		WHERE v.product_id = $1 AND v.active
		ORDER BY (v.on_hand - ` + reservedSubquery + `) DESC
		LIMIT 1`

	var v domain.Variant
	err := r.pool.QueryRow(ctx, query, productID).Scan(
		&v.ID,
		&v.ProductID,
		&v.Name,
		&v.SKU,
		&v.Price,
		&v.OnHand,
		&v.Active,
		&v.LowStockThreshold,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("best variant for product: %w", err)
	}

	return &v, nil
}

// Extend pushes expiration forward for an active reservation.
func (r *ReservationRepository) Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE stock_reservations
		SET expires_at = $2
		WHERE id = $1 AND status = 'active' AND expires_at > NOW()`

	ct, err := r.pool.Exec(ctx, query, id, expiresAt)
	if err != nil {
		return false, fmt.Errorf("extend reservation: %w", err)
	}

	return ct.RowsAffected() > 0, nil
}

// Release transitions active -> released. Zero rows affected means the row was
// already terminal or absent, which callers treat as a no-op.
func (r *ReservationRepository) Release(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE stock_reservations
		SET status = 'released'
		WHERE id = $1 AND status = 'active'`

	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("release reservation: %w", err)
	}

	return ct.RowsAffected() > 0, nil
}

// Confirm transitions active -> confirmed and stores the order reference. The
// guard re-checks status and expiration atomically with the transition, so a
// concurrent sweep-expire and confirm produce exactly one winner.
func (r *ReservationRepository) Confirm(ctx context.Context, id, orderID string) (bool, error) {
	query := `
		UPDATE stock_reservations
		SET status = 'confirmed', order_id = $2
		WHERE id = $1 AND status = 'active' AND expires_at > NOW()`

	ct, err := r.pool.Exec(ctx, query, id, orderID)
	if err != nil {
		return false, fmt.Errorf("confirm reservation: %w", err)
	}

	return ct.RowsAffected() > 0, nil
}

// ExpireStale transitions all active reservations past expiration to expired.
// Set-based and idempotent: a concurrent second sweep finds zero rows left.
func (r *ReservationRepository) ExpireStale(ctx context.Context) (int64, error) {
	query := `
		UPDATE stock_reservations
		SET status = 'expired'
		WHERE status = 'active' AND expires_at <= NOW()`

	ct, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("expire stale reservations: %w", err)
	}

	return ct.RowsAffected(), nil
}

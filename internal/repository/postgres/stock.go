package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lacehub/storefront/internal/domain"
	"github.com/lacehub/storefront/pkg/database"
	apperrors "github.com/lacehub/storefront/pkg/errors"
)

// reservedSubquery computes the active reserved quantity for the variant row
// aliased as v. Availability is always this derived value, never a counter.
const reservedSubquery = `COALESCE((
		SELECT SUM(r.quantity) FROM stock_reservations r
		WHERE r.variant_id = v.id AND r.status = 'active' AND r.expires_at > NOW()
	), 0)`

// StockRepository implements repository.StockRepository using PostgreSQL.
type StockRepository struct {
	pool database.DBTX
}

// NewStockRepository creates a new PostgreSQL-backed stock repository.
func NewStockRepository(pool database.DBTX) *StockRepository {
	return &StockRepository{pool: pool}
}

// GetVariant retrieves a variant by its identifier.
func (r *StockRepository) GetVariant(ctx context.Context, variantID string) (*domain.Variant, error) {
	query := `
		SELECT id, product_id, name, sku, price, on_hand, active, low_stock_threshold, created_at, updated_at
		FROM stock_variants
		WHERE id = $1`

	var v domain.Variant
	err := r.pool.QueryRow(ctx, query, variantID).Scan(
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
		return nil, fmt.Errorf("get variant: %w", err)
	}

	return &v, nil
}

// UpsertVariant creates or updates a variant record and returns the resulting row.
func (r *StockRepository) UpsertVariant(ctx context.Context, v *domain.Variant) (*domain.Variant, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	query := `
		INSERT INTO stock_variants (id, product_id, name, sku, price, on_hand, active, low_stock_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			sku = EXCLUDED.sku,
			price = EXCLUDED.price,
			on_hand = EXCLUDED.on_hand,
			active = EXCLUDED.active,
			low_stock_threshold = EXCLUDED.low_stock_threshold,
			updated_at = NOW()
		RETURNING id, product_id, name, sku, price, on_hand, active, low_stock_threshold, created_at, updated_at`

	var result domain.Variant
	err := r.pool.QueryRow(ctx, query,
		v.ID,
		v.ProductID,
		v.Name,
		v.SKU,
		v.Price,
		v.OnHand,
		v.Active,
		v.LowStockThreshold,
	).Scan(
		&result.ID,
		&result.ProductID,
		&result.Name,
		&result.SKU,
		&result.Price,
		&result.OnHand,
		&result.Active,
		&result.LowStockThreshold,
		&result.CreatedAt,
		&result.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert variant: %w", err)
	}

	return &result, nil
}

// AdjustOnHand atomically applies delta to on-hand and records a movement in
// the same transaction. The conditional update rejects (no mutation) any
// adjustment that would drive on-hand negative; the result is never clamped.
func (r *StockRepository) AdjustOnHand(ctx context.Context, variantID string, delta int, reason string, orderID *string) (*domain.StockMovement, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updateQuery := `
		UPDATE stock_variants
		SET on_hand = on_hand + $2, updated_at = NOW()
		WHERE id = $1 AND on_hand + $2 >= 0
		RETURNING on_hand`

	var after int
	err = tx.QueryRow(ctx, updateQuery, variantID, delta).Scan(&after)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the variant does not exist or the adjustment would go
			// negative; distinguish for the caller.
			var exists bool
			if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_variants WHERE id = $1)`, variantID).Scan(&exists); checkErr == nil && !exists {
				return nil, apperrors.ErrNotFound
			}
			return nil, apperrors.InsufficientStock(fmt.Sprintf("adjustment of %d would drive variant %s negative", delta, variantID))
		}
		return nil, fmt.Errorf("adjust on-hand: %w", err)
	}

	movement := &domain.StockMovement{
		ID:             uuid.NewString(),
		VariantID:      variantID,
		Delta:          delta,
		QuantityBefore: after - delta,
		QuantityAfter:  after,
		Reason:         reason,
		OrderID:        orderID,
	}

	movementQuery := `
		INSERT INTO stock_movements (id, variant_id, delta, quantity_before, quantity_after, reason, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at`

	err = tx.QueryRow(ctx, movementQuery,
		movement.ID,
		movement.VariantID,
		movement.Delta,
		movement.QuantityBefore,
		movement.QuantityAfter,
		movement.Reason,
		movement.OrderID,
	).Scan(&movement.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert stock movement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return movement, nil
}

// Availability returns the derived availability for a variant.
func (r *StockRepository) Availability(ctx context.Context, variantID string) (*domain.VariantAvailability, error) {
	query := `
		SELECT v.id, v.product_id, v.on_hand, ` + reservedSubquery + ` AS reserved
		FROM stock_variants v
		WHERE v.id = $1`

	var a domain.VariantAvailability
	err := r.pool.QueryRow(ctx, query, variantID).Scan(
		&a.VariantID,
		&a.ProductID,
		&a.OnHand,
		&a.Reserved,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get availability: %w", err)
	}

	a.Available = a.OnHand - a.Reserved
	return &a, nil
}

// BulkCheck checks derived availability for multiple variants in one query.
func (r *StockRepository) BulkCheck(ctx context.Context, items []domain.StockCheckItem) ([]domain.StockCheckResult, error) {
	if len(items) == 0 {
		return []domain.StockCheckResult{}, nil
	}

	args := make([]interface{}, 0, len(items))
	placeholders := make([]string, 0, len(items))
	for i, item := range items {
		placeholders = append(placeholders, "$"+strconv.Itoa(i+1))
		args = append(args, item.VariantID)
	}

	query := `
		SELECT v.id, v.on_hand, ` + reservedSubquery + ` AS reserved
		FROM stock_variants v
		WHERE v.id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bulk check stock: %w", err)
	}
	defer rows.Close()

	available := make(map[string]int, len(items))
	for rows.Next() {
		var id string
		var onHand, reserved int
		if err := rows.Scan(&id, &onHand, &reserved); err != nil {
			return nil, fmt.Errorf("scan bulk check row: %w", err)
		}
		available[id] = onHand - reserved
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bulk check rows: %w", err)
	}

	// Results in the same order as the input; unknown variants report zero.
	results := make([]domain.StockCheckResult, 0, len(items))
	for _, item := range items {
		avail, ok := available[item.VariantID]
		if !ok {
			avail = 0
		}
		results = append(results, domain.StockCheckResult{
			VariantID: item.VariantID,
			Requested: item.Quantity,
			Available: avail,
			InStock:   ok && avail >= item.Quantity,
		})
	}

	return results, nil
}

// ListLowStock returns variants whose derived availability is at or below
// their low-stock threshold.
func (r *StockRepository) ListLowStock(ctx context.Context, page, perPage int) ([]domain.Variant, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}

	offset := (page - 1) * perPage

	query := `
		SELECT v.id, v.product_id, v.name, v.sku, v.price, v.on_hand, v.active, v.low_stock_threshold, v.created_at, v.updated_at,
			   count(*) OVER() AS total_count
		FROM stock_variants v
		WHERE v.active AND (v.on_hand - ` + reservedSubquery + `) <= v.low_stock_threshold
		ORDER BY (v.on_hand - ` + reservedSubquery + `) ASC, v.updated_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	var (
		variants   []domain.Variant
		totalCount int
	)

	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(
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
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan low stock row: %w", err)
		}
		variants = append(variants, v)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate low stock rows: %w", err)
	}

	if variants == nil {
		variants = []domain.Variant{}
	}

	return variants, totalCount, nil
}

// ListMovements returns the audit movements for a variant, newest first.
func (r *StockRepository) ListMovements(ctx context.Context, variantID string, page, perPage int) ([]domain.StockMovement, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}

	offset := (page - 1) * perPage

	query := `
		SELECT id, variant_id, delta, quantity_before, quantity_after, reason, order_id, created_at,
			   count(*) OVER() AS total_count
		FROM stock_movements
		WHERE variant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, variantID, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	var (
		movements  []domain.StockMovement
		totalCount int
	)

	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(
			&m.ID,
			&m.VariantID,
			&m.Delta,
			&m.QuantityBefore,
			&m.QuantityAfter,
			&m.Reason,
			&m.OrderID,
			&m.CreatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan stock movement row: %w", err)
		}
		movements = append(movements, m)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate stock movement rows: %w", err)
	}

	if movements == nil {
		movements = []domain.StockMovement{}
	}

	return movements, totalCount, nil
}

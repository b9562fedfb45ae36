package repository

import (
	"context"
	"time"

	"github.com/lacehub/storefront/internal/domain"
)

// StockRepository defines the interface for variant stock persistence.
// Available quantity is always derived at read time from on-hand minus active
// reserved quantity; it is never stored as a column.
type StockRepository interface {
	// GetVariant retrieves a variant by its identifier.
	GetVariant(ctx context.Context, variantID string) (*domain.Variant, error)

	// UpsertVariant creates or updates a variant record (initialize/restock
	// by catalog management).
	UpsertVariant(ctx context.Context, v *domain.Variant) (*domain.Variant, error)

	// AdjustOnHand atomically applies delta to on-hand and records a movement
	// in the same transaction. Rejects adjustments that would drive on-hand
	// negative. Returns the recorded movement.
	AdjustOnHand(ctx context.Context, variantID string, delta int, reason string, orderID *string) (*domain.StockMovement, error)

	// Availability returns the derived availability for a variant.
	Availability(ctx context.Context, variantID string) (*domain.VariantAvailability, error)

	// BulkCheck checks derived availability for multiple variants at once.
	BulkCheck(ctx context.Context, items []domain.StockCheckItem) ([]domain.StockCheckResult, error)

	// ListLowStock returns variants whose derived availability is at or below
	// their low-stock threshold.
	ListLowStock(ctx context.Context, page, perPage int) ([]domain.Variant, int, error)

	// ListMovements returns the audit movements for a variant, newest first.
	ListMovements(ctx context.Context, variantID string, page, perPage int) ([]domain.StockMovement, int, error)
}

// ReservationRepository defines the interface for reservation persistence.
// Status transitions are expressed as conditional single-statement updates so
// the confirm-vs-expire race resolves to exactly one winner.
type ReservationRepository interface {
	// CreateReserving atomically verifies available(variant) >= quantity and
	// inserts the reservation, serialized per variant. Returns
	// apperrors.ErrInsufficientStock when availability is short.
	CreateReserving(ctx context.Context, res *domain.Reservation) error

	// GetByID retrieves a reservation by its identifier.
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)

	// BestVariantForProduct returns the active variant of the product with
	// the highest derived availability.
	BestVariantForProduct(ctx context.Context, productID string) (*domain.Variant, error)

	// Extend pushes expiration forward for an active reservation. Returns
	// false when the reservation is not active (or does not exist).
	Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error)

	// Release transitions active -> released. Returns false when the row was
	// not active; that is not an error.
	Release(ctx context.Context, id string) (bool, error)

	// Confirm transitions active -> confirmed and stores the order reference,
	// guarded by status = active AND expires_at > now. Returns false when the
	// guard did not hold.
	Confirm(ctx context.Context, id, orderID string) (bool, error)

	// ExpireStale transitions all active reservations past expiration to
	// expired and returns the number of rows moved.
	ExpireStale(ctx context.Context) (int64, error)
}

// OrderRepository defines the interface for order persistence.
type OrderRepository interface {
	// Create inserts the order and its line items in one transaction.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order with its line items.
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

// CartRepository defines the interface for cart persistence.
type CartRepository interface {
	// Get retrieves a cart by its identifier.
	Get(ctx context.Context, cartID string) (*domain.Cart, error)

	// Save persists the cart with the configured TTL.
	Save(ctx context.Context, cart *domain.Cart) error

	// Delete removes a cart.
	Delete(ctx context.Context, cartID string) error

	// ListIDs returns the identifiers of all stored carts, for the
	// revalidation watcher.
	ListIDs(ctx context.Context) ([]string, error)
}

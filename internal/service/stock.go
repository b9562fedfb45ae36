package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lacehub/storefront/internal/domain"
	"github.com/lacehub/storefront/internal/repository"
	apperrors "github.com/lacehub/storefront/pkg/errors"
)

// StockService implements the stock ledger: on-hand adjustments with audit
// movements, derived availability reads, and the low-stock listing.
type StockService struct {
	stock  repository.StockRepository
	events EventPublisher
	logger *slog.Logger
}

// NewStockService creates a new stock service.
func NewStockService(stock repository.StockRepository, events EventPublisher, logger *slog.Logger) *StockService {
	return &StockService{
		stock:  stock,
		events: events,
		logger: logger,
	}
}

// InitializeVariant seeds or restocks a variant. Entry point for catalog
// management via the HTTP API.
func (s *StockService) InitializeVariant(ctx context.Context, v *domain.Variant) (*domain.Variant, error) {
	if v.ProductID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	if v.OnHand < 0 {
		return nil, apperrors.InvalidInput("on_hand must be non-negative")
	}
	if v.Price < 0 {
		return nil, apperrors.InvalidInput("price must be non-negative")
	}

	result, err := s.stock.UpsertVariant(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("initialize variant: %w", err)
	}

	s.logger.InfoContext(ctx, "variant initialized",
		slog.String("variant_id", result.ID),
		slog.String("product_id", result.ProductID),
		slog.Int("on_hand", result.OnHand),
	)

	return result, nil
}

// GetVariant retrieves a variant by id.
func (s *StockService) GetVariant(ctx context.Context, variantID string) (*domain.Variant, error) {
	v, err := s.stock.GetVariant(ctx, variantID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("variant", variantID)
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}
	return v, nil
}

// AdjustOnHand applies delta to a variant's on-hand quantity with an audit
// movement written in the same transaction. Adjustments that would drive
// on-hand negative are rejected, never clamped. Returns the movement.
func (s *StockService) AdjustOnHand(ctx context.Context, variantID string, delta int, reason string, orderID *string) (*domain.StockMovement, error) {
	if variantID == "" {
		return nil, apperrors.InvalidInput("variant_id is required")
	}
	if delta == 0 {
		return nil, apperrors.InvalidInput("delta must be non-zero")
	}
	if !domain.IsValidMovementReason(reason) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid movement reason %q", reason))
	}

	movement, err := s.stock.AdjustOnHand(ctx, variantID, delta, reason, orderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("variant", variantID)
		}
		if errors.Is(err, apperrors.ErrInsufficientStock) {
			return nil, err
		}
		return nil, fmt.Errorf("adjust on-hand: %w", err)
	}

	s.publishAfterAdjust(ctx, variantID, reason)

	s.logger.InfoContext(ctx, "on-hand adjusted",
		slog.String("variant_id", variantID),
		slog.Int("delta", delta),
		slog.String("reason", reason),
		slog.Int("on_hand", movement.QuantityAfter),
	)

	return movement, nil
}

// publishAfterAdjust emits stock.updated and, when availability has fallen to
// the threshold, stock.low. Publish failures are log-only.
func (s *StockService) publishAfterAdjust(ctx context.Context, variantID, reason string) {
	avail, err := s.stock.Availability(ctx, variantID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read availability after adjustment",
			slog.String("variant_id", variantID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.events.PublishStockUpdated(ctx, avail, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish stock.updated event",
			slog.String("variant_id", variantID),
			slog.String("error", err.Error()),
		)
	}

	variant, err := s.stock.GetVariant(ctx, variantID)
	if err != nil {
		return
	}
	if avail.Available <= variant.LowStockThreshold {
		if err := s.events.PublishStockLow(ctx, variant, avail.Available); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish stock.low event",
				slog.String("variant_id", variantID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Availability returns the derived availability for a variant.
func (s *StockService) Availability(ctx context.Context, variantID string) (*domain.VariantAvailability, error) {
	avail, err := s.stock.Availability(ctx, variantID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("variant", variantID)
		}
		return nil, fmt.Errorf("get availability: %w", err)
	}
	return avail, nil
}

// CheckAvailability checks whether the requested quantities are available for
// multiple variants at once. Returns per-item results and an all-clear flag.
func (s *StockService) CheckAvailability(ctx context.Context, items []domain.StockCheckItem) ([]domain.StockCheckResult, bool, error) {
	if len(items) == 0 {
		return nil, false, apperrors.InvalidInput("items list cannot be empty")
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, false, apperrors.InvalidInput("item quantity must be > 0")
		}
	}

	results, err := s.stock.BulkCheck(ctx, items)
	if err != nil {
		return nil, false, fmt.Errorf("check availability: %w", err)
	}

	allAvailable := true
	for _, r := range results {
		if !r.InStock {
			allAvailable = false
			break
		}
	}

	return results, allAvailable, nil
}

// ListLowStock returns variants whose availability is at or below their
// low-stock threshold.
func (s *StockService) ListLowStock(ctx context.Context, page, perPage int) ([]domain.Variant, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	variants, total, err := s.stock.ListLowStock(ctx, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock: %w", err)
	}

	return variants, total, nil
}

// ListMovements returns the audit movements for a variant for admin
// dashboards and other audit consumers, newest first.
func (s *StockService) ListMovements(ctx context.Context, variantID string, page, perPage int) ([]domain.StockMovement, int, error) {
	if variantID == "" {
		return nil, 0, apperrors.InvalidInput("variant_id is required")
	}
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	movements, total, err := s.stock.ListMovements(ctx, variantID, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}

	return movements, total, nil
}

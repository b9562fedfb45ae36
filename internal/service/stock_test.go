package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lacehub/storefront/internal/domain"
	apperrors "github.com/lacehub/storefront/pkg/errors"
)

func newStockService(repo *mockStockRepository, events *mockEventPublisher) *StockService {
	return NewStockService(repo, events, newTestLogger())
}

func testVariant(id string, onHand int) *domain.Variant {
	return &domain.Variant{
		ID:                id,
		ProductID:         "prod-1",
		Name:              "Court Classic '89 / US 10",
		SKU:               "CC89-WHT-10",
		Price:             12900,
		OnHand:            onHand,
		Active:            true,
		LowStockThreshold: 5,
	}
}

func TestStockServiceAdjustOnHand(t *testing.T) {
	ctx := context.Background()

	t.Run("applies delta and records movement", func(t *testing.T) {
		repo := new(mockStockRepository)
		events := new(mockEventPublisher)
		svc := newStockService(repo, events)

		movement := &domain.StockMovement{
			VariantID:      "var-1",
			Delta:          10,
			QuantityBefore: 5,
			QuantityAfter:  15,
			Reason:         domain.MovementReasonRestock,
		}
		repo.On("AdjustOnHand", ctx, "var-1", 10, domain.MovementReasonRestock, (*string)(nil)).Return(movement, nil)
		repo.On("Availability", ctx, "var-1").Return(&domain.VariantAvailability{VariantID: "var-1", OnHand: 15, Available: 15}, nil)
		repo.On("GetVariant", ctx, "var-1").Return(testVariant("var-1", 15), nil)
		events.On("PublishStockUpdated", ctx, mock.Anything, domain.MovementReasonRestock).Return(nil)

		got, err := svc.AdjustOnHand(ctx, "var-1", 10, domain.MovementReasonRestock, nil)
		require.NoError(t, err)
		assert.Equal(t, 15, got.QuantityAfter)
		assert.Equal(t, got.QuantityAfter-got.Delta, got.QuantityBefore)
		events.AssertNotCalled(t, "PublishStockLow", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("emits stock.low when availability reaches threshold", func(t *testing.T) {
		repo := new(mockStockRepository)
		events := new(mockEventPublisher)
		svc := newStockService(repo, events)

		movement := &domain.StockMovement{VariantID: "var-1", Delta: -2, QuantityBefore: 6, QuantityAfter: 4, Reason: domain.MovementReasonManualAdjustment}
		variant := testVariant("var-1", 4)

		repo.On("AdjustOnHand", ctx, "var-1", -2, domain.MovementReasonManualAdjustment, (*string)(nil)).Return(movement, nil)
		repo.On("Availability", ctx, "var-1").Return(&domain.VariantAvailability{VariantID: "var-1", OnHand: 4, Available: 4}, nil)
		repo.On("GetVariant", ctx, "var-1").Return(variant, nil)
		events.On("PublishStockUpdated", ctx, mock.Anything, domain.MovementReasonManualAdjustment).Return(nil)
		events.On("PublishStockLow", ctx, variant, 4).Return(nil)

		_, err := svc.AdjustOnHand(ctx, "var-1", -2, domain.MovementReasonManualAdjustment, nil)
		require.NoError(t, err)
		events.AssertExpectations(t)
	})

	t.Run("rejects adjustments that would go negative", func(t *testing.T) {
		repo := new(mockStockRepository)
		svc := newStockService(repo, new(mockEventPublisher))

		repo.On("AdjustOnHand", ctx, "var-1", -10, domain.MovementReasonManualAdjustment, (*string)(nil)).
			Return(nil, apperrors.InsufficientStock("on-hand cannot go negative"))

		_, err := svc.AdjustOnHand(ctx, "var-1", -10, domain.MovementReasonManualAdjustment, nil)
		assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
	})

	t.Run("rejects zero delta", func(t *testing.T) {
		svc := newStockService(new(mockStockRepository), new(mockEventPublisher))

		_, err := svc.AdjustOnHand(ctx, "var-1", 0, domain.MovementReasonRestock, nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("rejects unknown movement reason", func(t *testing.T) {
		svc := newStockService(new(mockStockRepository), new(mockEventPublisher))

		_, err := svc.AdjustOnHand(ctx, "var-1", 1, "shrinkage", nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("unknown variant is not found", func(t *testing.T) {
		repo := new(mockStockRepository)
		svc := newStockService(repo, new(mockEventPublisher))

		repo.On("AdjustOnHand", ctx, "var-x", 1, domain.MovementReasonRestock, (*string)(nil)).
			Return(nil, apperrors.NotFound("variant", "var-x"))

		_, err := svc.AdjustOnHand(ctx, "var-x", 1, domain.MovementReasonRestock, nil)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("publish failure does not fail the adjustment", func(t *testing.T) {
		repo := new(mockStockRepository)
		events := new(mockEventPublisher)
		svc := newStockService(repo, events)

		movement := &domain.StockMovement{VariantID: "var-1", Delta: 1, QuantityBefore: 9, QuantityAfter: 10, Reason: domain.MovementReasonRestock}
		repo.On("AdjustOnHand", ctx, "var-1", 1, domain.MovementReasonRestock, (*string)(nil)).Return(movement, nil)
		repo.On("Availability", ctx, "var-1").Return(&domain.VariantAvailability{VariantID: "var-1", OnHand: 10, Available: 10}, nil)
		repo.On("GetVariant", ctx, "var-1").Return(testVariant("var-1", 10), nil)
		events.On("PublishStockUpdated", ctx, mock.Anything, mock.Anything).Return(errors.New("kafka down"))

		_, err := svc.AdjustOnHand(ctx, "var-1", 1, domain.MovementReasonRestock, nil)
		assert.NoError(t, err)
	})
}

func TestStockServiceInitializeVariant(t *testing.T) {
	ctx := context.Background()

	t.Run("seeds a variant", func(t *testing.T) {
		repo := new(mockStockRepository)
		svc := newStockService(repo, new(mockEventPublisher))

		v := testVariant("", 20)
		stored := testVariant("var-1", 20)
		repo.On("UpsertVariant", ctx, v).Return(stored, nil)

		got, err := svc.InitializeVariant(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, "var-1", got.ID)
	})

	t.Run("rejects negative on-hand", func(t *testing.T) {
		svc := newStockService(new(mockStockRepository), new(mockEventPublisher))

		v := testVariant("", -1)
		_, err := svc.InitializeVariant(ctx, v)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("rejects missing product", func(t *testing.T) {
		svc := newStockService(new(mockStockRepository), new(mockEventPublisher))

		v := testVariant("", 5)
		v.ProductID = ""
		_, err := svc.InitializeVariant(ctx, v)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestStockServiceCheckAvailability(t *testing.T) {
	ctx := context.Background()

	t.Run("mixed results clear the all-available flag", func(t *testing.T) {
		repo := new(mockStockRepository)
		svc := newStockService(repo, new(mockEventPublisher))

		items := []domain.StockCheckItem{
			{VariantID: "var-1", Quantity: 2},
			{VariantID: "var-2", Quantity: 5},
		}
		repo.On("BulkCheck", ctx, items).Return([]domain.StockCheckResult{
			{VariantID: "var-1", Requested: 2, Available: 10, InStock: true},
			{VariantID: "var-2", Requested: 5, Available: 1, InStock: false},
		}, nil)

		results, all, err := svc.CheckAvailability(ctx, items)
		require.NoError(t, err)
		assert.False(t, all)
		assert.Len(t, results, 2)
	})

	t.Run("empty list is invalid", func(t *testing.T) {
		svc := newStockService(new(mockStockRepository), new(mockEventPublisher))

		_, _, err := svc.CheckAvailability(ctx, nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("non-positive quantity is invalid", func(t *testing.T) {
		svc := newStockService(new(mockStockRepository), new(mockEventPublisher))

		_, _, err := svc.CheckAvailability(ctx, []domain.StockCheckItem{{VariantID: "var-1", Quantity: 0}})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestStockServiceListLowStock(t *testing.T) {
	ctx := context.Background()

	repo := new(mockStockRepository)
	svc := newStockService(repo, new(mockEventPublisher))

	repo.On("ListLowStock", ctx, 1, 20).Return([]domain.Variant{*testVariant("var-1", 2)}, 1, nil)

	variants, total, err := svc.ListLowStock(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, variants, 1)
}

func TestStockServiceListMovements(t *testing.T) {
	ctx := context.Background()

	t.Run("clamps page size", func(t *testing.T) {
		repo := new(mockStockRepository)
		svc := newStockService(repo, new(mockEventPublisher))

		repo.On("ListMovements", ctx, "var-1", 1, 100).Return([]domain.StockMovement{}, 0, nil)

		_, _, err := svc.ListMovements(ctx, "var-1", 1, 500)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("requires a variant id", func(t *testing.T) {
		svc := newStockService(new(mockStockRepository), new(mockEventPublisher))

		_, _, err := svc.ListMovements(ctx, "", 1, 20)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

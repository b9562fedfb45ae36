package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lacehub/storefront/internal/catalog"
	"github.com/lacehub/storefront/internal/domain"
	apperrors "github.com/lacehub/storefront/pkg/errors"
)

func newCartService(
	carts *mockCartRepository,
	reservations *mockReservationManager,
	stock *mockStockLedger,
	products *mockCatalog,
) *CartService {
	return NewCartService(carts, reservations, stock, products, newTestLogger())
}

func storedCart(items ...domain.CartItem) *domain.Cart {
	return &domain.Cart{
		ID:        "cart-1",
		UserID:    "user-1",
		Items:     items,
		Currency:  "USD",
		Version:   1,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		UpdatedAt: time.Now().UTC().Add(-time.Minute),
	}
}

func cartLine(variantID string, qty int, ref domain.ReservationRef) domain.CartItem {
	return domain.CartItem{
		ProductID:   "prod-1",
		VariantID:   variantID,
		Name:        "Court Classic '89",
		SKU:         "CC89-WHT-10",
		Price:       12900,
		Quantity:    qty,
		Reservation: ref,
	}
}

func variantInfo(variantID string) *catalog.VariantInfo {
	return &catalog.VariantInfo{
		ProductID: "prod-1",
		VariantID: variantID,
		Name:      "Court Classic '89",
		SKU:       "CC89-WHT-10",
		Price:     12900,
		Currency:  "USD",
		Active:    true,
	}
}

func TestCartServiceAddItem(t *testing.T) {
	ctx := context.Background()

	t.Run("reserves before adding the line", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		products := new(mockCatalog)
		svc := newCartService(carts, reservations, new(mockStockLedger), products)

		carts.On("Get", ctx, "cart-1").Return(storedCart(), nil)
		products.On("GetVariant", ctx, "prod-1", "var-1").Return(variantInfo("var-1"), nil)
		reservations.On("Create", ctx, mock.MatchedBy(func(in CreateReservationInput) bool {
			return in.VariantID == "var-1" && in.Quantity == 2 && in.UserID == "user-1"
		})).Return(activeReservation("res-1"), nil)
		carts.On("Save", ctx, mock.MatchedBy(func(c *domain.Cart) bool {
			return len(c.Items) == 1 && c.Items[0].Reservation == domain.RealRef("res-1")
		})).Return(nil)

		cart, err := svc.AddItem(ctx, AddItemInput{
			CartID:    "cart-1",
			ProductID: "prod-1",
			VariantID: "var-1",
			Quantity:  2,
		})

		require.NoError(t, err)
		require.Len(t, cart.Items, 1)
		assert.Equal(t, "CC89-WHT-10", cart.Items[0].SKU)
		assert.Equal(t, int64(12900), cart.Items[0].Price)
		carts.AssertExpectations(t)
	})

	t.Run("reservation failure leaves the cart untouched", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		products := new(mockCatalog)
		svc := newCartService(carts, reservations, new(mockStockLedger), products)

		carts.On("Get", ctx, "cart-1").Return(storedCart(), nil)
		products.On("GetVariant", ctx, "prod-1", "var-1").Return(variantInfo("var-1"), nil)
		reservations.On("Create", ctx, mock.Anything).Return(nil, apperrors.InsufficientStock("requested 2, available 0"))

		_, err := svc.AddItem(ctx, AddItemInput{
			CartID:    "cart-1",
			ProductID: "prod-1",
			VariantID: "var-1",
			Quantity:  2,
		})

		assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
		carts.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("creates cart on first add for a new owner", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		products := new(mockCatalog)
		svc := newCartService(carts, reservations, new(mockStockLedger), products)

		products.On("GetVariant", ctx, "prod-1", "var-1").Return(variantInfo("var-1"), nil)
		reservations.On("Create", ctx, mock.Anything).Return(activeReservation("res-1"), nil)
		carts.On("Save", ctx, mock.MatchedBy(func(c *domain.Cart) bool {
			return c.ID != "" && c.SessionID == "sess-1" && len(c.Items) == 1
		})).Return(nil)

		cart, err := svc.AddItem(ctx, AddItemInput{
			SessionID: "sess-1",
			ProductID: "prod-1",
			VariantID: "var-1",
			Quantity:  1,
		})

		require.NoError(t, err)
		assert.NotEmpty(t, cart.ID)
	})

	t.Run("inactive variant is rejected", func(t *testing.T) {
		carts := new(mockCartRepository)
		products := new(mockCatalog)
		svc := newCartService(carts, new(mockReservationManager), new(mockStockLedger), products)

		carts.On("Get", ctx, "cart-1").Return(storedCart(), nil)
		delisted := variantInfo("var-1")
		delisted.Active = false
		products.On("GetVariant", ctx, "prod-1", "var-1").Return(delisted, nil)

		_, err := svc.AddItem(ctx, AddItemInput{
			CartID:    "cart-1",
			ProductID: "prod-1",
			VariantID: "var-1",
			Quantity:  1,
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		svc := newCartService(new(mockCartRepository), new(mockReservationManager), new(mockStockLedger), new(mockCatalog))

		_, err := svc.AddItem(ctx, AddItemInput{CartID: "cart-1", ProductID: "prod-1", VariantID: "var-1", Quantity: 0})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestCartServiceUpdateQuantity(t *testing.T) {
	ctx := context.Background()

	t.Run("releases old hold and reserves the new quantity", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		svc := newCartService(carts, reservations, new(mockStockLedger), new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(cartLine("var-1", 2, domain.RealRef("res-old"))), nil)
		reservations.On("Release", ctx, domain.RealRef("res-old")).Return()
		reservations.On("Create", ctx, mock.MatchedBy(func(in CreateReservationInput) bool {
			return in.Quantity == 5
		})).Return(activeReservation("res-new"), nil)
		carts.On("Save", ctx, mock.MatchedBy(func(c *domain.Cart) bool {
			return c.Items[0].Quantity == 5 && c.Items[0].Reservation == domain.RealRef("res-new")
		})).Return(nil)

		cart, err := svc.UpdateQuantity(ctx, "cart-1", "var-1", 5)
		require.NoError(t, err)
		assert.Equal(t, 5, cart.Items[0].Quantity)
	})

	t.Run("restores the previous line when the new hold fails", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		svc := newCartService(carts, reservations, new(mockStockLedger), new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(cartLine("var-1", 2, domain.RealRef("res-old"))), nil)
		reservations.On("Release", ctx, domain.RealRef("res-old")).Return()
		reservations.On("Create", ctx, mock.MatchedBy(func(in CreateReservationInput) bool {
			return in.Quantity == 50
		})).Return(nil, apperrors.InsufficientStock("requested 50, available 2"))
		reservations.On("Create", ctx, mock.MatchedBy(func(in CreateReservationInput) bool {
			return in.Quantity == 2
		})).Return(activeReservation("res-restored"), nil)
		carts.On("Save", ctx, mock.MatchedBy(func(c *domain.Cart) bool {
			return c.Items[0].Quantity == 2 && c.Items[0].Reservation == domain.RealRef("res-restored")
		})).Return(nil)

		_, err := svc.UpdateQuantity(ctx, "cart-1", "var-1", 50)
		assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
		carts.AssertExpectations(t)
	})

	t.Run("unknown line is not found", func(t *testing.T) {
		carts := new(mockCartRepository)
		svc := newCartService(carts, new(mockReservationManager), new(mockStockLedger), new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(), nil)

		_, err := svc.UpdateQuantity(ctx, "cart-1", "var-x", 1)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("zero quantity is rejected", func(t *testing.T) {
		svc := newCartService(new(mockCartRepository), new(mockReservationManager), new(mockStockLedger), new(mockCatalog))

		_, err := svc.UpdateQuantity(ctx, "cart-1", "var-1", 0)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestCartServiceRemoveItem(t *testing.T) {
	ctx := context.Background()

	t.Run("releases the hold and drops the line", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		svc := newCartService(carts, reservations, new(mockStockLedger), new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(
			cartLine("var-1", 2, domain.RealRef("res-1")),
			cartLine("var-2", 1, domain.RealRef("res-2")),
		), nil)
		reservations.On("Release", ctx, domain.RealRef("res-1")).Return()
		carts.On("Save", ctx, mock.MatchedBy(func(c *domain.Cart) bool {
			return len(c.Items) == 1 && c.Items[0].VariantID == "var-2"
		})).Return(nil)

		cart, err := svc.RemoveItem(ctx, "cart-1", "var-1")
		require.NoError(t, err)
		assert.Len(t, cart.Items, 1)
		reservations.AssertExpectations(t)
	})

	t.Run("removal succeeds even when the line holds a simulated ref", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		svc := newCartService(carts, reservations, new(mockStockLedger), new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(cartLine("var-1", 2, domain.SimulatedRef())), nil)
		reservations.On("Release", ctx, domain.SimulatedRef()).Return()
		carts.On("Save", ctx, mock.Anything).Return(nil)

		cart, err := svc.RemoveItem(ctx, "cart-1", "var-1")
		require.NoError(t, err)
		assert.Empty(t, cart.Items)
	})
}

func TestCartServiceRevalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("removes lines with zero availability", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		svc := newCartService(carts, reservations, stock, new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(
			cartLine("var-1", 2, domain.RealRef("res-1")),
			cartLine("var-2", 1, domain.RealRef("res-2")),
		), nil)
		// var-1 sold out entirely: nothing on hand beyond other holds.
		stock.On("Availability", ctx, "var-1").Return(&domain.VariantAvailability{VariantID: "var-1", Available: -2}, nil)
		stock.On("Availability", ctx, "var-2").Return(&domain.VariantAvailability{VariantID: "var-2", Available: 8}, nil)
		reservations.On("Validate", ctx, "res-1").Return(&domain.ValidationResult{Valid: true}, nil)
		reservations.On("Validate", ctx, "res-2").Return(&domain.ValidationResult{Valid: true}, nil)
		reservations.On("Release", ctx, domain.RealRef("res-1")).Return()
		carts.On("Save", ctx, mock.MatchedBy(func(c *domain.Cart) bool {
			return len(c.Items) == 1 && c.Items[0].VariantID == "var-2"
		})).Return(nil)

		cart, issues, err := svc.Revalidate(ctx, "cart-1")
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, domain.CartIssueRemoved, issues[0].Kind)
		assert.Equal(t, "var-1", issues[0].VariantID)
		assert.Len(t, cart.Items, 1)
	})

	t.Run("clamps a line down to what is available", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		svc := newCartService(carts, reservations, stock, new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(cartLine("var-1", 5, domain.RealRef("res-1"))), nil)
		// Availability already counts this cart's own hold of 5, so capacity
		// for the line is 5 + (-2) = 3.
		stock.On("Availability", ctx, "var-1").Return(&domain.VariantAvailability{VariantID: "var-1", Available: -2}, nil)
		reservations.On("Validate", ctx, "res-1").Return(&domain.ValidationResult{Valid: true}, nil)
		reservations.On("Release", ctx, domain.RealRef("res-1")).Return()
		reservations.On("Create", ctx, mock.MatchedBy(func(in CreateReservationInput) bool {
			return in.Quantity == 3
		})).Return(activeReservation("res-clamped"), nil)
		carts.On("Save", ctx, mock.Anything).Return(nil)

		cart, issues, err := svc.Revalidate(ctx, "cart-1")
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, domain.CartIssueAdjusted, issues[0].Kind)
		assert.Equal(t, 5, issues[0].OldQuantity)
		assert.Equal(t, 3, issues[0].NewQuantity)
		assert.Equal(t, 3, cart.Items[0].Quantity)
	})

	t.Run("untouched cart is not rewritten", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		svc := newCartService(carts, reservations, stock, new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(cartLine("var-1", 2, domain.RealRef("res-1"))), nil)
		stock.On("Availability", ctx, "var-1").Return(&domain.VariantAvailability{VariantID: "var-1", Available: 10}, nil)
		reservations.On("Validate", ctx, "res-1").Return(&domain.ValidationResult{Valid: true}, nil)

		_, issues, err := svc.Revalidate(ctx, "cart-1")
		require.NoError(t, err)
		assert.Empty(t, issues)
		carts.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("expired hold with no stock left is removed and reported", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		svc := newCartService(carts, reservations, stock, new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(cartLine("var-1", 2, domain.RealRef("res-dead"))), nil)
		// The dead hold no longer counts in the reserved sum, and other
		// shoppers have since taken the stock it once held.
		stock.On("Availability", ctx, "var-1").Return(&domain.VariantAvailability{VariantID: "var-1", OnHand: 2, Reserved: 2, Available: 0}, nil)
		reservations.On("Validate", ctx, "res-dead").Return(&domain.ValidationResult{Valid: false, Reason: domain.ValidationReasonExpired}, nil)
		reservations.On("Release", ctx, domain.RealRef("res-dead")).Return()
		carts.On("Delete", ctx, "cart-1").Return(nil)

		cart, issues, err := svc.Revalidate(ctx, "cart-1")
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, domain.CartIssueRemoved, issues[0].Kind)
		assert.Equal(t, "var-1", issues[0].VariantID)
		assert.Empty(t, cart.Items)
		reservations.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("expired hold is re-reserved when the quantity still fits", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		svc := newCartService(carts, reservations, stock, new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(cartLine("var-1", 2, domain.RealRef("res-dead"))), nil)
		stock.On("Availability", ctx, "var-1").Return(&domain.VariantAvailability{VariantID: "var-1", OnHand: 6, Reserved: 1, Available: 5}, nil)
		reservations.On("Validate", ctx, "res-dead").Return(&domain.ValidationResult{Valid: false, Reason: domain.ValidationReasonExpired}, nil)
		reservations.On("Create", ctx, mock.MatchedBy(func(in CreateReservationInput) bool {
			return in.VariantID == "var-1" && in.Quantity == 2
		})).Return(activeReservation("res-fresh"), nil)
		carts.On("Save", ctx, mock.MatchedBy(func(c *domain.Cart) bool {
			return c.Items[0].Reservation == domain.RealRef("res-fresh") && c.Items[0].Quantity == 2
		})).Return(nil)

		cart, issues, err := svc.Revalidate(ctx, "cart-1")
		require.NoError(t, err)
		assert.Empty(t, issues)
		assert.Equal(t, domain.RealRef("res-fresh"), cart.Items[0].Reservation)
		carts.AssertExpectations(t)
	})

	t.Run("expired hold is clamped to what is left when only part fits", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		svc := newCartService(carts, reservations, stock, new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(cartLine("var-1", 4, domain.RealRef("res-dead"))), nil)
		stock.On("Availability", ctx, "var-1").Return(&domain.VariantAvailability{VariantID: "var-1", OnHand: 5, Reserved: 4, Available: 1}, nil)
		reservations.On("Validate", ctx, "res-dead").Return(&domain.ValidationResult{Valid: false, Reason: domain.ValidationReasonExpired}, nil)
		reservations.On("Release", ctx, domain.RealRef("res-dead")).Return()
		reservations.On("Create", ctx, mock.MatchedBy(func(in CreateReservationInput) bool {
			return in.Quantity == 1
		})).Return(activeReservation("res-clamped"), nil)
		carts.On("Save", ctx, mock.Anything).Return(nil)

		cart, issues, err := svc.Revalidate(ctx, "cart-1")
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, domain.CartIssueAdjusted, issues[0].Kind)
		assert.Equal(t, 4, issues[0].OldQuantity)
		assert.Equal(t, 1, issues[0].NewQuantity)
		assert.Equal(t, 1, cart.Items[0].Quantity)
	})

	t.Run("unknown hold state keeps the line untouched", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		svc := newCartService(carts, reservations, stock, new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(cartLine("var-1", 2, domain.RealRef("res-1"))), nil)
		stock.On("Availability", ctx, "var-1").Return(&domain.VariantAvailability{VariantID: "var-1", Available: 0}, nil)
		reservations.On("Validate", ctx, "res-1").Return(nil, apperrors.Unavailable("reservation store down"))

		cart, issues, err := svc.Revalidate(ctx, "cart-1")
		require.NoError(t, err)
		assert.Empty(t, issues)
		assert.Equal(t, domain.RealRef("res-1"), cart.Items[0].Reservation)
		carts.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("deletes the cart when every line is removed", func(t *testing.T) {
		carts := new(mockCartRepository)
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		svc := newCartService(carts, reservations, stock, new(mockCatalog))

		carts.On("Get", ctx, "cart-1").Return(storedCart(cartLine("var-1", 2, domain.RealRef("res-1"))), nil)
		stock.On("Availability", ctx, "var-1").Return(nil, apperrors.NotFound("variant", "var-1"))
		reservations.On("Release", ctx, domain.RealRef("res-1")).Return()
		carts.On("Delete", ctx, "cart-1").Return(nil)

		cart, issues, err := svc.Revalidate(ctx, "cart-1")
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Empty(t, cart.Items)
		carts.AssertExpectations(t)
	})
}

func TestCartServiceClear(t *testing.T) {
	ctx := context.Background()

	carts := new(mockCartRepository)
	reservations := new(mockReservationManager)
	svc := newCartService(carts, reservations, new(mockStockLedger), new(mockCatalog))

	carts.On("Get", ctx, "cart-1").Return(storedCart(
		cartLine("var-1", 2, domain.RealRef("res-1")),
		cartLine("var-2", 1, domain.SimulatedRef()),
	), nil)
	reservations.On("Release", ctx, domain.RealRef("res-1")).Return()
	reservations.On("Release", ctx, domain.SimulatedRef()).Return()
	carts.On("Delete", ctx, "cart-1").Return(nil)

	require.NoError(t, svc.Clear(ctx, "cart-1"))
	carts.AssertExpectations(t)
}

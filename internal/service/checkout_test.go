package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lacehub/storefront/internal/domain"
	apperrors "github.com/lacehub/storefront/pkg/errors"
)

func newCheckoutService(
	reservations *mockReservationManager,
	stock *mockStockLedger,
	orders *mockOrderRepository,
	events *mockEventPublisher,
) *CheckoutService {
	return NewCheckoutService(reservations, stock, orders, events, newTestLogger())
}

func checkoutCart(refs ...domain.ReservationRef) domain.Cart {
	cart := domain.Cart{
		ID:       "cart-1",
		UserID:   "user-1",
		Currency: "USD",
	}
	for i, ref := range refs {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:   "prod-1",
			VariantID:   "var-" + string(rune('1'+i)),
			Name:        "Court Classic '89",
			SKU:         "CC89-WHT-10",
			Price:       12900,
			Quantity:    i + 1,
			Reservation: ref,
		})
	}
	return cart
}

func succeededEvent(cart domain.Cart) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		TransactionID: "txn-1",
		Succeeded:     true,
		AmountCents:   cart.TotalAmount(),
		Currency:      "USD",
		Cart:          cart,
		OccurredAt:    time.Now().UTC(),
	}
}

func TestCheckoutHandlePaymentSucceeded(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms holds, decrements stock, creates order", func(t *testing.T) {
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		orders := new(mockOrderRepository)
		events := new(mockEventPublisher)
		svc := newCheckoutService(reservations, stock, orders, events)

		cart := checkoutCart(domain.RealRef("res-1"), domain.RealRef("res-2"))
		ev := succeededEvent(cart)

		for i, id := range []string{"res-1", "res-2"} {
			res := activeReservation(id)
			res.VariantID = cart.Items[i].VariantID
			res.Quantity = cart.Items[i].Quantity
			reservations.On("Validate", ctx, id).Return(&domain.ValidationResult{Valid: true}, nil)
			reservations.On("Get", ctx, id).Return(res, nil)
			reservations.On("Confirm", ctx, id, mock.AnythingOfType("string")).Return(nil)
			stock.On("AdjustOnHand", ctx, res.VariantID, -res.Quantity, domain.MovementReasonOrderFulfillment, mock.AnythingOfType("*string")).
				Return(&domain.StockMovement{VariantID: res.VariantID, Delta: -res.Quantity}, nil)
		}
		orders.On("Create", ctx, mock.MatchedBy(func(o *domain.Order) bool {
			return o.PaymentTxnID == "txn-1" && len(o.Items) == 2 && o.Status == domain.OrderStatusConfirmed
		})).Return(nil)
		events.On("PublishOrderCreated", ctx, mock.Anything).Return(nil)

		result, err := svc.HandlePaymentSucceeded(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, 2, result.ConfirmedCount)
		assert.Equal(t, 2, result.DecrementCount)
		assert.False(t, result.NeedsReconcile)
		assert.Equal(t, domain.CheckoutStateCompleted, result.State)
		orders.AssertExpectations(t)
	})

	t.Run("one expired hold aborts the order and confirms nothing", func(t *testing.T) {
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		orders := new(mockOrderRepository)
		svc := newCheckoutService(reservations, stock, orders, new(mockEventPublisher))

		cart := checkoutCart(domain.RealRef("res-1"), domain.RealRef("res-2"))
		ev := succeededEvent(cart)

		reservations.On("Validate", ctx, "res-1").Return(&domain.ValidationResult{Valid: true}, nil)
		reservations.On("Validate", ctx, "res-2").Return(&domain.ValidationResult{
			Valid:  false,
			Reason: domain.ValidationReasonExpired,
		}, nil)

		_, err := svc.HandlePaymentSucceeded(ctx, ev)
		assert.ErrorIs(t, err, apperrors.ErrReservationExpired)

		// The hold that was still valid must be left untouched.
		reservations.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
		stock.AssertNotCalled(t, "AdjustOnHand", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("decrement failure is counted and the order is still created", func(t *testing.T) {
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		orders := new(mockOrderRepository)
		events := new(mockEventPublisher)
		svc := newCheckoutService(reservations, stock, orders, events)

		cart := checkoutCart(domain.RealRef("res-1"), domain.RealRef("res-2"))
		ev := succeededEvent(cart)

		for i, id := range []string{"res-1", "res-2"} {
			res := activeReservation(id)
			res.VariantID = cart.Items[i].VariantID
			res.Quantity = cart.Items[i].Quantity
			reservations.On("Validate", ctx, id).Return(&domain.ValidationResult{Valid: true}, nil)
			reservations.On("Get", ctx, id).Return(res, nil)
			reservations.On("Confirm", ctx, id, mock.AnythingOfType("string")).Return(nil)
		}
		stock.On("AdjustOnHand", ctx, "var-1", -1, domain.MovementReasonOrderFulfillment, mock.AnythingOfType("*string")).
			Return(&domain.StockMovement{VariantID: "var-1", Delta: -1}, nil)
		stock.On("AdjustOnHand", ctx, "var-2", -2, domain.MovementReasonOrderFulfillment, mock.AnythingOfType("*string")).
			Return(nil, errors.New("connection reset"))
		orders.On("Create", ctx, mock.Anything).Return(nil)
		events.On("PublishOrderCreated", ctx, mock.Anything).Return(nil)

		result, err := svc.HandlePaymentSucceeded(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, 2, result.ConfirmedCount)
		assert.Equal(t, 1, result.DecrementCount)
		assert.Equal(t, 1, result.DecrementFailed)
		assert.True(t, result.NeedsReconcile)
		// State stops at the last stage that completed cleanly.
		assert.Equal(t, domain.CheckoutStateReservationsConfirmed, result.State)
		orders.AssertExpectations(t)
	})

	t.Run("confirm failure skips the decrement for that line", func(t *testing.T) {
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		orders := new(mockOrderRepository)
		events := new(mockEventPublisher)
		svc := newCheckoutService(reservations, stock, orders, events)

		cart := checkoutCart(domain.RealRef("res-1"))
		ev := succeededEvent(cart)

		res := activeReservation("res-1")
		res.VariantID = "var-1"
		res.Quantity = 1
		reservations.On("Validate", ctx, "res-1").Return(&domain.ValidationResult{Valid: true}, nil)
		reservations.On("Get", ctx, "res-1").Return(res, nil)
		reservations.On("Confirm", ctx, "res-1", mock.AnythingOfType("string")).Return(errors.New("connection reset"))
		orders.On("Create", ctx, mock.Anything).Return(nil)
		events.On("PublishOrderCreated", ctx, mock.Anything).Return(nil)

		result, err := svc.HandlePaymentSucceeded(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, 0, result.ConfirmedCount)
		assert.Equal(t, 1, result.ConfirmFailures)
		assert.True(t, result.NeedsReconcile)
		assert.Equal(t, domain.CheckoutStatePaymentSucceeded, result.State)
		stock.AssertNotCalled(t, "AdjustOnHand", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("cart without holds falls back to direct decrements", func(t *testing.T) {
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		orders := new(mockOrderRepository)
		events := new(mockEventPublisher)
		svc := newCheckoutService(reservations, stock, orders, events)

		cart := checkoutCart(domain.SimulatedRef(), domain.SimulatedRef())
		ev := succeededEvent(cart)

		stock.On("AdjustOnHand", ctx, "var-1", -1, domain.MovementReasonOrderFulfillment, mock.AnythingOfType("*string")).
			Return(&domain.StockMovement{}, nil)
		stock.On("AdjustOnHand", ctx, "var-2", -2, domain.MovementReasonOrderFulfillment, mock.AnythingOfType("*string")).
			Return(nil, apperrors.InsufficientStock("requested 2, available 0"))
		orders.On("Create", ctx, mock.Anything).Return(nil)
		events.On("PublishOrderCreated", ctx, mock.Anything).Return(nil)

		result, err := svc.HandlePaymentSucceeded(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, 1, result.DecrementCount)
		assert.Equal(t, 1, result.DecrementFailed)
		assert.True(t, result.NeedsReconcile)
		assert.Equal(t, domain.CheckoutStatePaymentSucceeded, result.State)
		reservations.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
	})

	t.Run("order creation failure is surfaced", func(t *testing.T) {
		reservations := new(mockReservationManager)
		stock := new(mockStockLedger)
		orders := new(mockOrderRepository)
		svc := newCheckoutService(reservations, stock, orders, new(mockEventPublisher))

		cart := checkoutCart(domain.SimulatedRef())
		ev := succeededEvent(cart)

		stock.On("AdjustOnHand", ctx, "var-1", -1, domain.MovementReasonOrderFulfillment, mock.AnythingOfType("*string")).
			Return(&domain.StockMovement{}, nil)
		orders.On("Create", ctx, mock.Anything).Return(errors.New("connection reset"))

		_, err := svc.HandlePaymentSucceeded(ctx, ev)
		assert.Error(t, err)
	})

	t.Run("empty cart snapshot is invalid", func(t *testing.T) {
		svc := newCheckoutService(new(mockReservationManager), new(mockStockLedger), new(mockOrderRepository), new(mockEventPublisher))

		ev := succeededEvent(domain.Cart{ID: "cart-1"})
		_, err := svc.HandlePaymentSucceeded(ctx, ev)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestCheckoutHandlePaymentFailed(t *testing.T) {
	ctx := context.Background()

	reservations := new(mockReservationManager)
	orders := new(mockOrderRepository)
	svc := newCheckoutService(reservations, new(mockStockLedger), orders, new(mockEventPublisher))

	cart := checkoutCart(domain.RealRef("res-1"), domain.RealRef("res-2"))
	ev := succeededEvent(cart)
	ev.Succeeded = false

	reservations.On("Release", ctx, domain.RealRef("res-1")).Return()
	reservations.On("Release", ctx, domain.RealRef("res-2")).Return()

	svc.HandlePaymentFailed(ctx, ev)

	reservations.AssertExpectations(t)
	orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestBuildGatewayMetadata(t *testing.T) {
	t.Run("small cart uses verbose per-item encoding", func(t *testing.T) {
		cart := checkoutCart(domain.RealRef("res-1"))

		meta, err := BuildGatewayMetadata(&cart)
		require.NoError(t, err)
		assert.Equal(t, "cart-1", meta["cart_id"])
		assert.Contains(t, meta["item_0"], "var-1")
		assert.Contains(t, meta["item_0"], "CC89-WHT-10")
	})

	t.Run("large cart falls back to compact encoding under caps", func(t *testing.T) {
		cart := domain.Cart{ID: "cart-1", Currency: "USD"}
		for i := 0; i < 150; i++ {
			cart.Items = append(cart.Items, domain.CartItem{
				VariantID: "variant-" + strings.Repeat("x", 40),
				Name:      strings.Repeat("n", 300),
				SKU:       strings.Repeat("s", 60),
				Price:     12900,
				Quantity:  1,
			})
		}

		meta, err := BuildGatewayMetadata(&cart)
		require.NoError(t, err)
		for k, v := range meta {
			assert.LessOrEqual(t, len(v), MetadataValueCap, "value for %s over cap", k)
		}
		total := 0
		for k, v := range meta {
			total += len(k) + len(v)
		}
		assert.LessOrEqual(t, total, MetadataTotalCap)
		assert.NotContains(t, meta, "item_0")
	})

	t.Run("cart too large even compact fails explicitly", func(t *testing.T) {
		cart := domain.Cart{ID: "cart-1", Currency: "USD"}
		for i := 0; i < 2000; i++ {
			cart.Items = append(cart.Items, domain.CartItem{
				VariantID: "variant-" + strings.Repeat("x", 40),
				Quantity:  1,
			})
		}

		_, err := BuildGatewayMetadata(&cart)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

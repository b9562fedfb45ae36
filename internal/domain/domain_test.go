package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// Movement Reason Tests
// ============================================================================

func TestValidMovementReasons_ContainsAll(t *testing.T) {
	reasons := ValidMovementReasons()
	expected := []string{
		MovementReasonOrderFulfillment, MovementReasonManualAdjustment,
		MovementReasonReservationRelease, MovementReasonRestock,
	}
	assert.ElementsMatch(t, expected, reasons)
}

func TestIsValidMovementReason_Invalid(t *testing.T) {
	assert.False(t, IsValidMovementReason("unknown"))
	assert.False(t, IsValidMovementReason(""))
	assert.False(t, IsValidMovementReason("ORDER_FULFILLMENT"))
}

func TestStockMovement_DeltaMatchesBeforeAfter(t *testing.T) {
	m := StockMovement{Delta: -5, QuantityBefore: 12, QuantityAfter: 7, Reason: MovementReasonOrderFulfillment}
	assert.Equal(t, m.Delta, m.QuantityAfter-m.QuantityBefore)
}

// ============================================================================
// Cart Tests
// ============================================================================

func TestCart_TotalAmount(t *testing.T) {
	c := &Cart{Items: []CartItem{
		{Price: 12999, Quantity: 2},
		{Price: 8999, Quantity: 1},
	}}
	assert.Equal(t, int64(34997), c.TotalAmount())
}

func TestCart_ItemCount(t *testing.T) {
	c := &Cart{Items: []CartItem{{Quantity: 2}, {Quantity: 3}}}
	assert.Equal(t, 5, c.ItemCount())
}

func TestCart_FindItemIndex(t *testing.T) {
	c := &Cart{Items: []CartItem{{VariantID: "v1"}, {VariantID: "v2"}}}
	assert.Equal(t, 1, c.FindItemIndex("v2"))
	assert.Equal(t, -1, c.FindItemIndex("v3"))
}

func TestCart_ReservationRefs(t *testing.T) {
	c := &Cart{Items: []CartItem{
		{VariantID: "v1", Reservation: RealRef("r1")},
		{VariantID: "v2"},
		{VariantID: "v3", Reservation: SimulatedRef()},
	}}

	refs := c.ReservationRefs()
	assert.Len(t, refs, 2)
	assert.Equal(t, "r1", refs[0].ID)
	assert.True(t, refs[1].Simulated)
}

// ============================================================================
// Order Status Machine Tests
// ============================================================================

func TestOrder_CanTransitionTo_HappyPath(t *testing.T) {
	o := &Order{Status: OrderStatusPending}
	assert.True(t, o.CanTransitionTo(OrderStatusConfirmed))

	o.Status = OrderStatusConfirmed
	assert.True(t, o.CanTransitionTo(OrderStatusProcessing))

	o.Status = OrderStatusShipped
	assert.True(t, o.CanTransitionTo(OrderStatusDelivered))
}

func TestOrder_CanTransitionTo_TerminalStates(t *testing.T) {
	for _, status := range []string{OrderStatusCancelled, OrderStatusRefunded} {
		o := &Order{Status: status}
		for _, target := range ValidOrderStatuses() {
			assert.False(t, o.CanTransitionTo(target), "expected %q -> %q to be rejected", status, target)
		}
	}
}

func TestOrder_CanTransitionTo_SkippingStates(t *testing.T) {
	o := &Order{Status: OrderStatusPending}
	assert.False(t, o.CanTransitionTo(OrderStatusShipped))
	assert.False(t, o.CanTransitionTo(OrderStatusDelivered))
}

func TestIsValidOrderStatus(t *testing.T) {
	for _, s := range ValidOrderStatuses() {
		assert.True(t, IsValidOrderStatus(s))
	}
	assert.False(t, IsValidOrderStatus("unknown"))
}

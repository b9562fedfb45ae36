package domain

import "time"

// Stock movement reasons.
const (
	MovementReasonOrderFulfillment   = "order_fulfillment"
	MovementReasonManualAdjustment   = "manual_adjustment"
	MovementReasonReservationRelease = "reservation_release"
	MovementReasonRestock            = "restock"
)

// StockMovement is an immutable audit record of a single on-hand quantity
// change. QuantityAfter - QuantityBefore always equals Delta.
type StockMovement struct {
	ID             string    `json:"id"`
	VariantID      string    `json:"variant_id"`
	Delta          int       `json:"delta"`
	QuantityBefore int       `json:"quantity_before"`
	QuantityAfter  int       `json:"quantity_after"`
	Reason         string    `json:"reason"`
	OrderID        *string   `json:"order_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ValidMovementReasons returns the set of valid movement reasons.
func ValidMovementReasons() []string {
	return []string{
		MovementReasonOrderFulfillment,
		MovementReasonManualAdjustment,
		MovementReasonReservationRelease,
		MovementReasonRestock,
	}
}

// IsValidMovementReason checks whether the given reason is valid.
func IsValidMovementReason(reason string) bool {
	for _, r := range ValidMovementReasons() {
		if r == reason {
			return true
		}
	}
	return false
}

package domain

import "time"

// Checkout attempt states. An attempt advances through the succeeded branch
// step by step; degraded outcomes are recorded on the attempt rather than as
// separate states.
const (
	CheckoutStatePaymentPending        = "payment_pending"
	CheckoutStatePaymentSucceeded      = "payment_succeeded"
	CheckoutStateReservationsConfirmed = "reservations_confirmed"
	CheckoutStateStockDecremented      = "stock_decremented"
	CheckoutStateOrderCreated          = "order_created"
	CheckoutStateCompleted             = "completed"
	CheckoutStatePaymentFailed         = "payment_failed"
	CheckoutStateFailed                = "failed"
)

// PaymentEvent is what the payment gateway delivers: an opaque transaction id,
// the captured amount, and a cart snapshot with the reservation refs the cart
// held at checkout time.
type PaymentEvent struct {
	TransactionID string           `json:"transaction_id"`
	Succeeded     bool             `json:"succeeded"`
	AmountCents   int64            `json:"amount_cents"`
	Currency      string           `json:"currency"`
	Cart          Cart             `json:"cart"`
	Reservations  []ReservationRef `json:"reservations,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// FulfillmentResult reports what happened while converting a successful
// payment into an order. Partial stock-side failures are counted, not rolled
// back; they are flagged for manual reconciliation.
type FulfillmentResult struct {
	OrderID          string `json:"order_id"`
	State            string `json:"state"`
	ConfirmedCount   int    `json:"confirmed_count"`
	ConfirmFailures  int    `json:"confirm_failures"`
	DecrementCount   int    `json:"decrement_count"`
	DecrementFailed  int    `json:"decrement_failed"`
	NeedsReconcile   bool   `json:"needs_reconcile"`
	ReconcileDetails string `json:"reconcile_details,omitempty"`
}

package domain

import "time"

// Cart is a per-user or per-session collection of line items. Exactly one of
// UserID / SessionID is set, matching the owner of any reservations its items
// hold.
type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Items     []CartItem `json:"items"`
	Currency  string     `json:"currency"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartItem is a single line in the cart. Name, SKU, and Price are frozen from
// the catalog at add time. Reservation binds at most one hold; when set and
// not simulated, the bound reservation's quantity equals Quantity (quantity
// changes go through release-and-recreate).
type CartItem struct {
	ProductID   string         `json:"product_id"`
	VariantID   string         `json:"variant_id"`
	Name        string         `json:"name"`
	SKU         string         `json:"sku"`
	Price       int64          `json:"price"`
	Quantity    int            `json:"quantity"`
	Reservation ReservationRef `json:"reservation,omitempty"`
}

// TotalAmount calculates the total price of all items in the cart (in cents).
func (c *Cart) TotalAmount() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// ItemCount returns the total number of units in the cart.
func (c *Cart) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// FindItemIndex returns the index of the cart item for the given variant.
// Returns -1 if not found.
func (c *Cart) FindItemIndex(variantID string) int {
	for i := range c.Items {
		if c.Items[i].VariantID == variantID {
			return i
		}
	}
	return -1
}

// ReservationRefs returns the non-zero reservation refs bound to cart items.
func (c *Cart) ReservationRefs() []ReservationRef {
	refs := make([]ReservationRef, 0, len(c.Items))
	for _, item := range c.Items {
		if !item.Reservation.IsZero() {
			refs = append(refs, item.Reservation)
		}
	}
	return refs
}

// CartIssue describes a problem found during cart revalidation.
type CartIssue struct {
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	// Kind is "removed" when the item had zero available stock, "adjusted"
	// when its quantity was clamped down.
	Kind        string `json:"kind"`
	OldQuantity int    `json:"old_quantity"`
	NewQuantity int    `json:"new_quantity"`
}

// Cart issue kinds.
const (
	CartIssueRemoved  = "removed"
	CartIssueAdjusted = "adjusted"
)

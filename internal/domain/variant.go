package domain

import "time"

// Variant is the sellable unit: a specific size/color combination of a product.
// OnHand never goes negative; the repository enforces this with a conditional
// update rather than clamping.
type Variant struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	Name              string    `json:"name"`
	SKU               string    `json:"sku"`
	Price             int64     `json:"price"`
	OnHand            int       `json:"on_hand"`
	Active            bool      `json:"active"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// VariantAvailability pairs a variant with its derived available quantity:
// on-hand minus the sum of active, non-expired reserved quantity. It is always
// computed at read time, never stored.
type VariantAvailability struct {
	VariantID string `json:"variant_id"`
	ProductID string `json:"product_id"`
	OnHand    int    `json:"on_hand"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

// StockCheckItem is a single line of a bulk availability check.
type StockCheckItem struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// StockCheckResult is the availability verdict for a single checked item.
type StockCheckResult struct {
	VariantID string `json:"variant_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	InStock   bool   `json:"in_stock"`
}

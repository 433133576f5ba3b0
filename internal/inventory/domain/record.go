package domain

import (
	"fmt"
	"time"
)

// Record is one ledger row. Quantity never goes negative: decrements are
// rejected, not clamped, when stock is insufficient.
type Record struct {
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InsufficientStockError names the SKU that blocked fulfillment so the caller
// can offer cancellation or backorder. It is a business condition, not a
// system fault.
type InsufficientStockError struct {
	SKU       string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (requested %d)", e.SKU, e.Requested)
}

// Movement is the applied-marker for one (order, sku) decrement. It is
// durable ledger state: a replayed delivery that finds its marker is a no-op.
type Movement struct {
	OrderID   string    `json:"order_id"`
	SKU       string    `json:"sku"`
	Qty       int       `json:"qty"`
	AppliedAt time.Time `json:"applied_at"`
}

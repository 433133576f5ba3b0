package application

import (
	"context"

	"github.com/commercekit/fulfillment/internal/inventory/domain"
)

// LedgerRepository is the store behind the ledger. ApplyDecrement and
// ReverseDecrement must each be a single atomic operation against the store;
// the store's row lock, not the application, serializes concurrent decrements
// on one SKU.
type LedgerRepository interface {
	// ApplyDecrement conditionally decrements sku by qty, recording an
	// (orderID, sku) marker in the same transaction. A replay that finds
	// its marker returns the current quantity without decrementing again.
	// Returns *domain.InsufficientStockError when quantity < qty.
	ApplyDecrement(ctx context.Context, orderID, sku string, qty int) (int, error)

	// ReverseDecrement undoes a recorded decrement for the order,
	// re-incrementing by the marker's qty. A no-op when no marker exists.
	ReverseDecrement(ctx context.Context, orderID, sku string) error

	Get(ctx context.Context, sku string) (domain.Record, error)
	Search(ctx context.Context, query string) ([]domain.Record, error)
}

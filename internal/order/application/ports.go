package application

import (
	"context"

	"github.com/commercekit/fulfillment/internal/order/domain"
)

// OrderRepository persists orders together with their outbox rows in one
// transaction, so an order can never exist without its event or vice versa.
type OrderRepository interface {
	CreateWithOutbox(ctx context.Context, o domain.Order, routingKey string, payload []byte, headers map[string]string, traceparent string) error

	// UpdateStatusWithOutbox writes the new status and, when routingKey is
	// non-empty, an outbox row in the same transaction.
	UpdateStatusWithOutbox(ctx context.Context, o domain.Order, routingKey string, payload []byte, headers map[string]string, traceparent string) error

	Get(ctx context.Context, id string) (domain.Order, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Order, error)
	ListAll(ctx context.Context) ([]domain.Order, error)
}

// LedgerClient is the inventory ledger as the coordinator sees it: one
// idempotent conditional decrement per (order, sku) and its compensation.
type LedgerClient interface {
	TryDecrement(ctx context.Context, orderID, sku string, qty int) (int, error)
	Increment(ctx context.Context, orderID, sku string) error
}

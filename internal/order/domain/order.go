package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ErrTerminalState is the Conflict of the error taxonomy: a transition was
// attempted out of completed or cancelled.
var ErrTerminalState = errors.New("order is in a terminal state")

// ErrNotOwner is returned when the caller is neither the order owner nor an
// admin.
var ErrNotOwner = errors.New("caller does not own this order")

// ValidationError reports bad input on order creation. It maps to a 4xx and
// is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Item struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// Order owns its lifecycle: pending is the only initial state, completed and
// cancelled are terminal and immutable. Items are a snapshot taken at
// creation time.
type Order struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Items     []Item          `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// New validates and builds a pending order. The total is trusted from the
// caller (the cart computed it); only its sign is checked here.
func New(id, ownerID string, items []Item, total decimal.Decimal) (Order, error) {
	if ownerID == "" {
		return Order{}, &ValidationError{Field: "ownerId", Reason: "must not be empty"}
	}
	if len(items) == 0 {
		return Order{}, &ValidationError{Field: "items", Reason: "must not be empty"}
	}
	for _, item := range items {
		if item.SKU == "" {
			return Order{}, &ValidationError{Field: "items", Reason: "sku must not be empty"}
		}
		if item.Qty <= 0 {
			return Order{}, &ValidationError{Field: "items", Reason: fmt.Sprintf("qty for %s must be positive", item.SKU)}
		}
	}
	if total.IsNegative() || total.IsZero() {
		return Order{}, &ValidationError{Field: "total", Reason: "must be positive"}
	}

	now := time.Now().UTC()
	return Order{
		ID:        id,
		OwnerID:   ownerID,
		Items:     items,
		Total:     total,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AccessibleBy reports whether the caller may read or mutate this order.
func (o Order) AccessibleBy(subjectID string, isAdmin bool) bool {
	return isAdmin || o.OwnerID == subjectID
}

// Complete moves pending → completed. Completing an already-completed order
// is a no-op so duplicate payment confirmations stay safe.
func (o *Order) Complete() error {
	switch o.Status {
	case StatusCompleted:
		return nil
	case StatusCancelled:
		return ErrTerminalState
	}
	o.Status = StatusCompleted
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel moves pending → cancelled. Stock is untouched: nothing was
// decremented while the order was pending.
func (o *Order) Cancel() error {
	if o.Status != StatusPending {
		return ErrTerminalState
	}
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now().UTC()
	return nil
}

package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func validItems() []Item {
	return []Item{{SKU: "SKU-1", Qty: 2}, {SKU: "SKU-2", Qty: 1}}
}

func TestNew_Valid(t *testing.T) {
	o, err := New("o-1", "u-1", validItems(), decimal.NewFromFloat(19.98))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != StatusPending {
		t.Errorf("expected pending, got %s", o.Status)
	}
	if len(o.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(o.Items))
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name  string
		owner string
		items []Item
		total decimal.Decimal
		field string
	}{
		{"empty items", "u-1", nil, decimal.NewFromInt(10), "items"},
		{"zero qty", "u-1", []Item{{SKU: "A", Qty: 0}}, decimal.NewFromInt(10), "items"},
		{"negative qty", "u-1", []Item{{SKU: "A", Qty: -3}}, decimal.NewFromInt(10), "items"},
		{"blank sku", "u-1", []Item{{SKU: "", Qty: 1}}, decimal.NewFromInt(10), "items"},
		{"missing owner", "", validItems(), decimal.NewFromInt(10), "ownerId"},
		{"zero total", "u-1", validItems(), decimal.Zero, "total"},
		{"negative total", "u-1", validItems(), decimal.NewFromInt(-5), "total"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("o-1", tt.owner, tt.items, tt.total)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if validation.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, validation.Field)
			}
		})
	}
}

func TestComplete_FromPending(t *testing.T) {
	o, _ := New("o-1", "u-1", validItems(), decimal.NewFromInt(10))
	if err := o.Complete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", o.Status)
	}
}

func TestComplete_AlreadyCompletedIsNoop(t *testing.T) {
	o, _ := New("o-1", "u-1", validItems(), decimal.NewFromInt(10))
	_ = o.Complete()
	if err := o.Complete(); err != nil {
		t.Errorf("duplicate complete should be a no-op, got %v", err)
	}
}

func TestComplete_CancelledIsConflict(t *testing.T) {
	o, _ := New("o-1", "u-1", validItems(), decimal.NewFromInt(10))
	_ = o.Cancel()
	if err := o.Complete(); !errors.Is(err, ErrTerminalState) {
		t.Errorf("expected ErrTerminalState, got %v", err)
	}
}

func TestCancel_Closure(t *testing.T) {
	o, _ := New("o-1", "u-1", validItems(), decimal.NewFromInt(10))
	if err := o.Cancel(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Cancel(); !errors.Is(err, ErrTerminalState) {
		t.Errorf("expected ErrTerminalState on second cancel, got %v", err)
	}

	done, _ := New("o-2", "u-1", validItems(), decimal.NewFromInt(10))
	_ = done.Complete()
	if err := done.Cancel(); !errors.Is(err, ErrTerminalState) {
		t.Errorf("expected ErrTerminalState cancelling a completed order, got %v", err)
	}
}

func TestAccessibleBy(t *testing.T) {
	o, _ := New("o-1", "u-1", validItems(), decimal.NewFromInt(10))
	if !o.AccessibleBy("u-1", false) {
		t.Error("owner should have access")
	}
	if o.AccessibleBy("u-2", false) {
		t.Error("stranger should not have access")
	}
	if !o.AccessibleBy("u-2", true) {
		t.Error("admin should have access")
	}
}

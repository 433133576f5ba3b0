package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/commercekit/fulfillment/internal/payment/domain"
)

var ErrUnknownPayment = errors.New("unknown payment id")

// Capture is the provider's answer to a capture confirmation.
type Capture struct {
	PaymentID string
	Amount    decimal.Decimal
	Status    domain.CaptureStatus
}

// Provider abstracts the payment processor behind one capability. Exactly one
// implementation is selected by configuration; service code never branches on
// which one it got.
type Provider interface {
	// Capture confirms a capture with the processor, guarding against
	// forged webhook calls.
	Capture(ctx context.Context, paymentID string) (Capture, error)
}

// Sandbox stands in for the processor in development and tests. Captures at
// or under the limit complete; anything above fails, which keeps the
// cancellation path exercisable without a real processor. A zero limit
// approves everything.
type Sandbox struct {
	limit   decimal.Decimal
	amounts map[string]decimal.Decimal
}

func NewSandbox(limit decimal.Decimal) *Sandbox {
	return &Sandbox{limit: limit, amounts: map[string]decimal.Decimal{}}
}

// Record registers a pending capture, the sandbox's stand-in for the
// processor's own ledger.
func (s *Sandbox) Record(paymentID string, amount decimal.Decimal) {
	s.amounts[paymentID] = amount
}

func (s *Sandbox) Capture(_ context.Context, paymentID string) (Capture, error) {
	if paymentID == "" {
		return Capture{}, ErrUnknownPayment
	}
	amount, ok := s.amounts[paymentID]
	if !ok {
		// Unrecorded ids are treated as valid zero-amount captures so the
		// webhook flow works without priming the sandbox.
		return Capture{PaymentID: paymentID, Status: domain.CaptureCompleted}, nil
	}
	status := domain.CaptureCompleted
	if !s.limit.IsZero() && amount.GreaterThan(s.limit) {
		status = domain.CaptureFailed
	}
	return Capture{PaymentID: paymentID, Amount: amount, Status: status}, nil
}

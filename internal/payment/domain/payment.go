package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CaptureStatus string

const (
	CaptureCompleted CaptureStatus = "COMPLETED"
	CaptureFailed    CaptureStatus = "FAILED"
)

// Payment is one capture record, keyed by the provider's payment id.
type Payment struct {
	PaymentID string          `json:"payment_id"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    CaptureStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PaymentSucceeded is the bus event both capture outcomes travel on; Status
// distinguishes them. Consumers must tolerate fields they do not know.
type PaymentSucceeded struct {
	OrderID   string        `json:"order_id"`
	PaymentID string        `json:"payment_id"`
	Amount    string        `json:"amount"`
	Status    CaptureStatus `json:"status"`
}

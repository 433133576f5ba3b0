package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercekit/fulfillment/internal/payment/domain"
	"github.com/commercekit/fulfillment/internal/payment/provider"
	"github.com/commercekit/fulfillment/pkg/bus"
	"github.com/commercekit/fulfillment/pkg/tracing"
)

// PaymentRepository persists the capture record and its payment.succeeded
// outbox row in one transaction.
type PaymentRepository interface {
	SaveWithOutbox(ctx context.Context, p domain.Payment, routingKey string, payload []byte, headers map[string]string, traceparent string) error
}

// Service turns provider webhook notifications into durable payment records
// and bus events. The provider call re-verifies the capture so a forged
// webhook body cannot complete an order.
type Service struct {
	log      *slog.Logger
	repo     PaymentRepository
	provider provider.Provider
}

func NewService(log *slog.Logger, repo PaymentRepository, prov provider.Provider) *Service {
	return &Service{log: log, repo: repo, provider: prov}
}

// HandleCapture records the capture outcome and stages payment.succeeded.
// Re-processing the same payment id overwrites the row with identical data
// and stages a duplicate event, which downstream consumers deduplicate.
func (s *Service) HandleCapture(ctx context.Context, paymentID, orderID string, amount decimal.Decimal) (domain.Payment, error) {
	capture, err := s.provider.Capture(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("capture %s: %w", paymentID, err)
	}

	now := time.Now().UTC()
	p := domain.Payment{
		PaymentID: paymentID,
		OrderID:   orderID,
		Amount:    amount,
		Status:    capture.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	payload, err := json.Marshal(domain.PaymentSucceeded{
		OrderID:   orderID,
		PaymentID: paymentID,
		Amount:    amount.String(),
		Status:    capture.Status,
	})
	if err != nil {
		return domain.Payment{}, err
	}

	headers := tracing.InjectHeaders(ctx, map[string]string{"source": "payment-service"})
	if err := s.repo.SaveWithOutbox(ctx, p, bus.KeyPaymentSucceeded, payload, headers, headers[tracing.TraceparentHeader]); err != nil {
		return domain.Payment{}, fmt.Errorf("persist payment: %w", err)
	}

	s.log.Info("capture recorded", "payment_id", paymentID, "order_id", orderID, "status", capture.Status)
	return p, nil
}

package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/commercekit/fulfillment/internal/payment/domain"
	"github.com/commercekit/fulfillment/internal/payment/provider"
)

type memPaymentRepo struct {
	saved   []domain.Payment
	staged  []string
	bodies  [][]byte
	saveErr error
}

func (r *memPaymentRepo) SaveWithOutbox(ctx context.Context, p domain.Payment, routingKey string, payload []byte, headers map[string]string, traceparent string) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, p)
	r.staged = append(r.staged, routingKey)
	r.bodies = append(r.bodies, payload)
	return nil
}

func newTestService(repo *memPaymentRepo, prov provider.Provider) *Service {
	return NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), repo, prov)
}

func TestHandleCapture_StagesPaymentSucceeded(t *testing.T) {
	repo := &memPaymentRepo{}
	sandbox := provider.NewSandbox(decimal.Zero)
	sandbox.Record("p-1", decimal.NewFromFloat(19.98))
	svc := newTestService(repo, sandbox)

	p, err := svc.HandleCapture(context.Background(), "p-1", "o-1", decimal.NewFromFloat(19.98))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != domain.CaptureCompleted {
		t.Errorf("status = %s", p.Status)
	}
	if len(repo.staged) != 1 || repo.staged[0] != "payment.succeeded" {
		t.Fatalf("staged = %v", repo.staged)
	}

	var ev domain.PaymentSucceeded
	if err := json.Unmarshal(repo.bodies[0], &ev); err != nil {
		t.Fatal(err)
	}
	if ev.OrderID != "o-1" || ev.PaymentID != "p-1" || ev.Amount != "19.98" || ev.Status != domain.CaptureCompleted {
		t.Errorf("event = %+v", ev)
	}
}

func TestHandleCapture_OverLimitFails(t *testing.T) {
	repo := &memPaymentRepo{}
	sandbox := provider.NewSandbox(decimal.NewFromInt(100))
	sandbox.Record("p-big", decimal.NewFromInt(500))
	svc := newTestService(repo, sandbox)

	p, err := svc.HandleCapture(context.Background(), "p-big", "o-1", decimal.NewFromInt(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != domain.CaptureFailed {
		t.Errorf("status = %s", p.Status)
	}

	// the failed outcome still travels on payment.succeeded for the
	// coordinator to cancel the order
	var ev domain.PaymentSucceeded
	_ = json.Unmarshal(repo.bodies[0], &ev)
	if ev.Status != domain.CaptureFailed {
		t.Errorf("event status = %s", ev.Status)
	}
}

func TestHandleCapture_UnknownPaymentID(t *testing.T) {
	svc := newTestService(&memPaymentRepo{}, provider.NewSandbox(decimal.Zero))
	if _, err := svc.HandleCapture(context.Background(), "", "o-1", decimal.NewFromInt(10)); !errors.Is(err, provider.ErrUnknownPayment) {
		t.Errorf("expected ErrUnknownPayment, got %v", err)
	}
}

func TestHandleCapture_PersistErrorSurfaces(t *testing.T) {
	repo := &memPaymentRepo{saveErr: errors.New("db away")}
	svc := newTestService(repo, provider.NewSandbox(decimal.Zero))
	if _, err := svc.HandleCapture(context.Background(), "p-1", "o-1", decimal.NewFromInt(10)); err == nil {
		t.Error("expected error")
	}
}

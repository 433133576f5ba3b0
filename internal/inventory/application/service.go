package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/commercekit/fulfillment/internal/inventory/domain"
	"github.com/commercekit/fulfillment/pkg/metrics"
)

var ErrNotFound = errors.New("sku not found")

// Service is the inventory ledger. It exposes the atomic per-SKU decrement
// and its compensation; multi-item orchestration lives with the fulfillment
// coordinator.
type Service struct {
	log  *slog.Logger
	repo LedgerRepository
}

func NewService(log *slog.Logger, repo LedgerRepository) *Service {
	return &Service{log: log, repo: repo}
}

// TryDecrement applies one order's decrement for one SKU. Idempotent per
// (orderID, sku): the repository's marker makes duplicate deliveries no-ops.
func (s *Service) TryDecrement(ctx context.Context, orderID, sku string, qty int) (int, error) {
	remaining, err := s.repo.ApplyDecrement(ctx, orderID, sku, qty)
	if err != nil {
		var insufficient *domain.InsufficientStockError
		if errors.As(err, &insufficient) {
			metrics.DecrementsRejected.Inc()
			s.log.Info("decrement rejected", "order_id", orderID, "sku", sku, "qty", qty)
		}
		return 0, err
	}
	metrics.DecrementsApplied.Inc()
	s.log.Info("decrement applied", "order_id", orderID, "sku", sku, "qty", qty, "remaining", remaining)
	return remaining, nil
}

// Increment compensates a previously applied decrement.
func (s *Service) Increment(ctx context.Context, orderID, sku string) error {
	if err := s.repo.ReverseDecrement(ctx, orderID, sku); err != nil {
		return err
	}
	metrics.CompensationsApplied.Inc()
	s.log.Info("decrement compensated", "order_id", orderID, "sku", sku)
	return nil
}

func (s *Service) Get(ctx context.Context, sku string) (domain.Record, error) {
	return s.repo.Get(ctx, sku)
}

// Search is the read path. Ordering is presentation-layer policy, the ledger
// returns matches as the store yields them.
func (s *Service) Search(ctx context.Context, query string) ([]domain.Record, error) {
	return s.repo.Search(ctx, query)
}

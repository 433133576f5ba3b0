package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	invdomain "github.com/commercekit/fulfillment/internal/inventory/domain"
	"github.com/commercekit/fulfillment/internal/order/domain"
	"github.com/commercekit/fulfillment/pkg/auth"
	"github.com/commercekit/fulfillment/pkg/bus"
	"github.com/commercekit/fulfillment/pkg/metrics"
	"github.com/commercekit/fulfillment/pkg/tracing"
)

var ErrNotFound = errors.New("order not found")

// Service owns the order lifecycle and runs the fulfillment saga on
// completion. Stock is decremented exactly once, here, when payment has
// succeeded; order.created is informational only.
type Service struct {
	log    *slog.Logger
	repo   OrderRepository
	ledger LedgerClient
}

func NewService(log *slog.Logger, repo OrderRepository, ledger LedgerClient) *Service {
	return &Service{log: log, repo: repo, ledger: ledger}
}

// Create validates, persists the pending order and stages its order.created
// event in the same transaction.
func (s *Service) Create(ctx context.Context, ownerID string, items []domain.Item, total decimal.Decimal) (domain.Order, error) {
	o, err := domain.New(uuid.NewString(), ownerID, items, total)
	if err != nil {
		return domain.Order{}, err
	}

	payload, err := json.Marshal(domain.OrderCreated{
		OrderID: o.ID,
		OwnerID: o.OwnerID,
		Items:   o.Items,
		Total:   o.Total.String(),
	})
	if err != nil {
		return domain.Order{}, err
	}

	headers := tracing.InjectHeaders(ctx, map[string]string{"source": "order-service"})
	if err := s.repo.CreateWithOutbox(ctx, o, bus.KeyOrderCreated, payload, headers, headers[tracing.TraceparentHeader]); err != nil {
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	s.log.Info("order created", "order_id", o.ID, "owner_id", o.OwnerID, "line_items", len(o.Items))
	return o, nil
}

// Complete drives the decrement saga and moves the order to completed.
//
// Line items are applied in ascending SKU order so concurrent completions
// contend predictably and a partial failure compensates deterministically. On
// insufficient stock every already-applied decrement for this order is
// reversed and the order stays pending: the caller decides between retry and
// cancel, because "can't fulfill now" is not "should never be fulfilled".
//
// Calling Complete on an already-completed order returns it unchanged; the
// ledger's (order, sku) markers make the decrements no-ops on the
// crash-recovery path, so the decrement is applied at most once either way.
func (s *Service) Complete(ctx context.Context, orderID string, p auth.Principal) (domain.Order, error) {
	started := time.Now()

	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !o.AccessibleBy(p.SubjectID, p.IsAdmin) {
		return domain.Order{}, domain.ErrNotOwner
	}
	if o.Status == domain.StatusCompleted {
		return o, nil
	}
	if err := o.Complete(); err != nil {
		return domain.Order{}, err
	}

	items := make([]domain.Item, len(o.Items))
	copy(items, o.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })

	for i, item := range items {
		if _, err := s.ledger.TryDecrement(ctx, o.ID, item.SKU, item.Qty); err != nil {
			s.compensate(ctx, o.ID, items[:i])

			var insufficient *invdomain.InsufficientStockError
			if errors.As(err, &insufficient) {
				s.log.Info("completion blocked by stock", "order_id", o.ID, "sku", insufficient.SKU)
				return domain.Order{}, err
			}
			return domain.Order{}, fmt.Errorf("ledger decrement %s: %w", item.SKU, err)
		}
	}

	payload, err := json.Marshal(domain.OrderCompleted{
		OrderID: o.ID,
		OwnerID: o.OwnerID,
		Total:   o.Total.String(),
	})
	if err != nil {
		return domain.Order{}, err
	}

	headers := tracing.InjectHeaders(ctx, map[string]string{"source": "order-service"})
	if err := s.repo.UpdateStatusWithOutbox(ctx, o, bus.KeyOrderCompleted, payload, headers, headers[tracing.TraceparentHeader]); err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			// A concurrent Cancel won the row while the saga ran. Its
			// state stands; give the stock back.
			s.log.Info("completion lost to concurrent transition", "order_id", o.ID)
			s.compensate(ctx, o.ID, items)
			return domain.Order{}, err
		}
		// Decrements stay applied on purpose: a retried Complete finds the
		// ledger markers, skips the stock work and lands here again.
		return domain.Order{}, fmt.Errorf("persist completion: %w", err)
	}

	metrics.CompletionDuration.Observe(time.Since(started).Seconds())
	s.log.Info("order completed", "order_id", o.ID)
	return o, nil
}

// compensate reverses already-applied decrements for this order, newest
// first. Increment is idempotent, so a crash mid-compensation is repaired by
// the next attempt.
func (s *Service) compensate(ctx context.Context, orderID string, applied []domain.Item) {
	for i := len(applied) - 1; i >= 0; i-- {
		if err := s.ledger.Increment(ctx, orderID, applied[i].SKU); err != nil {
			s.log.Error("compensation failed", "order_id", orderID, "sku", applied[i].SKU, "err", err)
		}
	}
}

// Cancel moves a pending order to cancelled. On the normal path nothing was
// decremented while the order was pending, but a completion that crashed
// between the saga and the status write leaves its decrements behind; they
// are released here. Increment is a no-op without a marker, so the release
// costs nothing when there is nothing to release.
func (s *Service) Cancel(ctx context.Context, orderID string, p auth.Principal) (domain.Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !o.AccessibleBy(p.SubjectID, p.IsAdmin) {
		return domain.Order{}, domain.ErrNotOwner
	}
	if err := o.Cancel(); err != nil {
		return domain.Order{}, err
	}

	if err := s.repo.UpdateStatusWithOutbox(ctx, o, "", nil, nil, ""); err != nil {
		return domain.Order{}, fmt.Errorf("persist cancellation: %w", err)
	}
	s.compensate(ctx, o.ID, o.Items)
	s.log.Info("order cancelled", "order_id", o.ID)
	return o, nil
}

func (s *Service) Get(ctx context.Context, orderID string, p auth.Principal) (domain.Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !o.AccessibleBy(p.SubjectID, p.IsAdmin) {
		return domain.Order{}, domain.ErrNotOwner
	}
	return o, nil
}

// List returns the caller's orders, or every order for an admin.
func (s *Service) List(ctx context.Context, p auth.Principal) ([]domain.Order, error) {
	if p.IsAdmin {
		return s.repo.ListAll(ctx)
	}
	return s.repo.ListByOwner(ctx, p.SubjectID)
}

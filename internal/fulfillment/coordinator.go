package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	invdomain "github.com/commercekit/fulfillment/internal/inventory/domain"
	"github.com/commercekit/fulfillment/internal/order/application"
	orderdomain "github.com/commercekit/fulfillment/internal/order/domain"
	paydomain "github.com/commercekit/fulfillment/internal/payment/domain"
	"github.com/commercekit/fulfillment/pkg/auth"
	"github.com/commercekit/fulfillment/pkg/bus"
	"github.com/commercekit/fulfillment/pkg/metrics"
	"github.com/commercekit/fulfillment/pkg/tracing"
)

const paymentQueue = "orders.payment.succeeded"

// OrderCompleter is the slice of the order service the coordinator drives.
type OrderCompleter interface {
	Complete(ctx context.Context, orderID string, p auth.Principal) (orderdomain.Order, error)
	Cancel(ctx context.Context, orderID string, p auth.Principal) (orderdomain.Order, error)
}

// Subscriber binds the coordinator's queue on the bus.
type Subscriber interface {
	Subscribe(ctx context.Context, queue, routingKey string, h bus.Handler) error
}

// Deduper is the fast-path duplicate filter.
type Deduper interface {
	Key(queue, messageID string) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Coordinator closes the loop between payment capture and the order state
// machine: payment.succeeded drives Complete (and with it the decrement
// saga), a failed capture drives Cancel. Redis only flags duplicates; the
// authoritative guards are the order status check and the ledger markers, so
// a redelivered confirmation converges on the same terminal state with the
// decrement applied exactly once.
type Coordinator struct {
	log    *slog.Logger
	conn   Subscriber
	orders OrderCompleter
	idem   Deduper
	tracer trace.Tracer
}

func NewCoordinator(log *slog.Logger, conn Subscriber, orders OrderCompleter, idem Deduper) *Coordinator {
	return &Coordinator{
		log:    log,
		conn:   conn,
		orders: orders,
		idem:   idem,
		tracer: otel.Tracer("fulfillment-coordinator"),
	}
}

func (c *Coordinator) Start(ctx context.Context) error {
	return c.conn.Subscribe(ctx, paymentQueue, bus.KeyPaymentSucceeded, c.handle)
}

func (c *Coordinator) handle(ctx context.Context, d bus.Delivery) bus.AckDecision {
	key := c.idem.Key(paymentQueue, d.MessageID)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		c.log.Error("idempotency check failed", "err", err)
		return bus.NackRequeue
	}
	if seen {
		// A hint, not an answer: the key may outlive a crash that lost the
		// actual work. The delivery still runs against the durable guards
		// (order status, ledger markers), which make the replay a no-op
		// when the work really happened.
		metrics.EventsConsumed.WithLabelValues(paymentQueue, "duplicate").Inc()
	}

	msgCtx := tracing.ExtractHeaders(ctx, d.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentSucceeded")
	defer span.End()

	var ev paydomain.PaymentSucceeded
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.log.Error("payment.succeeded unmarshal failed", "message_id", d.MessageID, "err", err)
		metrics.MessagesDropped.Inc()
		return bus.NackDrop
	}
	if ev.OrderID == "" {
		c.log.Error("payment.succeeded without order_id", "message_id", d.MessageID)
		metrics.MessagesDropped.Inc()
		return bus.NackDrop
	}

	decision := c.apply(msgCtx, ev)
	switch decision {
	case bus.Ack:
		metrics.EventsConsumed.WithLabelValues(paymentQueue, "ok").Inc()
	case bus.NackRequeue:
		// Release the marker so the redelivery is not counted as a
		// duplicate.
		_ = c.idem.Forget(ctx, key)
	}
	return decision
}

func (c *Coordinator) apply(ctx context.Context, ev paydomain.PaymentSucceeded) bus.AckDecision {
	if ev.Status == paydomain.CaptureFailed {
		_, err := c.orders.Cancel(ctx, ev.OrderID, auth.System)
		switch {
		case err == nil, errors.Is(err, orderdomain.ErrTerminalState):
			c.log.Info("order cancelled after failed capture", "order_id", ev.OrderID, "payment_id", ev.PaymentID)
			return bus.Ack
		case errors.Is(err, application.ErrNotFound):
			c.log.Error("failed capture for unknown order", "order_id", ev.OrderID)
			metrics.MessagesDropped.Inc()
			return bus.NackDrop
		default:
			c.log.Error("cancel after failed capture", "order_id", ev.OrderID, "err", err)
			return bus.NackRequeue
		}
	}

	_, err := c.orders.Complete(ctx, ev.OrderID, auth.System)
	switch {
	case err == nil:
		c.log.Info("order completed by payment", "order_id", ev.OrderID, "payment_id", ev.PaymentID)
		return bus.Ack
	case isInsufficientStock(err):
		// Business condition, not a fault: the order stays pending for an
		// operator or the buyer to resolve. Requeueing would hammer the
		// same empty shelf.
		c.log.Error("paid order cannot be fulfilled", "order_id", ev.OrderID, "err", err)
		return bus.Ack
	case errors.Is(err, orderdomain.ErrTerminalState):
		// Cancelled before the confirmation arrived. Surfaced for manual
		// refund handling.
		c.log.Error("payment for cancelled order", "order_id", ev.OrderID, "payment_id", ev.PaymentID)
		return bus.Ack
	case errors.Is(err, application.ErrNotFound):
		c.log.Error("payment for unknown order", "order_id", ev.OrderID)
		metrics.MessagesDropped.Inc()
		return bus.NackDrop
	default:
		c.log.Error("completion failed, will retry", "order_id", ev.OrderID, "err", err)
		return bus.NackRequeue
	}
}

func isInsufficientStock(err error) bool {
	var insufficient *invdomain.InsufficientStockError
	return errors.As(err, &insufficient)
}

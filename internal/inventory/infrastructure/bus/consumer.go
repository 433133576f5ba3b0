package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/commercekit/fulfillment/pkg/bus"
	"github.com/commercekit/fulfillment/pkg/metrics"
	"github.com/commercekit/fulfillment/pkg/tracing"
)

const createdQueue = "inventory.order.created"

// Subscriber binds the observer's queue on the bus.
type Subscriber interface {
	Subscribe(ctx context.Context, queue, routingKey string, h bus.Handler) error
}

// Deduper is the fast-path duplicate filter.
type Deduper interface {
	Key(queue, messageID string) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// ObserverConsumer watches order.created as a non-mutating observer. Stock is
// decremented exactly once at completion time, through the ledger API; this
// consumer only feeds logs and metrics, so duplicate or reordered deliveries
// are harmless by construction.
type ObserverConsumer struct {
	log    *slog.Logger
	conn   Subscriber
	idem   Deduper
	tracer trace.Tracer
}

func NewObserverConsumer(log *slog.Logger, conn Subscriber, idem Deduper) *ObserverConsumer {
	return &ObserverConsumer{
		log:    log,
		conn:   conn,
		idem:   idem,
		tracer: otel.Tracer("inventory-observer"),
	}
}

func (c *ObserverConsumer) Start(ctx context.Context) error {
	return c.conn.Subscribe(ctx, createdQueue, bus.KeyOrderCreated, c.handle)
}

func (c *ObserverConsumer) handle(ctx context.Context, d bus.Delivery) bus.AckDecision {
	key := c.idem.Key(createdQueue, d.MessageID)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		c.log.Error("idempotency check failed", "err", err)
		_ = c.idem.Forget(ctx, key)
		return bus.NackRequeue
	}
	if seen {
		// Counted but still processed: the handler is non-mutating, so
		// replaying it costs a log line, and the key may outlive a crash.
		metrics.EventsConsumed.WithLabelValues(createdQueue, "duplicate").Inc()
	}

	msgCtx := tracing.ExtractHeaders(ctx, d.Headers)
	_, span := c.tracer.Start(msgCtx, "ObserveOrderCreated")
	defer span.End()

	var ev struct {
		OrderID string `json:"order_id"`
		Items   []struct {
			SKU string `json:"sku"`
			Qty int    `json:"qty"`
		} `json:"items"`
	}
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.log.Error("order.created unmarshal failed", "message_id", d.MessageID, "err", err)
		metrics.MessagesDropped.Inc()
		return bus.NackDrop
	}

	c.log.Info("order observed", "order_id", ev.OrderID, "line_items", len(ev.Items))
	metrics.EventsConsumed.WithLabelValues(createdQueue, "ok").Inc()
	return bus.Ack
}

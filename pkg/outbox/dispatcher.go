package outbox

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/commercekit/fulfillment/pkg/bus"
	"github.com/commercekit/fulfillment/pkg/metrics"
	"github.com/commercekit/fulfillment/pkg/tracing"
)

// Dispatcher publishes locked outbox events to the marketplace exchange. The
// outbox row id becomes the broker message id, so consumers can deduplicate
// redeliveries of the same row.
type Dispatcher struct {
	log *slog.Logger
	pub bus.Publisher
}

func NewDispatcher(log *slog.Logger, pub bus.Publisher) *Dispatcher {
	return &Dispatcher{log: log, pub: pub}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	headers := make(map[string]string, len(event.Headers)+1)
	for k, v := range event.Headers {
		headers[k] = v
	}
	if event.Traceparent != "" {
		headers[tracing.TraceparentHeader] = event.Traceparent
	}

	messageID := event.AggregateType + "-" + strconv.FormatInt(event.ID, 10)
	if err := d.pub.Publish(ctx, event.Type, messageID, event.Payload, headers); err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.ID, "routing_key", event.Type, "err", err)
		return err
	}
	metrics.EventsPublished.WithLabelValues(event.Type).Inc()
	d.log.Info("outbox dispatched", "event_id", event.ID, "routing_key", event.Type)
	return nil
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters shared by the fulfillment services. Labelled by routing key or SKU
// where cardinality is bounded.
var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_events_published_total",
			Help: "Events dispatched to the marketplace exchange",
		},
		[]string{"routing_key"},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_events_consumed_total",
			Help: "Events consumed from the marketplace exchange",
		},
		[]string{"queue", "outcome"},
	)

	MessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_messages_dropped_total",
			Help: "Poison messages rejected without requeue",
		},
	)

	DecrementsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_stock_decrements_total",
			Help: "Stock decrements applied by the inventory ledger",
		},
	)

	DecrementsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_stock_decrements_rejected_total",
			Help: "Decrements rejected for insufficient stock",
		},
	)

	CompensationsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_stock_compensations_total",
			Help: "Compensating increments after a failed multi-item decrement",
		},
	)

	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fulfillment_order_completion_seconds",
			Help:    "Duration of the order completion saga",
			Buckets: prometheus.DefBuckets,
		},
	)
)

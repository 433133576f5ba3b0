package bus

import "context"

// Routing keys on the marketplace exchange. The exchange name itself is a
// deployment constant, fixed at connect time.
const (
	KeyOrderCreated     = "order.created"
	KeyOrderCompleted   = "order.completed"
	KeyPaymentSucceeded = "payment.succeeded"
)

// AckDecision is what a handler tells the adapter to do with a delivery.
type AckDecision int

const (
	// Ack removes the message from the queue.
	Ack AckDecision = iota
	// NackRequeue puts the message back for redelivery. Only return this
	// for transient failures; a permanently broken message must be dropped.
	NackRequeue
	// NackDrop rejects without requeue. The adapter logs every drop so a
	// poison message is operator-visible, not silently lost.
	NackDrop
)

// Delivery is one consumed message.
type Delivery struct {
	RoutingKey string
	MessageID  string
	Body       []byte
	Headers    map[string]string
}

// Handler processes one delivery and decides its fate. A panic inside the
// handler is treated as NackDrop.
type Handler func(ctx context.Context, d Delivery) AckDecision

// Publisher is the outbound half of the bus, satisfied by *Conn and by test
// fakes.
type Publisher interface {
	Publish(ctx context.Context, routingKey, messageID string, payload []byte, headers map[string]string) error
}

package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	invdomain "github.com/commercekit/fulfillment/internal/inventory/domain"
	"github.com/commercekit/fulfillment/internal/order/application"
	orderdomain "github.com/commercekit/fulfillment/internal/order/domain"
	paydomain "github.com/commercekit/fulfillment/internal/payment/domain"
	"github.com/commercekit/fulfillment/pkg/auth"
	"github.com/commercekit/fulfillment/pkg/bus"
)

type fakeOrders struct {
	completeErr error
	cancelErr   error

	completed []string
	cancelled []string
	principal auth.Principal
}

func (f *fakeOrders) Complete(ctx context.Context, orderID string, p auth.Principal) (orderdomain.Order, error) {
	f.completed = append(f.completed, orderID)
	f.principal = p
	return orderdomain.Order{ID: orderID, Status: orderdomain.StatusCompleted}, f.completeErr
}

func (f *fakeOrders) Cancel(ctx context.Context, orderID string, p auth.Principal) (orderdomain.Order, error) {
	f.cancelled = append(f.cancelled, orderID)
	f.principal = p
	return orderdomain.Order{ID: orderID, Status: orderdomain.StatusCancelled}, f.cancelErr
}

type fakeDeduper struct {
	seen    bool
	seenErr error
	forgot  []string
}

func (f *fakeDeduper) Key(queue, messageID string) string { return queue + ":" + messageID }
func (f *fakeDeduper) Seen(ctx context.Context, key string) (bool, error) {
	return f.seen, f.seenErr
}
func (f *fakeDeduper) Forget(ctx context.Context, key string) error {
	f.forgot = append(f.forgot, key)
	return nil
}

type fakeSubscriber struct {
	queue      string
	routingKey string
	handler    bus.Handler
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, queue, routingKey string, h bus.Handler) error {
	f.queue, f.routingKey, f.handler = queue, routingKey, h
	return nil
}

func testCoordinator(orders *fakeOrders, idem *fakeDeduper) (*Coordinator, *fakeSubscriber) {
	sub := &fakeSubscriber{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCoordinator(log, sub, orders, idem), sub
}

func delivery(t *testing.T, ev paydomain.PaymentSucceeded) bus.Delivery {
	t.Helper()
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return bus.Delivery{RoutingKey: bus.KeyPaymentSucceeded, MessageID: "msg-1", Body: body}
}

func TestStart_BindsPaymentQueue(t *testing.T) {
	c, sub := testCoordinator(&fakeOrders{}, &fakeDeduper{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sub.queue != "orders.payment.succeeded" || sub.routingKey != bus.KeyPaymentSucceeded {
		t.Errorf("bound %s/%s", sub.queue, sub.routingKey)
	}
}

func TestHandle_CompletesOrderAsSystem(t *testing.T) {
	orders := &fakeOrders{}
	c, _ := testCoordinator(orders, &fakeDeduper{})

	d := delivery(t, paydomain.PaymentSucceeded{OrderID: "o-1", PaymentID: "p-1", Status: paydomain.CaptureCompleted})
	if got := c.handle(context.Background(), d); got != bus.Ack {
		t.Errorf("expected Ack, got %v", got)
	}
	if len(orders.completed) != 1 || orders.completed[0] != "o-1" {
		t.Errorf("completed = %v", orders.completed)
	}
	if !orders.principal.IsAdmin {
		t.Error("coordinator must act with the system principal")
	}
}

func TestHandle_FailedCaptureCancels(t *testing.T) {
	orders := &fakeOrders{}
	c, _ := testCoordinator(orders, &fakeDeduper{})

	d := delivery(t, paydomain.PaymentSucceeded{OrderID: "o-1", PaymentID: "p-1", Status: paydomain.CaptureFailed})
	if got := c.handle(context.Background(), d); got != bus.Ack {
		t.Errorf("expected Ack, got %v", got)
	}
	if len(orders.cancelled) != 1 {
		t.Errorf("cancelled = %v", orders.cancelled)
	}
	if len(orders.completed) != 0 {
		t.Errorf("failed capture must not complete, completed = %v", orders.completed)
	}
}

func TestHandle_FailedCaptureOnTerminalOrderAcks(t *testing.T) {
	orders := &fakeOrders{cancelErr: orderdomain.ErrTerminalState}
	c, _ := testCoordinator(orders, &fakeDeduper{})

	d := delivery(t, paydomain.PaymentSucceeded{OrderID: "o-1", Status: paydomain.CaptureFailed})
	if got := c.handle(context.Background(), d); got != bus.Ack {
		t.Errorf("redelivered failure must still ack, got %v", got)
	}
}

func TestHandle_RedeliveryStillDrivesIdempotentComplete(t *testing.T) {
	// The Redis key may survive a crash that lost the actual completion, so
	// a flagged duplicate must still run against the durable guards instead
	// of being acked on the key alone.
	orders := &fakeOrders{}
	c, _ := testCoordinator(orders, &fakeDeduper{seen: true})

	d := delivery(t, paydomain.PaymentSucceeded{OrderID: "o-1", Status: paydomain.CaptureCompleted})
	if got := c.handle(context.Background(), d); got != bus.Ack {
		t.Errorf("expected Ack, got %v", got)
	}
	if len(orders.completed) != 1 {
		t.Errorf("flagged duplicate must still reach the order service, completed = %v", orders.completed)
	}
}

func TestHandle_FailedCaptureUnknownOrderDrops(t *testing.T) {
	orders := &fakeOrders{cancelErr: application.ErrNotFound}
	c, _ := testCoordinator(orders, &fakeDeduper{})

	d := delivery(t, paydomain.PaymentSucceeded{OrderID: "o-ghost", Status: paydomain.CaptureFailed})
	if got := c.handle(context.Background(), d); got != bus.NackDrop {
		t.Errorf("unknown order on the failed-capture path must drop, got %v", got)
	}
}

func TestHandle_DedupErrorRequeues(t *testing.T) {
	c, _ := testCoordinator(&fakeOrders{}, &fakeDeduper{seenErr: errors.New("redis down")})
	d := delivery(t, paydomain.PaymentSucceeded{OrderID: "o-1", Status: paydomain.CaptureCompleted})
	if got := c.handle(context.Background(), d); got != bus.NackRequeue {
		t.Errorf("expected NackRequeue, got %v", got)
	}
}

func TestHandle_MalformedBodyDrops(t *testing.T) {
	c, _ := testCoordinator(&fakeOrders{}, &fakeDeduper{})
	d := bus.Delivery{RoutingKey: bus.KeyPaymentSucceeded, MessageID: "msg-1", Body: []byte("{not json")}
	if got := c.handle(context.Background(), d); got != bus.NackDrop {
		t.Errorf("expected NackDrop, got %v", got)
	}
}

func TestHandle_MissingOrderIDDrops(t *testing.T) {
	c, _ := testCoordinator(&fakeOrders{}, &fakeDeduper{})
	d := delivery(t, paydomain.PaymentSucceeded{PaymentID: "p-1", Status: paydomain.CaptureCompleted})
	if got := c.handle(context.Background(), d); got != bus.NackDrop {
		t.Errorf("expected NackDrop, got %v", got)
	}
}

func TestHandle_InsufficientStockAcksAndLeavesPending(t *testing.T) {
	orders := &fakeOrders{completeErr: &invdomain.InsufficientStockError{SKU: "X", Requested: 2}}
	c, _ := testCoordinator(orders, &fakeDeduper{})

	d := delivery(t, paydomain.PaymentSucceeded{OrderID: "o-1", Status: paydomain.CaptureCompleted})
	if got := c.handle(context.Background(), d); got != bus.Ack {
		t.Errorf("stockout is terminal for this delivery, expected Ack, got %v", got)
	}
}

func TestHandle_CancelledOrderAcks(t *testing.T) {
	orders := &fakeOrders{completeErr: orderdomain.ErrTerminalState}
	c, _ := testCoordinator(orders, &fakeDeduper{})

	d := delivery(t, paydomain.PaymentSucceeded{OrderID: "o-1", Status: paydomain.CaptureCompleted})
	if got := c.handle(context.Background(), d); got != bus.Ack {
		t.Errorf("expected Ack, got %v", got)
	}
}

func TestHandle_UnknownOrderDrops(t *testing.T) {
	orders := &fakeOrders{completeErr: application.ErrNotFound}
	c, _ := testCoordinator(orders, &fakeDeduper{})

	d := delivery(t, paydomain.PaymentSucceeded{OrderID: "o-ghost", Status: paydomain.CaptureCompleted})
	if got := c.handle(context.Background(), d); got != bus.NackDrop {
		t.Errorf("expected NackDrop, got %v", got)
	}
}

func TestHandle_TransientErrorRequeuesAndForgets(t *testing.T) {
	orders := &fakeOrders{completeErr: errors.New("ledger unreachable")}
	idem := &fakeDeduper{}
	c, _ := testCoordinator(orders, idem)

	d := delivery(t, paydomain.PaymentSucceeded{OrderID: "o-1", Status: paydomain.CaptureCompleted})
	if got := c.handle(context.Background(), d); got != bus.NackRequeue {
		t.Errorf("expected NackRequeue, got %v", got)
	}
	if len(idem.forgot) != 1 {
		t.Error("requeue must release the dedup marker so the redelivery is processed")
	}
}

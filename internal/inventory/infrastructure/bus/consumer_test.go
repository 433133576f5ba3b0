package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/commercekit/fulfillment/pkg/bus"
)

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
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, queue, routingKey string, h bus.Handler) error {
	f.queue, f.routingKey = queue, routingKey
	return nil
}

func newObserver(idem *fakeDeduper) (*ObserverConsumer, *fakeSubscriber) {
	sub := &fakeSubscriber{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewObserverConsumer(log, sub, idem), sub
}

func TestStart_BindsCreatedQueue(t *testing.T) {
	c, sub := newObserver(&fakeDeduper{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sub.queue != "inventory.order.created" || sub.routingKey != bus.KeyOrderCreated {
		t.Errorf("bound %s/%s", sub.queue, sub.routingKey)
	}
}

func TestHandle_AcksWellFormedEvent(t *testing.T) {
	c, _ := newObserver(&fakeDeduper{})
	d := bus.Delivery{
		RoutingKey: bus.KeyOrderCreated,
		MessageID:  "m-1",
		Body:       []byte(`{"order_id":"o-1","items":[{"sku":"X","qty":2}]}`),
	}
	if got := c.handle(context.Background(), d); got != bus.Ack {
		t.Errorf("expected Ack, got %v", got)
	}
}

func TestHandle_DuplicateAcks(t *testing.T) {
	c, _ := newObserver(&fakeDeduper{seen: true})
	d := bus.Delivery{MessageID: "m-1", Body: []byte(`{"order_id":"o-1"}`)}
	if got := c.handle(context.Background(), d); got != bus.Ack {
		t.Errorf("expected Ack, got %v", got)
	}
}

func TestHandle_MalformedBodyDrops(t *testing.T) {
	c, _ := newObserver(&fakeDeduper{})
	d := bus.Delivery{MessageID: "m-1", Body: []byte("{broken")}
	if got := c.handle(context.Background(), d); got != bus.NackDrop {
		t.Errorf("expected NackDrop, got %v", got)
	}
}

func TestHandle_DedupErrorRequeuesAndForgets(t *testing.T) {
	idem := &fakeDeduper{seenErr: errors.New("redis down")}
	c, _ := newObserver(idem)
	d := bus.Delivery{MessageID: "m-1", Body: []byte(`{"order_id":"o-1"}`)}
	if got := c.handle(context.Background(), d); got != bus.NackRequeue {
		t.Errorf("expected NackRequeue, got %v", got)
	}
	if len(idem.forgot) != 1 {
		t.Error("the marker must be released before requeue")
	}
}

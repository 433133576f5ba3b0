package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Conn is a RabbitMQ connection bound to one durable topic exchange. It
// reconnects with exponential backoff and re-establishes every registered
// subscription after a broker restart, so consumers never have to care about
// connection lifecycle.
type Conn struct {
	log      *slog.Logger
	url      string
	exchange string

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	subs   []subscription
	closed bool
}

type subscription struct {
	queue      string
	routingKey string
	handler    Handler
}

func newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // the watchdog retries until the context dies
	return backoff.WithContext(b, ctx)
}

// Dial connects, declares the durable topic exchange and starts the reconnect
// watchdog.
func Dial(ctx context.Context, log *slog.Logger, url, exchange string) (*Conn, error) {
	c := &Conn{log: log, url: url, exchange: exchange}
	if err := backoff.Retry(func() error {
		return c.connect()
	}, newBackoff(ctx)); err != nil {
		return nil, fmt.Errorf("bus dial: %w", err)
	}
	go c.watch(ctx)
	return c, nil
}

func (c *Conn) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.mu.Unlock()
	return nil
}

// watch redials on connection loss and replays subscriptions. Declarations are
// idempotent, so replaying an identical queue/binding is safe.
func (c *Conn) watch(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		closed := make(chan *amqp.Error, 1)
		conn.NotifyClose(closed)

		select {
		case <-ctx.Done():
			return
		case amqpErr := <-closed:
			if amqpErr == nil {
				return // clean shutdown
			}
			c.log.Error("bus connection lost, reconnecting", "err", amqpErr)
		}

		err := backoff.Retry(func() error {
			if err := c.connect(); err != nil {
				return err
			}
			return c.resubscribe(ctx)
		}, newBackoff(ctx))
		if err != nil {
			c.log.Error("bus reconnect abandoned", "err", err)
			return
		}
		c.log.Info("bus reconnected", "exchange", c.exchange)
	}
}

func (c *Conn) resubscribe(ctx context.Context) error {
	c.mu.Lock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		if err := c.consume(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Publish sends one persistent message to the exchange. Transient channel
// errors are retried with backoff; the broker's restart does not lose
// persistent messages on durable queues.
func (c *Conn) Publish(ctx context.Context, routingKey, messageID string, payload []byte, headers map[string]string) error {
	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	pub := amqp.Publishing{
		MessageId:    messageID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      table,
		Body:         payload,
	}

	op := func() error {
		c.mu.Lock()
		ch := c.ch
		c.mu.Unlock()
		if ch == nil {
			return fmt.Errorf("bus channel not ready")
		}
		return ch.PublishWithContext(ctx, c.exchange, routingKey, false, false, pub)
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(newBackoff(ctx), 5)); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Subscribe binds a durable queue to the exchange and feeds deliveries to the
// handler. The subscription survives reconnects.
func (c *Conn) Subscribe(ctx context.Context, queue, routingKey string, h Handler) error {
	s := subscription{queue: queue, routingKey: routingKey, handler: h}

	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()

	return c.consume(ctx, s)
}

func (c *Conn) consume(ctx context.Context, s subscription) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()

	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", s.queue, err)
	}
	if err := ch.QueueBind(s.queue, s.routingKey, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", s.queue, err)
	}
	deliveries, err := ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", s.queue, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return // channel closed, the watchdog re-subscribes
				}
				c.dispatch(ctx, s, d)
			}
		}
	}()
	return nil
}

func (c *Conn) dispatch(ctx context.Context, s subscription, d amqp.Delivery) {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if str, ok := v.(string); ok {
			headers[k] = str
		}
	}

	decision := c.safeHandle(ctx, s, Delivery{
		RoutingKey: d.RoutingKey,
		MessageID:  d.MessageId,
		Body:       d.Body,
		Headers:    headers,
	})

	switch decision {
	case Ack:
		_ = d.Ack(false)
	case NackRequeue:
		_ = d.Nack(false, true)
	case NackDrop:
		c.log.Error("message dropped", "queue", s.queue, "routing_key", d.RoutingKey, "message_id", d.MessageId)
		_ = d.Nack(false, false)
	}
}

// safeHandle converts a handler panic into NackDrop so one poison message
// cannot take the consumer down or loop through the queue forever.
func (c *Conn) safeHandle(ctx context.Context, s subscription, d Delivery) (decision AckDecision) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panic", "queue", s.queue, "message_id", d.MessageID, "panic", r)
			decision = NackDrop
		}
	}()
	return s.handler(ctx, d)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

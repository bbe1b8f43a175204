// Package broker wraps github.com/rabbitmq/amqp091-go with the topology
// and delivery-handling discipline the pipeline's services share:
// declare-then-bind helpers, manual ack, and a Runner that enforces
// publish-before-ack with exponential-backoff requeue.
package broker

import (
	"context"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/xerrors"

	"github.com/ofborg-go/ofborg/internal/worker"
)

// ExchangeConfig declares one exchange. Kind is "topic", "fanout", or
// "direct". Every exchange the pipeline declares is durable and
// non-internal.
type ExchangeConfig struct {
	Name string
	Kind string
}

// QueueConfig declares one queue.
type QueueConfig struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
}

// BindConfig binds Queue to Exchange with RoutingKey.
type BindConfig struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// Conn wraps one AMQP connection plus the channel used for topology setup
// and publishing.
type Conn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to uri (an "amqp[s]://user:pass@host/vhost" string) and
// opens one channel for topology declarations and publishing.
func Dial(uri string) (*Conn, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, xerrors.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Errorf("amqp channel: %w", err)
	}
	return &Conn{conn: conn, ch: ch}, nil
}

// Close tears down the channel and connection.
func (c *Conn) Close() error {
	c.ch.Close()
	return c.conn.Close()
}

// DeclareExchange declares e, durable and non-internal.
func (c *Conn) DeclareExchange(e ExchangeConfig) error {
	if err := c.ch.ExchangeDeclare(e.Name, e.Kind, true /* durable */, false, /* autoDelete */
		false /* internal */, false /* noWait */, nil); err != nil {
		return xerrors.Errorf("declare exchange %s: %w", e.Name, err)
	}
	return nil
}

// DeclareQueue declares q and returns its name (amqp assigns one when
// q.Name is empty, as for ephemeral dev-mode queues).
func (c *Conn) DeclareQueue(q QueueConfig) (string, error) {
	queue, err := c.ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false /* noWait */, nil)
	if err != nil {
		return "", xerrors.Errorf("declare queue %s: %w", q.Name, err)
	}
	return queue.Name, nil
}

// BindQueue binds b.Queue to b.Exchange with b.RoutingKey.
func (c *Conn) BindQueue(b BindConfig) error {
	if err := c.ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false /* noWait */, nil); err != nil {
		return xerrors.Errorf("bind queue %s to %s (%s): %w", b.Queue, b.Exchange, b.RoutingKey, err)
	}
	return nil
}

// Publish sends one message, delivery-mode persistent. It does not wait for
// a publisher confirmation; the channel is never put into confirm mode.
func (c *Conn) Publish(ctx context.Context, exchange, routingKey, contentType string, mandatory, immediate bool, body []byte) error {
	err := c.ch.PublishWithContext(ctx, exchange, routingKey, mandatory, immediate, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return xerrors.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

// Runner drives one queue's delivery loop against a worker.SimpleWorker,
// enforcing that every Publish action in a Consume result is dispatched
// before the triggering delivery is acked or nacked.
type Runner[Job any] struct {
	Conn     *Conn
	Queue    string
	Identity string // consumer tag prefix, e.g. "<host>-evaluator"
	Worker   worker.SimpleWorker[Job]
	Prefetch int

	// MaxRequeueBackoff bounds the exponential backoff Run sleeps after a
	// delivery's handling fails (a failed publish, already nacked with
	// requeue, or a failed ack/nack). Nothing is republished; the sleep
	// only keeps repeatedly-failing messages from spinning the consumer
	// hot. Retries are unbounded and no dead-letter exchange is used.
	MaxRequeueBackoff time.Duration
}

// Run consumes deliveries until ctx is done or the channel closes.
func (r *Runner[Job]) Run(ctx context.Context, role string) error {
	if r.Prefetch > 0 {
		if err := r.Conn.ch.Qos(r.Prefetch, 0, false); err != nil {
			return xerrors.Errorf("qos: %w", err)
		}
	}

	consumerTag := r.Identity + "-" + role
	deliveries, err := r.Conn.ch.Consume(r.Queue, consumerTag, false /* autoAck */, false, false, false, nil)
	if err != nil {
		return xerrors.Errorf("consume %s: %w", r.Queue, err)
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, d); err != nil {
				attempt++
				backoff := r.backoff(attempt)
				time.Sleep(backoff)
				continue
			}
			attempt = 0
		}
	}
}

func (r *Runner[Job]) backoff(attempt int) time.Duration {
	max := r.MaxRequeueBackoff
	if max <= 0 {
		max = 30 * time.Second
	}
	d := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
	if d > max {
		d = max
	}
	return d
}

func (r *Runner[Job]) handle(ctx context.Context, d amqp.Delivery) error {
	job, err := r.Worker.Decode(d.RoutingKey, d.Body)
	if err != nil {
		// Malformed payloads are dumped, never requeued.
		d.Nack(false /* multiple */, false /* requeue */)
		return nil
	}

	actions := r.Worker.Consume(job)

	for _, a := range actions {
		switch a.Kind {
		case worker.PublishKind:
			if pubErr := r.Conn.Publish(ctx, a.Exchange, a.RoutingKey, a.ContentType, a.Mandatory, a.Immediate, a.Body); pubErr != nil {
				// A failed publish converts the delivery into a requeue;
				// returning the error makes the consume loop back off
				// before the redelivery arrives.
				d.Nack(false, true /* requeue */)
				return xerrors.Errorf("publish during consume: %w", pubErr)
			}
		case worker.Ack:
			return d.Ack(false)
		case worker.NackRequeue:
			return d.Nack(false, true)
		case worker.NackDump:
			return d.Nack(false, false)
		}
	}
	return nil
}

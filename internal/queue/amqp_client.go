package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQPClient publishes and consumes job messages on a durable RabbitMQ queue
// through the default exchange.
type AMQPClient struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    amqpChannel
	queue string
	now   func() time.Time
}

// NewAMQPClient dials url and declares the durable queue. A positive
// prefetch caps unacknowledged deliveries per consumer.
func NewAMQPClient(url, queue string, prefetch int) (*AMQPClient, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("AMQP_URL is required")
	}
	if strings.TrimSpace(queue) == "" {
		return nil, errors.New("AMQP_QUEUE is required")
	}

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 30 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open rabbitmq channel")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "set channel qos")
		}
	}

	return &AMQPClient{conn: conn, ch: ch, queue: queue, now: time.Now}, nil
}

// Send publishes a persistent message to the queue.
func (c *AMQPClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return errors.Wrap(err, "encode amqp message")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.ch.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.JobID,
		CorrelationId: msg.RequestID,
		Timestamp:     c.now().UTC(),
		Body:          payload,
	})
	if err != nil {
		return errors.Wrap(err, "amqp publish")
	}
	return nil
}

// Deliveries starts a manual-ack consumer on the queue.
func (c *AMQPClient) Deliveries(consumerTag string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deliveries, err := c.ch.Consume(c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "consume %s", c.queue)
	}
	return deliveries, nil
}

// Close closes the channel and the connection.
func (c *AMQPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs error
	if c.ch != nil {
		errs = errors.CombineErrors(errs, c.ch.Close())
	}
	if c.conn != nil && !c.conn.IsClosed() {
		errs = errors.CombineErrors(errs, c.conn.Close())
	}
	return errs
}

var _ Client = (*AMQPClient)(nil)

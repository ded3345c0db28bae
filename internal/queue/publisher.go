package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher delivers registration events to downstream consumers.
type Publisher interface {
	PublishRegistrationCommitted(ctx context.Context, event RegistrationCommittedEvent) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishRegistrationCommitted(context.Context, RegistrationCommittedEvent) error {
	return nil
}

// DefaultPublishTimeout applies when a non-positive timeout is configured.
const DefaultPublishTimeout = 2 * time.Second

// AMQPPublisher publishes events to a durable RabbitMQ queue. Each publish
// opens its own connection; registrations are rare enough that pooling
// would not pay for its reconnect handling.
type AMQPPublisher struct {
	url     string
	queue   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewAMQPPublisher returns a publisher for the given broker URL and queue.
// Every publish, handshake included, is bounded by timeout.
func NewAMQPPublisher(url, queue string, timeout time.Duration, logger *slog.Logger) *AMQPPublisher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &AMQPPublisher{url: url, queue: queue, timeout: timeout, logger: logger}
}

// PublishRegistrationCommitted publishes event as a persistent JSON message
// on the default exchange, routed by queue name.
func (p *AMQPPublisher) PublishRegistrationCommitted(ctx context.Context, event RegistrationCommittedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      dialContext(ctx),
	})
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()
	// A broker that stops answering after the handshake would otherwise
	// block the channel calls below.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declareQueue(ch, p.queue); err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		if ctx.Err() != nil {
			err = errors.Join(err, ctx.Err())
		}
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	p.logger.Debug("registration event published", "queue", p.queue, "user_id", event.UserID)
	return nil
}

// declareQueue makes sure the durable queue exists. It is idempotent.
func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("queue declare %s: %w", name, err)
	}
	return nil
}

// dialContext returns an amqp dialer whose TCP connect and protocol
// handshake both end at ctx's deadline.
func dialContext(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
}

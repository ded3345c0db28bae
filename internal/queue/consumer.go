package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one decoded event. Returning an error rejects the
// message without requeueing it.
type Handler func(ctx context.Context, event RegistrationCommittedEvent) error

// Consumer reads registration events from RabbitMQ, reconnecting with
// exponential backoff when the broker goes away.
type Consumer struct {
	url     string
	queue   string
	handler Handler
	logger  *slog.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(url, queue string, handler Handler, logger *slog.Logger) *Consumer {
	return &Consumer{url: url, queue: queue, handler: handler, logger: logger}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn("consumer dial failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.Warn("set QoS failed", "error", err)
	}
	if err := declareQueue(ch, c.queue); err != nil {
		return err
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.Handle(ctx, d.Body); err != nil {
			c.logger.Error("handle message failed", "error", err, "message_id", d.MessageId)
			_ = d.Nack(false, false) // do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// Handle decodes body and passes it to the handler.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var ev RegistrationCommittedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.UserID == "" {
		return errors.New("event without user_id")
	}
	return c.handler(ctx, ev)
}

// LogConfirmation is a Handler that records the confirmation a mailer
// would send.
func LogConfirmation(logger *slog.Logger) Handler {
	return func(ctx context.Context, ev RegistrationCommittedEvent) error {
		logger.Info("registration confirmed",
			"event_id", ev.EventID,
			"user_id", ev.UserID,
			"email", ev.Email,
			"organisation", ev.Organisation,
			"internal", ev.IsInternal,
			"sessions", len(ev.Placements),
			"skipped", len(ev.Skipped),
			"committed_at", ev.CommittedAt,
		)
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

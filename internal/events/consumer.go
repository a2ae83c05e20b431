// Package events consumes rating events from RabbitMQ and folds them into
// resource summaries.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/arkilian/bookingstore/internal/config"
	"github.com/arkilian/bookingstore/internal/errors"
)

// RKRatingRecorded is the routing key of rating events.
const RKRatingRecorded = "rating.recorded"

// RatingRecorded is the body of a rating event.
type RatingRecorded struct {
	ResourceID string  `json:"resource_id"`
	Value      float64 `json:"value"`
}

// RatingSink records ratings. The store engine implements it.
type RatingSink interface {
	RecordRating(ctx context.Context, resourceID string, value float64) error
}

// Consumer reads rating events from a durable queue bound to a topic
// exchange.
type Consumer struct {
	cfg  config.EventsConfig
	sink RatingSink

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewConsumer creates a consumer. Connect must be called before Run.
func NewConsumer(cfg config.EventsConfig, sink RatingSink) *Consumer {
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = RKRatingRecorded
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	return &Consumer{cfg: cfg, sink: sink}
}

// Connect dials the broker and declares the exchange, queue and binding.
func (c *Consumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	fail := func(format string, err error) error {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf(format, err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fail("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fail("bind queue: %w", err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fail("set qos: %w", err)
	}
	c.conn = conn
	c.ch = ch
	return nil
}

// Close closes the channel and the connection.
func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run consumes until ctx ends. A delivery channel closed by the broker is
// reported as amqp.ErrClosed so the caller notices ingestion stopped.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, "bookingstore", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	return c.consume(ctx, msgs)
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("rating deliveries stopped: %w", amqp.ErrClosed)
			}
			requeue, err := c.Handle(ctx, d.Body)
			if err != nil {
				log.Printf("events: rating delivery %d: %v (requeue=%t)", d.DeliveryTag, err, requeue)
				_ = d.Nack(false, requeue)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle applies one rating event. A malformed or invalid event is dropped
// (requeue false); an event that failed for a transient reason, such as a
// busy partition or a failed write, is requeued.
func (c *Consumer) Handle(ctx context.Context, body []byte) (requeue bool, err error) {
	var ev RatingRecorded
	if err := json.Unmarshal(body, &ev); err != nil {
		return false, fmt.Errorf("decode rating event: %w", err)
	}
	if err := c.sink.RecordRating(ctx, ev.ResourceID, ev.Value); err != nil {
		switch {
		case errors.IsRetryable(err), errors.GetCode(err) == errors.CodePersistFailed:
			return true, err
		}
		return false, err
	}
	return false, nil
}

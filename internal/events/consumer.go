package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/onnwee/tripfeed/internal/interaction"
)

// Recorder stores an interaction event.
type Recorder interface {
	Record(ctx context.Context, e interaction.Event) (interaction.Event, error)
}

// Consumer feeds subscribed interaction messages into a Recorder.
type Consumer struct {
	sub      message.Subscriber
	topic    string
	recorder Recorder
	logger   *slog.Logger
	metrics  *Metrics
}

// NewConsumer creates a Consumer. An empty topic uses DefaultTopic.
func NewConsumer(sub message.Subscriber, topic string, recorder Recorder, logger *slog.Logger, metrics *Metrics) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Consumer{sub: sub, topic: topic, recorder: recorder, logger: logger, metrics: metrics}
}

// Run processes messages until ctx is cancelled or the subscription closes.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.sub.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}
	c.logger.Info("interaction consumer started", "topic", c.topic)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

// handle acks messages that were recorded or can never be recorded, and
// nacks the rest for redelivery.
func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	e, err := Decode(msg.Payload)
	if err == nil {
		_, err = c.recorder.Record(ctx, e)
	}

	switch {
	case err == nil:
		c.metrics.incConsumed(outcomeOK)
		msg.Ack()
	case interaction.IsDuplicate(err):
		c.metrics.incConsumed(outcomeDuplicate)
		msg.Ack()
	case errors.Is(err, ErrMalformed), errors.Is(err, interaction.ErrInvalidEvent):
		c.metrics.incConsumed(outcomeInvalid)
		c.logger.WarnContext(ctx, "dropping invalid interaction message",
			"message_uuid", msg.UUID,
			"error", err)
		msg.Ack()
	default:
		c.metrics.incConsumed(outcomeError)
		c.logger.ErrorContext(ctx, "interaction message failed, will be redelivered",
			"message_uuid", msg.UUID,
			"error", err)
		msg.Nack()
	}
}

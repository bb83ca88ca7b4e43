package push

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"
)

// EventHandler delivers one decoded relay event.
type EventHandler func(ctx context.Context, event Event) error

// Consumer reads new_message events as a consumer group member and hands
// them to a delivery handler.
type Consumer struct {
	group   sarama.ConsumerGroup
	handler EventHandler
	logger  *slog.Logger
}

// NewConsumer joins the given consumer group.
func NewConsumer(brokers []string, groupID string, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{group: group, handler: handler, logger: logger}, nil
}

// Run consumes topics until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, topics []string) error {
	for {
		if err := c.group.Consume(ctx, topics, groupHandler{handler: c.handler, logger: c.logger}); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	handler EventHandler
	logger  *slog.Logger
}

func (h groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var event Event
		if err := json.Unmarshal(message.Value, &event); err != nil {
			h.logger.Warn("relay event decode failed", "error", err, "offset", message.Offset)
			sess.MarkMessage(message, "")
			continue
		}
		if err := h.handler(sess.Context(), event); err != nil {
			// delivery retries are the relay's problem, not Kafka's
			h.logger.Warn("relay delivery failed", "error", err, "conversation_id", event.ConversationID)
			continue
		}
		sess.MarkMessage(message, "")
	}
	return nil
}

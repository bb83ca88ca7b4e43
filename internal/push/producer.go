// Package push relays new_message events to the external push-notification
// service over Kafka. Producing is best-effort from the sender's point of
// view; the relay worker consumes the topic and performs delivery.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/chat"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/messaging"
)

const previewLimit = 120

// Event is the new_message payload handed to the notification relay. The
// relay routes the recipient to the chat view for ConversationID.
type Event struct {
	Event          string    `json:"event"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientIDs   []string  `json:"recipient_ids"`
	Title          string    `json:"title,omitempty"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sent_at"`

	// SuppressAlert marks events for the conversation already open on
	// screen; the relay skips the audible/visible alert for those.
	SuppressAlert bool `json:"suppress_alert,omitempty"`
}

// Producer publishes relay events.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	tracker  *chat.Tracker
	logger   *slog.Logger
}

// NewProducer connects a sync producer to the given brokers. tracker may be
// nil when no alert suppression is wanted.
func NewProducer(brokers []string, topic string, tracker *chat.Tracker, logger *slog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("push: brokers required")
	}
	if topic == "" {
		return nil, errors.New("push: topic required")
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{producer: producer, topic: topic, tracker: tracker, logger: logger}, nil
}

// NotifyNewMessage publishes a new_message event for a confirmed send,
// keyed by conversation id so per-thread ordering is preserved.
func (p *Producer) NotifyNewMessage(ctx context.Context, conv messaging.Conversation, msg messaging.Message) error {
	event := Event{
		Event:          "new_message",
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		SenderID:       msg.SenderID,
		RecipientIDs:   recipients(conv.ParticipantIDs, msg.SenderID),
		Title:          conv.Title,
		Preview:        preview(msg.Text),
		SentAt:         msg.CreatedAt,
	}
	if p.tracker != nil {
		if active, ok := p.tracker.Active(); ok && active == conv.ID {
			event.SuppressAlert = true
		}
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(conv.ID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return err
	}
	p.logger.Debug("new_message event published", "conversation_id", conv.ID, "message_id", msg.ID)
	return nil
}

// Close releases the producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}

func recipients(participants []string, senderID string) []string {
	result := make([]string, 0, len(participants))
	for _, id := range participants {
		if id != senderID {
			result = append(result, id)
		}
	}
	return result
}

func preview(text string) string {
	if len(text) <= previewLimit {
		return text
	}
	return text[:previewLimit]
}

var _ messaging.Notifier = (*Producer)(nil)

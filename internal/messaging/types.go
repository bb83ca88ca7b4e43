package messaging

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/store"
)

// ConversationType tags the participant semantics of a thread.
type ConversationType string

const (
	TypeParentTrainer ConversationType = "parent-trainer"
	TypeParentSupport ConversationType = "parent-support"
	TypeGroup         ConversationType = "group"
)

// LocalIDPrefix marks client-generated temporary message ids awaiting store
// confirmation.
const LocalIDPrefix = "local-"

// NewLocalID returns a temporary message id.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id is a temporary, not-yet-confirmed id.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Conversation is a participant-scoped message thread.
type Conversation struct {
	ID              string           `json:"id"`
	Type            ConversationType `json:"type"`
	ParticipantIDs  []string         `json:"participant_ids"`
	CampID          string           `json:"camp_id,omitempty"`
	Title           string           `json:"title,omitempty"`
	LastMessageText string           `json:"last_message_text,omitempty"`
	LastMessageAt   time.Time        `json:"last_message_at"`
	CreatedAt       time.Time        `json:"created_at"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Message is a single chat message. Optimistic is client-local state and is
// never persisted to the store.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	Optimistic     bool      `json:"optimistic,omitempty"`
}

func fromConversationRow(row store.Conversation) Conversation {
	return Conversation{
		ID:              row.ID,
		Type:            ConversationType(row.Type),
		ParticipantIDs:  append([]string(nil), row.ParticipantIDs...),
		CampID:          row.CampID,
		Title:           row.Title,
		LastMessageText: row.LastMessageText,
		LastMessageAt:   row.LastMessageAt,
		CreatedAt:       row.CreatedAt,
	}
}

func fromMessageRow(row store.Message) Message {
	return Message{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		SenderID:       row.SenderID,
		Text:           row.Text,
		CreatedAt:      row.CreatedAt,
	}
}

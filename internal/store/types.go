package store

import (
	"sort"
	"strings"
	"time"
)

// Conversation is a row in the conversations table.
type Conversation struct {
	ID              string    `bson:"_id,omitempty" json:"id"`
	Type            string    `bson:"type" json:"type"`
	ParticipantKey  string    `bson:"participant_key" json:"participant_key"`
	ParticipantIDs  []string  `bson:"participant_ids" json:"participant_ids"`
	CampID          string    `bson:"camp_id,omitempty" json:"camp_id,omitempty"`
	Title           string    `bson:"title,omitempty" json:"title,omitempty"`
	LastMessageText string    `bson:"last_message_text,omitempty" json:"last_message_text,omitempty"`
	LastMessageAt   time.Time `bson:"last_message_at" json:"last_message_at"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
}

// Message is a row in the messages table.
type Message struct {
	ID             string    `bson:"_id,omitempty" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	SenderID       string    `bson:"sender_id" json:"sender_id"`
	Text           string    `bson:"text" json:"text"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// NormalizeParticipants trims, drops empties and deduplicates while keeping a
// stable sorted order, so that two participant sets compare by value.
func NormalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	normalized := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		normalized = append(normalized, id)
	}
	sort.Strings(normalized)
	return normalized
}

// ParticipantKey derives the declared conflict key for conversation upserts:
// the conversation type plus its normalized participant set.
func ParticipantKey(convType string, participants []string) string {
	return convType + ":" + strings.Join(NormalizeParticipants(participants), "|")
}

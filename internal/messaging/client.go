// Package messaging translates domain operations on conversations and
// messages into conversation-store requests and subscriptions. The client
// owns no state.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/store"
)

const (
	defaultSupportTitle = "PTP Support"
	defaultDirectTitle  = "Direct message"
	previewLimit        = 500
)

// Notifier forwards confirmed sends to the push-notification relay.
// Failures are best-effort and never fail the send.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, conv Conversation, msg Message) error
}

// Config carries client settings.
type Config struct {
	// SupportUserID is the fixed identity on the other side of every
	// parent-support conversation.
	SupportUserID string
}

// Client executes messaging operations against a conversation store.
type Client struct {
	store    store.Store
	notifier Notifier
	support  string
	logger   *slog.Logger
}

// NewClient builds a Client. notifier may be nil when no relay is wired.
func NewClient(st store.Store, cfg Config, notifier Notifier, logger *slog.Logger) (*Client, error) {
	if st == nil {
		return nil, errors.New("messaging: store required")
	}
	if strings.TrimSpace(cfg.SupportUserID) == "" {
		return nil, errors.New("messaging: support user id required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		store:    st,
		notifier: notifier,
		support:  strings.TrimSpace(cfg.SupportUserID),
		logger:   logger,
	}, nil
}

// FetchConversationsForUser lists a user's conversations, most recent first.
// No rows is an empty slice, not an error.
func (c *Client) FetchConversationsForUser(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := c.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, store.WrapError("list conversations", err)
	}
	conversations := make([]Conversation, 0, len(rows))
	for _, row := range rows {
		conversations = append(conversations, fromConversationRow(row))
	}
	return conversations, nil
}

// SubscribeToConversations opens a change feed over the user's conversations.
// Delivery is at-least-once and unordered; handlers must upsert by id.
func (c *Client) SubscribeToConversations(ctx context.Context, userID string, onChange func(Conversation)) (store.Subscription, error) {
	return c.store.WatchConversations(ctx, userID, func(row store.Conversation) {
		onChange(fromConversationRow(row))
	})
}

// FetchMessages lists a conversation's messages ascending by created_at.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := c.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, store.WrapError("list messages", err)
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, fromMessageRow(row))
	}
	return messages, nil
}

// SubscribeToMessages opens an insert-only feed for one conversation.
func (c *Client) SubscribeToMessages(ctx context.Context, conversationID string, onNewMessage func(Message)) (store.Subscription, error) {
	return c.store.WatchMessages(ctx, conversationID, func(row store.Message) {
		onNewMessage(fromMessageRow(row))
	})
}

// GetConversation loads one conversation by id.
func (c *Client) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row, err := c.store.GetConversation(ctx, id)
	if err != nil {
		return Conversation{}, store.WrapError("get conversation", err)
	}
	return fromConversationRow(row), nil
}

// SendMessage inserts a message and then refreshes the conversation's
// denormalized preview and notifies the push relay. The insert is the
// operation's success criterion; the follow-ups are best-effort.
func (c *Client) SendMessage(ctx context.Context, conversationID, senderID, text string) (Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	senderID = strings.TrimSpace(senderID)
	text = strings.TrimSpace(text)
	if conversationID == "" || senderID == "" || text == "" {
		return Message{}, errors.New("messaging: conversation id, sender id and text are required")
	}

	row, err := c.store.InsertMessage(ctx, store.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
	})
	if err != nil {
		return Message{}, store.WrapError("send message", err)
	}
	msg := fromMessageRow(row)

	if err := c.store.UpdateConversationPreview(ctx, conversationID, trimPreview(text), row.CreatedAt); err != nil {
		c.logger.Warn("conversation preview update failed", "conversation_id", conversationID, "error", err)
	}
	if c.notifier != nil {
		if conv, err := c.GetConversation(ctx, conversationID); err != nil {
			c.logger.Warn("push notify skipped, conversation load failed", "conversation_id", conversationID, "error", err)
		} else if err := c.notifier.NotifyNewMessage(ctx, conv, msg); err != nil {
			c.logger.Warn("push notify failed", "conversation_id", conversationID, "error", err)
		}
	}
	return msg, nil
}

// EnsureSupportConversation returns the parent's support thread, creating it
// on first contact. Calls are idempotent: the participant-key conflict rule
// collapses concurrent creates, and a detected conflict falls back to a
// re-query.
func (c *Client) EnsureSupportConversation(ctx context.Context, parentID, parentName string) (Conversation, error) {
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return Conversation{}, errors.New("messaging: parent id is required")
	}
	title := defaultSupportTitle
	if name := strings.TrimSpace(parentName); name != "" {
		title = fmt.Sprintf("Support · %s", name)
	}
	return c.ensureConversation(ctx, store.Conversation{
		Type:           string(TypeParentSupport),
		ParticipantIDs: []string{parentID, c.support},
		Title:          title,
	})
}

// EnsureTrainerConversation returns the parent<->trainer thread for an
// optional camp context, creating it on first contact.
func (c *Client) EnsureTrainerConversation(ctx context.Context, parentID, trainerID, campID, title string) (Conversation, error) {
	parentID = strings.TrimSpace(parentID)
	trainerID = strings.TrimSpace(trainerID)
	if parentID == "" || trainerID == "" {
		return Conversation{}, errors.New("messaging: parent id and trainer id are required")
	}
	if strings.TrimSpace(title) == "" {
		title = defaultDirectTitle
	}
	return c.ensureConversation(ctx, store.Conversation{
		Type:           string(TypeParentTrainer),
		ParticipantIDs: []string{parentID, trainerID},
		CampID:         strings.TrimSpace(campID),
		Title:          strings.TrimSpace(title),
	})
}

func (c *Client) ensureConversation(ctx context.Context, row store.Conversation) (Conversation, error) {
	key := store.ParticipantKey(row.Type, row.ParticipantIDs)
	existing, err := c.store.FindConversationByKey(ctx, key)
	if err == nil {
		return fromConversationRow(existing), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Conversation{}, store.WrapError("ensure conversation", err)
	}

	row.ParticipantKey = key
	created, err := c.store.UpsertConversation(ctx, row)
	if errors.Is(err, store.ErrConflict) {
		// Lost the first-contact race; the winner's row is authoritative.
		existing, err := c.store.FindConversationByKey(ctx, key)
		if err != nil {
			return Conversation{}, store.WrapError("ensure conversation", err)
		}
		return fromConversationRow(existing), nil
	}
	if err != nil {
		return Conversation{}, store.WrapError("ensure conversation", err)
	}
	return fromConversationRow(created), nil
}

func trimPreview(text string) string {
	if len(text) <= previewLimit {
		return text
	}
	return text[:previewLimit]
}

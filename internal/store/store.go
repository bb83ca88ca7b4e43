// Package store defines the contract the messaging client relies on from the
// hosted conversation store: filterable row queries, a participant-key upsert
// for idempotent get-or-create, and change-notification watches.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when an insert collides with the declared
	// conflict key of its table.
	ErrConflict = errors.New("store: conflict")
)

// Error wraps a store failure with the operation and a human-readable message.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("store: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WrapError builds an *Error unless err already is one.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Message: err.Error(), Err: err}
}

// Subscription is an open change-notification feed. Closing it stops further
// handler invocations; Close is idempotent.
type Subscription interface {
	Close() error
}

// ConversationHandler receives one conversation row per inserted or updated
// row matching the watch filter. Delivery is at-least-once and unordered
// across distinct rows; callers must treat each delivery as an upsert by id.
type ConversationHandler func(Conversation)

// MessageHandler receives one message row per confirmed insert.
type MessageHandler func(Message)

// Store is the conversation store wire contract.
type Store interface {
	// ListConversations returns conversations whose participant set contains
	// userID, descending by last_message_at. An empty result is not an error.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)

	// GetConversation returns a conversation by id or ErrNotFound.
	GetConversation(ctx context.Context, id string) (Conversation, error)

	// FindConversationByKey returns the conversation with the given
	// participant key or ErrNotFound.
	FindConversationByKey(ctx context.Context, key string) (Conversation, error)

	// UpsertConversation inserts row with its participant key as conflict
	// key. When the key already exists the insert fails with ErrConflict and
	// callers are expected to re-query by key.
	UpsertConversation(ctx context.Context, row Conversation) (Conversation, error)

	// UpdateConversationPreview refreshes the denormalized last-message
	// fields of a conversation.
	UpdateConversationPreview(ctx context.Context, id, text string, at time.Time) error

	// ListMessages returns the messages of a conversation ascending by
	// created_at. An empty result is not an error.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	// InsertMessage stores a message row and returns it with the
	// store-assigned id and timestamp.
	InsertMessage(ctx context.Context, row Message) (Message, error)

	// WatchConversations streams inserts and updates of conversations whose
	// participant set contains userID.
	WatchConversations(ctx context.Context, userID string, fn ConversationHandler) (Subscription, error)

	// WatchMessages streams confirmed message inserts for one conversation.
	WatchMessages(ctx context.Context, conversationID string, fn MessageHandler) (Subscription, error)
}

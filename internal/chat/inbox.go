// Package chat holds the in-memory client state of the messaging subsystem:
// the per-user conversation list, per-conversation sessions with optimistic
// send, and the active-conversation tracker.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/messaging"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/store"
)

// Inbox is the authoritative, deduplicated, freshness-ordered conversation
// list for one signed-in user. It is rebuilt from the store on Load and
// mutated incrementally by change-feed pushes.
type Inbox struct {
	client *messaging.Client
	userID string
	logger *slog.Logger

	// OnChange, when set before Load, runs after every list mutation.
	OnChange func()

	mu            sync.Mutex
	conversations []messaging.Conversation
	sub           store.Subscription
	closed        bool
}

// NewInbox builds an inbox for userID.
func NewInbox(client *messaging.Client, userID string, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{client: client, userID: userID, logger: logger}
}

// Load seeds the list from the store and opens the change subscription.
func (in *Inbox) Load(ctx context.Context) error {
	conversations, err := in.client.FetchConversationsForUser(ctx, in.userID)
	if err != nil {
		return err
	}
	sub, err := in.client.SubscribeToConversations(ctx, in.userID, in.apply)
	if err != nil {
		return err
	}

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		sub.Close()
		return errors.New("chat: inbox closed")
	}
	in.conversations = conversations
	in.sub = sub
	in.mu.Unlock()

	in.notify()
	return nil
}

// apply upserts a pushed conversation by id: any existing entry is removed
// and the row is moved to the front, since a push means it is now the most
// recently active thread. Move-to-front is the freshness tie-break; the rest
// of the list is not re-sorted.
func (in *Inbox) apply(conv messaging.Conversation) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	kept := make([]messaging.Conversation, 0, len(in.conversations)+1)
	kept = append(kept, conv)
	for _, existing := range in.conversations {
		if existing.ID != conv.ID {
			kept = append(kept, existing)
		}
	}
	in.conversations = kept
	in.mu.Unlock()

	in.notify()
}

// Conversations returns a snapshot of the current list.
func (in *Inbox) Conversations() []messaging.Conversation {
	in.mu.Lock()
	defer in.mu.Unlock()
	snapshot := make([]messaging.Conversation, len(in.conversations))
	copy(snapshot, in.conversations)
	return snapshot
}

// Close ends the subscription; no mutation is applied after close.
func (in *Inbox) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	sub := in.sub
	in.sub = nil
	in.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (in *Inbox) notify() {
	if in.OnChange != nil {
		in.OnChange()
	}
}

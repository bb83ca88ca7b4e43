package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/messaging"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/store"
)

// IdentitySource supplies the signed-in user's id, if any.
type IdentitySource interface {
	UserID() (string, bool)
}

// Session owns the ordered message list of one open conversation. The list is
// seeded from the store on Open, appended to by the insert feed, and mutated
// by optimistic sends. Every mutation takes the session lock and is dropped
// once the session is closed, so late async results cannot touch a dead view.
type Session struct {
	client         *messaging.Client
	conversationID string
	identity       IdentitySource
	logger         *slog.Logger

	// OnChange, when set before Open, runs after every list mutation.
	OnChange func()

	mu       sync.Mutex
	messages []messaging.Message
	sub      store.Subscription
	closed   bool

	inflight sync.WaitGroup
}

// NewSession builds a session for one conversation.
func NewSession(client *messaging.Client, conversationID string, identity IdentitySource, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		client:         client,
		conversationID: conversationID,
		identity:       identity,
		logger:         logger,
	}
}

// Open seeds the message list and subscribes to confirmed inserts.
func (s *Session) Open(ctx context.Context) error {
	messages, err := s.client.FetchMessages(ctx, s.conversationID)
	if err != nil {
		return err
	}
	sub, err := s.client.SubscribeToMessages(ctx, s.conversationID, s.handleIncoming)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return errors.New("chat: session closed")
	}
	s.messages = messages
	s.sub = sub
	s.mu.Unlock()

	s.notify()
	return nil
}

// Send runs the optimistic send state machine: the message appears in the
// list immediately under a temporary id, then is either replaced in place by
// the store-confirmed record or rolled back on failure. The call returns
// without waiting for the store; failures are logged, not surfaced, and are
// not retried automatically.
func (s *Session) Send(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	userID, ok := s.identity.UserID()
	if !ok {
		return
	}

	pending := messaging.Message{
		ID:             messaging.NewLocalID(),
		ConversationID: s.conversationID,
		SenderID:       userID,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
		Optimistic:     true,
	}
	if !s.append(pending) {
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.resolve(ctx, pending)
	}()
}

func (s *Session) resolve(ctx context.Context, pending messaging.Message) {
	confirmed, err := s.client.SendMessage(ctx, s.conversationID, pending.SenderID, pending.Text)
	if err != nil {
		s.logger.Warn("send failed, rolling back optimistic message",
			"conversation_id", s.conversationID, "error", err)
		s.remove(pending.ID)
		return
	}
	s.confirm(pending.ID, confirmed)
}

// handleIncoming upserts a pushed message by id. At-least-once delivery and
// the sender's own echo both collapse to a single entry.
func (s *Session) handleIncoming(msg messaging.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	replaced := false
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()

	s.notify()
}

// Messages returns a snapshot of the current list.
func (s *Session) Messages() []messaging.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]messaging.Message, len(s.messages))
	copy(snapshot, s.messages)
	return snapshot
}

// Wait blocks until all in-flight sends have resolved.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Close stops the subscription and freezes the list. In-flight sends still
// run to completion against the store but no longer mutate the session.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (s *Session) append(msg messaging.Message) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.notify()
	return true
}

// confirm swaps the pending entry for the confirmed record, keeping its list
// position so the thread does not visually jump. If the insert feed delivered
// the confirmed record first, that copy is dropped in favor of the in-place
// swap.
func (s *Session) confirm(localID string, confirmed messaging.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	kept := s.messages[:0]
	swapped := false
	for _, existing := range s.messages {
		switch existing.ID {
		case localID:
			kept = append(kept, confirmed)
			swapped = true
		case confirmed.ID:
			// echo from the insert feed
		default:
			kept = append(kept, existing)
		}
	}
	if !swapped {
		kept = append(kept, confirmed)
	}
	s.messages = kept
	s.mu.Unlock()

	s.notify()
}

func (s *Session) remove(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	kept := s.messages[:0]
	for _, existing := range s.messages {
		if existing.ID != id {
			kept = append(kept, existing)
		}
	}
	s.messages = kept
	s.mu.Unlock()

	s.notify()
}

func (s *Session) notify() {
	if s.OnChange != nil {
		s.OnChange()
	}
}

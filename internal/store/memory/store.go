// Package memory implements the conversation store contract on in-process
// maps. It backs tests and brokerless local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/store"
)

// Store keeps conversations and messages in mutex-guarded maps and fans out
// changes to registered watchers synchronously.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]store.Conversation
	byKey         map[string]string
	messages      map[string][]store.Message

	watchSeq     int
	convWatchers map[int]*convWatcher
	msgWatchers  map[int]*msgWatcher

	// FailSends makes InsertMessage fail; used to exercise rollback paths.
	FailSends bool
}

type convWatcher struct {
	userID string
	fn     store.ConversationHandler
}

type msgWatcher struct {
	conversationID string
	fn             store.MessageHandler
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]store.Conversation),
		byKey:         make(map[string]string),
		messages:      make(map[string][]store.Message),
		convWatchers:  make(map[int]*convWatcher),
		msgWatchers:   make(map[int]*msgWatcher),
	}
}

// ListConversations returns conversations containing userID, most recent first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]store.Conversation, 0)
	for _, row := range s.conversations {
		if containsParticipant(row.ParticipantIDs, userID) {
			result = append(result, cloneConversation(row))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastMessageAt.After(result[j].LastMessageAt)
	})
	return result, nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.conversations[id]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return cloneConversation(row), nil
}

// FindConversationByKey returns the conversation with the given participant key.
func (s *Store) FindConversationByKey(ctx context.Context, key string) (store.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return cloneConversation(s.conversations[id]), nil
}

// UpsertConversation inserts a conversation, enforcing the participant-key
// conflict rule.
func (s *Store) UpsertConversation(ctx context.Context, row store.Conversation) (store.Conversation, error) {
	s.mu.Lock()
	if row.ParticipantKey == "" {
		row.ParticipantKey = store.ParticipantKey(row.Type, row.ParticipantIDs)
	}
	if _, exists := s.byKey[row.ParticipantKey]; exists {
		s.mu.Unlock()
		return store.Conversation{}, fmt.Errorf("participant key %q taken: %w", row.ParticipantKey, store.ErrConflict)
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.LastMessageAt.IsZero() {
		row.LastMessageAt = row.CreatedAt
	}
	row.ParticipantIDs = store.NormalizeParticipants(row.ParticipantIDs)
	s.conversations[row.ID] = row
	s.byKey[row.ParticipantKey] = row.ID
	watchers := s.conversationWatchersLocked(row)
	s.mu.Unlock()

	notifyConversation(watchers, row)
	return cloneConversation(row), nil
}

// UpdateConversationPreview refreshes the denormalized last-message fields.
func (s *Store) UpdateConversationPreview(ctx context.Context, id, text string, at time.Time) error {
	s.mu.Lock()
	row, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	row.LastMessageText = text
	row.LastMessageAt = at.UTC()
	s.conversations[id] = row
	watchers := s.conversationWatchersLocked(row)
	s.mu.Unlock()

	notifyConversation(watchers, row)
	return nil
}

// ListMessages returns messages for a conversation in insert order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.messages[conversationID]
	result := make([]store.Message, len(rows))
	copy(result, rows)
	return result, nil
}

// InsertMessage appends a message row, assigning id and timestamp.
func (s *Store) InsertMessage(ctx context.Context, row store.Message) (store.Message, error) {
	s.mu.Lock()
	if s.FailSends {
		s.mu.Unlock()
		return store.Message{}, &store.Error{Op: "insert message", Message: "simulated write failure"}
	}
	if _, ok := s.conversations[row.ConversationID]; !ok {
		s.mu.Unlock()
		return store.Message{}, store.ErrNotFound
	}
	row.ID = uuid.NewString()
	row.CreatedAt = time.Now().UTC()
	s.messages[row.ConversationID] = append(s.messages[row.ConversationID], row)
	watchers := s.messageWatchersLocked(row.ConversationID)
	s.mu.Unlock()

	for _, w := range watchers {
		w.fn(row)
	}
	return row, nil
}

// WatchConversations registers a handler for conversation changes matching userID.
func (s *Store) WatchConversations(ctx context.Context, userID string, fn store.ConversationHandler) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchSeq++
	id := s.watchSeq
	s.convWatchers[id] = &convWatcher{userID: userID, fn: fn}
	return &subscription{cancel: func() {
		s.mu.Lock()
		delete(s.convWatchers, id)
		s.mu.Unlock()
	}}, nil
}

// WatchMessages registers a handler for message inserts in one conversation.
func (s *Store) WatchMessages(ctx context.Context, conversationID string, fn store.MessageHandler) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchSeq++
	id := s.watchSeq
	s.msgWatchers[id] = &msgWatcher{conversationID: conversationID, fn: fn}
	return &subscription{cancel: func() {
		s.mu.Lock()
		delete(s.msgWatchers, id)
		s.mu.Unlock()
	}}, nil
}

// PushConversation force-delivers a conversation row to matching watchers,
// simulating an external change on the hosted store.
func (s *Store) PushConversation(row store.Conversation) {
	s.mu.Lock()
	if row.ID != "" {
		s.conversations[row.ID] = row
	}
	watchers := s.conversationWatchersLocked(row)
	s.mu.Unlock()
	notifyConversation(watchers, row)
}

func (s *Store) conversationWatchersLocked(row store.Conversation) []*convWatcher {
	matched := make([]*convWatcher, 0, len(s.convWatchers))
	for _, w := range s.convWatchers {
		if containsParticipant(row.ParticipantIDs, w.userID) {
			matched = append(matched, w)
		}
	}
	return matched
}

func (s *Store) messageWatchersLocked(conversationID string) []*msgWatcher {
	matched := make([]*msgWatcher, 0, len(s.msgWatchers))
	for _, w := range s.msgWatchers {
		if w.conversationID == conversationID {
			matched = append(matched, w)
		}
	}
	return matched
}

func notifyConversation(watchers []*convWatcher, row store.Conversation) {
	for _, w := range watchers {
		w.fn(cloneConversation(row))
	}
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func containsParticipant(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func cloneConversation(row store.Conversation) store.Conversation {
	row.ParticipantIDs = append([]string(nil), row.ParticipantIDs...)
	return row
}

var _ store.Store = (*Store)(nil)

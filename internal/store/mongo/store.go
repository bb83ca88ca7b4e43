// Package mongo implements the conversation store contract on MongoDB.
// Change streams provide the change-notification watches; a unique index on
// participant_key backs the idempotent conversation upsert.
package mongo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/store"
)

// WatchState describes the connection state of a change-stream watch.
type WatchState int

const (
	WatchConnected WatchState = iota
	WatchReconnecting
	WatchFailed
)

const (
	collConversations = "conversations"
	collMessages      = "messages"
)

// Store runs conversation-store operations against two collections.
type Store struct {
	db     *mongo.Database
	logger *slog.Logger

	// OnWatchState, when set, receives connection-state transitions of every
	// open watch. err is non-nil for reconnecting and failed transitions.
	OnWatchState func(state WatchState, err error)

	// WatchRetryDelay is the pause before resuming a broken change stream.
	WatchRetryDelay time.Duration
}

// NewStore builds a Store on the given database handle.
func NewStore(client *Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: client.DB, logger: logger, WatchRetryDelay: 2 * time.Second}
}

// EnsureIndexes creates the participant-key conflict index and the message
// listing index. Safe to call on every boot.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(collConversations).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "participant_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return store.WrapError("ensure indexes", err)
	}
	_, err = s.db.Collection(collMessages).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return store.WrapError("ensure indexes", err)
}

// ListConversations returns conversations containing userID, most recent first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	cursor, err := s.db.Collection(collConversations).Find(ctx,
		bson.M{"participant_ids": userID},
		options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}}),
	)
	if err != nil {
		return nil, store.WrapError("list conversations", err)
	}
	defer cursor.Close(ctx)
	rows := make([]store.Conversation, 0)
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, store.WrapError("list conversations", err)
	}
	return rows, nil
}

// GetConversation loads one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	var row store.Conversation
	err := s.db.Collection(collConversations).FindOne(ctx, bson.M{"_id": id}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return store.Conversation{}, store.WrapError("get conversation", err)
	}
	return row, nil
}

// FindConversationByKey loads one conversation by its participant key.
func (s *Store) FindConversationByKey(ctx context.Context, key string) (store.Conversation, error) {
	var row store.Conversation
	err := s.db.Collection(collConversations).FindOne(ctx, bson.M{"participant_key": key}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return store.Conversation{}, store.WrapError("find conversation", err)
	}
	return row, nil
}

// UpsertConversation inserts a conversation; a duplicate participant key
// surfaces as ErrConflict for the caller's re-query fallback.
func (s *Store) UpsertConversation(ctx context.Context, row store.Conversation) (store.Conversation, error) {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.ParticipantIDs = store.NormalizeParticipants(row.ParticipantIDs)
	if row.ParticipantKey == "" {
		row.ParticipantKey = store.ParticipantKey(row.Type, row.ParticipantIDs)
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.LastMessageAt.IsZero() {
		row.LastMessageAt = row.CreatedAt
	}
	_, err := s.db.Collection(collConversations).InsertOne(ctx, row)
	if mongo.IsDuplicateKeyError(err) {
		return store.Conversation{}, store.ErrConflict
	}
	if err != nil {
		return store.Conversation{}, store.WrapError("upsert conversation", err)
	}
	return row, nil
}

// UpdateConversationPreview refreshes the denormalized last-message fields.
func (s *Store) UpdateConversationPreview(ctx context.Context, id, text string, at time.Time) error {
	result, err := s.db.Collection(collConversations).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_message_text": text, "last_message_at": at.UTC()}},
	)
	if err != nil {
		return store.WrapError("update preview", err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListMessages returns a conversation's messages ascending by created_at.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	cursor, err := s.db.Collection(collMessages).Find(ctx,
		bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, store.WrapError("list messages", err)
	}
	defer cursor.Close(ctx)
	rows := make([]store.Message, 0)
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, store.WrapError("list messages", err)
	}
	return rows, nil
}

// InsertMessage stores a message, assigning id and timestamp.
func (s *Store) InsertMessage(ctx context.Context, row store.Message) (store.Message, error) {
	row.ID = uuid.NewString()
	row.CreatedAt = time.Now().UTC()
	if _, err := s.db.Collection(collMessages).InsertOne(ctx, row); err != nil {
		return store.Message{}, store.WrapError("insert message", err)
	}
	return row, nil
}

// WatchConversations streams conversation inserts and updates for one user.
func (s *Store) WatchConversations(ctx context.Context, userID string, fn store.ConversationHandler) (store.Subscription, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType":                bson.M{"$in": bson.A{"insert", "update", "replace"}},
			"fullDocument.participant_ids": userID,
		}}},
	}
	return s.watch(ctx, collConversations, pipeline, func(doc bson.Raw) {
		var row store.Conversation
		if err := bson.Unmarshal(doc, &row); err != nil {
			s.logger.Warn("conversation change decode failed", "error", err)
			return
		}
		fn(row)
	})
}

// WatchMessages streams message inserts for one conversation.
func (s *Store) WatchMessages(ctx context.Context, conversationID string, fn store.MessageHandler) (store.Subscription, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType":                "insert",
			"fullDocument.conversation_id": conversationID,
		}}},
	}
	return s.watch(ctx, collMessages, pipeline, func(doc bson.Raw) {
		var row store.Message
		if err := bson.Unmarshal(doc, &row); err != nil {
			s.logger.Warn("message change decode failed", "error", err)
			return
		}
		fn(row)
	})
}

func (s *Store) watch(ctx context.Context, collection string, pipeline mongo.Pipeline, deliver func(bson.Raw)) (store.Subscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := s.db.Collection(collection).Watch(watchCtx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, store.WrapError("watch "+collection, err)
	}
	s.reportState(WatchConnected, nil)

	sub := &changeSubscription{cancel: cancel}
	go s.pump(watchCtx, collection, pipeline, stream, deliver)
	return sub, nil
}

// pump drains a change stream, resuming from the last token on failure until
// the watch context is cancelled.
func (s *Store) pump(ctx context.Context, collection string, pipeline mongo.Pipeline, stream *mongo.ChangeStream, deliver func(bson.Raw)) {
	var resumeToken bson.Raw
	for {
		for stream.Next(ctx) {
			resumeToken = stream.ResumeToken()
			var event struct {
				FullDocument bson.Raw `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				s.logger.Warn("change stream decode failed", "collection", collection, "error", err)
				continue
			}
			if len(event.FullDocument) > 0 {
				deliver(event.FullDocument)
			}
		}
		streamErr := stream.Err()
		stream.Close(context.Background())
		if ctx.Err() != nil {
			return
		}

		s.reportState(WatchReconnecting, streamErr)
		s.logger.Warn("change stream interrupted, resuming", "collection", collection, "error", streamErr)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryDelay()):
		}

		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if len(resumeToken) > 0 {
			opts.SetResumeAfter(resumeToken)
		}
		next, err := s.db.Collection(collection).Watch(ctx, pipeline, opts)
		if err != nil {
			s.reportState(WatchFailed, err)
			s.logger.Error("change stream resume failed", "collection", collection, "error", err)
			return
		}
		stream = next
		s.reportState(WatchConnected, nil)
	}
}

func (s *Store) reportState(state WatchState, err error) {
	if s.OnWatchState != nil {
		s.OnWatchState(state, err)
	}
}

func (s *Store) retryDelay() time.Duration {
	if s.WatchRetryDelay <= 0 {
		return 2 * time.Second
	}
	return s.WatchRetryDelay
}

type changeSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (c *changeSubscription) Close() error {
	c.once.Do(c.cancel)
	return nil
}

var _ store.Store = (*Store)(nil)

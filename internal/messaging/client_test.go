package messaging

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/store"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/store/memory"
)

func newTestClient(t *testing.T) (*Client, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	client, err := NewClient(st, Config{SupportUserID: "support"}, nil, slog.Default())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, st
}

func TestEnsureSupportConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("creates thread on first contact", func(t *testing.T) {
		client, _ := newTestClient(t)
		conv, err := client.EnsureSupportConversation(ctx, "u1", "Jane")
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if conv.Type != TypeParentSupport {
			t.Fatalf("want type %q, got %q", TypeParentSupport, conv.Type)
		}
		if len(conv.ParticipantIDs) != 2 || !conv.HasParticipant("u1") || !conv.HasParticipant("support") {
			t.Fatalf("unexpected participants %v", conv.ParticipantIDs)
		}
		if conv.Title != "Support · Jane" {
			t.Fatalf("want title %q, got %q", "Support · Jane", conv.Title)
		}
	})

	t.Run("defaults the title without a name", func(t *testing.T) {
		client, _ := newTestClient(t)
		conv, err := client.EnsureSupportConversation(ctx, "u1", "")
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if conv.Title != "PTP Support" {
			t.Fatalf("want default title, got %q", conv.Title)
		}
	})

	t.Run("idempotent across calls", func(t *testing.T) {
		client, _ := newTestClient(t)
		first, err := client.EnsureSupportConversation(ctx, "u1", "Jane")
		if err != nil {
			t.Fatalf("first ensure: %v", err)
		}
		second, err := client.EnsureSupportConversation(ctx, "u1", "Jane")
		if err != nil {
			t.Fatalf("second ensure: %v", err)
		}
		if first.ID != second.ID {
			t.Fatalf("want same conversation, got %q and %q", first.ID, second.ID)
		}
		conversations, err := client.FetchConversationsForUser(ctx, "u1")
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if len(conversations) != 1 {
			t.Fatalf("want one row in the store, got %d", len(conversations))
		}
	})

	t.Run("recovers the winning row after a lost create race", func(t *testing.T) {
		st := memory.NewStore()
		racing := &racingStore{Store: st, misses: 1}
		client, err := NewClient(racing, Config{SupportUserID: "support"}, nil, slog.Default())
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		// the concurrent winner's row is already in the store
		winner, err := st.UpsertConversation(ctx, store.Conversation{
			Type:           "parent-support",
			ParticipantIDs: []string{"u1", "support"},
			Title:          "PTP Support",
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}

		conv, err := client.EnsureSupportConversation(ctx, "u1", "Jane")
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if conv.ID != winner.ID {
			t.Fatalf("want winner %q, got %q", winner.ID, conv.ID)
		}
	})
}

func TestEnsureTrainerConversation(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	conv, err := client.EnsureTrainerConversation(ctx, "u1", "t9", "camp-3", "")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if conv.Type != TypeParentTrainer {
		t.Fatalf("want type %q, got %q", TypeParentTrainer, conv.Type)
	}
	if conv.CampID != "camp-3" {
		t.Fatalf("want camp id kept, got %q", conv.CampID)
	}
	if conv.Title != "Direct message" {
		t.Fatalf("want default title, got %q", conv.Title)
	}

	again, err := client.EnsureTrainerConversation(ctx, "u1", "t9", "", "ignored on reuse")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if again.ID != conv.ID {
		t.Fatalf("want same conversation, got %q and %q", conv.ID, again.ID)
	}
}

func TestFetchConversationsForUser(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	conversations, err := client.FetchConversationsForUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if conversations == nil || len(conversations) != 0 {
		t.Fatalf("want empty slice, got %v", conversations)
	}
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts and refreshes the preview", func(t *testing.T) {
		client, _ := newTestClient(t)
		conv, err := client.EnsureSupportConversation(ctx, "u1", "Jane")
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		msg, err := client.SendMessage(ctx, conv.ID, "u1", "  Hello  ")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if msg.ID == "" || IsLocalID(msg.ID) {
			t.Fatalf("want store-assigned id, got %q", msg.ID)
		}
		if msg.Text != "Hello" {
			t.Fatalf("want trimmed text, got %q", msg.Text)
		}

		updated, err := client.GetConversation(ctx, conv.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if updated.LastMessageText != "Hello" {
			t.Fatalf("want preview refreshed, got %q", updated.LastMessageText)
		}
		if !updated.LastMessageAt.Equal(msg.CreatedAt) {
			t.Fatalf("want preview timestamp %v, got %v", msg.CreatedAt, updated.LastMessageAt)
		}
	})

	t.Run("notifies the push relay", func(t *testing.T) {
		st := memory.NewStore()
		notifier := &captureNotifier{}
		client, err := NewClient(st, Config{SupportUserID: "support"}, notifier, slog.Default())
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		conv, err := client.EnsureSupportConversation(ctx, "u1", "Jane")
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if _, err := client.SendMessage(ctx, conv.ID, "u1", "Hello"); err != nil {
			t.Fatalf("send: %v", err)
		}
		if notifier.calls != 1 {
			t.Fatalf("want one notify, got %d", notifier.calls)
		}
		if notifier.lastConv.ID != conv.ID || notifier.lastMsg.Text != "Hello" {
			t.Fatalf("unexpected notify payload: %v %v", notifier.lastConv, notifier.lastMsg)
		}
	})

	t.Run("rejects blank input", func(t *testing.T) {
		client, _ := newTestClient(t)
		if _, err := client.SendMessage(ctx, "c1", "u1", "   "); err == nil {
			t.Fatal("want error for blank text")
		}
	})

	t.Run("surfaces insert failure", func(t *testing.T) {
		client, st := newTestClient(t)
		conv, err := client.EnsureSupportConversation(ctx, "u1", "Jane")
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		st.FailSends = true
		_, err = client.SendMessage(ctx, conv.ID, "u1", "Hello")
		if err == nil {
			t.Fatal("want send failure")
		}
		var se *store.Error
		if !errors.As(err, &se) {
			t.Fatalf("want *store.Error, got %T: %v", err, err)
		}
	})
}

// racingStore misses the first find so the caller goes down the create path
// and hits the conflict key.
type racingStore struct {
	store.Store
	misses int
}

func (r *racingStore) FindConversationByKey(ctx context.Context, key string) (store.Conversation, error) {
	if r.misses > 0 {
		r.misses--
		return store.Conversation{}, store.ErrNotFound
	}
	return r.Store.FindConversationByKey(ctx, key)
}

type captureNotifier struct {
	calls    int
	lastConv Conversation
	lastMsg  Message
}

func (n *captureNotifier) NotifyNewMessage(ctx context.Context, conv Conversation, msg Message) error {
	n.calls++
	n.lastConv = conv
	n.lastMsg = msg
	return nil
}

package ginserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/auth"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/chat"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/config"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/messaging"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/obs"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/store/memory"
)

const testSecret = "handler-test-secret"

type fixture struct {
	server *http.Server
	client *messaging.Client
	store  *memory.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memory.NewStore()
	client, err := messaging.NewClient(st, messaging.Config{SupportUserID: "support"}, nil, slog.Default())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	authCtx, err := auth.NewContext(testSecret)
	if err != nil {
		t.Fatalf("auth context: %v", err)
	}
	cfg := config.Config{Env: "test", HTTPAddr: ":0"}
	server := NewServer(cfg, obs.Middleware{}, obs.HealthHandlers{}, Handlers{
		Chat:           ChatHandler{Client: client, Logger: slog.Default()},
		Stream:         &StreamHandler{Client: client, Tracker: chat.NewTracker(), Logger: slog.Default()},
		AuthMiddleware: AuthMiddleware{Auth: authCtx, Logger: slog.Default()}.Handle,
	})
	return fixture{server: server, client: client, store: st}
}

func (f fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, subject, name string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"name": name,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	t.Run("anonymous rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/conversations", "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/conversations", "not-a-jwt", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
	})
}

func TestSupportConversationEndpoint(t *testing.T) {
	f := newFixture(t)
	token := signToken(t, "u1", "Jane")

	rec := f.do(t, http.MethodPost, "/api/v1/conversations/support", token, "{}")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var conv messaging.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conv.Type != messaging.TypeParentSupport || conv.Title != "Support · Jane" {
		t.Fatalf("unexpected conversation %+v", conv)
	}

	// second call reuses the thread
	rec = f.do(t, http.MethodPost, "/api/v1/conversations/support", token, "{}")
	var again messaging.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &again); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if again.ID != conv.ID {
		t.Fatalf("want same conversation, got %q and %q", conv.ID, again.ID)
	}
}

func TestTrainerConversationEndpoint(t *testing.T) {
	f := newFixture(t)
	token := signToken(t, "u1", "Jane")

	t.Run("requires trainer id", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/conversations/trainer", token, `{}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("rejects chatting with yourself", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/conversations/trainer", token, `{"trainer_id":"u1"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("creates the thread", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/conversations/trainer", token, `{"trainer_id":"t1","camp_id":"camp-9"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var conv messaging.Conversation
		if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if conv.Type != messaging.TypeParentTrainer || conv.CampID != "camp-9" {
			t.Fatalf("unexpected conversation %+v", conv)
		}
	})
}

func TestMessageEndpoints(t *testing.T) {
	f := newFixture(t)
	token := signToken(t, "u1", "Jane")

	conv, err := f.client.EnsureSupportConversation(context.Background(), "u1", "Jane")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	t.Run("send", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", token, `{"text":"Hello"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("want 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var msg messaging.Message
		if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Text != "Hello" || msg.SenderID != "u1" || msg.ID == "" {
			t.Fatalf("unexpected message %+v", msg)
		}
	})

	t.Run("blank text rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", token, `{"text":"   "}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("list", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", token, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		var payload struct {
			Items []messaging.Message `json:"items"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(payload.Items) != 1 || payload.Items[0].Text != "Hello" {
			t.Fatalf("unexpected items %v", payload.Items)
		}
	})

	t.Run("non-participant forbidden", func(t *testing.T) {
		outsider := signToken(t, "u2", "Mallory")
		rec := f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", outsider, "")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("want 403, got %d", rec.Code)
		}
	})

	t.Run("unknown conversation", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/conversations/nope/messages", token, "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("want 404, got %d", rec.Code)
		}
	})
}

func TestConversationList(t *testing.T) {
	f := newFixture(t)
	token := signToken(t, "u1", "Jane")

	if _, err := f.client.EnsureSupportConversation(context.Background(), "u1", "Jane"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := f.client.EnsureTrainerConversation(context.Background(), "u1", "t1", "", ""); err != nil {
		t.Fatalf("ensure trainer: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/conversations", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var payload struct {
		Items []messaging.Conversation `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 2 {
		t.Fatalf("want two conversations, got %d", len(payload.Items))
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/livez", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("livez: want 200, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/readyz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz: want 200, got %d", rec.Code)
	}
}

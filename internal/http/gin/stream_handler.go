package ginserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/chat"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/messaging"
)

// StreamHTTP exposes the per-conversation live message feed.
type StreamHTTP interface {
	Stream(c *gin.Context)
}

// StreamHandler upgrades to a websocket and forwards confirmed message
// inserts for one conversation. While the socket is open the conversation is
// marked active, so the push relay suppresses redundant alerts for it.
type StreamHandler struct {
	Client   *messaging.Client
	Tracker  *chat.Tracker
	Logger   *slog.Logger
	Upgrader websocket.Upgrader
}

// Stream handles GET /conversations/:id/stream.
func (h *StreamHandler) Stream(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	conv, err := h.Client.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(p.ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
		return
	}

	ws, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket upgrade failed", "error", err)
		}
		return
	}
	conn := newStreamConn(ws)
	conn.Start()

	sub, err := h.Client.SubscribeToMessages(c.Request.Context(), conversationID, func(msg messaging.Message) {
		payload, err := json.Marshal(msg)
		if err != nil {
			return
		}
		_ = conn.Send(payload)
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("message subscription failed", "conversation_id", conversationID, "error", err)
		}
		conn.Close(websocket.CloseInternalServerErr, "subscription failed")
		return
	}

	if h.Tracker != nil {
		h.Tracker.SetActive(conversationID)
	}
	defer func() {
		if h.Tracker != nil {
			h.Tracker.Clear()
		}
		_ = sub.Close()
		conn.Close(websocket.CloseNormalClosure, "bye")
	}()

	// inbound frames are ignored; the read loop only detects disconnect
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

var _ StreamHTTP = (*StreamHandler)(nil)

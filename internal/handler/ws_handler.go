package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/internal/hub"
	"github.com/TechSanzo/chaturbate/internal/presence"
	"github.com/TechSanzo/chaturbate/internal/service"
	"github.com/TechSanzo/chaturbate/pkg/log"
	"github.com/TechSanzo/chaturbate/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Inbound WebSocket message types.
const (
	wsTypeChat      = "chat_message"
	wsTypeHeartbeat = "heartbeat"
	wsTypePing      = "ping"
	wsTypePong      = "pong"
)

type wsInbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type wsError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSHandler serves the per-stream WebSocket feed: it joins the caller
// to a stream's watchers, pulls bus events through the bridge, and
// accepts chat messages inbound.
type WSHandler struct {
	hub      *hub.Hub
	bridge   *hub.Bridge
	chat     *service.ChatService
	presence *presence.Tracker
	auth     *AuthMiddleware
	wsCfg    hub.Config
}

// NewWSHandler creates the WebSocket handler.
func NewWSHandler(h *hub.Hub, bridge *hub.Bridge, chat *service.ChatService, tracker *presence.Tracker, auth *AuthMiddleware, wsCfg hub.Config) *WSHandler {
	return &WSHandler{
		hub:      h,
		bridge:   bridge,
		chat:     chat,
		presence: tracker,
		auth:     auth,
		wsCfg:    wsCfg,
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/streams/:id", h.auth.RequireAuth(), h.HandleStream)
}

// HandleStream upgrades the connection and attaches it to the stream.
func (h *WSHandler) HandleStream(c *gin.Context) {
	ctx := c.Request.Context()
	streamID := c.Param("id")
	userID := c.GetString(ctxUserID)

	if err := h.bridge.Acquire(ctx, streamID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldStreamID, streamID).Msg("failed to attach stream subscription")
		response.InternalError(c, "failed to subscribe to stream")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.bridge.Release(context.Background(), streamID)
		log.Ctx(ctx).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), userID, h.hub, conn, h.wsCfg)
	h.hub.Register(client)
	h.hub.JoinStream(client, streamID)

	if _, err := h.presence.Join(ctx, streamID, userID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldStreamID, streamID).Msg("failed to record presence")
	}

	go client.WritePump()
	go func() {
		client.ReadPump(func(cl *hub.Client, message []byte) {
			h.handleMessage(streamID, cl, message)
		})
		// ReadPump returns when the connection drops.
		bg := context.Background()
		h.hub.LeaveStream(client, streamID)
		h.bridge.Release(bg, streamID)
		if _, err := h.presence.Leave(bg, streamID, client.UserID); err != nil {
			log.L().Warn().Err(err).Str(log.FieldStreamID, streamID).Msg("failed to clear presence")
		}
	}()
}

func (h *WSHandler) handleMessage(streamID string, client *hub.Client, message []byte) {
	var in wsInbound
	if err := json.Unmarshal(message, &in); err != nil {
		client.SendMessage(wsError{Type: "error", Code: "BAD_REQUEST", Message: "invalid message format"})
		return
	}

	ctx := context.Background()

	switch in.Type {
	case wsTypeChat:
		req := &domain.SendMessageRequest{Content: in.Content}
		if _, err := h.chat.SendMessage(ctx, streamID, client.UserID, req); err != nil {
			code := "SEND_FAILED"
			if domain.IsValidation(err) {
				code = "VALIDATION_FAILED"
			}
			client.SendMessage(wsError{Type: "error", Code: code, Message: err.Error()})
		}

	case wsTypeHeartbeat:
		if err := h.presence.Heartbeat(ctx, client.UserID); err != nil {
			log.L().Debug().Err(err).Str(log.FieldUserID, client.UserID).Msg("heartbeat for absent presence")
		}

	case wsTypePing:
		client.SendMessage(map[string]string{"type": wsTypePong})

	default:
		client.SendMessage(wsError{Type: "error", Code: "BAD_REQUEST", Message: "unknown message type"})
	}
}

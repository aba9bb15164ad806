package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

const maxFrameBytes = 4096

// TypingSignals receives typing frames sent by clients.
type TypingSignals interface {
	SetTyping(ctx context.Context, userID, conversationID int64) error
	StopTyping(ctx context.Context, userID, conversationID int64) error
}

// Frame is a client-to-server websocket message.
type Frame struct {
	Type string `json:"type"`
}

const (
	FrameTyping     = "typing"
	FrameTypingStop = "typing.stop"
)

// ConversationSocketHandler handles conversation websocket connections.
type ConversationSocketHandler struct {
	hub           *Hub
	conversations repositories.ConversationRepository
	verifier      *middleware.TokenVerifier
	typing        TypingSignals
	log           *zap.Logger
}

// NewConversationSocketHandler constructs a ConversationSocketHandler.
func NewConversationSocketHandler(hub *Hub, conversations repositories.ConversationRepository, verifier *middleware.TokenVerifier, typing TypingSignals, log *zap.Logger) *ConversationSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConversationSocketHandler{hub: hub, conversations: conversations, verifier: verifier, typing: typing, log: log}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the caller, checks membership, upgrades the connection and subscribes it.
func (h *ConversationSocketHandler) Handle(c *gin.Context) {
	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	claims, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conv, err := h.conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found", "code": "not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load conversation", "code": "store_unavailable"})
		return
	}
	if !conv.HasParticipant(claims.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant", "code": "not_participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	info := ConnInfo{
		ConnID:         uuid.NewString(),
		ConversationID: conversationID,
		UserID:         claims.UserID,
		DeviceID:       observability.DeviceIDFromRequest(c.Request),
		IP:             observability.IPFromRequest(c.Request),
		RequestID:      observability.RequestIDFromRequest(c.Request),
		TraceID:        span.SpanContext().TraceID().String(),
		ConnectedAt:    time.Now(),
	}
	sub := h.hub.Add(conversationID, conn, info)

	// The request context ends once the handler returns.
	connCtx := context.WithoutCancel(ctx)
	observability.IncWSActive()
	h.publish(connCtx, info, "ws_connect", "")

	go h.readLoop(connCtx, sub)
}

func (h *ConversationSocketHandler) readLoop(ctx context.Context, sub *Subscriber) {
	info := sub.info
	var closeReason string
	defer func() {
		last := h.hub.Remove(info.ConversationID, sub)
		observability.DecWSActive()
		// Another connection of the same user may still be typing.
		if last && h.typing != nil {
			_ = h.typing.StopTyping(ctx, info.UserID, info.ConversationID)
		}
		h.publish(ctx, info, "ws_disconnect", closeReason)
		sub.conn.Close()
	}()

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.publish(ctx, info, "ws_error", closeReason)
			}
			return
		}
		h.handleFrame(ctx, info, data)
	}
}

func (h *ConversationSocketHandler) handleFrame(ctx context.Context, info ConnInfo, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.log.Debug("ignoring malformed websocket frame", zap.String("conn_id", info.ConnID), zap.Error(err))
		return
	}
	if h.typing == nil {
		return
	}
	var err error
	switch frame.Type {
	case FrameTyping:
		err = h.typing.SetTyping(ctx, info.UserID, info.ConversationID)
	case FrameTypingStop:
		err = h.typing.StopTyping(ctx, info.UserID, info.ConversationID)
	default:
		return
	}
	if err != nil {
		h.log.Debug("typing frame rejected", zap.String("conn_id", info.ConnID), zap.String("type", frame.Type), zap.Error(err))
	}
}

func (h *ConversationSocketHandler) publish(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(ctx, routingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   info.payload(event, reason),
	})
}

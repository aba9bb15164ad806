package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

const (
	routingKey   = "ws_events.conversations"
	writeTimeout = 5 * time.Second
)

// Subscriber is one websocket connection in a conversation room. Writes are serialized.
type Subscriber struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
}

func (c *Subscriber) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains one room of websocket clients per conversation.
type Hub struct {
	rooms map[int64]map[*Subscriber]struct{}
	mu    sync.RWMutex
	log   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{rooms: make(map[int64]map[*Subscriber]struct{}), log: log}
}

// Add registers a websocket connection to a conversation room.
func (h *Hub) Add(conversationID int64, conn *websocket.Conn, info ConnInfo) *Subscriber {
	c := &Subscriber{conn: conn, info: info}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*Subscriber]struct{})
	}
	h.rooms[conversationID][c] = struct{}{}
	return c
}

// Remove unregisters a subscriber; empty rooms are dropped. It reports
// whether the subscriber's user has no other connection left in the room.
func (h *Hub) Remove(conversationID int64, c *Subscriber) (lastForUser bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[conversationID]
	if !ok {
		return true
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.rooms, conversationID)
		return true
	}
	for other := range clients {
		if other.info.UserID == c.info.UserID {
			return false
		}
	}
	return true
}

// RoomSize returns the number of clients subscribed to a conversation.
func (h *Hub) RoomSize(conversationID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// NotifyConversation sends event to every client of the conversation.
// Clients that fail to receive it are disconnected.
func (h *Hub) NotifyConversation(conversationID int64, event models.ConversationEvent) {
	h.mu.RLock()
	clients := make([]*Subscriber, 0, len(h.rooms[conversationID]))
	for c := range h.rooms[conversationID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("websocket event encode failed", zap.String("type", event.Type), zap.Error(err))
		return
	}
	for _, c := range clients {
		if err := c.write(payload); err != nil {
			h.log.Warn("websocket write error", zap.Int64("conversation_id", conversationID), zap.String("conn_id", c.info.ConnID), zap.Error(err))
			c.conn.Close()
			h.Remove(conversationID, c)
			h.publishWSError(c.info, err)
			continue
		}
		observability.IncWSEvent(event.Type)
	}
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	observability.IncWSEvent("ws_error")
	_ = observability.PublishEvent(context.Background(), routingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   info.payload("ws_error", err.Error()),
	})
}

package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

func TestHubAddAndRemove(t *testing.T) {
	hub := NewHub(nil)

	sub := hub.Add(1, nil, ConnInfo{ConnID: "a"})
	assert.Equal(t, 1, hub.RoomSize(1))

	hub.Remove(1, sub)
	assert.Equal(t, 0, hub.RoomSize(1))
	assert.Empty(t, hub.rooms)
}

func TestHubRemoveReportsLastConnectionOfUser(t *testing.T) {
	hub := NewHub(nil)

	phone := hub.Add(1, nil, ConnInfo{ConnID: "phone", UserID: 7})
	laptop := hub.Add(1, nil, ConnInfo{ConnID: "laptop", UserID: 7})
	peer := hub.Add(1, nil, ConnInfo{ConnID: "peer", UserID: 8})

	assert.False(t, hub.Remove(1, phone))
	assert.True(t, hub.Remove(1, laptop))
	assert.True(t, hub.Remove(1, peer))
	assert.Equal(t, 0, hub.RoomSize(1))
}

func TestNotifyConversationWithoutSubscribers(t *testing.T) {
	hub := NewHub(nil)
	assert.NotPanics(t, func() {
		hub.NotifyConversation(9, models.ConversationEvent{Type: models.EventMessage})
	})
}

type recordingTyping struct {
	mu     sync.Mutex
	frames []string
}

func (r *recordingTyping) SetTyping(ctx context.Context, userID, conversationID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, fmt.Sprintf("start:%d:%d", conversationID, userID))
	return nil
}

func (r *recordingTyping) StopTyping(ctx context.Context, userID, conversationID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, fmt.Sprintf("stop:%d:%d", conversationID, userID))
	return nil
}

func (r *recordingTyping) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.frames...)
}

func newSocketServer(t *testing.T) (*httptest.Server, *Hub, *recordingTyping, models.Conversation) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := repositories.NewMemoryStore()
	conv, _, err := store.CreateIfAbsent(context.Background(), models.KindDirect, 1, 2)
	require.NoError(t, err)

	hub := NewHub(nil)
	typing := &recordingTyping{}
	verifier, err := middleware.NewTokenVerifier("secret")
	require.NoError(t, err)
	handler := NewConversationSocketHandler(hub, store, verifier, typing, nil)
	r := gin.New()
	r.GET("/ws/conversations/:conversation_id", handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub, typing, conv
}

func token(t *testing.T, userID int64) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": fmt.Sprint(userID)}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}

func dial(t *testing.T, srv *httptest.Server, conversationID, userID int64) (*websocket.Conn, *http.Response, error) {
	url := strings.Replace(srv.URL, "http", "ws", 1) + fmt.Sprintf("/ws/conversations/%d?token=%s", conversationID, token(t, userID))
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestSocketReceivesConversationEvents(t *testing.T) {
	srv, hub, typing, conv := newSocketServer(t)

	conn, _, err := dial(t, srv, conv.ID, 1)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.RoomSize(conv.ID) == 1 }, time.Second, 10*time.Millisecond)

	hub.NotifyConversation(conv.ID, models.ConversationEvent{Type: models.EventMessage, ConversationID: conv.ID, Message: &models.Message{ID: 5, Content: "hi"}})

	var event models.ConversationEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, models.EventMessage, event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, "hi", event.Message.Content)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameTyping}))
	require.Eventually(t, func() bool { return len(typing.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, fmt.Sprintf("start:%d:1", conv.ID), typing.snapshot()[0])

	conn.Close()
	require.Eventually(t, func() bool { return hub.RoomSize(conv.ID) == 0 }, time.Second, 10*time.Millisecond)
}

func TestSocketRejectsOutsiders(t *testing.T) {
	srv, _, _, conv := newSocketServer(t)

	_, resp, err := dial(t, srv, conv.ID, 3)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(t, srv, 999, 1)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSocketCloseKeepsTypingOfOtherConnection(t *testing.T) {
	srv, hub, typing, conv := newSocketServer(t)

	phone, _, err := dial(t, srv, conv.ID, 1)
	require.NoError(t, err)
	defer phone.Close()
	laptop, _, err := dial(t, srv, conv.ID, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.RoomSize(conv.ID) == 2 }, time.Second, 10*time.Millisecond)

	laptop.Close()
	require.Eventually(t, func() bool { return hub.RoomSize(conv.ID) == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, typing.snapshot(), "typing survives while another connection of the user is open")

	phone.Close()
	require.Eventually(t, func() bool { return len(typing.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, fmt.Sprintf("stop:%d:1", conv.ID), typing.snapshot()[0])
}

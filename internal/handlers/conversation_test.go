package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
)

func withUser(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func setupConversationRouter(svc *mocks.ConversationServiceMock, typing *mocks.TypingServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withUser(1))
	NewConversationHandler(svc, typing).Register(r)
	return r
}

func perform(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestResolveDirectSuccess(t *testing.T) {
	svc := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(svc, nil)

	svc.On("ResolveDirect", mock.Anything, int64(1), int64(2)).Return(models.Conversation{ID: 9, User1ID: 1, User2ID: 2}, nil).Once()

	rec := perform(router, http.MethodPost, "/conversations/direct", `{"user_id":2}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	conv := resp["conversation"].(map[string]any)
	assert.EqualValues(t, 9, conv["id"])
	svc.AssertExpectations(t)
}

func TestResolveDirectRedirect(t *testing.T) {
	svc := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(svc, nil)

	svc.On("ResolveDirect", mock.Anything, int64(1), int64(2)).Return(nil, &messaging.RedirectError{Target: 3}).Once()

	rec := perform(router, http.MethodPost, "/conversations/direct", `{"user_id":2}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "redirect", resp["code"])
	assert.EqualValues(t, 3, resp["redirect_to"])
}

func TestResolveDirectRequiresUserID(t *testing.T) {
	svc := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(svc, nil)

	rec := perform(router, http.MethodPost, "/conversations/direct", `{}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "ResolveDirect", mock.Anything, mock.Anything, mock.Anything)
}

func TestListConversations(t *testing.T) {
	svc := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(svc, nil)

	svc.On("ListFor", mock.Anything, int64(1), models.ListArchived).Return([]models.ConversationSummary{{ConversationID: 4, UnreadCount: 2}}, nil).Once()

	rec := perform(router, http.MethodGet, "/conversations?filter=archived", "")

	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["conversations"].([]any)
	require.Len(t, list, 1)
	assert.EqualValues(t, 2, list[0].(map[string]any)["unread_count"])
	svc.AssertExpectations(t)

	rec = perform(router, http.MethodGet, "/conversations?filter=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMessagesPassesPaging(t *testing.T) {
	svc := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(svc, nil)

	svc.On("ListMessages", mock.Anything, int64(1), int64(5), int64(40), 10).
		Return(messaging.MessagePage{Messages: []models.Message{{ID: 1, Seq: 39}}, HasMore: true}, nil).Once()

	rec := perform(router, http.MethodGet, "/conversations/5/messages?before_seq=40&limit=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, true, resp["has_more"])
	assert.Len(t, resp["messages"], 1)
	svc.AssertExpectations(t)
}

func TestListMessagesRejectsBadParams(t *testing.T) {
	router := setupConversationRouter(new(mocks.ConversationServiceMock), nil)

	assert.Equal(t, http.StatusBadRequest, perform(router, http.MethodGet, "/conversations/x/messages", "").Code)
	assert.Equal(t, http.StatusBadRequest, perform(router, http.MethodGet, "/conversations/5/messages?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, perform(router, http.MethodGet, "/conversations/5/messages?before_seq=-1", "").Code)
}

func TestSendMessageErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"awaiting reply", messaging.ErrAwaitingReply, http.StatusConflict, "awaiting_reply"},
		{"blocked", messaging.ErrBlocked, http.StatusForbidden, "blocked"},
		{"unavailable", messaging.ErrContactUnavailable, http.StatusForbidden, "contact_unavailable"},
		{"not participant", messaging.ErrNotParticipant, http.StatusForbidden, "not_participant"},
		{"not found", messaging.ErrNotFound, http.StatusNotFound, "not_found"},
		{"store", messaging.ErrTransientStore, http.StatusServiceUnavailable, "store_unavailable"},
		{"empty", messaging.ErrEmptyMessage, http.StatusBadRequest, "invalid"},
		{"unknown", assert.AnError, http.StatusInternalServerError, "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mocks.ConversationServiceMock)
			router := setupConversationRouter(svc, nil)
			svc.On("Send", mock.Anything, int64(1), int64(5), "hi", []string(nil)).Return(nil, tc.err).Once()

			rec := perform(router, http.MethodPost, "/conversations/5/messages", `{"content":"hi"}`)

			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decode(t, rec)["code"])
		})
	}
}

func TestSendMessageCreated(t *testing.T) {
	svc := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(svc, nil)
	svc.On("Send", mock.Anything, int64(1), int64(5), "hi", []string{"file-1"}).Return(models.Message{ID: 11, Seq: 3, Content: "hi"}, nil).Once()

	rec := perform(router, http.MethodPost, "/conversations/5/messages", `{"content":"hi","attachments":["file-1"]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decode(t, rec)["message"].(map[string]any)
	assert.EqualValues(t, 3, msg["seq"])
	svc.AssertExpectations(t)
}

func TestDeleteMessage(t *testing.T) {
	svc := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(svc, nil)
	svc.On("DeleteMessage", mock.Anything, int64(1), int64(5), int64(11)).Return(nil).Once()
	svc.On("DeleteMessage", mock.Anything, int64(1), int64(5), int64(12)).Return(messaging.ErrNotSender).Once()

	assert.Equal(t, http.StatusNoContent, perform(router, http.MethodDelete, "/conversations/5/messages/11", "").Code)
	assert.Equal(t, http.StatusForbidden, perform(router, http.MethodDelete, "/conversations/5/messages/12", "").Code)
	svc.AssertExpectations(t)
}

func TestMarkRead(t *testing.T) {
	svc := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(svc, nil)
	svc.On("MarkRead", mock.Anything, int64(1), int64(5), int64(7)).Return(int64(7), nil).Once()
	svc.On("MarkRead", mock.Anything, int64(1), int64(5), int64(0)).Return(int64(9), nil).Once()

	rec := perform(router, http.MethodPost, "/conversations/5/read", `{"upto_seq":7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, decode(t, rec)["last_read_seq"])

	rec = perform(router, http.MethodPost, "/conversations/5/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 9, decode(t, rec)["last_read_seq"])
	svc.AssertExpectations(t)
}

func TestMembershipRoutes(t *testing.T) {
	svc := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(svc, nil)
	svc.On("Pin", mock.Anything, int64(1), int64(5)).Return(nil).Once()
	svc.On("Unpin", mock.Anything, int64(1), int64(5)).Return(nil).Once()
	svc.On("Archive", mock.Anything, int64(1), int64(5)).Return(nil).Once()
	svc.On("Unarchive", mock.Anything, int64(1), int64(5)).Return(nil).Once()
	svc.On("Delete", mock.Anything, int64(1), int64(5)).Return(messaging.ErrNotParticipant).Once()

	assert.Equal(t, http.StatusNoContent, perform(router, http.MethodPut, "/conversations/5/pin", "").Code)
	assert.Equal(t, http.StatusNoContent, perform(router, http.MethodDelete, "/conversations/5/pin", "").Code)
	assert.Equal(t, http.StatusNoContent, perform(router, http.MethodPut, "/conversations/5/archive", "").Code)
	assert.Equal(t, http.StatusNoContent, perform(router, http.MethodDelete, "/conversations/5/archive", "").Code)
	assert.Equal(t, http.StatusForbidden, perform(router, http.MethodDelete, "/conversations/5", "").Code)
	svc.AssertExpectations(t)
}

func TestTypingRoutes(t *testing.T) {
	typing := new(mocks.TypingServiceMock)
	router := setupConversationRouter(new(mocks.ConversationServiceMock), typing)
	typing.On("SetTyping", mock.Anything, int64(1), int64(5)).Return(nil).Once()
	typing.On("StopTyping", mock.Anything, int64(1), int64(5)).Return(nil).Once()
	typing.On("TypingFor", mock.Anything, int64(1), int64(5)).Return([]int64{2}, nil).Once()
	typing.On("SetTyping", mock.Anything, int64(1), int64(6)).Return(messaging.ErrNotParticipant).Once()

	assert.Equal(t, http.StatusNoContent, perform(router, http.MethodPost, "/conversations/5/typing", "").Code)
	assert.Equal(t, http.StatusNoContent, perform(router, http.MethodDelete, "/conversations/5/typing", "").Code)
	rec := perform(router, http.MethodGet, "/conversations/5/typing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{float64(2)}, decode(t, rec)["typing"])
	assert.Equal(t, http.StatusForbidden, perform(router, http.MethodPost, "/conversations/6/typing", "").Code)
	typing.AssertExpectations(t)
}

package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/broadcast"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
)

func setupBroadcastRouter(engine *mocks.BroadcastRunnerMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withUser(100))
	NewBroadcastHandler(engine).Register(r)
	return r
}

func TestCreateBroadcastRunsSynchronously(t *testing.T) {
	engine := new(mocks.BroadcastRunnerMock)
	router := setupBroadcastRouter(engine)

	want := broadcast.Request{AdminID: 100, Filter: models.ByProfileType{Types: []models.ProfileType{models.ProfileVenue}}, Content: "hello"}
	engine.On("Run", mock.Anything, want).Return(models.BroadcastResult{JobID: "j1", Status: models.JobCompleted, SentCount: 9, ErrorCount: 1,
		Failures: []models.RecipientFailure{{RecipientID: 7, Reason: "send: boom"}}}, nil).Once()

	rec := perform(router, http.MethodPost, "/admin/broadcasts", `{"filter":{"kind":"profile_type","profile_types":["venue"]},"content":"hello"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.EqualValues(t, 9, resp["sent_count"])
	assert.EqualValues(t, 1, resp["error_count"])
	assert.Len(t, resp["failures"], 1)
	engine.AssertExpectations(t)
}

func TestCreateBroadcastAsync(t *testing.T) {
	engine := new(mocks.BroadcastRunnerMock)
	router := setupBroadcastRouter(engine)

	want := broadcast.Request{JobID: "job-1", AdminID: 100, Filter: models.AllUsers{}, Content: "hello"}
	engine.On("Start", mock.Anything, want).Return("job-1", nil).Once()

	rec := perform(router, http.MethodPost, "/admin/broadcasts", `{"job_id":"job-1","content":"hello","async":true}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "job-1", decode(t, rec)["job_id"])
	engine.AssertExpectations(t)
}

func TestCreateBroadcastRejectsBadFilter(t *testing.T) {
	engine := new(mocks.BroadcastRunnerMock)
	router := setupBroadcastRouter(engine)

	rec := perform(router, http.MethodPost, "/admin/broadcasts", `{"filter":{"kind":"everyone"},"content":"hello"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	engine.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestCreateBroadcastNotAdmin(t *testing.T) {
	engine := new(mocks.BroadcastRunnerMock)
	router := setupBroadcastRouter(engine)
	engine.On("Run", mock.Anything, mock.Anything).Return(nil, broadcast.ErrNotAdmin).Once()

	rec := perform(router, http.MethodPost, "/admin/broadcasts", `{"content":"hello"}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_admin", decode(t, rec)["code"])
}

func TestGetAndCancelBroadcast(t *testing.T) {
	engine := new(mocks.BroadcastRunnerMock)
	router := setupBroadcastRouter(engine)
	engine.On("Job", mock.Anything, "j1").Return(models.BroadcastJob{ID: "j1", Status: models.JobRunning}, nil).Once()
	engine.On("Job", mock.Anything, "missing").Return(nil, broadcast.ErrJobNotFound).Once()
	engine.On("Cancel", "j1").Return(nil).Once()
	engine.On("Cancel", "j2").Return(broadcast.ErrJobNotRunning).Once()

	rec := perform(router, http.MethodGet, "/admin/broadcasts/j1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decode(t, rec)["status"])

	assert.Equal(t, http.StatusNotFound, perform(router, http.MethodGet, "/admin/broadcasts/missing", "").Code)
	assert.Equal(t, http.StatusAccepted, perform(router, http.MethodPost, "/admin/broadcasts/j1/cancel", "").Code)
	assert.Equal(t, http.StatusConflict, perform(router, http.MethodPost, "/admin/broadcasts/j2/cancel", "").Code)
	engine.AssertExpectations(t)
}

func TestHealthReportsDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", Health(map[string]Checker{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return assert.AnError },
	}))

	rec := perform(r, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "degraded", resp["status"])
	deps := resp["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["postgres"])
}

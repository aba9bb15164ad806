package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/broadcast"
	"messaging-service/internal/models"
)

// BroadcastRunner runs administrator broadcasts.
type BroadcastRunner interface {
	Run(ctx context.Context, req broadcast.Request) (models.BroadcastResult, error)
	Start(ctx context.Context, req broadcast.Request) (string, error)
	Cancel(jobID string) error
	Job(ctx context.Context, jobID string) (models.BroadcastJob, error)
}

// BroadcastHandler manages admin broadcast endpoints.
type BroadcastHandler struct {
	engine BroadcastRunner
}

// NewBroadcastHandler builds a BroadcastHandler.
func NewBroadcastHandler(engine BroadcastRunner) *BroadcastHandler {
	return &BroadcastHandler{engine: engine}
}

// Register wires the broadcast routes onto an admin-only group.
func (h *BroadcastHandler) Register(r gin.IRouter) {
	r.POST("/admin/broadcasts", h.Create)
	r.GET("/admin/broadcasts/:job_id", h.Get)
	r.POST("/admin/broadcasts/:job_id/cancel", h.Cancel)
}

// Create runs a broadcast. With async set the job runs in the background
// and the response carries only its id.
func (h *BroadcastHandler) Create(c *gin.Context) {
	var req struct {
		JobID   string                      `json:"job_id"`
		Filter  *models.RecipientFilterJSON `json:"filter"`
		Content string                      `json:"content"`
		Async   bool                        `json:"async"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	var filter models.RecipientFilter = models.AllUsers{}
	if req.Filter != nil {
		parsed, err := models.ParseRecipientFilter(*req.Filter)
		if err != nil {
			respondError(c, err)
			return
		}
		filter = parsed
	}

	run := broadcast.Request{JobID: req.JobID, AdminID: currentUser(c), Filter: filter, Content: req.Content}
	if req.Async {
		jobID, err := h.engine.Start(c.Request.Context(), run)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
		return
	}

	result, err := h.engine.Run(c.Request.Context(), run)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Failures == nil {
		result.Failures = []models.RecipientFailure{}
	}
	c.JSON(http.StatusOK, result)
}

// Get returns the persisted job record.
func (h *BroadcastHandler) Get(c *gin.Context) {
	job, err := h.engine.Job(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Cancel stops a running job.
func (h *BroadcastHandler) Cancel(c *gin.Context) {
	if err := h.engine.Cancel(c.Param("job_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": c.Param("job_id"), "status": "cancelling"})
}

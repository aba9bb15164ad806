package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// BlockService records user blocks.
type BlockService interface {
	Block(ctx context.Context, blockerID, blockedID int64) error
	Unblock(ctx context.Context, blockerID, blockedID int64) error
}

// BlockAuditor records block changes.
type BlockAuditor interface {
	BlockChanged(ctx context.Context, blockerID, blockedID int64, blocked bool)
}

// BlockHandler manages block endpoints.
type BlockHandler struct {
	blocks BlockService
	audit  BlockAuditor
}

// NewBlockHandler builds a BlockHandler. audit may be nil.
func NewBlockHandler(blocks BlockService, audit BlockAuditor) *BlockHandler {
	return &BlockHandler{blocks: blocks, audit: audit}
}

// Register wires the block routes onto an authenticated group.
func (h *BlockHandler) Register(r gin.IRouter) {
	r.POST("/blocks", h.Block)
	r.DELETE("/blocks/:user_id", h.Unblock)
}

// Block stops all direct contact between the caller and another user.
func (h *BlockHandler) Block(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID := currentUser(c)
	if err := h.blocks.Block(c.Request.Context(), userID, req.UserID); err != nil {
		respondError(c, err)
		return
	}
	h.changed(c, userID, req.UserID, true)
	c.Status(http.StatusNoContent)
}

// Unblock removes the caller's block on another user.
func (h *BlockHandler) Unblock(c *gin.Context) {
	blockedID, ok := int64Param(c, "user_id")
	if !ok {
		return
	}

	userID := currentUser(c)
	if err := h.blocks.Unblock(c.Request.Context(), userID, blockedID); err != nil {
		respondError(c, err)
		return
	}
	h.changed(c, userID, blockedID, false)
	c.Status(http.StatusNoContent)
}

func (h *BlockHandler) changed(c *gin.Context, blockerID, blockedID int64, blocked bool) {
	if h.audit != nil {
		h.audit.BlockChanged(c.Request.Context(), blockerID, blockedID, blocked)
	}
}

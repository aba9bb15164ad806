package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/broadcast"
	"messaging-service/internal/identity"
	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
)

// respondError writes the JSON error body for err with a stable machine-readable code.
func respondError(c *gin.Context, err error) {
	var redirect *messaging.RedirectError
	switch {
	case errors.As(err, &redirect):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "redirect", "redirect_to": redirect.Target})
	case errors.Is(err, messaging.ErrBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "blocked"})
	case errors.Is(err, messaging.ErrContactUnavailable):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "contact_unavailable"})
	case errors.Is(err, messaging.ErrAwaitingReply):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "awaiting_reply"})
	case errors.Is(err, messaging.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "not_participant"})
	case errors.Is(err, messaging.ErrNotSender):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "not_sender"})
	case errors.Is(err, messaging.ErrNotFound), errors.Is(err, broadcast.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
	case errors.Is(err, messaging.ErrTransientStore):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": "store_unavailable"})
	case errors.Is(err, messaging.ErrSelfConversation),
		errors.Is(err, messaging.ErrEmptyMessage),
		errors.Is(err, messaging.ErrMessageTooLong),
		errors.Is(err, identity.ErrSelfBlock),
		errors.Is(err, broadcast.ErrEmptyContent),
		errors.Is(err, models.ErrInvalidRecipientFilter):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid"})
	case errors.Is(err, broadcast.ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "not_admin"})
	case errors.Is(err, broadcast.ErrJobRunning), errors.Is(err, broadcast.ErrJobConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "job_conflict"})
	case errors.Is(err, broadcast.ErrJobNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "job_not_running"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid"})
}

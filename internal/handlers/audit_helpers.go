package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader(observability.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// currentUser returns the authenticated user id set by AuthMiddleware.
func currentUser(c *gin.Context) int64 {
	return c.GetInt64(middleware.UserIDKey)
}

func userIDFromContext(c *gin.Context) *int64 {
	if userID := currentUser(c); userID != 0 {
		return &userID
	}
	return nil
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || value <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return value, true
}

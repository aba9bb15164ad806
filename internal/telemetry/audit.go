package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

const (
	RoutingBroadcastAudit = "audit.broadcast"
	RoutingBlockAudit     = "audit.block"
	RoutingDebugAudit     = "audit.debug"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type AuditEmitter struct {
	publisher   Publisher
	service     string
	environment string
	log         *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string `json:"level"`
	Text   string `json:"text"`
	Detail any    `json:"detail,omitempty"`
}

func NewAuditEmitter(publisher Publisher, service, environment string, log *zap.Logger) *AuditEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
		log:         log,
	}
}

// Emit publishes an audit envelope on routingKey. Failures are logged only.
func (e *AuditEmitter) Emit(ctx context.Context, routingKey, level, text string, userID *int64, detail any) {
	if e == nil || e.publisher == nil {
		return
	}

	requestID := observability.RequestIDFromContext(ctx)
	var user *string
	if userID != nil {
		value := strconv.FormatInt(*userID, 10)
		user = &value
	}
	e.log.Info("audit emit",
		zap.String("routing_key", routingKey),
		zap.String("level", level),
		zap.String("request_id", requestID),
		zap.String("text", text))

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        user,
		Payload: AuditPayload{
			Level:  level,
			Text:   text,
			Detail: detail,
		},
	}

	if err := e.publisher.Publish(ctx, routingKey, envelope); err != nil {
		e.log.Warn("audit publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

// BroadcastFinished records the outcome of an administrator broadcast.
func (e *AuditEmitter) BroadcastFinished(ctx context.Context, adminID int64, result models.BroadcastResult) {
	level := "INFO"
	if result.ErrorCount > 0 || result.Status == models.JobCancelled {
		level = "WARN"
	}
	text := fmt.Sprintf("broadcast %s %s: sent=%d errors=%d skipped=%d",
		result.JobID, result.Status, result.SentCount, result.ErrorCount, result.SkippedCount)
	e.Emit(ctx, RoutingBroadcastAudit, level, text, &adminID, result)
}

// BlockChanged records a block or unblock action.
func (e *AuditEmitter) BlockChanged(ctx context.Context, blockerID, blockedID int64, blocked bool) {
	action := "unblocked"
	if blocked {
		action = "blocked"
	}
	text := fmt.Sprintf("user %d %s user %d", blockerID, action, blockedID)
	e.Emit(ctx, RoutingBlockAudit, "INFO", text, &blockerID, map[string]any{
		"blocker_id": blockerID,
		"blocked_id": blockedID,
		"action":     action,
	})
}

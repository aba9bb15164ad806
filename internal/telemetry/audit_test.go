package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/telemetry"
)

func TestBroadcastFinishedPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "messaging-service", "test", nil)
	ctx := observability.ContextWithRequestID(context.Background(), "req-9")

	publisher.On("Publish", mock.Anything, telemetry.RoutingBroadcastAudit, mock.AnythingOfType("telemetry.AuditEnvelope")).Return(nil).Once()

	emitter.BroadcastFinished(ctx, 1, models.BroadcastResult{JobID: "job-1", Status: models.JobCompleted, SentCount: 9, ErrorCount: 1})

	publisher.AssertExpectations(t)
	events := publisher.Events(telemetry.RoutingBroadcastAudit)
	require.Len(t, events, 1)
	captured := events[0].(telemetry.AuditEnvelope)
	assert.Equal(t, "audit_log", captured.EventType)
	assert.Equal(t, "req-9", captured.RequestID)
	require.NotNil(t, captured.UserID)
	assert.Equal(t, "1", *captured.UserID)
	assert.Equal(t, "WARN", captured.Payload.Level)
	assert.Contains(t, captured.Payload.Text, "sent=9 errors=1")
}

func TestBlockChangedSwallowsPublishError(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "messaging-service", "test", nil)
	publisher.On("Publish", mock.Anything, telemetry.RoutingBlockAudit, mock.Anything).Return(assert.AnError).Once()

	emitter.BlockChanged(context.Background(), 4, 5, true)
	publisher.AssertExpectations(t)
	assert.Len(t, publisher.Events(telemetry.RoutingBlockAudit), 1)
	assert.Empty(t, publisher.Events(telemetry.RoutingBroadcastAudit))
}

func TestNilEmitterIsSafe(t *testing.T) {
	var emitter *telemetry.AuditEmitter
	assert.NotPanics(t, func() {
		emitter.BlockChanged(context.Background(), 1, 2, false)
	})
}

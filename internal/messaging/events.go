package messaging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"messaging-service/internal/models"
)

const (
	RoutingMessageCreated = "messages.created"
	RoutingMessageDeleted = "messages.deleted"

	publishTimeout = 2 * time.Second
)

// EventPublisher publishes JSON events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// MessageEvent is the payload consumers use for push and email notifications.
type MessageEvent struct {
	EventType      string                  `json:"event_type"`
	OccurredAt     string                  `json:"occurred_at"`
	ConversationID int64                   `json:"conversation_id"`
	Kind           models.ConversationKind `json:"kind"`
	MessageID      int64                   `json:"message_id"`
	Seq            int64                   `json:"seq"`
	SenderID       int64                   `json:"sender_id"`
	RecipientID    int64                   `json:"recipient_id"`
	Preview        string                  `json:"preview,omitempty"`
	Attachments    int                     `json:"attachments,omitempty"`
}

// EventEmitter publishes message lifecycle events. Publishing failures are logged only.
type EventEmitter struct {
	publisher    EventPublisher
	previewRunes int
	log          *zap.Logger
}

// NewEventEmitter constructs an EventEmitter.
func NewEventEmitter(publisher EventPublisher, previewRunes int, log *zap.Logger) *EventEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	if previewRunes <= 0 {
		previewRunes = 120
	}
	return &EventEmitter{publisher: publisher, previewRunes: previewRunes, log: log}
}

// MessageCreated emits a messages.created event for recipientID.
func (e *EventEmitter) MessageCreated(ctx context.Context, conv models.Conversation, recipientID int64, msg models.Message) {
	if e == nil || e.publisher == nil {
		return
	}
	e.publish(ctx, RoutingMessageCreated, MessageEvent{
		EventType:      "message.created",
		OccurredAt:     msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		ConversationID: conv.ID,
		Kind:           conv.Kind,
		MessageID:      msg.ID,
		Seq:            msg.Seq,
		SenderID:       msg.SenderID,
		RecipientID:    recipientID,
		Preview:        truncateRunes(msg.Content, e.previewRunes),
		Attachments:    len(msg.Attachments),
	})
}

// MessageDeleted emits a messages.deleted event.
func (e *EventEmitter) MessageDeleted(ctx context.Context, conv models.Conversation, msg models.Message) {
	if e == nil || e.publisher == nil {
		return
	}
	e.publish(ctx, RoutingMessageDeleted, MessageEvent{
		EventType:      "message.deleted",
		OccurredAt:     time.Now().UTC().Format(time.RFC3339Nano),
		ConversationID: conv.ID,
		Kind:           conv.Kind,
		MessageID:      msg.ID,
		Seq:            msg.Seq,
		SenderID:       msg.SenderID,
	})
}

func (e *EventEmitter) publish(ctx context.Context, routingKey string, event MessageEvent) {
	// The request may finish before the broker answers.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(ctx, routingKey, event); err != nil {
		e.log.Warn("event publish failed",
			zap.String("routing_key", routingKey),
			zap.Int64("message_id", event.MessageID),
			zap.Error(err))
	}
}

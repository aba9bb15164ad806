package messaging

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// MessagePage is one page of a conversation's history in ascending seq order.
type MessagePage struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// Send delivers a message from sender into conversationID after the block,
// contact policy and reply-gate checks. The gate check and the append happen
// in one store operation.
func (s *Service) Send(ctx context.Context, senderID, conversationID int64, content string, attachments []string) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "messaging.Send")
	defer span.End()
	span.SetAttributes(attribute.Int64("conversation.id", conversationID), attribute.Int64("sender.id", senderID))

	msg, err := s.send(ctx, senderID, conversationID, content, attachments)
	if err != nil {
		reason := rejectionReason(err)
		observability.IncSendRejected(reason)
		span.SetStatus(codes.Error, reason)
		return models.Message{}, err
	}
	return msg, nil
}

func (s *Service) send(ctx context.Context, senderID, conversationID int64, content string, attachments []string) (models.Message, error) {
	content, err := s.validateContent(content, attachments)
	if err != nil {
		return models.Message{}, err
	}

	conv, peer, err := s.participantConversation(ctx, senderID, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.canContact(ctx, senderID, peer); err != nil {
		return models.Message{}, err
	}

	msg, err := s.appendMessage(ctx, models.AppendParams{
		ConversationID:   conv.ID,
		SenderID:         senderID,
		Content:          content,
		Attachments:      attachments,
		EnforceReplyGate: true,
	})
	if err != nil {
		return models.Message{}, err
	}
	s.delivered(ctx, conv, peer, msg)
	return msg, nil
}

// SendAsSystem appends an administrator message without block, policy or
// reply-gate checks. Only the broadcast engine calls it.
func (s *Service) SendAsSystem(ctx context.Context, adminID, conversationID int64, content string) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "messaging.SendAsSystem")
	defer span.End()

	content, err := s.validateContent(content, nil)
	if err != nil {
		return models.Message{}, err
	}
	conv, peer, err := s.participantConversation(ctx, adminID, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	msg, err := s.appendMessage(ctx, models.AppendParams{
		ConversationID: conv.ID,
		SenderID:       adminID,
		Content:        content,
	})
	if err != nil {
		return models.Message{}, err
	}
	s.delivered(ctx, conv, peer, msg)
	return msg, nil
}

func (s *Service) validateContent(content string, attachments []string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > s.opts.MaxContentRunes {
		return "", ErrMessageTooLong
	}
	return content, nil
}

func (s *Service) appendMessage(ctx context.Context, params models.AppendParams) (models.Message, error) {
	var msg models.Message
	err := s.retry(ctx, func() error {
		var err error
		msg, err = s.messages.Append(ctx, params)
		return err
	})
	switch {
	case errors.Is(err, repositories.ErrReplyGateClosed):
		return models.Message{}, ErrAwaitingReply
	case errors.Is(err, repositories.ErrConversationNotFound):
		return models.Message{}, ErrNotFound
	}
	return msg, err
}

// delivered runs the side effects of a committed message. None of them can fail the send.
func (s *Service) delivered(ctx context.Context, conv models.Conversation, recipientID int64, msg models.Message) {
	observability.IncMessagesAppended(string(conv.Kind))
	s.log.Debug("message appended",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("message_id", msg.ID),
		zap.Int64("seq", msg.Seq))

	if s.typing != nil {
		s.typing.ClearTyping(ctx, conv.ID, msg.SenderID)
	}
	s.notify(conv.ID, models.ConversationEvent{Type: models.EventMessage, ConversationID: conv.ID, Message: &msg})
	s.events.MessageCreated(ctx, conv, recipientID, msg)
}

// ListMessages returns up to limit non-deleted messages older than beforeSeq
// (or the newest ones when beforeSeq <= 0).
func (s *Service) ListMessages(ctx context.Context, userID, conversationID, beforeSeq int64, limit int) (MessagePage, error) {
	ctx, span := tracer.Start(ctx, "messaging.ListMessages")
	defer span.End()

	if _, _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return MessagePage{}, err
	}
	if limit <= 0 {
		limit = s.opts.PageSize
	}
	if limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}

	var msgs []models.Message
	err := s.retry(ctx, func() error {
		var err error
		msgs, err = s.messages.ListMessages(ctx, conversationID, beforeSeq, limit+1)
		return err
	})
	if err != nil {
		return MessagePage{}, err
	}

	page := MessagePage{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[len(msgs)-limit:]
		page.HasMore = true
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	return page, nil
}

// DeleteMessage soft-deletes one of the caller's own messages.
func (s *Service) DeleteMessage(ctx context.Context, userID, conversationID, messageID int64) error {
	ctx, span := tracer.Start(ctx, "messaging.DeleteMessage")
	defer span.End()

	conv, _, err := s.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	var msg models.Message
	err = s.retry(ctx, func() error {
		var err error
		msg, err = s.messages.GetMessage(ctx, messageID)
		return err
	})
	if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && (msg.ConversationID != conv.ID || msg.DeletedAt != nil)) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return ErrNotSender
	}

	err = s.retry(ctx, func() error {
		return s.messages.SoftDelete(ctx, messageID, userID, s.now())
	})
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	s.notify(conv.ID, models.ConversationEvent{Type: models.EventMessageDelete, ConversationID: conv.ID, MessageID: messageID})
	s.events.MessageDeleted(ctx, conv, msg)
	return nil
}

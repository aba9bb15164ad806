package messaging

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// ResolveDirect returns the conversation between userA and userB, creating
// it when the gateway allows userA to contact userB. An existing
// conversation is returned whatever its archived or blocked state.
func (s *Service) ResolveDirect(ctx context.Context, userA, userB int64) (models.Conversation, error) {
	ctx, span := tracer.Start(ctx, "messaging.ResolveDirect")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userA), attribute.Int64("peer.id", userB))

	if userA == userB {
		return models.Conversation{}, ErrSelfConversation
	}

	conv, err := s.findDirect(ctx, userA, userB)
	if err == nil {
		return conv, s.restoreFor(ctx, conv.ID, userA)
	}
	if !errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, err
	}

	if err := s.canContact(ctx, userA, userB); err != nil {
		s.log.Debug("direct conversation refused",
			zap.Int64("user_id", userA), zap.Int64("peer_id", userB), zap.Error(err))
		return models.Conversation{}, err
	}

	return s.createConversation(ctx, models.KindDirect, userA, userB)
}

// ResolveSystem returns or creates the conversation used by an administrator
// to reach userID. No block or contact policy applies.
func (s *Service) ResolveSystem(ctx context.Context, adminID, userID int64) (models.Conversation, error) {
	ctx, span := tracer.Start(ctx, "messaging.ResolveSystem")
	defer span.End()

	if adminID == userID {
		return models.Conversation{}, ErrSelfConversation
	}

	conv, err := s.findDirect(ctx, adminID, userID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, err
	}
	return s.createConversation(ctx, models.KindBroadcast, adminID, userID)
}

func (s *Service) findDirect(ctx context.Context, userA, userB int64) (models.Conversation, error) {
	user1, user2 := models.CanonicalPair(userA, userB)
	var conv models.Conversation
	err := s.retry(ctx, func() error {
		var err error
		conv, err = s.conversations.FindDirect(ctx, user1, user2)
		return err
	})
	return conv, err
}

func (s *Service) createConversation(ctx context.Context, kind models.ConversationKind, requester, peer int64) (models.Conversation, error) {
	user1, user2 := models.CanonicalPair(requester, peer)
	var (
		conv    models.Conversation
		created bool
	)
	err := s.retry(ctx, func() error {
		var err error
		conv, created, err = s.conversations.CreateIfAbsent(ctx, kind, user1, user2)
		return err
	})
	if err != nil {
		return models.Conversation{}, err
	}
	if created {
		s.log.Info("conversation created",
			zap.Int64("conversation_id", conv.ID),
			zap.String("kind", string(kind)),
			zap.Int64("user1_id", user1),
			zap.Int64("user2_id", user2))
		return conv, nil
	}
	return conv, s.restoreFor(ctx, conv.ID, requester)
}

// restoreFor clears the requester's soft deletion so the conversation shows up in their list again.
func (s *Service) restoreFor(ctx context.Context, conversationID, userID int64) error {
	return s.retry(ctx, func() error {
		return s.conversations.SetDeleted(ctx, conversationID, userID, nil)
	})
}

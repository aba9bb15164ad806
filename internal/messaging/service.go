package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"messaging-service/internal/identity"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

var tracer = otel.Tracer("messaging-service/messaging")

// ContactGateway is the identity collaborator used by the service.
type ContactGateway interface {
	CanContact(ctx context.Context, initiatorID, targetID int64) (identity.Decision, error)
	BlockedPeers(ctx context.Context, userID int64, peerIDs []int64) (map[int64]bool, error)
	Profiles(ctx context.Context, userIDs []int64) (map[int64]models.Profile, error)
}

// Notifier pushes events to live subscribers of a conversation.
type Notifier interface {
	NotifyConversation(conversationID int64, event models.ConversationEvent)
}

// TypingClearer drops a typing indicator once its author sends a message.
type TypingClearer interface {
	ClearTyping(ctx context.Context, conversationID, userID int64)
}

// Options tunes validation, previews and store retries.
type Options struct {
	MaxContentRunes int
	PreviewRunes    int
	PageSize        int
	MaxPageSize     int
	Retry           repositories.RetryPolicy
}

func (o *Options) setDefaults() {
	if o.MaxContentRunes <= 0 {
		o.MaxContentRunes = 4000
	}
	if o.PreviewRunes <= 0 {
		o.PreviewRunes = 120
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.MaxPageSize < o.PageSize {
		o.MaxPageSize = o.PageSize
	}
	if o.Retry.Attempts <= 0 {
		o.Retry.Attempts = 3
	}
	if o.Retry.Base <= 0 {
		o.Retry.Base = 50 * time.Millisecond
	}
}

// Service implements conversation resolution, the send gateway and the conversation list.
type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	gateway       ContactGateway
	notifier      Notifier
	typing        TypingClearer
	events        *EventEmitter
	opts          Options
	log           *zap.Logger
	now           func() time.Time
}

// Deps groups the collaborators of a Service. Notifier, Typing and Events are optional.
type Deps struct {
	Conversations repositories.ConversationRepository
	Messages      repositories.MessageRepository
	Gateway       ContactGateway
	Notifier      Notifier
	Typing        TypingClearer
	Events        *EventEmitter
}

// NewService constructs a Service.
func NewService(deps Deps, opts Options, log *zap.Logger) *Service {
	opts.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		gateway:       deps.Gateway,
		notifier:      deps.Notifier,
		typing:        deps.Typing,
		events:        deps.Events,
		opts:          opts,
		log:           log,
		now:           time.Now,
	}
}

// SetTyping attaches the typing tracker after construction; the tracker itself depends on the store.
func (s *Service) SetTyping(typing TypingClearer) {
	s.typing = typing
}

// retry runs op under the retry policy and maps exhausted transient failures to ErrTransientStore.
func (s *Service) retry(ctx context.Context, op func() error) error {
	err := s.opts.Retry.Do(ctx, op)
	if err != nil && repositories.IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
	return err
}

func (s *Service) canContact(ctx context.Context, initiatorID, targetID int64) error {
	var decision identity.Decision
	err := s.retry(ctx, func() error {
		var err error
		decision, err = s.gateway.CanContact(ctx, initiatorID, targetID)
		return err
	})
	if err != nil {
		return err
	}
	return decisionError(decision)
}

func (s *Service) loadConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := s.retry(ctx, func() error {
		var err error
		conv, err = s.conversations.GetConversation(ctx, conversationID)
		return err
	})
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, ErrNotFound
	}
	return conv, err
}

// participantConversation loads a conversation and returns the caller's peer.
func (s *Service) participantConversation(ctx context.Context, userID, conversationID int64) (models.Conversation, int64, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, 0, err
	}
	peer, ok := conv.Peer(userID)
	if !ok {
		return models.Conversation{}, 0, ErrNotParticipant
	}
	return conv, peer, nil
}

func (s *Service) notify(conversationID int64, event models.ConversationEvent) {
	if s.notifier != nil {
		s.notifier.NotifyConversation(conversationID, event)
	}
}

package presence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

const (
	MinTTL     = 5 * time.Second
	MaxTTL     = 8 * time.Second
	DefaultTTL = 6 * time.Second
)

// Notifier pushes typing events to live subscribers of a conversation.
type Notifier interface {
	NotifyConversation(conversationID int64, event models.ConversationEvent)
}

// Options tunes a Tracker.
type Options struct {
	TTL           time.Duration
	HeartbeatRPS  float64
	Burst         int
	SweepInterval time.Duration
}

// Tracker maintains ephemeral typing indicators. Failures here are logged
// and never reach the message path.
type Tracker struct {
	store         Store
	conversations repositories.ConversationRepository
	notifier      Notifier
	limiter       *heartbeatLimiter
	ttl           time.Duration
	sweep         time.Duration
	log           *zap.Logger
	now           func() time.Time
}

// NewTracker constructs a Tracker. The TTL is clamped to [MinTTL, MaxTTL].
func NewTracker(store Store, conversations repositories.ConversationRepository, notifier Notifier, opts Options, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	ttl := opts.TTL
	switch {
	case ttl == 0:
		ttl = DefaultTTL
	case ttl < MinTTL:
		ttl = MinTTL
	case ttl > MaxTTL:
		ttl = MaxTTL
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = time.Second
	}
	return &Tracker{
		store:         store,
		conversations: conversations,
		notifier:      notifier,
		limiter:       newHeartbeatLimiter(opts.HeartbeatRPS, opts.Burst, 4*ttl),
		ttl:           ttl,
		sweep:         sweep,
		log:           log,
		now:           time.Now,
	}
}

// TTL returns the effective entry lifetime.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}

// SetTyping records that userID is typing in conversationID. Heartbeats
// above the configured rate are dropped silently.
func (t *Tracker) SetTyping(ctx context.Context, userID, conversationID int64) error {
	if err := t.checkParticipant(ctx, userID, conversationID); err != nil {
		return err
	}
	now := t.now()
	key := Entry{ConversationID: conversationID, UserID: userID}
	if !t.limiter.Allow(key, now) {
		observability.IncTypingSignal("throttled")
		return nil
	}

	fresh, err := t.store.Touch(ctx, conversationID, userID, now, t.ttl)
	if err != nil {
		t.log.Warn("typing touch failed", zap.Int64("conversation_id", conversationID), zap.Int64("user_id", userID), zap.Error(err))
		return nil
	}
	observability.IncTypingSignal("heartbeat")
	if fresh {
		t.publish(conversationID, userID, models.EventTypingStart)
	}
	return nil
}

// StopTyping removes the caller's indicator. Expiry does not depend on it.
func (t *Tracker) StopTyping(ctx context.Context, userID, conversationID int64) error {
	if err := t.checkParticipant(ctx, userID, conversationID); err != nil {
		return err
	}
	t.ClearTyping(ctx, conversationID, userID)
	return nil
}

// ClearTyping removes an indicator without a participant check.
func (t *Tracker) ClearTyping(ctx context.Context, conversationID, userID int64) {
	key := Entry{ConversationID: conversationID, UserID: userID}
	t.limiter.Forget(key)
	removed, err := t.store.Clear(ctx, conversationID, userID, t.now())
	if err != nil {
		t.log.Warn("typing clear failed", zap.Int64("conversation_id", conversationID), zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if removed {
		t.publish(conversationID, userID, models.EventTypingStop)
	}
}

// Typing lists users currently typing in conversationID.
func (t *Tracker) Typing(ctx context.Context, conversationID int64) ([]int64, error) {
	users, err := t.store.Active(ctx, conversationID, t.now())
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []int64{}
	}
	return users, nil
}

// TypingFor lists users typing in conversationID as seen by participant userID.
func (t *Tracker) TypingFor(ctx context.Context, userID, conversationID int64) ([]int64, error) {
	if err := t.checkParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return t.Typing(ctx, conversationID)
}

// Run evicts expired entries until ctx is done and announces each one as stopped.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

// Sweep performs one eviction pass.
func (t *Tracker) Sweep(ctx context.Context) {
	expired, err := t.store.Evict(ctx, t.now())
	if err != nil {
		t.log.Warn("typing eviction failed", zap.Error(err))
	}
	for _, e := range expired {
		t.publish(e.ConversationID, e.UserID, models.EventTypingStop)
	}
}

func (t *Tracker) checkParticipant(ctx context.Context, userID, conversationID int64) error {
	conv, err := t.conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return messaging.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return messaging.ErrNotParticipant
	}
	return nil
}

func (t *Tracker) publish(conversationID, userID int64, eventType string) {
	if eventType == models.EventTypingStart {
		observability.IncTypingSignal("start")
	} else {
		observability.IncTypingSignal("stop")
	}
	if t.notifier == nil {
		return
	}
	t.notifier.NotifyConversation(conversationID, models.ConversationEvent{
		Type:           eventType,
		ConversationID: conversationID,
		UserID:         userID,
	})
}

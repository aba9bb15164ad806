package messaging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"messaging-service/internal/identity"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.ConversationEvent
}

func (n *recordingNotifier) NotifyConversation(conversationID int64, event models.ConversationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return p.err
}

type recordingTyping struct {
	mu      sync.Mutex
	cleared [][2]int64
}

func (r *recordingTyping) ClearTyping(ctx context.Context, conversationID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, [2]int64{conversationID, userID})
}

type fixture struct {
	store     *repositories.MemoryStore
	svc       *Service
	notifier  *recordingNotifier
	publisher *recordingPublisher
	typing    *recordingTyping
}

func newFixture(t *testing.T, profiles ...models.Profile) *fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	for _, p := range profiles {
		store.PutProfile(p)
	}
	f := &fixture{
		store:     store,
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		typing:    &recordingTyping{},
	}
	f.svc = NewService(Deps{
		Conversations: store,
		Messages:      store,
		Gateway:       identity.NewGateway(store, store, nil),
		Notifier:      f.notifier,
		Typing:        f.typing,
		Events:        NewEventEmitter(f.publisher, 120, nil),
	}, Options{
		MaxContentRunes: 100,
		PreviewRunes:    10,
		PageSize:        2,
		MaxPageSize:     5,
		Retry:           repositories.RetryPolicy{Attempts: 3, Base: 1},
	}, nil)
	return f
}

func profile(id int64, t models.ProfileType) models.Profile {
	return models.Profile{ID: id, DisplayName: "user", ProfileType: t, IsPublic: true, AcceptsDirectContact: true}
}

func named(id int64, name string) models.Profile {
	p := profile(id, models.ProfileArtist)
	p.DisplayName = name
	return p
}

func (f *fixture) resolve(t *testing.T, a, b int64) models.Conversation {
	t.Helper()
	conv, err := f.svc.ResolveDirect(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}

// seed appends history directly, bypassing the gateway.
func (f *fixture) seed(t *testing.T, conversationID, senderID int64, contents ...string) {
	t.Helper()
	for _, c := range contents {
		_, err := f.store.Append(context.Background(), models.AppendParams{ConversationID: conversationID, SenderID: senderID, Content: c})
		require.NoError(t, err)
	}
}

func int64Ptr(v int64) *int64 { return &v }

package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/identity"
	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

const adminID = int64(1)

type recordingAuditor struct {
	mu      sync.Mutex
	results []models.BroadcastResult
}

func (a *recordingAuditor) BroadcastFinished(ctx context.Context, adminID int64, result models.BroadcastResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
}

// fakeSender fails for the listed recipients and can run a hook on each send.
type fakeSender struct {
	mu     sync.Mutex
	failOn map[int64]bool
	sent   []int64
	onSend func(userID int64)
}

func (s *fakeSender) ResolveSystem(ctx context.Context, adminID, userID int64) (models.Conversation, error) {
	if s.failOn[userID] {
		return models.Conversation{}, errors.New("resolution failed")
	}
	u1, u2 := models.CanonicalPair(adminID, userID)
	return models.Conversation{ID: userID, User1ID: u1, User2ID: u2}, nil
}

func (s *fakeSender) SendAsSystem(ctx context.Context, adminID, conversationID int64, content string) (models.Message, error) {
	if s.onSend != nil {
		s.onSend(conversationID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, conversationID)
	return models.Message{ID: conversationID * 100, ConversationID: conversationID}, nil
}

func seedProfiles(store *repositories.MemoryStore, recipients int) {
	store.PutProfile(models.Profile{ID: adminID, DisplayName: "Ops", ProfileType: models.ProfileAdmin})
	for i := 0; i < recipients; i++ {
		store.PutProfile(models.Profile{
			ID:                   int64(i + 2),
			DisplayName:          "member",
			ProfileType:          models.ProfileArtist,
			IsPublic:             true,
			AcceptsDirectContact: i%2 == 0,
		})
	}
}

func newRealEngine(t *testing.T, recipients, workers int) (*Engine, *repositories.MemoryStore, *recordingAuditor) {
	t.Helper()
	store := repositories.NewMemoryStore()
	seedProfiles(store, recipients)
	gateway := identity.NewGateway(store, store, nil)
	svc := messaging.NewService(messaging.Deps{
		Conversations: store,
		Messages:      store,
		Gateway:       gateway,
	}, messaging.Options{Retry: repositories.RetryPolicy{Attempts: 2, Base: time.Nanosecond}}, nil)
	auditor := &recordingAuditor{}
	return NewEngine(store, svc, gateway, auditor, workers, nil), store, auditor
}

func TestRunPartialFailureDoesNotAbort(t *testing.T) {
	engine, store, auditor := newRealEngine(t, 10, 4)
	store.InjectFault("CreateIfAbsent", errors.New("constraint violation"))

	result, err := engine.Run(context.Background(), Request{AdminID: adminID, Filter: models.AllUsers{}, Content: "Festival lineup is out"})
	require.NoError(t, err)

	assert.Equal(t, models.JobCompleted, result.Status)
	assert.Equal(t, 9, result.SentCount)
	assert.Equal(t, 1, result.ErrorCount)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Reason, "constraint violation")
	assert.Equal(t, 9, store.ConversationCount())

	job, err := engine.Job(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 9, job.SentCount)
	assert.NotNil(t, job.FinishedAt)
	require.Len(t, auditor.results, 1)
}

func TestRunIgnoresBlocksAndPolicy(t *testing.T) {
	engine, store, _ := newRealEngine(t, 4, 2)
	require.NoError(t, store.Block(context.Background(), 3, adminID))

	result, err := engine.Run(context.Background(), Request{AdminID: adminID, Content: "Maintenance tonight"})
	require.NoError(t, err)
	assert.Equal(t, 4, result.SentCount)
	assert.Zero(t, result.ErrorCount)
}

func TestRunRerunIsIdempotent(t *testing.T) {
	engine, store, _ := newRealEngine(t, 5, 2)
	store.InjectFault("CreateIfAbsent", errors.New("constraint violation"))

	first, err := engine.Run(context.Background(), Request{JobID: "job-1", AdminID: adminID, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 4, first.SentCount)
	assert.Equal(t, 1, first.ErrorCount)

	second, err := engine.Run(context.Background(), Request{JobID: "job-1", AdminID: adminID, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, second.SentCount, "only the failed recipient is retried")
	assert.Equal(t, 4, second.SkippedCount)
	assert.Zero(t, second.ErrorCount)

	job, err := engine.Job(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 5, job.SentCount, "job record counts every run")
	assert.Zero(t, job.ErrorCount)
	assert.Equal(t, 4, job.SkippedCount)
	assert.Equal(t, models.JobCompleted, job.Status)
}

func TestJobRecordKeepsErrorsUntilRetried(t *testing.T) {
	engine, store, _ := newRealEngine(t, 5, 2)
	store.InjectFault("CreateIfAbsent", errors.New("constraint violation"))

	_, err := engine.Run(context.Background(), Request{JobID: "job-2", AdminID: adminID, Content: "hello"})
	require.NoError(t, err)

	job, err := engine.Job(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, 4, job.SentCount)
	assert.Equal(t, 1, job.ErrorCount)
}

func TestRunRequiresAdmin(t *testing.T) {
	engine, _, _ := newRealEngine(t, 3, 2)

	_, err := engine.Run(context.Background(), Request{AdminID: 2, Content: "spam"})
	assert.ErrorIs(t, err, ErrNotAdmin)
	_, err = engine.Run(context.Background(), Request{AdminID: 404, Content: "spam"})
	assert.ErrorIs(t, err, ErrNotAdmin)
	_, err = engine.Run(context.Background(), Request{AdminID: adminID, Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestRunFilterByProfileType(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedProfiles(store, 3)
	store.PutProfile(models.Profile{ID: 50, ProfileType: models.ProfileVenue, IsPublic: true})
	sender := &fakeSender{}
	engine := NewEngine(store, sender, identity.NewGateway(store, store, nil), nil, 2, nil)

	result, err := engine.Run(context.Background(), Request{
		AdminID: adminID,
		Filter:  models.ByProfileType{Types: []models.ProfileType{models.ProfileVenue}},
		Content: "venues only",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SentCount)
	assert.Equal(t, []int64{50}, sender.sent)
}

func TestRunReportsFailingRecipient(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedProfiles(store, 10)
	sender := &fakeSender{failOn: map[int64]bool{7: true}}
	engine := NewEngine(store, sender, identity.NewGateway(store, store, nil), nil, 3, nil)

	result, err := engine.Run(context.Background(), Request{AdminID: adminID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 9, result.SentCount)
	assert.Equal(t, []models.RecipientFailure{{RecipientID: 7, Reason: "resolve conversation: resolution failed"}}, result.Failures)
}

func TestCancelStopsScheduling(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedProfiles(store, 10)
	sender := &fakeSender{}
	engine := NewEngine(store, sender, identity.NewGateway(store, store, nil), nil, 1, nil)
	sender.onSend = func(userID int64) {
		if userID == 2 {
			assert.NoError(t, engine.Cancel("job-cancel"))
		}
	}

	result, err := engine.Run(context.Background(), Request{JobID: "job-cancel", AdminID: adminID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, result.Status)
	assert.Equal(t, 1, result.SentCount)

	job, err := engine.Job(context.Background(), "job-cancel")
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, job.Status)
	assert.ErrorIs(t, engine.Cancel("job-cancel"), ErrJobNotRunning)
}

func TestCancelAfterLastRecipientKeepsJobCompleted(t *testing.T) {
	store := repositories.NewMemoryStore()
	seedProfiles(store, 10)
	sender := &fakeSender{}
	engine := NewEngine(store, sender, identity.NewGateway(store, store, nil), nil, 1, nil)
	sender.onSend = func(userID int64) {
		if userID == 11 {
			assert.NoError(t, engine.Cancel("job-late"))
		}
	}

	result, err := engine.Run(context.Background(), Request{JobID: "job-late", AdminID: adminID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, result.Status)
	assert.Equal(t, 10, result.SentCount)

	job, err := engine.Job(context.Background(), "job-late")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
}

func TestStartRunsInBackground(t *testing.T) {
	engine, _, auditor := newRealEngine(t, 3, 2)

	jobID, err := engine.Start(context.Background(), Request{AdminID: adminID, Content: "async"})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	require.NoError(t, engine.Shutdown(context.Background()))
	job, err := engine.Job(context.Background(), jobID)
	require.NoError(t, err)
	assert.NotEqual(t, models.JobRunning, job.Status)
	require.Len(t, auditor.results, 1)

	_, err = engine.Job(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

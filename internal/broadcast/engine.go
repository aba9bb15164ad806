package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

var (
	ErrNotAdmin      = errors.New("broadcasts require an admin profile")
	ErrEmptyContent  = errors.New("broadcast content is empty")
	ErrJobRunning    = errors.New("broadcast job already running")
	ErrJobNotRunning = errors.New("broadcast job is not running")
	ErrJobNotFound   = errors.New("broadcast job not found")
	ErrJobConflict   = errors.New("broadcast job belongs to another admin")
)

var tracer = otel.Tracer("messaging-service/broadcast")

// Sender opens system conversations and posts into them.
type Sender interface {
	ResolveSystem(ctx context.Context, adminID, userID int64) (models.Conversation, error)
	SendAsSystem(ctx context.Context, adminID, conversationID int64, content string) (models.Message, error)
}

// Directory answers profile questions for the engine.
type Directory interface {
	Profile(ctx context.Context, userID int64) (models.Profile, error)
	FindRecipients(ctx context.Context, filter models.RecipientFilter) ([]int64, error)
}

// Auditor records finished broadcasts.
type Auditor interface {
	BroadcastFinished(ctx context.Context, adminID int64, result models.BroadcastResult)
}

// Request describes one broadcast. An empty JobID gets a new uuid; reusing
// an id re-runs the job and skips recipients already messaged.
type Request struct {
	JobID   string
	AdminID int64
	Filter  models.RecipientFilter
	Content string
}

// Engine runs broadcast jobs over a bounded worker pool.
type Engine struct {
	jobs      repositories.BroadcastRepository
	sender    Sender
	directory Directory
	audit     Auditor
	workers   int
	log       *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine constructs an Engine. workers <= 0 means 8.
func NewEngine(jobs repositories.BroadcastRepository, sender Sender, directory Directory, audit Auditor, workers int, log *zap.Logger) *Engine {
	if workers <= 0 {
		workers = 8
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		jobs:      jobs,
		sender:    sender,
		directory: directory,
		audit:     audit,
		workers:   workers,
		log:       log,
		now:       time.Now,
		running:   make(map[string]context.CancelFunc),
	}
}

// Run executes the job and returns once every scheduled recipient is
// processed. A single recipient failure never stops the batch.
func (e *Engine) Run(ctx context.Context, req Request) (models.BroadcastResult, error) {
	if err := e.authorize(ctx, &req); err != nil {
		return models.BroadcastResult{}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.register(req.JobID, cancel); err != nil {
		return models.BroadcastResult{}, err
	}
	defer e.unregister(req.JobID)
	return e.run(ctx, req)
}

// Start runs the job in the background and returns its id.
func (e *Engine) Start(ctx context.Context, req Request) (string, error) {
	if err := e.authorize(ctx, &req); err != nil {
		return "", err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := e.register(req.JobID, cancel); err != nil {
		cancel()
		return "", err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		defer e.unregister(req.JobID)
		if _, err := e.run(runCtx, req); err != nil {
			e.log.Error("broadcast job failed", zap.String("job_id", req.JobID), zap.Error(err))
		}
	}()
	return req.JobID, nil
}

// Cancel stops scheduling further recipients of a running job. Messages
// already sent stay sent.
func (e *Engine) Cancel(jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.running[jobID]
	if !ok {
		return ErrJobNotRunning
	}
	cancel()
	return nil
}

// Job returns the persisted record of a job.
func (e *Engine) Job(ctx context.Context, jobID string) (models.BroadcastJob, error) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if errors.Is(err, repositories.ErrJobNotFound) {
		return models.BroadcastJob{}, ErrJobNotFound
	}
	return job, err
}

// Shutdown cancels every running job and waits for background jobs to record their results.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, cancel := range e.running {
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) authorize(ctx context.Context, req *Request) error {
	if strings.TrimSpace(req.Content) == "" {
		return ErrEmptyContent
	}
	admin, err := e.directory.Profile(ctx, req.AdminID)
	if errors.Is(err, repositories.ErrProfileNotFound) {
		return ErrNotAdmin
	}
	if err != nil {
		return fmt.Errorf("load admin profile: %w", err)
	}
	if admin.ProfileType != models.ProfileAdmin || admin.DeletedAt != nil {
		return ErrNotAdmin
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	if req.Filter == nil {
		req.Filter = models.AllUsers{}
	}
	return nil
}

func (e *Engine) register(jobID string, cancel context.CancelFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[jobID]; ok {
		return ErrJobRunning
	}
	e.running[jobID] = cancel
	return nil
}

func (e *Engine) unregister(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, jobID)
}

// tally accumulates per-recipient outcomes from concurrent workers.
type tally struct {
	mu       sync.Mutex
	sent     int
	skipped  int
	dropped  int
	failures []models.RecipientFailure
}

// drop counts a recipient left unprocessed because the job was cancelled.
func (t *tally) drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped++
}

func (t *tally) add(outcome string, failure *models.RecipientFailure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch outcome {
	case outcomeSent:
		t.sent++
	case outcomeSkipped:
		t.skipped++
	case outcomeFailed:
		t.failures = append(t.failures, *failure)
	}
	observability.IncBroadcastRecipients(outcome)
}

const (
	outcomeSent    = "sent"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

func (e *Engine) run(ctx context.Context, req Request) (models.BroadcastResult, error) {
	ctx, span := tracer.Start(ctx, "broadcast.Run")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", req.JobID), attribute.Int64("admin.id", req.AdminID))

	job, err := e.openJob(ctx, req)
	if err != nil {
		return models.BroadcastResult{}, err
	}
	filter, err := decodeFilter(job.Filter)
	if err != nil {
		return models.BroadcastResult{}, err
	}

	recipients, err := e.directory.FindRecipients(ctx, filter)
	if err != nil {
		return models.BroadcastResult{}, fmt.Errorf("find recipients: %w", err)
	}
	span.SetAttributes(attribute.Int("recipients", len(recipients)))
	e.log.Info("broadcast started",
		zap.String("job_id", job.ID),
		zap.Int64("admin_id", job.AdminID),
		zap.String("filter", filter.FilterKind()),
		zap.Int("recipients", len(recipients)))

	var (
		t tally
		g errgroup.Group
	)
	g.SetLimit(e.workers)
	for _, recipientID := range recipients {
		if recipientID == job.AdminID {
			continue
		}
		if ctx.Err() != nil {
			t.drop()
			continue
		}
		recipientID := recipientID
		g.Go(func() error {
			e.deliver(ctx, job, recipientID, &t)
			return nil
		})
	}
	_ = g.Wait()

	result := models.BroadcastResult{
		JobID:        job.ID,
		Status:       models.JobCompleted,
		SentCount:    t.sent,
		ErrorCount:   len(t.failures),
		SkippedCount: t.skipped,
		Failures:     t.failures,
	}
	if t.dropped > 0 {
		result.Status = models.JobCancelled
	}
	if result.Failures == nil {
		result.Failures = []models.RecipientFailure{}
	}

	finishCtx := context.WithoutCancel(ctx)
	if err := e.jobs.FinishJob(finishCtx, result, e.now()); err != nil {
		e.log.Error("broadcast finish not recorded", zap.String("job_id", job.ID), zap.Error(err))
	}
	if e.audit != nil {
		e.audit.BroadcastFinished(finishCtx, job.AdminID, result)
	}
	e.log.Info("broadcast finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(result.Status)),
		zap.Int("sent", result.SentCount),
		zap.Int("errors", result.ErrorCount),
		zap.Int("skipped", result.SkippedCount))
	return result, nil
}

func (e *Engine) openJob(ctx context.Context, req Request) (models.BroadcastJob, error) {
	filterJSON, err := models.MarshalRecipientFilter(req.Filter)
	if err != nil {
		return models.BroadcastJob{}, err
	}
	job, created, err := e.jobs.CreateJob(ctx, models.BroadcastJob{
		ID:        req.JobID,
		AdminID:   req.AdminID,
		Filter:    filterJSON,
		Content:   req.Content,
		Status:    models.JobRunning,
		StartedAt: e.now(),
	})
	if err != nil {
		return models.BroadcastJob{}, fmt.Errorf("create job: %w", err)
	}
	if !created && job.AdminID != req.AdminID {
		return models.BroadcastJob{}, ErrJobConflict
	}
	return job, nil
}

func decodeFilter(raw json.RawMessage) (models.RecipientFilter, error) {
	var wire models.RecipientFilterJSON
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRecipientFilter, err)
	}
	return models.ParseRecipientFilter(wire)
}

// deliver processes one recipient. Work that started finishes even if the
// job is cancelled meanwhile.
func (e *Engine) deliver(ctx context.Context, job models.BroadcastJob, recipientID int64, t *tally) {
	if ctx.Err() != nil {
		t.drop()
		return
	}
	ctx = context.WithoutCancel(ctx)

	claimed, err := e.jobs.ClaimDelivery(ctx, job.ID, recipientID)
	if err != nil {
		t.add(outcomeFailed, &models.RecipientFailure{RecipientID: recipientID, Reason: err.Error()})
		return
	}
	if !claimed {
		t.add(outcomeSkipped, nil)
		return
	}

	fail := func(err error) {
		reason := err.Error()
		if releaseErr := e.jobs.FailDelivery(ctx, job.ID, recipientID, reason); releaseErr != nil {
			e.log.Warn("broadcast delivery release failed", zap.String("job_id", job.ID), zap.Int64("recipient_id", recipientID), zap.Error(releaseErr))
		}
		e.log.Warn("broadcast delivery failed", zap.String("job_id", job.ID), zap.Int64("recipient_id", recipientID), zap.Error(err))
		t.add(outcomeFailed, &models.RecipientFailure{RecipientID: recipientID, Reason: reason})
	}

	conv, err := e.sender.ResolveSystem(ctx, job.AdminID, recipientID)
	if err != nil {
		fail(fmt.Errorf("resolve conversation: %w", err))
		return
	}
	msg, err := e.sender.SendAsSystem(ctx, job.AdminID, conv.ID, job.Content)
	if err != nil {
		fail(fmt.Errorf("send: %w", err))
		return
	}
	if err := e.jobs.CompleteDelivery(ctx, job.ID, recipientID, msg.ID); err != nil {
		e.log.Warn("broadcast delivery not marked sent", zap.String("job_id", job.ID), zap.Int64("recipient_id", recipientID), zap.Error(err))
	}
	t.add(outcomeSent, nil)
}

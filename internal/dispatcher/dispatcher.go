// Package dispatcher owns job admission, retry scheduling, and worker fan-out.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shelfscout/scraper/internal/metrics"
	"github.com/shelfscout/scraper/internal/scrape"
	"github.com/shelfscout/scraper/internal/worker"
)

// Config controls retry scheduling.
type Config struct {
	// BackoffBase is the delay before the first internal retry; each further
	// retry doubles it (2000, 4000, 8000 with the default base).
	BackoffBase time.Duration
	// EventTopic, when set together with a publisher, receives job
	// lifecycle events on terminal transitions.
	EventTopic string
}

func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	return c
}

// Dispatcher accepts submissions, schedules retries with exponential backoff,
// and reports worker outcomes back to the job store.
type Dispatcher struct {
	store     scrape.JobStore
	queue     scrape.JobQueue
	idGen     scrape.IDGenerator
	clock     scrape.Clock
	publisher scrape.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher.
func New(
	store scrape.JobStore,
	queue scrape.JobQueue,
	idGen scrape.IDGenerator,
	clock scrape.Clock,
	publisher scrape.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:     store,
		queue:     queue,
		idGen:     idGen,
		clock:     clock,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// SubmitRequest is one scrape submission from the API boundary.
type SubmitRequest struct {
	TargetURL  string
	TargetType scrape.TargetType
	Options    scrape.Options
	Priority   int
	Delay      time.Duration
}

// Submit creates a job row and enqueues it. Every submission creates a new
// row; in-flight duplicates are not coalesced.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (scrape.Job, error) {
	if req.TargetURL == "" {
		return scrape.Job{}, scrape.NewValidationError("target_url is required")
	}
	if !scrape.ValidTargetType(req.TargetType) {
		return scrape.Job{}, scrape.NewValidationError(fmt.Sprintf("unknown target_type %q", req.TargetType))
	}

	id, err := d.idGen.NewID()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job, err := d.store.CreateJob(ctx, scrape.Job{
		ID:         id,
		TargetURL:  req.TargetURL,
		TargetType: req.TargetType,
		Options:    req.Options,
		MaxRetries: scrape.DefaultMaxRetries,
	})
	if err != nil {
		return scrape.Job{}, fmt.Errorf("create job: %w", err)
	}

	item := scrape.QueueItem{
		JobID:      job.ID,
		TargetURL:  job.TargetURL,
		TargetType: job.TargetType,
		Options:    job.Options,
		Priority:   req.Priority,
	}
	if err := d.queue.Enqueue(ctx, item, req.Delay); err != nil {
		return scrape.Job{}, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	d.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("target_type", string(job.TargetType)),
		zap.String("target_url", job.TargetURL),
	)
	return job, nil
}

// Retry re-dispatches a failed job at elevated priority so operators can
// unblock a known failure ahead of the backlog. Fails with ErrNotFound for an
// unknown id and ErrInvalidState when the job is not failed.
func (d *Dispatcher) Retry(ctx context.Context, jobID string) (scrape.Job, error) {
	job, err := d.store.ResetForRetry(ctx, jobID)
	if err != nil {
		return scrape.Job{}, err
	}
	item := scrape.QueueItem{
		JobID:      job.ID,
		TargetURL:  job.TargetURL,
		TargetType: job.TargetType,
		Options:    job.Options,
		Priority:   scrape.RetryPriority,
		Attempt:    job.RetryCount,
	}
	if err := d.queue.Enqueue(ctx, item, 0); err != nil {
		return scrape.Job{}, fmt.Errorf("enqueue retry for job %s: %w", jobID, err)
	}
	d.logger.Info("job retried", zap.String("job_id", jobID), zap.Int("retry_count", job.RetryCount))
	return job, nil
}

// Cancel marks a job cancelled. It is idempotent: cancelling a terminal job
// is a no-op. A still-waiting item is removed from the queue; a running job
// keeps executing but its late result is discarded.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	removed := d.queue.CancelIfWaiting(jobID)
	if err := d.store.MarkCancelled(ctx, jobID); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	d.logger.Info("job cancelled", zap.String("job_id", jobID), zap.Bool("removed_from_queue", removed))
	d.publishEvent(ctx, jobID, job.TargetType, scrape.JobStatusCancelled)
	return nil
}

// Stats returns the queue depth snapshot.
func (d *Dispatcher) Stats() scrape.QueueStats {
	return d.queue.Stats()
}

// Run starts the workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context, workers []*worker.Worker) {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// JobSucceeded records a completed execution. A late success for a job
// cancelled mid-flight is discarded.
func (d *Dispatcher) JobSucceeded(ctx context.Context, item scrape.QueueItem, result map[string]any, processed, total int) {
	err := d.store.MarkCompleted(ctx, item.JobID, result, processed, total)
	switch {
	case err == nil:
		d.publishEvent(ctx, item.JobID, item.TargetType, scrape.JobStatusCompleted)
	case errors.Is(err, scrape.ErrInvalidTransition):
		d.logger.Debug("late result discarded", zap.String("job_id", item.JobID))
	default:
		d.logger.Error("completion write failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	d.queue.MarkDone(item.JobID, false)
}

// JobFailed classifies the failure and either schedules an internal retry
// with backoff or records the terminal failure.
func (d *Dispatcher) JobFailed(ctx context.Context, item scrape.QueueItem, jobErr error) {
	kind := scrape.Classify(jobErr)
	errLog := map[string]any{
		"kind":        string(kind),
		"attempt":     item.Attempt + 1,
		"target_type": string(item.TargetType),
		"error":       jobErr.Error(),
	}

	if scrape.IsRetryable(jobErr) {
		job, err := d.store.GetJob(ctx, item.JobID)
		if err == nil && job.Status == scrape.JobStatusRunning && job.RetryCount < job.MaxRetries {
			d.scheduleRetry(ctx, item, jobErr, errLog)
			return
		}
	}

	err := d.store.MarkFailed(ctx, item.JobID, jobErr.Error(), errLog)
	switch {
	case err == nil:
		d.publishEvent(ctx, item.JobID, item.TargetType, scrape.JobStatusFailed)
	case errors.Is(err, scrape.ErrInvalidTransition):
		d.logger.Debug("late failure discarded", zap.String("job_id", item.JobID))
	default:
		d.logger.Error("failure write failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	d.queue.MarkDone(item.JobID, true)
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, item scrape.QueueItem, jobErr error, errLog map[string]any) {
	if err := d.store.MarkRetrying(ctx, item.JobID, jobErr.Error(), errLog); err != nil {
		// Lost a race with cancel or budget exhaustion; record terminally.
		d.logger.Debug("retry transition rejected", zap.String("job_id", item.JobID), zap.Error(err))
		if markErr := d.store.MarkFailed(ctx, item.JobID, jobErr.Error(), errLog); markErr != nil &&
			!errors.Is(markErr, scrape.ErrInvalidTransition) {
			d.logger.Error("failure write failed", zap.String("job_id", item.JobID), zap.Error(markErr))
		}
		d.queue.MarkDone(item.JobID, true)
		return
	}

	retry := scrape.QueueItem{
		JobID:      item.JobID,
		TargetURL:  item.TargetURL,
		TargetType: item.TargetType,
		Options:    item.Options,
		Priority:   item.Priority,
		Attempt:    item.Attempt + 1,
	}
	delay := d.cfg.BackoffBase << item.Attempt
	if err := d.queue.Enqueue(ctx, retry, delay); err != nil {
		d.logger.Error("retry enqueue failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	metrics.ObserveRetry(string(item.TargetType))
	d.logger.Warn("job retry scheduled",
		zap.String("job_id", item.JobID),
		zap.Int("attempt", retry.Attempt),
		zap.Duration("backoff", delay),
		zap.Error(jobErr),
	)
}

func (d *Dispatcher) publishEvent(ctx context.Context, jobID string, targetType scrape.TargetType, status scrape.JobStatus) {
	if d.publisher == nil || d.cfg.EventTopic == "" {
		return
	}
	payload := map[string]any{
		"job_id":      jobID,
		"target_type": string(targetType),
		"status":      string(status),
		"timestamp":   d.clock.Now().Format(time.RFC3339),
	}
	if _, err := d.publisher.Publish(ctx, d.cfg.EventTopic, payload); err != nil {
		d.logger.Warn("event publish failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

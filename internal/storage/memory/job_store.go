// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shelfscout/scraper/internal/scrape"
)

// JobStore is an in-memory scrape.JobStore. All transitions are serialized
// under one mutex, which stands in for the row-level locking the Postgres
// implementation gets from guarded UPDATEs.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]scrape.Job
	order []string
	clock scrape.Clock
}

// NewJobStore constructs a JobStore.
func NewJobStore(clock scrape.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]scrape.Job),
		clock: clock,
	}
}

// CreateJob stores a new job in pending status.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return scrape.Job{}, fmt.Errorf("job %s already exists", job.ID)
	}
	now := s.clock.Now()
	job.Status = scrape.JobStatusPending
	if job.MaxRetries == 0 {
		job.MaxRetries = scrape.DefaultMaxRetries
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return job, nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrNotFound
	}
	return job, nil
}

// ListRecent returns up to limit jobs ordered newest-first.
func (s *JobStore) ListRecent(_ context.Context, limit int) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scrape.Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.jobs[s.order[i]])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListByStatus returns all jobs with the given status, newest-first.
func (s *JobStore) ListByStatus(_ context.Context, status scrape.JobStatus) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scrape.Job
	for i := len(s.order) - 1; i >= 0; i-- {
		if job := s.jobs[s.order[i]]; job.Status == status {
			out = append(out, job)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkRunning moves pending -> running, recording StartedAt on the first run only.
func (s *JobStore) MarkRunning(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrNotFound
	}
	if job.Status != scrape.JobStatusPending {
		return scrape.Job{}, transitionError(job.Status, scrape.JobStatusRunning)
	}
	now := s.clock.Now()
	job.Status = scrape.JobStatusRunning
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return job, nil
}

// MarkCompleted moves running -> completed with a result snapshot.
func (s *JobStore) MarkCompleted(_ context.Context, jobID string, result map[string]any, processed, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrNotFound
	}
	if job.Status != scrape.JobStatusRunning {
		return transitionError(job.Status, scrape.JobStatusCompleted)
	}
	now := s.clock.Now()
	job.Status = scrape.JobStatusCompleted
	job.Result = result
	job.ItemsProcessed = processed
	job.ItemsTotal = total
	job.FinishedAt = &now
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return nil
}

// MarkFailed moves running -> failed with the terminal error.
func (s *JobStore) MarkFailed(_ context.Context, jobID string, errMsg string, errLog map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrNotFound
	}
	if job.Status != scrape.JobStatusRunning {
		return transitionError(job.Status, scrape.JobStatusFailed)
	}
	now := s.clock.Now()
	job.Status = scrape.JobStatusFailed
	job.ErrorMessage = errMsg
	job.ErrorLog = errLog
	job.FinishedAt = &now
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return nil
}

// MarkRetrying moves running -> pending for an internal retry.
func (s *JobStore) MarkRetrying(_ context.Context, jobID string, errMsg string, errLog map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrNotFound
	}
	if job.Status != scrape.JobStatusRunning {
		return transitionError(job.Status, scrape.JobStatusPending)
	}
	if job.RetryCount >= job.MaxRetries {
		return fmt.Errorf("job %s retry budget exhausted: %w", jobID, scrape.ErrInvalidTransition)
	}
	job.Status = scrape.JobStatusPending
	job.RetryCount++
	job.ErrorMessage = errMsg
	job.ErrorLog = errLog
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return nil
}

// MarkCancelled moves pending or running -> cancelled; no-op on terminal jobs.
func (s *JobStore) MarkCancelled(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	now := s.clock.Now()
	job.Status = scrape.JobStatusCancelled
	job.FinishedAt = &now
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return nil
}

// ResetForRetry moves failed -> pending for an operator retry.
func (s *JobStore) ResetForRetry(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrNotFound
	}
	if job.Status != scrape.JobStatusFailed {
		return scrape.Job{}, fmt.Errorf("cannot retry job in status %q: %w", job.Status, scrape.ErrInvalidState)
	}
	job.Status = scrape.JobStatusPending
	job.RetryCount++
	// Keep retry_count within budget while the job is live again.
	if job.RetryCount > job.MaxRetries {
		job.MaxRetries = job.RetryCount
	}
	job.ErrorMessage = ""
	job.ErrorLog = nil
	job.FinishedAt = nil
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return job, nil
}

func transitionError(from, to scrape.JobStatus) error {
	return fmt.Errorf("%s -> %s: %w", from, to, scrape.ErrInvalidTransition)
}

package scrape

import (
	"context"
	"io"
	"time"
)

// JobStore persists scrape jobs and enforces the lifecycle state machine.
// Every transition method validates the job's current status and returns
// ErrInvalidTransition when the change is not permitted, so a late write from
// a worker that lost a cancellation race is rejected rather than applied.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) (Job, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListRecent(ctx context.Context, limit int) ([]Job, error)
	ListByStatus(ctx context.Context, status JobStatus) ([]Job, error)

	// MarkRunning moves pending -> running. StartedAt is recorded only on
	// the job's first run, not on retry attempts.
	MarkRunning(ctx context.Context, jobID string) (Job, error)
	// MarkCompleted moves running -> completed with a result snapshot.
	MarkCompleted(ctx context.Context, jobID string, result map[string]any, processed, total int) error
	// MarkFailed moves running -> failed, recording the terminal error.
	MarkFailed(ctx context.Context, jobID string, errMsg string, errLog map[string]any) error
	// MarkRetrying moves running -> pending for an internal retry,
	// incrementing retry_count and recording the triggering error.
	MarkRetrying(ctx context.Context, jobID string, errMsg string, errLog map[string]any) error
	// MarkCancelled moves pending or running -> cancelled. Calling it on an
	// already-terminal job is a no-op.
	MarkCancelled(ctx context.Context, jobID string) error
	// ResetForRetry moves failed -> pending for an operator retry, clearing
	// error fields and incrementing retry_count.
	ResetForRetry(ctx context.Context, jobID string) (Job, error)
}

// JobQueue hands ready jobs to workers, honoring priority then FIFO order,
// with optional per-item delay. Implementations must support concurrent use.
type JobQueue interface {
	// Enqueue admits an item, holding it in the delayed partition for the
	// given duration before it becomes ready.
	Enqueue(ctx context.Context, item QueueItem, delay time.Duration) error
	// Dequeue blocks until an item is ready or the context finishes.
	Dequeue(ctx context.Context) (QueueItem, error)
	// CancelIfWaiting removes a not-yet-claimed item and reports whether it
	// was removed. Once a worker has claimed the item this returns false.
	CancelIfWaiting(jobID string) bool
	// MarkDone retires a claimed item into the completed or failed bucket.
	MarkDone(jobID string, failed bool)
	// Stats returns a point-in-time snapshot of queue depth.
	Stats() QueueStats
	// Close releases queue resources; subsequent operations fail.
	Close()
}

// Extractor performs the network fetch for one target type and returns a
// typed, validated record set. Extractors never touch durable storage.
type Extractor interface {
	Extract(ctx context.Context, targetURL string, opts Options) (Extraction, error)
}

// Fetcher retrieves one page. Implementations choose the transport (plain
// HTTP client or headless browser) behind this boundary.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// FetchRequest captures everything needed to fetch a page.
type FetchRequest struct {
	URL string
	// WaitSelector, when rendering, is a CSS selector that must appear
	// before the DOM is captured.
	WaitSelector string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Publisher pushes job lifecycle events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests for snapshot paths and stable identifiers.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

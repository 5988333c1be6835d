package dispatcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfscout/scraper/internal/metrics"
	publishermemory "github.com/shelfscout/scraper/internal/publisher/memory"
	"github.com/shelfscout/scraper/internal/scrape"
	storagememory "github.com/shelfscout/scraper/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeIDGen struct {
	mu   sync.Mutex
	next int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("job-%04d", g.next), nil
}

type enqueueCall struct {
	item  scrape.QueueItem
	delay time.Duration
}

// recordingQueue captures dispatcher calls instead of feeding workers.
type recordingQueue struct {
	mu           sync.Mutex
	enqueued     []enqueueCall
	cancelled    []string
	doneFailed   map[string]bool
	cancelResult bool
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{doneFailed: map[string]bool{}}
}

func (q *recordingQueue) Enqueue(_ context.Context, item scrape.QueueItem, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, enqueueCall{item: item, delay: delay})
	return nil
}

func (q *recordingQueue) Dequeue(ctx context.Context) (scrape.QueueItem, error) {
	<-ctx.Done()
	return scrape.QueueItem{}, ctx.Err()
}

func (q *recordingQueue) CancelIfWaiting(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, jobID)
	return q.cancelResult
}

func (q *recordingQueue) MarkDone(jobID string, failed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.doneFailed[jobID] = failed
}

func (q *recordingQueue) Stats() scrape.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return scrape.QueueStats{Waiting: len(q.enqueued), Total: len(q.enqueued)}
}

func (q *recordingQueue) Close() {}

func (q *recordingQueue) calls() []enqueueCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]enqueueCall, len(q.enqueued))
	copy(out, q.enqueued)
	return out
}

func newTestDispatcher(t *testing.T) (*Dispatcher, scrape.JobStore, *recordingQueue, *publishermemory.Publisher) {
	t.Helper()
	store := storagememory.NewJobStore(newFakeClock())
	queue := newRecordingQueue()
	pub := publishermemory.New()
	d := New(store, queue, &fakeIDGen{}, newFakeClock(), pub, Config{EventTopic: "scrape-events"}, zap.NewNop())
	return d, store, queue, pub
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	d, _, queue, _ := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Submit(ctx, SubmitRequest{TargetType: scrape.TargetNavigation})
	require.Equal(t, scrape.KindValidation, scrape.Classify(err))

	_, err = d.Submit(ctx, SubmitRequest{TargetURL: "https://example.com", TargetType: "sitemap"})
	require.Equal(t, scrape.KindValidation, scrape.Classify(err))

	require.Empty(t, queue.calls())
}

func TestSubmitCreatesAndEnqueues(t *testing.T) {
	d, store, queue, _ := newTestDispatcher(t)
	ctx := context.Background()

	job, err := d.Submit(ctx, SubmitRequest{
		TargetURL:  "https://example.com/fiction",
		TargetType: scrape.TargetNavigation,
		Priority:   2,
		Delay:      500 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusPending, job.Status)
	require.Equal(t, scrape.DefaultMaxRetries, job.MaxRetries)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, stored.ID)

	calls := queue.calls()
	require.Len(t, calls, 1)
	require.Equal(t, job.ID, calls[0].item.JobID)
	require.Equal(t, 2, calls[0].item.Priority)
	require.Equal(t, 0, calls[0].item.Attempt)
	require.Equal(t, 500*time.Millisecond, calls[0].delay)
}

func TestRetryRedispatchesFailedJobAtElevatedPriority(t *testing.T) {
	d, store, queue, _ := newTestDispatcher(t)
	ctx := context.Background()

	job, err := d.Submit(ctx, SubmitRequest{TargetURL: "https://example.com/c", TargetType: scrape.TargetCategory})
	require.NoError(t, err)
	_, err = store.MarkRunning(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, job.ID, "boom", nil))

	retried, err := d.Retry(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusPending, retried.Status)
	require.Empty(t, retried.ErrorMessage)

	calls := queue.calls()
	require.Len(t, calls, 2)
	require.Equal(t, scrape.RetryPriority, calls[1].item.Priority)
	require.Equal(t, time.Duration(0), calls[1].delay)
}

func TestRetryErrors(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Retry(ctx, "missing")
	require.ErrorIs(t, err, scrape.ErrNotFound)

	job, err := d.Submit(ctx, SubmitRequest{TargetURL: "https://example.com/c", TargetType: scrape.TargetCategory})
	require.NoError(t, err)
	_, err = d.Retry(ctx, job.ID)
	require.ErrorIs(t, err, scrape.ErrInvalidState)
}

func TestCancelRemovesWaitingJob(t *testing.T) {
	d, store, queue, pub := newTestDispatcher(t)
	queue.cancelResult = true
	ctx := context.Background()

	job, err := d.Submit(ctx, SubmitRequest{TargetURL: "https://example.com/p", TargetType: scrape.TargetProduct})
	require.NoError(t, err)
	require.NoError(t, d.Cancel(ctx, job.ID))

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCancelled, stored.Status)
	require.Equal(t, []string{job.ID}, queue.cancelled)

	// Second cancel is a no-op on the now-terminal job.
	require.NoError(t, d.Cancel(ctx, job.ID))
	require.Len(t, queue.cancelled, 1)
	require.Len(t, pub.Messages(), 1)

	require.ErrorIs(t, d.Cancel(ctx, "missing"), scrape.ErrNotFound)
}

func TestJobSucceededCompletesAndPublishes(t *testing.T) {
	d, store, queue, pub := newTestDispatcher(t)
	ctx := context.Background()

	job, err := d.Submit(ctx, SubmitRequest{TargetURL: "https://example.com/n", TargetType: scrape.TargetNavigation})
	require.NoError(t, err)
	_, err = store.MarkRunning(ctx, job.ID)
	require.NoError(t, err)

	item := scrape.QueueItem{JobID: job.ID, TargetType: scrape.TargetNavigation}
	d.JobSucceeded(ctx, item, map[string]any{"saved_count": 4}, 4, 4)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, stored.Status)
	require.Equal(t, 4, stored.ItemsProcessed)
	require.NotNil(t, stored.FinishedAt)

	failed, ok := queue.doneFailed[job.ID]
	require.True(t, ok)
	require.False(t, failed)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "scrape-events", msgs[0].Topic)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, job.ID, payload["job_id"])
	require.Equal(t, string(scrape.JobStatusCompleted), payload["status"])
}

func TestJobSucceededDiscardsLateResultAfterCancel(t *testing.T) {
	d, store, _, pub := newTestDispatcher(t)
	ctx := context.Background()

	job, err := d.Submit(ctx, SubmitRequest{TargetURL: "https://example.com/n", TargetType: scrape.TargetNavigation})
	require.NoError(t, err)
	_, err = store.MarkRunning(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkCancelled(ctx, job.ID))

	d.JobSucceeded(ctx, scrape.QueueItem{JobID: job.ID, TargetType: scrape.TargetNavigation}, nil, 1, 1)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCancelled, stored.Status)
	require.Empty(t, pub.Messages())
}

func TestJobFailedSchedulesExponentialBackoff(t *testing.T) {
	d, store, queue, pub := newTestDispatcher(t)
	ctx := context.Background()

	job, err := d.Submit(ctx, SubmitRequest{TargetURL: "https://example.com/c", TargetType: scrape.TargetCategory})
	require.NoError(t, err)

	transient := scrape.NewTransientError("fetch https://example.com/c", fmt.Errorf("status 503"))
	item := scrape.QueueItem{JobID: job.ID, TargetURL: job.TargetURL, TargetType: job.TargetType}

	wantDelays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt := 0; attempt < 3; attempt++ {
		_, err = store.MarkRunning(ctx, job.ID)
		require.NoError(t, err)
		item.Attempt = attempt
		d.JobFailed(ctx, item, transient)

		stored, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, scrape.JobStatusPending, stored.Status)
		require.Equal(t, attempt+1, stored.RetryCount)

		calls := queue.calls()
		require.Len(t, calls, attempt+2) // initial submit + retries so far
		require.Equal(t, wantDelays[attempt], calls[attempt+1].delay)
		require.Equal(t, attempt+1, calls[attempt+1].item.Attempt)
	}

	// Budget exhausted: the fourth failure is terminal.
	_, err = store.MarkRunning(ctx, job.ID)
	require.NoError(t, err)
	item.Attempt = 3
	d.JobFailed(ctx, item, transient)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusFailed, stored.Status)
	require.Len(t, queue.calls(), 4)
	require.True(t, queue.doneFailed[job.ID])

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	payload := msgs[0].Payload.(map[string]any)
	require.Equal(t, string(scrape.JobStatusFailed), payload["status"])
}

func TestJobFailedNonRetryableIsTerminal(t *testing.T) {
	d, store, queue, _ := newTestDispatcher(t)
	ctx := context.Background()

	job, err := d.Submit(ctx, SubmitRequest{TargetURL: "https://example.com/p", TargetType: scrape.TargetProductDetail})
	require.NoError(t, err)
	_, err = store.MarkRunning(ctx, job.ID)
	require.NoError(t, err)

	d.JobFailed(ctx, scrape.QueueItem{JobID: job.ID, TargetType: job.TargetType},
		scrape.NewValidationError("productId option is required for product detail scraping"))

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusFailed, stored.Status)
	require.Equal(t, 0, stored.RetryCount)
	require.Len(t, queue.calls(), 1)
}

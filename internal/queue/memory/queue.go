// Package memory provides the in-memory job queue used by the dispatcher.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shelfscout/scraper/internal/scrape"
)

type entry struct {
	item    scrape.QueueItem
	seq     uint64
	readyAt time.Time
	removed bool
}

// readyHeap orders entries by priority (higher first) then FIFO by sequence.
type readyHeap []*entry

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// delayHeap orders entries by the time they become ready.
type delayHeap []*entry

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].readyAt.Before(h[j].readyAt) }
func (h delayHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)        { *h = append(*h, x.(*entry)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is a priority/delay queue with blocking dequeue and waiting-item
// cancellation. Within a priority tier items drain FIFO by enqueue order.
type Queue struct {
	mu      sync.Mutex
	clock   scrape.Clock
	ready   readyHeap
	delayed delayHeap
	byJob   map[string]*entry
	active  map[string]struct{}

	seq       uint64
	completed int
	failed    int
	waiting   int
	inDelay   int

	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueue constructs a Queue. The clock is injectable for delay tests.
func NewQueue(clock scrape.Clock) *Queue {
	return &Queue{
		clock:  clock,
		byJob:  make(map[string]*entry),
		active: make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue admits an item, parking it in the delayed partition when delay > 0.
func (q *Queue) Enqueue(ctx context.Context, item scrape.QueueItem, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue cancelled: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return scrape.ErrQueueClosed
	}
	q.seq++
	e := &entry{item: item, seq: q.seq}
	// A retry re-enqueue supersedes the claimed incarnation of the job.
	delete(q.active, item.JobID)
	q.byJob[item.JobID] = e
	if delay > 0 {
		e.readyAt = q.clock.Now().Add(delay)
		heap.Push(&q.delayed, e)
		q.inDelay++
	} else {
		heap.Push(&q.ready, e)
		q.waiting++
	}
	q.mu.Unlock()
	q.signal()
	return nil
}

// Dequeue blocks until an item is ready, the queue closes, or ctx finishes.
// The returned item is owned by the caller until MarkDone retires it.
func (q *Queue) Dequeue(ctx context.Context) (scrape.QueueItem, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return scrape.QueueItem{}, scrape.ErrQueueClosed
		}
		q.promote()
		if e := q.popReady(); e != nil {
			q.active[e.item.JobID] = struct{}{}
			more := q.waiting > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return e.item, nil
		}
		var timer *time.Timer
		var fire <-chan time.Time
		if len(q.delayed) > 0 {
			wait := q.delayed[0].readyAt.Sub(q.clock.Now())
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return scrape.QueueItem{}, fmt.Errorf("dequeue cancelled: %w", ctx.Err())
		case <-q.done:
			stopTimer(timer)
			return scrape.QueueItem{}, scrape.ErrQueueClosed
		case <-q.wake:
			stopTimer(timer)
		case <-fire:
		}
	}
}

// CancelIfWaiting removes a not-yet-claimed item. Once a worker has claimed
// the item this is a no-op returning false.
func (q *Queue) CancelIfWaiting(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byJob[jobID]
	if !ok || e.removed {
		return false
	}
	if _, claimed := q.active[jobID]; claimed {
		return false
	}
	e.removed = true
	delete(q.byJob, jobID)
	if e.readyAt.IsZero() {
		q.waiting--
	} else {
		q.inDelay--
	}
	return true
}

// MarkDone retires a claimed item into its terminal bucket.
func (q *Queue) MarkDone(jobID string, failed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.active[jobID]; !ok {
		return
	}
	delete(q.active, jobID)
	delete(q.byJob, jobID)
	if failed {
		q.failed++
	} else {
		q.completed++
	}
}

// Stats returns a snapshot of queue depth; Total is the sum of the parts.
func (q *Queue) Stats() scrape.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := scrape.QueueStats{
		Waiting:   q.waiting,
		Active:    len(q.active),
		Completed: q.completed,
		Failed:    q.failed,
		Delayed:   q.inDelay,
	}
	s.Total = s.Waiting + s.Active + s.Completed + s.Failed + s.Delayed
	return s
}

// Close shuts the queue down; blocked and future calls fail with ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// promote moves due delayed entries into the ready partition. Caller holds mu.
func (q *Queue) promote() {
	now := q.clock.Now()
	for len(q.delayed) > 0 {
		e := q.delayed[0]
		if e.removed {
			heap.Pop(&q.delayed)
			continue
		}
		if e.readyAt.After(now) {
			return
		}
		heap.Pop(&q.delayed)
		q.inDelay--
		e.readyAt = time.Time{}
		heap.Push(&q.ready, e)
		q.waiting++
	}
}

// popReady returns the next live ready entry, skipping cancelled ones.
// Caller holds mu.
func (q *Queue) popReady() *entry {
	for len(q.ready) > 0 {
		e := heap.Pop(&q.ready).(*entry)
		if e.removed {
			continue
		}
		q.waiting--
		return e
	}
	return nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

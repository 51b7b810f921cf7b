package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Kind identifies the task variety, mirroring the two Celery task names
// the pipeline needs: the per-attempt fetch loop and the per-batch
// processing task it runs for each stored batch.
type Kind string

const (
	KindFetch   Kind = "connector_indexing_proxy_task"
	KindProcess Kind = "docprocessing_task"
)

// Broker is the task-dispatch abstraction pkg/controller and
// pkg/watchdog depend on; Queue is its in-process reference
// implementation. A deployment backed by an external broker (SQS,
// Redis streams, Celery itself) implements Broker instead.
type Broker interface {
	Enqueue(ctx context.Context, t Task) error
	Dequeue(ctx context.Context) (Task, bool)
}

var _ Broker = (*Queue)(nil)

// Task is one unit of dispatched work.
type Task struct {
	ID               string
	Kind             Kind
	CCPairID         int64
	SearchSettingsID int64
	AttemptID        int64
	BatchNum         int
	EnqueuedAt       time.Time
}

// Queue is a bounded, in-process work queue: each Task delivered to
// exactly one Dequeue caller.
type Queue struct {
	mu      sync.Mutex
	ch      chan Task
	stopped bool
}

// New creates a Queue buffering up to capacity pending tasks.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan Task, capacity)}
}

// Enqueue submits a task. It returns an error if the queue has been
// closed or ctx is done before the task can be buffered.
func (q *Queue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return fmt.Errorf("queue: closed")
	}
	q.mu.Unlock()

	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a task is available, ctx is done, or the queue
// is closed (in which case ok is false).
func (q *Queue) Dequeue(ctx context.Context) (task Task, ok bool) {
	select {
	case t, open := <-q.ch:
		return t, open
	case <-ctx.Done():
		return Task{}, false
	}
}

// Len reports the number of tasks currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops further Enqueue calls and closes the delivery channel
// once drained. Safe to call once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.ch)
}

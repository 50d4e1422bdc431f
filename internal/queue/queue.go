// Package queue implements the bounded FIFO task queue that is the sole
// coupling between HTTP ingress and the writer pool. It is a mutex plus
// two condition variables (not-empty, not-full) rather than a bare Go
// channel, so that try_push's "refuse immediately once stopped or full"
// semantics and pop's "stopped and drained" sentinel are both exact and
// race-free under multiple producers and consumers.
package queue

import (
	"container/list"
	"sync"

	"github.com/sensorpulse/ingest/internal/domain"
	"github.com/sensorpulse/ingest/internal/metrics"
)

// Queue is a bounded, strict-FIFO, multi-producer/multi-consumer queue of
// domain.EnqueuedTask. Capacity must be > 0.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    *list.List
	capacity int
	stopped  bool

	metrics *metrics.Metrics
}

// New constructs a Queue with the given capacity. Panics if capacity <= 0:
// a zero-capacity queue can never accept a push.
func New(capacity int, m *metrics.Metrics) *Queue {
	if capacity <= 0 {
		panic("queue: capacity must be > 0")
	}
	q := &Queue{
		items:    list.New(),
		capacity: capacity,
		metrics:  m,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push blocks until capacity is available or the queue is stopped.
// Returns false if the queue was (or became) stopped before the task
// could be placed.
func (q *Queue) Push(task *domain.EnqueuedTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.stopped && q.items.Len() >= q.capacity {
		q.notFull.Wait()
	}
	if q.stopped {
		return false
	}
	q.items.PushBack(task)
	q.metrics.IncQueueDepth()
	q.notEmpty.Signal()
	return true
}

// TryPush succeeds iff the queue is not stopped and has spare capacity;
// otherwise it fails immediately without blocking. This is what HTTP
// ingress uses.
func (q *Queue) TryPush(task *domain.EnqueuedTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.items.Len() >= q.capacity {
		return false
	}
	q.items.PushBack(task)
	q.metrics.IncQueueDepth()
	q.notEmpty.Signal()
	return true
}

// Pop blocks until a task is available or the queue is stopped and
// drained, in which case it returns (nil, false). Ordering is strict
// FIFO; under steady offered load no consumer starves indefinitely since
// Signal wakes exactly one waiter per push and every waiter re-checks the
// predicate.
func (q *Queue) Pop() (*domain.EnqueuedTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.stopped && q.items.Len() == 0 {
		q.notEmpty.Wait()
	}
	if q.items.Len() == 0 {
		return nil, false
	}
	front := q.items.Front()
	q.items.Remove(front)
	q.metrics.DecQueueDepth()
	q.notFull.Signal()
	return front.Value.(*domain.EnqueuedTask), true
}

// Stop is idempotent. It marks the queue stopped and wakes every blocked
// waiter; subsequent TryPush calls always fail.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.stopped = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len returns the current number of resident tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Stopped reports whether Stop has been called.
func (q *Queue) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned when the queue is at capacity
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueClosed is returned when operations are attempted on a closed queue
	ErrQueueClosed = errors.New("queue is closed")
)

// Queue is a blocking FIFO queue. Dequeue waits for items; Enqueue waits for
// space when the queue is bounded.
type Queue[T any] struct {
	items   []T
	maxSize int // 0 means unbounded

	// Synchronization
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	closed bool
	stats  Stats
}

// Stats tracks queue metrics
type Stats struct {
	TotalEnqueued int64
	TotalDequeued int64
	TotalCleared  int64
	CurrentSize   int
	PeakSize      int
	LastEnqueue   time.Time
	LastDequeue   time.Time
}

// New creates a queue holding at most maxSize items. Zero or less means
// unbounded.
func New[T any](maxSize int) *Queue[T] {
	if maxSize < 0 {
		maxSize = 0
	}
	q := &Queue[T]{maxSize: maxSize}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends item, waiting for space if the queue is full.
func (q *Queue[T]) Enqueue(item T) error {
	return q.EnqueueBatch([]T{item})
}

// EnqueueBatch appends items contiguously, so no other producer's item can
// land between them. A batch larger than the capacity fails with
// ErrQueueFull.
func (q *Queue[T]) EnqueueBatch(items []T) error {
	if len(items) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.maxSize > 0 && len(items) > q.maxSize {
		return ErrQueueFull
	}

	// Apply backpressure - wait for space
	for q.maxSize > 0 && len(q.items)+len(items) > q.maxSize && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, items...)
	q.stats.TotalEnqueued += int64(len(items))
	q.stats.LastEnqueue = time.Now()
	if len(q.items) > q.stats.PeakSize {
		q.stats.PeakSize = len(q.items)
	}

	q.notEmpty.Broadcast()
	return nil
}

// Dequeue removes and returns the oldest item, waiting while the queue is
// empty.
func (q *Queue[T]) Dequeue() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}

	var zero T
	if q.closed {
		return zero, ErrQueueClosed
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	q.stats.TotalDequeued++
	q.stats.LastDequeue = time.Now()
	q.notFull.Signal()

	return item, nil
}

// DequeueContext is Dequeue that gives up when ctx is done.
func (q *Queue[T]) DequeueContext(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	for len(q.items) == 0 && !q.closed {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		q.notEmpty.Wait()
	}
	if q.closed {
		return zero, ErrQueueClosed
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	q.stats.TotalDequeued++
	q.stats.LastDequeue = time.Now()
	q.notFull.Signal()

	return item, nil
}

// Size returns the number of queued items.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Each calls fn for every queued item, oldest first, while holding the
// queue lock. fn must not call back into the queue.
func (q *Queue[T]) Each(fn func(T)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		fn(item)
	}
}

// Clear removes and returns every queued item.
func (q *Queue[T]) Clear() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	q.stats.TotalCleared += int64(len(items))

	// Signal that queue has space
	q.notFull.Broadcast()
	return items
}

// GetStats returns current queue statistics.
func (q *Queue[T]) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats
	stats.CurrentSize = len(q.items)
	return stats
}

// Close wakes every waiter and rejects further operations. Items still
// queued stay available through Clear.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	// Wake up any waiting goroutines
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

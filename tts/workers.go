package tts

import (
	"sync"

	"github.com/sourcegraph/conc/pool"
)

// DefaultWorkers is the default capacity of a WorkerPool.
const DefaultWorkers = 8

// WorkerPool is the bounded goroutine pool shared by every engine for
// generation callbacks. Go blocks while all workers are busy.
type WorkerPool struct {
	mu     sync.RWMutex
	pool   *pool.Pool
	closed bool
	size   int
}

// NewWorkerPool creates a pool running at most size tasks at once.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = DefaultWorkers
	}
	return &WorkerPool{
		pool: pool.New().WithMaxGoroutines(size),
		size: size,
	}
}

// Size returns the pool capacity.
func (w *WorkerPool) Size() int {
	return w.size
}

// Go runs fn on the pool. It reports false when the pool is closed.
func (w *WorkerPool) Go(fn func()) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	w.pool.Go(fn)
	return true
}

// Close waits for running tasks and rejects new ones.
func (w *WorkerPool) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.pool.Wait()
}

package media

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Worker is one long-lived media execution context. The pool is sized to
// hardware parallelism at startup and never resized at runtime.
type Worker struct {
	ID int

	routerCount atomic.Int64

	died chan struct{}
	once sync.Once
}

// NewWorkerPool creates size workers; size <= 0 falls back to NumCPU
func NewWorkerPool(size int) []*Worker {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	workers := make([]*Worker, size)
	for i := range workers {
		workers[i] = &Worker{
			ID:   i,
			died: make(chan struct{}),
		}
	}
	return workers
}

// Died is closed when the worker dies. A dead worker is never respawned:
// the adapter exits the whole process so an external supervisor restarts it.
func (w *Worker) Died() <-chan struct{} {
	return w.died
}

// Kill marks the worker as dead
func (w *Worker) Kill() {
	w.once.Do(func() {
		close(w.died)
	})
}

// RouterCount returns the number of routers currently hosted on this worker
func (w *Worker) RouterCount() int64 {
	return w.routerCount.Load()
}

package eventlog

import (
	"errors"
	"sync"
)

// errQueueClosed is returned when work is submitted after close.
var errQueueClosed = errors.New("writer queue closed")

// writerQueue serializes all log mutations onto a single goroutine. Each
// insert-evict-persist step runs to completion before the next starts.
type writerQueue struct {
	mu     sync.RWMutex
	q      chan func()
	closed bool
	done   chan struct{}
}

func newWriterQueue(queueSize int) *writerQueue {
	if queueSize <= 0 {
		queueSize = 64
	}
	w := &writerQueue{
		q:    make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for fn := range w.q {
			if fn != nil {
				fn()
			}
		}
	}()
	return w
}

// call runs fn on the writer goroutine and waits for it to finish.
func (w *writerQueue) call(fn func()) error {
	finished := make(chan struct{})
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return errQueueClosed
	}
	w.q <- func() {
		defer close(finished)
		fn()
	}
	w.mu.RUnlock()
	<-finished
	return nil
}

// close stops accepting work, drains what was queued and waits for the
// writer goroutine to exit.
func (w *writerQueue) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.q)
	}
	w.mu.Unlock()
	<-w.done
}

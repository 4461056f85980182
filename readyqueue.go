package corun

import "sync"

// readyQueue is the scheduler's FIFO of runnable flows. It is the one
// structure safe to touch from outside the dispatch-loop goroutine:
// Spawn and flow wake-ups on other goroutines push into it, while the
// dispatch loop alone drains it. The double-buffer swap under a single
// mutex mirrors gaio's pendingCreate/pendingProcessing pattern in
// watcher.go, which exists for the same reason — avoid holding the
// lock while the drained items are processed.
type readyQueue struct {
	mu      sync.Mutex
	pending []*Flow
	notify  chan struct{}
}

func newReadyQueue(capHint int) *readyQueue {
	if capHint <= 0 {
		capHint = 256
	}
	return &readyQueue{
		pending: make([]*Flow, 0, capHint),
		notify:  make(chan struct{}, 1),
	}
}

// push enqueues f. Safe from any goroutine.
func (q *readyQueue) push(f *Flow) {
	q.mu.Lock()
	q.pending = append(q.pending, f)
	q.mu.Unlock()
	q.wake()
}

// wake signals a blocked drain without blocking itself.
func (q *readyQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain detaches and returns everything currently pending, leaving the
// queue empty. Only the dispatch loop calls this.
func (q *readyQueue) drain() []*Flow {
	q.mu.Lock()
	items := q.pending
	q.pending = make([]*Flow, 0, cap(items))
	q.mu.Unlock()
	return items
}

// len reports the number of flows currently queued but not yet drained.
// Used by the I/O driver to decide whether to poll with a zero timeout.
func (q *readyQueue) len() int {
	q.mu.Lock()
	n := len(q.pending)
	q.mu.Unlock()
	return n
}

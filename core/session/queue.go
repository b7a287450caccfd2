package session

import (
	"sync"

	"github.com/trezcool/masomo-proctor/core/integrity"
)

// violationQueue is an unbounded FIFO between a session's Reporter and its delivery goroutine.
// push never blocks nor drops.
type violationQueue struct {
	mu     sync.Mutex
	items  []integrity.Violation
	closed bool
	ready  chan struct{}
}

func newViolationQueue() *violationQueue {
	return &violationQueue{ready: make(chan struct{}, 1)}
}

func (q *violationQueue) push(v integrity.Violation) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
}

// close lets next drain what is queued, then report false.
func (q *violationQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *violationQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// next blocks until violations are queued and returns all of them, oldest first.
// It returns false once the queue is closed and empty.
func (q *violationQueue) next() ([]integrity.Violation, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			batch := q.items
			q.items = nil
			q.mu.Unlock()
			return batch, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.ready
	}
}

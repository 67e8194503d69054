package queue

import (
	"sync"
)

// MPSCQueue is a multi-producer single-consumer batch queue. Producers
// Push individual elements; the single consumer Pops them in batches.
type MPSCQueue[T any] struct {
	in         []T
	out        []T
	mu         sync.Mutex
	cond       *sync.Cond
	maxSize    int
	shrinkSize int
	closed     bool
}

// NewMPSCQueue returns a queue holding at most maxSize pending elements
// (0 means unbounded). A consumer batch whose capacity grew past
// shrinkSize is dropped instead of reused.
func NewMPSCQueue[T any](maxSize, shrinkSize int) *MPSCQueue[T] {
	q := &MPSCQueue[T]{
		maxSize:    maxSize,
		shrinkSize: shrinkSize,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v. It reports false if the queue is closed or full.
func (q *MPSCQueue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed || (q.maxSize > 0 && len(q.in) >= q.maxSize) {
		q.mu.Unlock()
		return false
	}
	q.in = append(q.in, v)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// Close rejects further pushes. Pending elements stay poppable.
func (q *MPSCQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until elements are available and returns them as a batch.
// It returns ok == false once the queue is closed and drained. The
// batch is only valid until the next Pop.
func (q *MPSCQueue[T]) Pop() (batch []T, ok bool) {
	q.clearOrShrinkOut()
	q.mu.Lock()
	for len(q.in) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.in) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	q.in, q.out = q.out, q.in
	q.mu.Unlock()
	return q.out, true
}

func (q *MPSCQueue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.in)
}

func (q *MPSCQueue[T]) clearOrShrinkOut() {
	if q.shrinkSize == 0 || cap(q.out) < q.shrinkSize {
		q.out = q.out[0:0]
	} else {
		q.out = nil
	}
}

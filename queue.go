package kvrpc

import (
	"context"
	"io"
	"sync"
)

// Queue is an unbounded FIFO queue safe for concurrent use. Push never
// blocks; Pop blocks until an item is available, the queue is closed and
// drained, or the context is done.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	// ready is closed and replaced whenever the queue gains an item or
	// is closed, waking every waiting Pop.
	ready chan struct{}
}

// NewQueue returns an empty open queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{})}
}

// Push appends v. It returns ErrQueueClosed after Close.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, v)
	q.wake()
	return nil
}

// Pop removes and returns the oldest item. Once the queue is closed and
// empty it returns io.EOF, even if ctx is done as well.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, io.EOF
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			// a queue closed concurrently with cancellation reports EOF
			if q.Closed() && q.Len() == 0 {
				return zero, io.EOF
			}
			return zero, ctx.Err()
		}
	}
}

// Close stops further pushes. Items already queued can still be popped.
// Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wake()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) wake() {
	close(q.ready)
	q.ready = make(chan struct{})
}

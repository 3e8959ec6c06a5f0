// Package queue provides the FIFO that hands mini-batches from the producer
// goroutine to the consumer goroutine of a training session.
//
// Push never blocks. Pop blocks until an item is available or the queue is
// closed. A popped item belongs to the caller; the queue keeps no reference.
// WaitBelow lets a producer sleep until the consumer has drained the queue
// under a watermark, instead of polling.
package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("queue: closed")

// Queue is an unbounded FIFO synchronized by a condition variable.
// The zero value is not usable; call New.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	closed bool
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v and wakes waiters.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.cond.Broadcast()
	return nil
}

// Pop removes and returns the oldest item, blocking while the queue is empty.
// It returns ok == false once the queue is closed and empty.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.len() == 0 {
		return v, false
	}
	v = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items, q.head = q.items[:0], 0
	}
	q.cond.Broadcast()
	return v, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}

func (q *Queue[T]) len() int { return len(q.items) - q.head }

// WaitBelow blocks until fewer than n items are queued. It returns false when
// the queue was closed.
func (q *Queue[T]) WaitBelow(n int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.len() >= n && !q.closed {
		q.cond.Wait()
	}
	return !q.closed
}

// Close wakes every waiter. Items already queued can still be popped.
// Closing twice is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain removes and returns every queued item without blocking.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]T(nil), q.items[q.head:]...)
	clear(q.items)
	q.items, q.head = q.items[:0], 0
	q.cond.Broadcast()
	return out
}

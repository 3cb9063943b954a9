// Package queue provides the unbounded FIFO hand-off queues that decouple the
// hub's blocking I/O goroutines from its processing goroutines.
package queue

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded, goroutine-safe FIFO. Put never blocks; Get blocks for
// at most the given timeout.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Put appends item to the tail of the queue.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
}

// Get removes and returns the head of the queue. It returns false when the
// timeout elapses or ctx is cancelled before an item is available.
func (q *Queue[T]) Get(ctx context.Context, timeout time.Duration) (T, bool) {
	if item, ok := q.pop(); ok {
		return item, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if item, ok := q.pop(); ok {
				return item, true
			}
		case <-timer.C:
			return q.pop()
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	// Wake another waiter if work remains.
	if len(q.items) > 0 {
		q.signal()
	}
	return item, true
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

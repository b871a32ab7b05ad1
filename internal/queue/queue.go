// Package queue provides a bounded, thread-safe FIFO used to retain
// the most recent items of a stream, e.g. autopilot status messages.
package queue

import (
	"sync"
)

// Bounded is a generic thread-safe FIFO that holds at most maxLen
// items; pushing past capacity evicts the oldest item.
type Bounded[T any] struct {
	mu     sync.Mutex
	items  []T
	maxLen int
}

// NewBounded creates an empty queue holding at most maxLen items.
// maxLen values below 1 are treated as 1.
func NewBounded[T any](maxLen int) *Bounded[T] {
	if maxLen < 1 {
		maxLen = 1
	}
	return &Bounded[T]{
		items:  make([]T, 0, maxLen),
		maxLen: maxLen,
	}
}

// Push appends items, evicting the oldest entries once capacity is
// exceeded.
func (q *Bounded[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	if over := len(q.items) - q.maxLen; over > 0 {
		q.items = append(q.items[:0:0], q.items[over:]...)
	}
}

// Pop removes and returns the oldest item. Returns zero value if empty.
func (q *Bounded[T]) Pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// Len returns the number of items in the queue.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty returns true if the queue has no items.
func (q *Bounded[T]) Empty() bool {
	return q.Len() == 0
}

// Clear removes all items from the queue.
func (q *Bounded[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}

// Snapshot returns a copy of the queued items, oldest first.
func (q *Bounded[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

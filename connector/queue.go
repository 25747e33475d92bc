package connector

import (
	"context"
	"sync"
)

const queueCompactThreshold = 1024

var _ Backlog[any] = (*Queue[any])(nil)

// Queue is an unbounded [Backlog]. Offer never blocks and never fails
// unless the queue is closed.
type Queue[T any] struct {
	mux sync.Mutex

	items []T
	head  int

	closed   bool
	closedCh chan struct{}

	notEmpty signal
}

// NewQueue returns a new empty [Queue].
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		items: []T{},

		closedCh: make(chan struct{}),
		notEmpty: newSignal(),
	}
}

// Offer appends an item to the queue.
//
// Returns [ErrClosed] if the [Queue] is closed.
func (q *Queue[T]) Offer(item T) error {
	q.mux.Lock()

	if q.closed {
		q.mux.Unlock()
		return ErrClosed
	}

	q.items = append(q.items, item)
	q.mux.Unlock()

	q.notEmpty.notify()

	return nil
}

// Poll removes the head of the queue, if any.
func (q *Queue[T]) Poll() (T, bool) {
	item, ok, remaining := q.pop()

	// Pass the wake-up along, another consumer may be waiting
	if remaining {
		q.notEmpty.notify()
	}

	return item, ok
}

func (q *Queue[T]) pop() (item T, ok, remaining bool) {
	q.mux.Lock()
	defer q.mux.Unlock()

	if q.head == len(q.items) {
		return item, false, false
	}

	item = q.items[q.head]

	// Release the reference held by the slot
	var zero T
	q.items[q.head] = zero
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0

	case q.head >= queueCompactThreshold && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	return item, true, q.head < len(q.items)
}

// Take removes the head of the queue, waiting if necessary.
//
// Returns the context error if the context is done before an item
// is available, or [ErrClosed] if the [Queue] is closed and empty.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	for {
		if item, ok := q.Poll(); ok {
			return item, nil
		}

		select {
		case <-q.closedCh:
			// Drain what was offered before closing
			if item, ok := q.Poll(); ok {
				return item, nil
			}
			var zero T
			return zero, ErrClosed

		default:
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()

		case <-q.closedCh:
		case <-q.notEmpty:
		}
	}
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mux.Lock()
	defer q.mux.Unlock()

	return len(q.items) - q.head
}

// Close marks the [Queue] as closed and wakes up every waiting consumer.
func (q *Queue[T]) Close() {
	q.mux.Lock()
	defer q.mux.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.closedCh)
}

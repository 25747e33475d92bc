// Package connector contains the backlogs buffering the work of a stage.
package connector

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when the backlog is closed.
	ErrClosed = errors.New("connector: backlog is closed")
	// ErrFull is returned by a bounded backlog that cannot accept more items.
	ErrFull = errors.New("connector: backlog is full")
)

// Backlog is a thread-safe FIFO with multiple producers and multiple consumers.
type Backlog[T any] interface {
	// Offer appends an item without blocking.
	// It returns [ErrFull] when a bounded backlog has no space left
	// and [ErrClosed] when the backlog is closed.
	Offer(item T) error
	// Take removes the head of the backlog, waiting until an item is
	// available, the context is done, or the backlog is closed and empty.
	Take(ctx context.Context) (T, error)
	// Poll removes the head of the backlog without waiting.
	// It returns false if the backlog is empty.
	Poll() (T, bool)
	// Len returns the number of buffered items.
	Len() int
	// Close closes the backlog. Buffered items can still be taken or polled.
	Close()
}

// signal is a wake-up channel with a single pending notification.
type signal chan struct{}

func newSignal() signal {
	return make(signal, 1)
}

func (s signal) notify() {
	select {
	case s <- struct{}{}:
	default:
	}
}

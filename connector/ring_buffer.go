package connector

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

var _ Backlog[any] = (*RingBuffer[any])(nil)

type slot[T any] struct {
	dataReady atomic.Bool
	data      T
}

// RingBuffer is a bounded lock-free [Backlog].
// Its capacity is rounded up to the next power of two.
type RingBuffer[T any] struct {
	// headTail is a uint64 where the top 32 bits are head and the bottom 32 bits are tail.
	// This allows us to atomically read both head and tail in a single load.
	headTail atomic.Uint64

	// used to avoid false sharing
	_ cpu.CacheLinePad

	// closed is used to indicate that the buffer is closed.
	closed atomic.Bool

	_ cpu.CacheLinePad

	capacity uint32
	capMask  uint32

	closeOnce sync.Once
	closedCh  chan struct{}

	notEmpty signal

	// buffer is a ring buffer of slots
	buffer []slot[T]
}

// NewRingBuffer returns a new [RingBuffer] holding at least capacity items.
func NewRingBuffer[T any](capacity uint32) *RingBuffer[T] {
	if capacity < 2 {
		capacity = 2
	}

	capacity--
	capacity |= capacity >> 1
	capacity |= capacity >> 2
	capacity |= capacity >> 4
	capacity |= capacity >> 8
	capacity |= capacity >> 16
	capacity++

	return &RingBuffer[T]{
		capacity: capacity,
		capMask:  capacity - 1,

		closedCh: make(chan struct{}),
		notEmpty: newSignal(),

		buffer: make([]slot[T], capacity),
	}
}

func (rb *RingBuffer[T]) pack(head, tail uint32) uint64 {
	const mask = 1<<32 - 1
	return (uint64(head)<<32 | uint64(tail&mask))
}

func (rb *RingBuffer[T]) unpack(headTail uint64) (head, tail uint32) {
	const mask = 1<<32 - 1
	head = uint32((headTail >> 32) & mask)
	tail = uint32(headTail & mask)
	return
}

func (rb *RingBuffer[T]) push(item T) bool {
	for {
		headTail := rb.headTail.Load()
		head, tail := rb.unpack(headTail)

		if head-tail >= rb.capacity {
			return false
		}

		slot := &rb.buffer[head&rb.capMask]

		// If dataReady is true, it means this slot hasn't been consumed yet
		if slot.dataReady.Load() {
			runtime.Gosched()
			continue
		}

		// Claim this slot by advancing head pointer
		if !rb.headTail.CompareAndSwap(headTail, rb.pack(head+1, tail)) {
			runtime.Gosched()
			continue
		}

		slot.data = item
		slot.dataReady.Store(true)

		return true
	}
}

func (rb *RingBuffer[T]) pop() (T, bool) {
	for {
		headTail := rb.headTail.Load()
		head, tail := rb.unpack(headTail)

		if head == tail {
			return *new(T), false
		}

		slot := &rb.buffer[tail&rb.capMask]

		// The producer claimed the slot but has not written it yet
		if !slot.dataReady.Load() {
			runtime.Gosched()
			continue
		}

		// Try to claim this slot for reading by advancing tail
		if !rb.headTail.CompareAndSwap(headTail, rb.pack(head, tail+1)) {
			runtime.Gosched()
			continue
		}

		item := slot.data

		// Mark slot as available for reuse
		slot.data = *new(T)
		slot.dataReady.Store(false)

		return item, true
	}
}

// Offer adds an item to the [RingBuffer] without blocking.
//
// Returns [ErrFull] if there is no space left
// and [ErrClosed] if the [RingBuffer] is closed.
func (rb *RingBuffer[T]) Offer(item T) error {
	if rb.closed.Load() {
		return ErrClosed
	}

	if !rb.push(item) {
		return ErrFull
	}

	rb.notEmpty.notify()

	return nil
}

// Poll removes the head of the [RingBuffer], if any.
func (rb *RingBuffer[T]) Poll() (T, bool) {
	item, ok := rb.pop()
	if ok && rb.Len() > 0 {
		rb.notEmpty.notify()
	}
	return item, ok
}

// Take retrieves an item from the [RingBuffer], waiting if necessary.
//
// Returns the context error if the context is done before an item
// is available, or [ErrClosed] if the [RingBuffer] is closed and empty.
func (rb *RingBuffer[T]) Take(ctx context.Context) (T, error) {
	for {
		if item, ok := rb.Poll(); ok {
			return item, nil
		}

		// The buffer is empty, yield to other goroutines before waiting
		runtime.Gosched()

		if item, ok := rb.Poll(); ok {
			return item, nil
		}

		if rb.closed.Load() {
			if item, ok := rb.Poll(); ok {
				return item, nil
			}
			return *new(T), ErrClosed
		}

		select {
		case <-ctx.Done():
			return *new(T), ctx.Err()

		case <-rb.closedCh:
		case <-rb.notEmpty:
		}
	}
}

// Len returns the number of items in the [RingBuffer].
func (rb *RingBuffer[T]) Len() int {
	head, tail := rb.unpack(rb.headTail.Load())
	return int(head - tail)
}

// Cap returns the capacity of the [RingBuffer].
func (rb *RingBuffer[T]) Cap() int {
	return int(rb.capacity)
}

// Close marks the [RingBuffer] as closed.
func (rb *RingBuffer[T]) Close() {
	rb.closeOnce.Do(func() {
		rb.closed.Store(true)
		close(rb.closedCh)
	})
}

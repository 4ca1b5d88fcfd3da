// Package queue implements the bounded, multi-producer/multi-consumer FIFO
// used twice by the pipeline (InputQueue, OutputQueue). It is genuine
// pipeline concurrency machinery built on channels and a handful of
// synchronisation primitives - not an ambient concern delegated to a
// library (see DESIGN.md for why no lock-free queue package replaces it).
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hbomb79/framepipe/internal/pipeline/errs"
)

// BoundedQueue is a fixed-capacity FIFO. Size is advisory - it may be stale
// by the time a caller observes it, since other goroutines can mutate the
// queue concurrently.
type BoundedQueue[T any] struct {
	items    chan T
	capacity int
	closed   atomic.Bool
	closeFn  sync.Once
}

// NewBoundedQueue constructs a queue with the given capacity. Capacity must
// be >= 1 - the WorkerPool/driver is responsible for rejecting a
// non-positive capacity as a ConfigError before ever reaching here.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &BoundedQueue[T]{
		items:    make(chan T, capacity),
		capacity: capacity,
	}
}

// Put blocks until space is available or timeout elapses. Returns
// errs.ErrQueueClosed if the queue has been closed, or
// errs.ErrQueueFull if the timeout elapses first.
func (q *BoundedQueue[T]) Put(item T, timeout time.Duration) (err error) {
	if q.closed.Load() {
		return errs.ErrQueueClosed
	}

	// Close() can race with the send below (closed.Load() above can observe
	// "not yet closed" the instant before Close runs); recover converts the
	// resulting "send on closed channel" panic into the same ErrQueueClosed
	// a caller would get from losing the race a moment earlier.
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrQueueClosed
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.items <- item:
		return nil
	case <-timer.C:
		if q.closed.Load() {
			return errs.ErrQueueClosed
		}
		return errs.ErrQueueFull
	}
}

// TryPut attempts a non-blocking enqueue. Returns errs.ErrQueueClosed or
// errs.ErrQueueFull immediately if it cannot succeed.
func (q *BoundedQueue[T]) TryPut(item T) (err error) {
	if q.closed.Load() {
		return errs.ErrQueueClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrQueueClosed
		}
	}()

	select {
	case q.items <- item:
		return nil
	default:
		if q.closed.Load() {
			return errs.ErrQueueClosed
		}
		return errs.ErrQueueFull
	}
}

// Get blocks until an item is available or timeout elapses. Once the queue
// is closed, Get continues to drain any buffered items before returning
// errs.ErrQueueClosed.
func (q *BoundedQueue[T]) Get(timeout time.Duration) (T, error) {
	var zero T

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item, ok := <-q.items:
		if !ok {
			return zero, errs.ErrQueueClosed
		}
		return item, nil
	case <-timer.C:
		return zero, errs.ErrQueueEmpty
	}
}

// PutCtx blocks until space is available, ctx is done, or the queue is
// closed - whichever happens first. Used by VIDEO-mode producers, which
// must never drop a frame but must still observe the shared shutdown
// signal at this blocking boundary (spec section 5).
func (q *BoundedQueue[T]) PutCtx(ctx context.Context, item T) (err error) {
	if q.closed.Load() {
		return errs.ErrQueueClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrQueueClosed
		}
	}()

	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReplaceLatest is the CAMERA-mode publish primitive: latest-wins. If the
// queue is full it evicts one stale item before inserting item, so a slow
// consumer never blocks a worker and never sees anything but the newest
// Result.
func (q *BoundedQueue[T]) ReplaceLatest(item T) (err error) {
	if q.closed.Load() {
		return errs.ErrQueueClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrQueueClosed
		}
	}()

	for {
		select {
		case q.items <- item:
			return nil
		default:
			select {
			case <-q.items:
			default:
			}
		}
	}
}

// Close is idempotent. After Close, Put fails with ErrQueueClosed and Get
// drains any remaining buffered items before itself failing with
// ErrQueueClosed.
func (q *BoundedQueue[T]) Close() {
	q.closeFn.Do(func() {
		q.closed.Store(true)
		close(q.items)
	})
}

// Size returns the current length of the queue. Advisory only.
func (q *BoundedQueue[T]) Size() int {
	return len(q.items)
}

// Capacity returns the fixed capacity this queue was constructed with.
func (q *BoundedQueue[T]) Capacity() int {
	return q.capacity
}

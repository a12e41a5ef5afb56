// Package queue implements the transfer queue between export callbacks and
// the single worker goroutine.
//
// The queue is unbounded and never blocks producers: Push appends under a
// short-held mutex and signals the receiver. Exactly one Receiver exists per
// queue, so the single-consumer rule holds by construction. Stop does not
// discard anything; the receiver drains every value pushed before Stop and
// only then returns.
package queue

import (
	"errors"
	"sync"
)

// ErrReceiverTaken is returned when the receiver handle was already handed out
var ErrReceiverTaken = errors.New("queue receiver already taken")

// Sender is the producer side of a queue
type Sender[T any] interface {
	// Push appends v and wakes the receiver. It returns false once the
	// queue is stopped, in which case ownership of v stays with the caller.
	Push(v T) bool
}

// Queue is a mutex-protected FIFO paired with a condition variable
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	head    int
	stopped bool
	taken   bool
}

// New creates an empty queue
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Sender returns the producer handle. It is safe for concurrent use.
func (q *Queue[T]) Sender() Sender[T] {
	return q
}

// Receiver returns the single consumer handle
func (q *Queue[T]) Receiver() (*Receiver[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.taken {
		return nil, ErrReceiverTaken
	}
	q.taken = true
	return &Receiver[T]{q: q}, nil
}

// Push implements Sender
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.cond.Signal()
	return true
}

// Stop sets the stop flag and wakes the receiver. It does not wait for the
// receiver to drain; callers join the receiver goroutine separately.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	q.cond.Broadcast()
}

// Stopped reports whether Stop has been called
func (q *Queue[T]) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Len returns the number of queued values
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// pop removes the oldest value (caller must hold mu and know the queue is non-empty)
func (q *Queue[T]) pop() T {
	var zero T
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		// Reuse the backing array once drained
		q.items = q.items[:0]
		q.head = 0
	}
	return v
}

// Receiver is the consumer side of a queue
type Receiver[T any] struct {
	q *Queue[T]
}

// Run calls fn for every value in push order until the queue is stopped and
// empty. The lock is released while fn runs, so producers never wait behind
// a slow consumer. The stop flag is only consulted when the queue is
// observed empty.
func (r *Receiver[T]) Run(fn func(T)) {
	q := r.q
	q.mu.Lock()
	for {
		for q.head < len(q.items) {
			v := q.pop()
			q.mu.Unlock()

			fn(v)

			q.mu.Lock()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		q.cond.Wait()
	}
}

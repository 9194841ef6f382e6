package queue

import (
	"fmt"
	"sync"
)

// Bounded is a blocking FIFO with a fixed capacity.
type Bounded[T any] struct {
	mu       sync.Mutex
	notEmpty sync.Cond
	notFull  sync.Cond

	buf      []T
	capacity int
	head     int
	size     int
	closed   bool

	highWater int
	pushed    uint64
	popped    uint64
	pushWaits uint64
	popWaits  uint64
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Capacity  int
	Len       int
	HighWater int
	Pushed    uint64
	Popped    uint64
	PushWaits uint64
	PopWaits  uint64
}

// New constructs a queue holding at most capacity items.
func New[T any](capacity int) (*Bounded[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	q := &Bounded[T]{buf: make([]T, capacity), capacity: capacity}
	q.notEmpty.L = &q.mu
	q.notFull.L = &q.mu
	return q, nil
}

// Push appends item at the tail, blocking while the queue is full.
// Pushing to a closed queue panics.
func (q *Bounded[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		panic("queue: push on closed queue")
	}
	if q.size == len(q.buf) {
		q.pushWaits++
		for q.size == len(q.buf) {
			q.notFull.Wait()
		}
	}

	q.buf[(q.head+q.size)%len(q.buf)] = item
	q.size++
	q.pushed++
	if q.size > q.highWater {
		q.highWater = q.size
	}
	q.notEmpty.Signal()
}

// Pop removes and returns the head item, blocking while the queue is empty.
// Popping from a closed queue panics.
func (q *Bounded[T]) Pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		panic("queue: pop on closed queue")
	}
	if q.size == 0 {
		q.popWaits++
		for q.size == 0 {
			q.notEmpty.Wait()
		}
	}

	var zero T
	item := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	q.popped++
	q.notFull.Signal()
	return item
}

// Len reports the number of buffered items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap reports the fixed capacity.
func (q *Bounded[T]) Cap() int {
	return q.capacity
}

// Stats returns a snapshot of the queue counters.
func (q *Bounded[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Capacity:  q.capacity,
		Len:       q.size,
		HighWater: q.highWater,
		Pushed:    q.pushed,
		Popped:    q.popped,
		PushWaits: q.pushWaits,
		PopWaits:  q.popWaits,
	}
}

// Close releases the buffer. It must only be called after every producer has
// stopped and every consumer has finished popping. Counters remain readable.
func (q *Bounded[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.closed = true
	pending := q.size
	q.buf = nil
	q.size = 0
	q.head = 0
	if pending > 0 {
		return fmt.Errorf("%w: %d left", ErrNotDrained, pending)
	}
	return nil
}

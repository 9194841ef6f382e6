package queue

import "errors"

var (
	// ErrInvalidCapacity is returned by New when capacity is not positive.
	ErrInvalidCapacity = errors.New("queue capacity must be positive")
	// ErrNotDrained is returned by Close when items are still buffered.
	ErrNotDrained = errors.New("queue closed with pending items")
	// ErrClosed is returned by Close when the queue was already closed.
	ErrClosed = errors.New("queue already closed")
)

// Package queue provides the fixed-capacity handoff queue that connects
// pipeline stages.
//
// Bounded is a blocking FIFO safe for any number of concurrent producers and
// consumers. Push waits while the queue is full and Pop waits while it is
// empty; there is no peek, no priority, and no way to pop without removing.
// Capacity is fixed at construction and must be positive.
//
// The queue never wakes blocked callers on its own: the pipeline guarantees
// every consumer eventually pops an end-of-stream marker, so Close is only
// called once producers have stopped and consumers have drained it. Stats
// exposes counters and the high-water mark so callers can verify that the
// queue never held more than its capacity.
package queue

package pipeline

import (
	"sync/atomic"

	"prism/internal/queue"
)

// envelope wraps an item or the end-of-stream marker.
type envelope[T any] struct {
	item T
	done bool
}

// link is one bounded queue plus its shutdown bookkeeping.
type link[T any] struct {
	name      string
	q         *queue.Bounded[envelope[T]]
	producers atomic.Int64
	fanOut    int

	markersIn  atomic.Int64
	markersOut atomic.Int64
}

func newLink[T any](name string, capacity, producers, consumers int) (*link[T], error) {
	q, err := queue.New[envelope[T]](capacity)
	if err != nil {
		return nil, err
	}
	l := &link[T]{name: name, q: q, fanOut: consumers}
	l.producers.Store(int64(producers))
	return l, nil
}

func (l *link[T]) push(item T) {
	l.q.Push(envelope[T]{item: item})
}

// pop returns the next item, or false once the consumer's marker arrives.
func (l *link[T]) pop() (T, bool) {
	env := l.q.Pop()
	if env.done {
		l.markersOut.Add(1)
		var zero T
		return zero, false
	}
	return env.item, true
}

// producerDone is called once by every producer when it stops writing. The
// last producer pushes one marker per consumer.
func (l *link[T]) producerDone() {
	if l.producers.Add(-1) != 0 {
		return
	}
	for i := 0; i < l.fanOut; i++ {
		l.markersIn.Add(1)
		l.q.Push(envelope[T]{done: true})
	}
}

func (l *link[T]) report() QueueReport {
	return QueueReport{
		Name:       l.name,
		Stats:      l.q.Stats(),
		MarkersIn:  l.markersIn.Load(),
		MarkersOut: l.markersOut.Load(),
	}
}

package pipeline

import "time"

// EventKind classifies an Event.
type EventKind string

const (
	// EventRead fires when the source hands an item to the first queue.
	EventRead EventKind = "read"
	// EventProcessed fires when a step transforms an item successfully.
	EventProcessed EventKind = "processed"
	// EventDropped fires when a step fails to transform an item.
	EventDropped EventKind = "dropped"
	// EventCommitted fires when the sink commits an item.
	EventCommitted EventKind = "committed"
	// EventCommitFailed fires when the sink rejects an item.
	EventCommitFailed EventKind = "commit_failed"
	// EventDiscarded fires for items thrown away by a worker that crashed.
	EventDiscarded EventKind = "discarded"
	// EventWorkerFatal fires when a worker panics.
	EventWorkerFatal EventKind = "worker_fatal"
)

// Event describes one thing that happened to one item.
type Event struct {
	Kind     EventKind
	Stage    string
	Worker   int
	ItemID   int64
	ItemName string
	// Duration is the transform or commit time, when applicable.
	Duration time.Duration
	Err      error
	Time     time.Time
}

// Observer receives events from every worker concurrently. Implementations
// must be safe for concurrent use and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type observers []Observer

func (o observers) Observe(e Event) {
	for _, obs := range o {
		obs.Observe(e)
	}
}

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"prism/internal/stage"
)

type item struct {
	id       int64
	gen      int
	released atomic.Int32
}

func (i *item) ItemID() int64    { return i.id }
func (i *item) ItemName() string { return fmt.Sprintf("item-%d", i.id) }
func (i *item) Release()         { i.released.Add(1) }

// registry tracks every item object created during a test so that release
// counts can be checked after the run.
type registry struct {
	mu    sync.Mutex
	items []*item
}

func (r *registry) add(it *item) *item {
	r.mu.Lock()
	r.items = append(r.items, it)
	r.mu.Unlock()
	return it
}

func (r *registry) all() []*item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*item(nil), r.items...)
}

type sliceSource struct {
	mu       sync.Mutex
	items    []*item
	next     int
	afterEnd int
}

func newSliceSource(reg *registry, n int) *sliceSource {
	src := &sliceSource{}
	for i := 1; i <= n; i++ {
		it := &item{id: int64(i)}
		if reg != nil {
			reg.add(it)
		}
		src.items = append(src.items, it)
	}
	return src
}

func (s *sliceSource) Next(context.Context) (*item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.items) {
		s.afterEnd++
		return nil, false
	}
	it := s.items[s.next]
	s.next++
	return it, true
}

type recordingSink struct {
	mu   sync.Mutex
	seen map[int64]int
	fail map[int64]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{seen: make(map[int64]int), fail: make(map[int64]bool)}
}

func (s *recordingSink) Commit(_ context.Context, it *item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[it.id] {
		return fmt.Errorf("disk full for item %d", it.id)
	}
	s.seen[it.id]++
	return nil
}

func (s *recordingSink) counts() map[int64]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int, len(s.seen))
	for k, v := range s.seen {
		out[k] = v
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func identitySteps(parallelism ...int) []stage.Descriptor[*item] {
	steps := make([]stage.Descriptor[*item], len(parallelism))
	for i, p := range parallelism {
		steps[i] = stage.Descriptor[*item]{
			Name:        fmt.Sprintf("step%d", i+1),
			Parallelism: p,
			Transform:   stage.Identity[*item](),
		}
	}
	return steps
}

// derivingSteps returns steps that emit a new item object per call so that
// release bookkeeping can be observed.
func derivingSteps(reg *registry, parallelism ...int) []stage.Descriptor[*item] {
	steps := identitySteps(parallelism...)
	for i := range steps {
		steps[i].Transform = func(_ context.Context, in *item) (*item, error) {
			return reg.add(&item{id: in.id, gen: in.gen + 1}), nil
		}
	}
	return steps
}

type result struct {
	rep Report
	err error
}

func runWithin(t *testing.T, limit time.Duration, fn func() (Report, error)) (Report, error) {
	t.Helper()
	done := make(chan result, 1)
	go func() {
		rep, err := fn()
		done <- result{rep: rep, err: err}
	}()
	select {
	case res := <-done:
		return res.rep, res.err
	case <-time.After(limit):
		t.Fatalf("pipeline did not terminate within %s", limit)
		return Report{}, nil
	}
}

func assertEachOnce(t *testing.T, sink *recordingSink, n int) {
	t.Helper()
	counts := sink.counts()
	if len(counts) != n {
		t.Fatalf("sink saw %d distinct items, want %d", len(counts), n)
	}
	for id := int64(1); id <= int64(n); id++ {
		if counts[id] != 1 {
			t.Fatalf("item %d committed %d times", id, counts[id])
		}
	}
}

package queue_test

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"prism/internal/queue"
)

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := queue.New[int](capacity); !errors.Is(err, queue.ErrInvalidCapacity) {
			t.Fatalf("capacity %d: expected ErrInvalidCapacity, got %v", capacity, err)
		}
	}
}

func TestPushPopPreservesOrder(t *testing.T) {
	q := mustNew[int](t, 4)
	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			q.Push(round*10 + i)
		}
		for i := 0; i < 4; i++ {
			if got, want := q.Pop(), round*10+i; got != want {
				t.Fatalf("round %d: popped %d, want %d", round, got, want)
			}
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, len=%d", q.Len())
	}
}

func TestPushBlocksWhileFull(t *testing.T) {
	q := mustNew[string](t, 1)
	q.Push("first")

	pushed := make(chan struct{})
	go func() {
		q.Push("second")
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push returned while queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	if got := q.Pop(); got != "first" {
		t.Fatalf("popped %q, want first", got)
	}
	select {
	case <-pushed:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked push was not released by pop")
	}
	if got := q.Pop(); got != "second" {
		t.Fatalf("popped %q, want second", got)
	}
	if stats := q.Stats(); stats.PushWaits != 1 {
		t.Fatalf("expected one recorded push wait, got %d", stats.PushWaits)
	}
}

func TestPopBlocksWhileEmpty(t *testing.T) {
	q := mustNew[int](t, 2)

	result := make(chan int, 1)
	go func() {
		result <- q.Pop()
	}()

	select {
	case v := <-result:
		t.Fatalf("pop returned %d from an empty queue", v)
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(7)
	select {
	case v := <-result:
		if v != 7 {
			t.Fatalf("popped %d, want 7", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked pop was not released by push")
	}
}

func TestConcurrentProducersAndConsumersDeliverEachItemOnce(t *testing.T) {
	const (
		producers   = 4
		consumers   = 3
		perProducer = 500
		total       = producers * perProducer
	)
	q := mustNew[int](t, 8)

	var seen [total]atomic.Int32
	var consumed atomic.Int64
	var wg sync.WaitGroup

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v := q.Pop()
				if v < 0 {
					return
				}
				seen[v].Add(1)
				consumed.Add(1)
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}
	pwg.Wait()
	for c := 0; c < consumers; c++ {
		q.Push(-1)
	}
	wg.Wait()

	if consumed.Load() != total {
		t.Fatalf("consumed %d items, want %d", consumed.Load(), total)
	}
	for i := range seen {
		if n := seen[i].Load(); n != 1 {
			t.Fatalf("item %d delivered %d times", i, n)
		}
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestQueueNeverExceedsCapacity(t *testing.T) {
	for _, capacity := range []int{1, 4, 32} {
		t.Run("capacity_"+strconv.Itoa(capacity), func(t *testing.T) {
			q := mustNew[int](t, capacity)
			stop := make(chan struct{})
			var violations atomic.Int64

			var watcher sync.WaitGroup
			watcher.Add(1)
			go func() {
				defer watcher.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					if q.Len() > capacity {
						violations.Add(1)
					}
				}
			}()

			const items = 2000
			var wg sync.WaitGroup
			for p := 0; p < 3; p++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < items; i++ {
						q.Push(i)
					}
				}()
			}
			for c := 0; c < 2; c++ {
				wg.Add(1)
				go func(share int) {
					defer wg.Done()
					for i := 0; i < share; i++ {
						q.Pop()
					}
				}(items * 3 / 2)
			}
			wg.Wait()
			close(stop)
			watcher.Wait()

			stats := q.Stats()
			if violations.Load() > 0 {
				t.Fatalf("observed length above capacity %d times", violations.Load())
			}
			if stats.HighWater > capacity {
				t.Fatalf("high water %d exceeds capacity %d", stats.HighWater, capacity)
			}
			if stats.Pushed != stats.Popped || stats.Len != 0 {
				t.Fatalf("unbalanced counters: %+v", stats)
			}
		})
	}
}

func TestCloseReportsPendingItems(t *testing.T) {
	q := mustNew[int](t, 2)
	q.Push(1)
	if err := q.Close(); !errors.Is(err, queue.ErrNotDrained) {
		t.Fatalf("expected ErrNotDrained, got %v", err)
	}
	if err := q.Close(); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed on second close, got %v", err)
	}
	if q.Cap() != 2 {
		t.Fatalf("capacity should survive close, got %d", q.Cap())
	}
}

func TestPushAfterClosePanics(t *testing.T) {
	q := mustNew[int](t, 1)
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when pushing to a closed queue")
		}
	}()
	q.Push(1)
}

func mustNew[T any](t *testing.T, capacity int) *queue.Bounded[T] {
	t.Helper()
	q, err := queue.New[T](capacity)
	if err != nil {
		t.Fatalf("New(%d) failed: %v", capacity, err)
	}
	return q
}

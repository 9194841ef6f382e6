package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"prism/internal/logging"
	"prism/internal/services"
	"prism/internal/stage"
)

const testDeadline = 10 * time.Second

func TestRunConservationAcrossTopologies(t *testing.T) {
	tests := []struct {
		name     string
		par      []int
		sink     int
		capacity int
	}{
		{"single step single worker", []int{1}, 0, 1},
		{"all serial capacity one", []int{1, 1, 1, 1}, 0, 1},
		{"uniform fan", []int{2, 2, 2, 2}, 2, 4},
		{"uneven widths", []int{1, 3, 2}, 0, 2},
		{"narrow to wide sink", []int{4, 1}, 5, 1},
		{"wide everywhere", []int{8, 8, 8, 8}, 8, 32},
	}
	for _, tt := range tests {
		for _, n := range []int{0, 1, 57} {
			t.Run(fmt.Sprintf("%s/items_%d", tt.name, n), func(t *testing.T) {
				src := newSliceSource(nil, n)
				sink := newRecordingSink()
				topo := Topology[*item]{Steps: identitySteps(tt.par...), SinkParallelism: tt.sink, QueueCapacity: tt.capacity}

				rep, err := runWithin(t, testDeadline, func() (Report, error) {
					return Run(context.Background(), topo, src, sink)
				})
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				assertEachOnce(t, sink, n)
				if rep.Read != int64(n) || rep.Committed != int64(n) {
					t.Fatalf("report read=%d committed=%d, want %d", rep.Read, rep.Committed, n)
				}
				if src.afterEnd != 1 {
					t.Fatalf("source polled %d times after exhaustion, want 1", src.afterEnd)
				}
				for i, q := range rep.Queues {
					if q.Stats.HighWater > tt.capacity {
						t.Fatalf("queue %s high water %d exceeds capacity %d", q.Name, q.Stats.HighWater, tt.capacity)
					}
					consumers := topo.SinkWorkers()
					if i < len(tt.par) {
						consumers = tt.par[i]
					}
					if q.MarkersIn != int64(consumers) || q.MarkersOut != int64(consumers) {
						t.Fatalf("queue %s markers in=%d out=%d, want %d", q.Name, q.MarkersIn, q.MarkersOut, consumers)
					}
				}
			})
		}
	}
}

func TestRunTenItemsFourStepsTwoWide(t *testing.T) {
	src := newSliceSource(nil, 10)
	sink := newRecordingSink()
	topo := Topology[*item]{Steps: identitySteps(2, 2, 2, 2), SinkParallelism: 2, QueueCapacity: 4}

	rep, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(context.Background(), topo, src, sink)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertEachOnce(t, sink, 10)
	if len(rep.Steps) != 4 {
		t.Fatalf("expected 4 step reports, got %d", len(rep.Steps))
	}
	for _, step := range rep.Steps {
		if step.Processed != 10 || step.Workers != 2 {
			t.Fatalf("step %s processed=%d workers=%d", step.Name, step.Processed, step.Workers)
		}
	}
	if rep.Sink.Workers != 2 {
		t.Fatalf("sink workers = %d, want 2", rep.Sink.Workers)
	}
	wantNames := []string{"source->step1", "step1->step2", "step2->step3", "step3->step4", "step4->sink"}
	for i, q := range rep.Queues {
		if q.Name != wantNames[i] {
			t.Fatalf("queue %d named %q, want %q", i, q.Name, wantNames[i])
		}
	}
}

func TestRunSingleWorkerChainDeliversOneMarkerToSink(t *testing.T) {
	src := newSliceSource(nil, 7)
	sink := newRecordingSink()
	topo := Topology[*item]{Steps: identitySteps(1, 1, 1, 1), SinkParallelism: 1, QueueCapacity: 2}

	rep, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(context.Background(), topo, src, sink)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	last := rep.Queues[len(rep.Queues)-1]
	if last.MarkersIn != 1 || last.MarkersOut != 1 {
		t.Fatalf("sink queue markers in=%d out=%d, want exactly 1", last.MarkersIn, last.MarkersOut)
	}
	if last.Stats.Pushed != 8 || last.Stats.Popped != 8 {
		t.Fatalf("sink queue pushed=%d popped=%d, want 7 items + 1 marker", last.Stats.Pushed, last.Stats.Popped)
	}
	assertEachOnce(t, sink, 7)
}

func TestRunDropsFailedItemsAndContinues(t *testing.T) {
	var logs bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &logs})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	reg := &registry{}
	src := newSliceSource(reg, 5)
	sink := newRecordingSink()
	steps := identitySteps(2, 2, 2, 2)
	steps[1].Transform = func(_ context.Context, in *item) (*item, error) {
		if in.id == 2 || in.id == 5 {
			return nil, services.Wrap(services.ErrTransformation, "step2", "apply", "", fmt.Errorf("corrupt pixels in %d", in.id))
		}
		return in, nil
	}
	events := &eventLog{}
	topo := Topology[*item]{Steps: steps, QueueCapacity: 3}

	rep, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(context.Background(), topo, src, sink, WithLogger(logger), WithObserver(events))
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	counts := sink.counts()
	if len(counts) != 3 {
		t.Fatalf("expected 3 committed items, got %v", counts)
	}
	for _, id := range []int64{1, 3, 4} {
		if counts[id] != 1 {
			t.Fatalf("item %d committed %d times", id, counts[id])
		}
	}
	if rep.Dropped() != 2 || rep.Steps[1].Dropped != 2 {
		t.Fatalf("expected 2 drops at step2, report=%+v", rep.Steps[1])
	}
	if got := events.count(EventDropped); got != 2 {
		t.Fatalf("expected 2 dropped events, got %d", got)
	}
	if got := strings.Count(logs.String(), `"event_type":"item_dropped"`); got != 2 {
		t.Fatalf("expected 2 item_dropped diagnostics, got %d in %s", got, logs.String())
	}
	if !strings.Contains(logs.String(), `"stage":"step2"`) {
		t.Fatalf("diagnostic should name the step: %s", logs.String())
	}
	for _, it := range reg.all() {
		if it.released.Load() != 1 {
			t.Fatalf("item %d released %d times, want 1", it.id, it.released.Load())
		}
	}
}

func TestRunSinkFailureDropsItem(t *testing.T) {
	src := newSliceSource(nil, 6)
	sink := newRecordingSink()
	sink.fail[4] = true
	events := &eventLog{}
	topo := Topology[*item]{Steps: identitySteps(2), SinkParallelism: 3, QueueCapacity: 2}

	rep, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(context.Background(), topo, src, sink, WithObserver(events))
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Committed != 5 || rep.Sink.Dropped != 1 {
		t.Fatalf("committed=%d sink dropped=%d", rep.Committed, rep.Sink.Dropped)
	}
	if events.count(EventCommitFailed) != 1 || events.count(EventCommitted) != 5 {
		t.Fatalf("unexpected events: failed=%d committed=%d", events.count(EventCommitFailed), events.count(EventCommitted))
	}
}

func TestRunReleasesEveryItemOnce(t *testing.T) {
	reg := &registry{}
	src := newSliceSource(reg, 20)
	sink := newRecordingSink()
	topo := Topology[*item]{Steps: derivingSteps(reg, 3, 1, 2), QueueCapacity: 4}

	if _, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(context.Background(), topo, src, sink)
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := reg.all()
	if len(all) != 20*4 {
		t.Fatalf("expected %d item objects, got %d", 20*4, len(all))
	}
	for _, it := range all {
		if it.released.Load() != 1 {
			t.Fatalf("item %d gen %d released %d times", it.id, it.gen, it.released.Load())
		}
	}
}

func TestRunNeverSharesAnItemWithinAStep(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight = map[string]map[int64]bool{}
		overlap  atomic.Bool
	)
	steps := identitySteps(4, 4)
	for i := range steps {
		name := steps[i].Name
		inFlight[name] = map[int64]bool{}
		steps[i].Transform = func(_ context.Context, in *item) (*item, error) {
			mu.Lock()
			if inFlight[name][in.id] {
				overlap.Store(true)
			}
			inFlight[name][in.id] = true
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			delete(inFlight[name], in.id)
			mu.Unlock()
			return in, nil
		}
	}
	src := newSliceSource(nil, 40)
	sink := newRecordingSink()

	if _, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(context.Background(), Topology[*item]{Steps: steps, QueueCapacity: 2}, src, sink)
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if overlap.Load() {
		t.Fatal("an item was processed by two workers of the same step at once")
	}
	assertEachOnce(t, sink, 40)
}

func TestRunWorkerPanicFailsRunWithoutHanging(t *testing.T) {
	steps := identitySteps(2, 2, 2)
	steps[1].Transform = func(_ context.Context, in *item) (*item, error) {
		if in.id == 3 {
			panic("kernel exploded")
		}
		return in, nil
	}
	src := newSliceSource(nil, 30)
	sink := newRecordingSink()
	events := &eventLog{}

	rep, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(context.Background(), Topology[*item]{Steps: steps, QueueCapacity: 1}, src, sink, WithObserver(events))
	})
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if !errors.Is(err, services.ErrWorkerFatal) {
		t.Fatalf("expected ErrWorkerFatal, got %v", err)
	}
	var werr *WorkerError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WorkerError, got %T", err)
	}
	if werr.Stage != "step2" || werr.Panic != "kernel exploded" || len(werr.Stack) == 0 {
		t.Fatalf("unexpected worker error: stage=%s panic=%v stack=%d", werr.Stage, werr.Panic, len(werr.Stack))
	}
	if rep.Fatal != 1 || events.count(EventWorkerFatal) != 1 {
		t.Fatalf("fatal=%d events=%d", rep.Fatal, events.count(EventWorkerFatal))
	}
	if rep.Committed+rep.Discarded()+1 != rep.Read {
		t.Fatalf("accounting mismatch: read=%d committed=%d discarded=%d", rep.Read, rep.Committed, rep.Discarded())
	}
	if int64(events.count(EventDiscarded)) != rep.Discarded() {
		t.Fatalf("discarded events %d != report %d", events.count(EventDiscarded), rep.Discarded())
	}
}

func TestRunSinkPanicFailsRun(t *testing.T) {
	src := newSliceSource(nil, 12)
	sink := SinkFunc[*item](func(_ context.Context, it *item) error {
		if it.id == 5 {
			panic(errors.New("writer corrupted"))
		}
		return nil
	})

	rep, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(context.Background(), Topology[*item]{Steps: identitySteps(1), SinkParallelism: 1, QueueCapacity: 2}, src, sink)
	})
	if !errors.Is(err, services.ErrWorkerFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if rep.Committed != 4 {
		t.Fatalf("expected the 4 items before the crash to commit, got %d", rep.Committed)
	}
	if rep.Sink.Discarded != 7 {
		t.Fatalf("expected 7 discarded items, got %d", rep.Sink.Discarded)
	}
}

func TestRunSourcePanicStillTerminates(t *testing.T) {
	n := 0
	src := SourceFunc[*item](func(context.Context) (*item, bool) {
		n++
		if n > 3 {
			panic("reader lost its file handle")
		}
		return &item{id: int64(n)}, true
	})
	sink := newRecordingSink()

	rep, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(context.Background(), Topology[*item]{Steps: identitySteps(2, 2), QueueCapacity: 1}, src, sink)
	})
	if !errors.Is(err, services.ErrWorkerFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if rep.Read != 3 || rep.Committed != 3 {
		t.Fatalf("read=%d committed=%d, want 3/3", rep.Read, rep.Committed)
	}
}

func TestRunCancelStopsReadingAndDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	src := SourceFunc[*item](func(context.Context) (*item, bool) {
		n++
		if n == 5 {
			cancel()
		}
		return &item{id: int64(n)}, true
	})
	sink := newRecordingSink()

	rep, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(ctx, Topology[*item]{Steps: identitySteps(2, 2), QueueCapacity: 2}, src, sink)
	})
	if err != nil {
		t.Fatalf("cancellation is not an error: %v", err)
	}
	if rep.Read != 5 {
		t.Fatalf("expected source to stop after 5 items, read %d", rep.Read)
	}
	assertEachOnce(t, sink, 5)
}

func TestRunCancelDoesNotReachStepsOrSink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	src := SourceFunc[*item](func(context.Context) (*item, bool) {
		n++
		if n == 5 {
			cancel()
		}
		return &item{id: int64(n)}, true
	})
	steps := identitySteps(2, 2)
	for i := range steps {
		steps[i].Transform = func(ctx context.Context, in *item) (*item, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return in, nil
		}
	}
	sink := newRecordingSink()
	strict := SinkFunc[*item](func(ctx context.Context, it *item) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return sink.Commit(ctx, it)
	})

	rep, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(ctx, Topology[*item]{Steps: steps, QueueCapacity: 2}, src, strict)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Read != 5 || rep.Committed != 5 || rep.Dropped() != 0 {
		t.Fatalf("read=%d committed=%d dropped=%d, want 5/5/0", rep.Read, rep.Committed, rep.Dropped())
	}
	assertEachOnce(t, sink, 5)
}

func TestRunReleasesItemHeldByCrashedWorker(t *testing.T) {
	tests := []struct {
		name  string
		steps func() []stage.Descriptor[*item]
		sink  func(*recordingSink) Sink[*item]
	}{
		{
			name: "step",
			steps: func() []stage.Descriptor[*item] {
				steps := identitySteps(2, 2)
				steps[1].Transform = func(_ context.Context, in *item) (*item, error) {
					if in.id == 7 {
						panic("bad pixel format")
					}
					return in, nil
				}
				return steps
			},
			sink: func(s *recordingSink) Sink[*item] { return s },
		},
		{
			name:  "sink",
			steps: func() []stage.Descriptor[*item] { return identitySteps(1) },
			sink: func(s *recordingSink) Sink[*item] {
				return SinkFunc[*item](func(ctx context.Context, it *item) error {
					if it.id == 4 {
						panic("encoder state corrupted")
					}
					return s.Commit(ctx, it)
				})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &registry{}
			src := newSliceSource(reg, 30)
			topo := Topology[*item]{Steps: tt.steps(), SinkParallelism: 1, QueueCapacity: 2}

			_, err := runWithin(t, testDeadline, func() (Report, error) {
				return Run(context.Background(), topo, src, tt.sink(newRecordingSink()))
			})
			if !errors.Is(err, services.ErrWorkerFatal) {
				t.Fatalf("expected fatal error, got %v", err)
			}
			for _, it := range reg.all() {
				if it.released.Load() != 1 {
					t.Fatalf("item %d released %d times", it.id, it.released.Load())
				}
			}
		})
	}
}

func TestRunRejectsInvalidTopology(t *testing.T) {
	valid := func() Topology[*item] {
		return Topology[*item]{Steps: identitySteps(1, 1), QueueCapacity: 1}
	}
	tests := []struct {
		name   string
		mutate func(*Topology[*item])
	}{
		{"no steps", func(tp *Topology[*item]) { tp.Steps = nil }},
		{"zero capacity", func(tp *Topology[*item]) { tp.QueueCapacity = 0 }},
		{"zero parallelism", func(tp *Topology[*item]) { tp.Steps[1].Parallelism = 0 }},
		{"missing transform", func(tp *Topology[*item]) { tp.Steps[0].Transform = nil }},
		{"missing name", func(tp *Topology[*item]) { tp.Steps[0].Name = " " }},
		{"duplicate name", func(tp *Topology[*item]) { tp.Steps[1].Name = tp.Steps[0].Name }},
		{"reserved name", func(tp *Topology[*item]) { tp.Steps[0].Name = "sink" }},
		{"negative sink", func(tp *Topology[*item]) { tp.SinkParallelism = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := valid()
			tt.mutate(&topo)
			called := false
			src := SourceFunc[*item](func(context.Context) (*item, bool) {
				called = true
				return nil, false
			})
			_, err := Run(context.Background(), topo, src, newRecordingSink())
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if called {
				t.Fatal("source must not be touched when the topology is invalid")
			}
		})
	}

	if _, err := Run[*item](context.Background(), valid(), nil, newRecordingSink()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("nil source: %v", err)
	}
	if _, err := Run[*item](context.Background(), valid(), newSliceSource(nil, 1), nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("nil sink: %v", err)
	}
}

func TestRunObserverSeesEveryTransition(t *testing.T) {
	events := &eventLog{}
	var panicked atomic.Int64
	noisy := ObserverFunc(func(e Event) {
		if e.Kind == EventCommitted && e.ItemID == 1 {
			panicked.Add(1)
			panic("observer bug")
		}
	})
	src := newSliceSource(nil, 9)
	sink := newRecordingSink()

	rep, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(context.Background(), Topology[*item]{Steps: identitySteps(3, 3, 3), QueueCapacity: 4}, src, sink,
			WithObserver(events, noisy), WithRunID("run-42"))
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if events.count(EventRead) != 9 || events.count(EventProcessed) != 27 || events.count(EventCommitted) != 9 {
		t.Fatalf("read=%d processed=%d committed=%d", events.count(EventRead), events.count(EventProcessed), events.count(EventCommitted))
	}
	if panicked.Load() != 1 {
		t.Fatalf("observer panic path not exercised")
	}
	for _, step := range rep.Steps {
		if step.Latency.Count != 9 {
			t.Fatalf("step %s latency samples = %d", step.Name, step.Latency.Count)
		}
	}
}

func TestRunStageLevelOverride(t *testing.T) {
	var logs bytes.Buffer
	logger, err := logging.New(logging.Options{
		Level:          "info",
		Format:         "json",
		Writer:         &logs,
		StageOverrides: map[string]string{"step2": "debug"},
	})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	overrides := logging.ParseOverrides(map[string]string{"step2": "debug"})

	if _, err := runWithin(t, testDeadline, func() (Report, error) {
		return Run(context.Background(), Topology[*item]{Steps: identitySteps(1, 1), QueueCapacity: 1},
			newSliceSource(nil, 2), newRecordingSink(), WithLogger(logger), WithLevelOverrides(overrides))
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := logs.String()
	sawStepDebug := false
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.Contains(line, `"level":"debug"`) && strings.Contains(line, `"stage":"step2"`) {
			sawStepDebug = true
		}
	}
	if !sawStepDebug {
		t.Fatalf("expected debug lines from step2: %s", out)
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.Contains(line, `"level":"debug"`) && !strings.Contains(line, `"stage":"step2"`) {
			t.Fatalf("debug line leaked from another stage: %s", line)
		}
	}
}

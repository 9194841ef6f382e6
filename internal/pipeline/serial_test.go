package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"prism/internal/services"
)

func TestRunSerialMatchesPipeline(t *testing.T) {
	reg := &registry{}
	src := newSliceSource(reg, 12)
	sink := newRecordingSink()
	events := &eventLog{}

	rep, err := RunSerial(context.Background(), derivingSteps(reg, 4, 4), src, sink, WithObserver(events))
	if err != nil {
		t.Fatalf("RunSerial: %v", err)
	}
	assertEachOnce(t, sink, 12)
	if rep.Read != 12 || rep.Committed != 12 {
		t.Fatalf("read=%d committed=%d", rep.Read, rep.Committed)
	}
	for _, step := range rep.Steps {
		if step.Workers != 1 || step.Processed != 12 {
			t.Fatalf("step %s workers=%d processed=%d", step.Name, step.Workers, step.Processed)
		}
	}
	if len(rep.Queues) != 0 {
		t.Fatalf("serial runs have no queues, got %d", len(rep.Queues))
	}
	for _, it := range reg.all() {
		if it.released.Load() != 1 {
			t.Fatalf("item %d gen %d released %d times", it.id, it.gen, it.released.Load())
		}
	}
	if events.count(EventCommitted) != 12 {
		t.Fatalf("committed events = %d", events.count(EventCommitted))
	}
}

func TestRunSerialAbortsOnFirstFailure(t *testing.T) {
	steps := identitySteps(1, 1)
	steps[1].Transform = func(_ context.Context, in *item) (*item, error) {
		if in.id == 3 {
			return nil, errors.New("bad header")
		}
		return in, nil
	}
	src := newSliceSource(nil, 6)
	sink := newRecordingSink()

	rep, err := RunSerial(context.Background(), steps, src, sink)
	if !errors.Is(err, services.ErrTransformation) {
		t.Fatalf("expected transformation error, got %v", err)
	}
	if rep.Read != 3 || rep.Committed != 2 {
		t.Fatalf("read=%d committed=%d, want 3/2", rep.Read, rep.Committed)
	}
	if src.next != 3 {
		t.Fatalf("source should not be read past the failing item, next=%d", src.next)
	}
}

func TestRunSerialRecoversPanics(t *testing.T) {
	steps := identitySteps(1)
	steps[0].Transform = func(context.Context, *item) (*item, error) { panic("boom") }

	rep, err := RunSerial(context.Background(), steps, newSliceSource(nil, 2), newRecordingSink())
	var werr *WorkerError
	if !errors.As(err, &werr) || werr.Stage != "step1" {
		t.Fatalf("expected WorkerError from step1, got %v", err)
	}
	if rep.Fatal != 1 {
		t.Fatalf("fatal = %d", rep.Fatal)
	}
}

func TestRunSerialCommitsItemInHandAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	steps := identitySteps(1, 1)
	steps[0].Transform = func(_ context.Context, in *item) (*item, error) {
		if in.id == 3 {
			cancel()
		}
		return in, nil
	}
	steps[1].Transform = func(ctx context.Context, in *item) (*item, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return in, nil
	}
	src := newSliceSource(nil, 6)
	sink := newRecordingSink()
	strict := SinkFunc[*item](func(ctx context.Context, it *item) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return sink.Commit(ctx, it)
	})

	rep, err := RunSerial(ctx, steps, src, strict)
	if err != nil {
		t.Fatalf("RunSerial: %v", err)
	}
	if rep.Read != 3 || rep.Committed != 3 {
		t.Fatalf("read=%d committed=%d, want 3/3", rep.Read, rep.Committed)
	}
	assertEachOnce(t, sink, 3)
}

func TestRunSerialReleasesItemOnPanic(t *testing.T) {
	reg := &registry{}
	steps := identitySteps(1)
	steps[0].Transform = func(_ context.Context, in *item) (*item, error) {
		if in.id == 2 {
			panic("boom")
		}
		return in, nil
	}

	if _, err := RunSerial(context.Background(), steps, newSliceSource(reg, 4), newRecordingSink()); err == nil {
		t.Fatal("expected worker error")
	}
	for _, it := range reg.all()[:2] {
		if it.released.Load() != 1 {
			t.Fatalf("item %d released %d times", it.id, it.released.Load())
		}
	}
}

func TestRunSerialValidates(t *testing.T) {
	if _, err := RunSerial[*item](context.Background(), nil, newSliceSource(nil, 1), newRecordingSink()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSummarizeLatency(t *testing.T) {
	samples := []float64{0.004, 0.001, 0.002, 0.003}
	got := summarizeLatency(samples)
	if got.Count != 4 {
		t.Fatalf("count = %d", got.Count)
	}
	if got.Max != 4*time.Millisecond {
		t.Fatalf("max = %s", got.Max)
	}
	if diff := got.Mean - 2500*time.Microsecond; diff > time.Microsecond || diff < -time.Microsecond {
		t.Fatalf("mean = %s", got.Mean)
	}
	if got.P50 != 2*time.Millisecond {
		t.Fatalf("p50 = %s", got.P50)
	}
	if samples[0] != 0.004 {
		t.Fatal("input samples were reordered")
	}
	if (summarizeLatency(nil) != LatencyStats{}) {
		t.Fatal("empty samples should summarize to zero")
	}
}

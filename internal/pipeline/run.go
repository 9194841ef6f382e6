package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"prism/internal/logging"
	"prism/internal/services"
)

const (
	sourceName = "source"
	sinkName   = "sink"
)

type run[T any] struct {
	topo      Topology[T]
	links     []*link[T]
	logger    *slog.Logger
	overrides map[string]slog.Level
	observers observers
	runID     string

	mu    sync.Mutex
	fatal []error
}

// Run executes topo, reading from src and committing to sink. It returns
// after the source, every step worker, and every sink worker have exited, in
// that join order.
//
// Topology errors match services.ErrConfiguration and are returned before any
// goroutine starts. Worker panics are joined into the returned error and
// match services.ErrWorkerFatal; the Report is still populated in that case.
// Cancelling ctx stops the source from reading further items; items already
// in flight drain normally.
func Run[T any](ctx context.Context, topo Topology[T], src Source[T], sink Sink[T], opts ...Option) (Report, error) {
	if err := topo.Validate(); err != nil {
		return Report{}, err
	}
	if src == nil {
		return Report{}, configError("source is required")
	}
	if sink == nil {
		return Report{}, configError("sink is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r, err := newRun(topo, buildOptions(opts))
	if err != nil {
		return Report{}, err
	}
	return r.execute(ctx, src, sink)
}

func newRun[T any](topo Topology[T], o runOptions) (*run[T], error) {
	logger := logging.NewComponentLogger(o.logger, "pipeline")
	if o.runID != "" {
		logger = logger.With(logging.String(logging.FieldRunID, o.runID))
	}
	r := &run[T]{
		topo:      topo,
		logger:    logger,
		overrides: o.overrides,
		observers: o.observers,
		runID:     o.runID,
	}

	steps := topo.Steps
	r.links = make([]*link[T], len(steps)+1)
	for i := range r.links {
		from, producers := sourceName, 1
		if i > 0 {
			from, producers = steps[i-1].Name, steps[i-1].Parallelism
		}
		to, consumers := sinkName, topo.SinkWorkers()
		if i < len(steps) {
			to, consumers = steps[i].Name, steps[i].Parallelism
		}
		l, err := newLink[T](from+"->"+to, topo.QueueCapacity, producers, consumers)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "allocate queue", from+"->"+to, err)
		}
		r.links[i] = l
	}
	return r, nil
}

func (r *run[T]) execute(ctx context.Context, src Source[T], sink Sink[T]) (Report, error) {
	started := time.Now()
	ctx = services.WithRunID(ctx, r.runID)
	steps := r.topo.Steps
	sinkWorkers := r.topo.SinkWorkers()

	attrs := []logging.Attr{
		logging.Int("steps", len(steps)),
		logging.Int("queue_capacity", r.topo.QueueCapacity),
		logging.Int("sink_workers", sinkWorkers),
	}
	for _, step := range steps {
		attrs = append(attrs, logging.Int("workers_"+step.Name, step.Parallelism))
	}
	r.logger.Info("pipeline started", logging.Args(attrs...)...)

	// Only the source watches ctx; items already read still reach the sink.
	work := context.WithoutCancel(ctx)

	sourceStats := &workerStats{}
	var sourceWG sync.WaitGroup
	sourceWG.Add(1)
	go func() {
		defer sourceWG.Done()
		r.runSource(ctx, src, sourceStats)
	}()

	stepWGs := make([]sync.WaitGroup, len(steps))
	stepStats := make([][]*workerStats, len(steps))
	for s, step := range steps {
		stepStats[s] = make([]*workerStats, step.Parallelism)
		for w := range step.Parallelism {
			stats := &workerStats{}
			stepStats[s][w] = stats
			stepWGs[s].Add(1)
			go func() {
				defer stepWGs[s].Done()
				r.runStep(work, s, w, stats)
			}()
		}
	}

	sinkStats := make([]*workerStats, sinkWorkers)
	var sinkWG sync.WaitGroup
	for w := range sinkWorkers {
		stats := &workerStats{}
		sinkStats[w] = stats
		sinkWG.Add(1)
		go func() {
			defer sinkWG.Done()
			r.runSink(work, sink, w, stats)
		}()
	}

	sourceWG.Wait()
	for s := range stepWGs {
		stepWGs[s].Wait()
	}
	sinkWG.Wait()

	for _, l := range r.links {
		if err := l.q.Close(); err != nil {
			r.logger.Error("queue not drained at shutdown",
				logging.String(logging.FieldQueue, l.name),
				logging.String(logging.FieldEventType, "queue_leak"),
				logging.Error(err),
			)
			r.record(services.Wrap(services.ErrWorkerFatal, "pipeline", "close queue", l.name, err))
		}
	}

	rep := Report{
		Read:    sourceStats.processed,
		Started: started,
		Elapsed: time.Since(started),
		Sink:    summarizeStage(sinkName, sinkStats),
	}
	for s, step := range steps {
		rep.Steps = append(rep.Steps, summarizeStage(step.Name, stepStats[s]))
	}
	rep.Committed = rep.Sink.Processed
	for _, l := range r.links {
		rep.Queues = append(rep.Queues, l.report())
	}

	r.mu.Lock()
	fatal := append([]error(nil), r.fatal...)
	r.mu.Unlock()
	rep.Fatal = len(fatal)

	summary := logging.Args(
		logging.Int64("read", rep.Read),
		logging.Int64("committed", rep.Committed),
		logging.Int64("dropped", rep.Dropped()),
		logging.Int64("discarded", rep.Discarded()),
		logging.Duration("elapsed", rep.Elapsed),
	)
	if len(fatal) > 0 {
		r.logger.Error("pipeline failed", append(summary,
			logging.Int("fatal_errors", len(fatal)),
			logging.String(logging.FieldEventType, "pipeline_failed"),
			logging.String(logging.FieldErrorHint, "see worker_fatal entries for the panic and stack"),
		)...)
		return rep, errors.Join(fatal...)
	}
	r.logger.Info("pipeline finished", summary...)
	return rep, nil
}

func (r *run[T]) runSource(ctx context.Context, src Source[T], stats *workerStats) {
	out := r.links[0]
	logger := r.stageLogger(sourceName, 0)
	defer out.producerDone()

	for {
		if err := ctx.Err(); err != nil {
			logger.Info("source stopped early",
				logging.String(logging.FieldEventType, "source_cancelled"),
				logging.String(logging.FieldReason, err.Error()),
				logging.Int64("items_read", stats.processed),
			)
			return
		}
		var (
			item T
			ok   bool
		)
		if werr := catch(sourceName, 0, func() { item, ok = src.Next(ctx) }); werr != nil {
			r.fail(logger, werr, 0, "")
			return
		}
		if !ok {
			logger.Debug("source exhausted", logging.Int64("items_read", stats.processed))
			return
		}
		stats.processed++
		id, name := identify(item)
		r.emit(logger, Event{Kind: EventRead, Stage: sourceName, ItemID: id, ItemName: name})
		out.push(item)
	}
}

func (r *run[T]) runStep(ctx context.Context, s, w int, stats *workerStats) {
	step := r.topo.Steps[s]
	in, out := r.links[s], r.links[s+1]
	logger := r.stageLogger(step.Name, w)
	ctx = services.WithWorker(services.WithStage(ctx, step.Name), w)
	defer out.producerDone()

	for {
		item, ok := in.pop()
		if !ok {
			logger.Debug("worker finished",
				logging.Int64("processed", stats.processed),
				logging.Int64("dropped", stats.dropped),
			)
			return
		}
		if err := r.transform(ctx, logger, s, w, item, stats); err != nil {
			r.drain(logger, in, step.Name, w, stats)
			return
		}
	}
}

// transform applies one step to one item and forwards the result. A non-nil
// return means the worker panicked and must stop processing; the item it held
// is released first.
func (r *run[T]) transform(ctx context.Context, logger *slog.Logger, s, w int, item T, stats *workerStats) error {
	step := r.topo.Steps[s]
	out := r.links[s+1]
	id, name := identify(item)

	var (
		result  T
		err     error
		elapsed time.Duration
	)
	werr := catch(step.Name, w, func() {
		start := time.Now()
		result, err = step.Transform(services.WithItemID(ctx, id), item)
		elapsed = time.Since(start)
	})
	if werr != nil {
		release(item)
		r.fail(logger, werr, id, name)
		return werr
	}

	if err != nil {
		release(item)
		stats.dropped++
		logging.WarnWithContext(logger, "item dropped",
			"item_dropped",
			logging.Int64(logging.FieldItemID, id),
			logging.String(logging.FieldItemName, name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the source item; the rest of the run continues"),
		)
		r.emit(logger, Event{Kind: EventDropped, Stage: step.Name, Worker: w, ItemID: id, ItemName: name, Duration: elapsed, Err: err})
		return nil
	}

	supersede(item, result)
	stats.processed++
	stats.observe(elapsed)
	if logger.Enabled(ctx, slog.LevelDebug) {
		logger.Debug("item processed",
			logging.Int64(logging.FieldItemID, id),
			logging.Duration("took", elapsed),
		)
	}
	r.emit(logger, Event{Kind: EventProcessed, Stage: step.Name, Worker: w, ItemID: id, ItemName: name, Duration: elapsed})
	out.push(result)
	return nil
}

func (r *run[T]) runSink(ctx context.Context, sink Sink[T], w int, stats *workerStats) {
	in := r.links[len(r.links)-1]
	logger := r.stageLogger(sinkName, w)
	ctx = services.WithWorker(services.WithStage(ctx, sinkName), w)

	for {
		item, ok := in.pop()
		if !ok {
			logger.Debug("worker finished",
				logging.Int64("committed", stats.processed),
				logging.Int64("failed", stats.dropped),
			)
			return
		}
		if err := r.commit(ctx, logger, sink, w, item, stats); err != nil {
			r.drain(logger, in, sinkName, w, stats)
			return
		}
	}
}

func (r *run[T]) commit(ctx context.Context, logger *slog.Logger, sink Sink[T], w int, item T, stats *workerStats) error {
	id, name := identify(item)
	var (
		err     error
		elapsed time.Duration
	)
	werr := catch(sinkName, w, func() {
		start := time.Now()
		err = sink.Commit(services.WithItemID(ctx, id), item)
		elapsed = time.Since(start)
	})
	if werr != nil {
		release(item)
		r.fail(logger, werr, id, name)
		return werr
	}
	release(item)

	if err != nil {
		stats.dropped++
		logging.WarnWithContext(logger, "item dropped",
			"item_dropped",
			logging.Int64(logging.FieldItemID, id),
			logging.String(logging.FieldItemName, name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the output destination is writable"),
			logging.String(logging.FieldImpact, "result was computed but not saved"),
		)
		r.emit(logger, Event{Kind: EventCommitFailed, Stage: sinkName, Worker: w, ItemID: id, ItemName: name, Duration: elapsed, Err: err})
		return nil
	}

	stats.processed++
	stats.observe(elapsed)
	r.emit(logger, Event{Kind: EventCommitted, Stage: sinkName, Worker: w, ItemID: id, ItemName: name, Duration: elapsed})
	return nil
}

// drain discards everything up to and including the worker's end marker so
// that upstream producers never block on a queue nobody reads.
func (r *run[T]) drain(logger *slog.Logger, in *link[T], stageName string, w int, stats *workerStats) {
	for {
		item, ok := in.pop()
		if !ok {
			logger.Warn("crashed worker drained its input",
				logging.String(logging.FieldEventType, "worker_drained"),
				logging.Int64("discarded", stats.discarded),
			)
			return
		}
		stats.discarded++
		id, name := identify(item)
		release(item)
		r.emit(logger, Event{Kind: EventDiscarded, Stage: stageName, Worker: w, ItemID: id, ItemName: name})
	}
}

func (r *run[T]) fail(logger *slog.Logger, werr *WorkerError, id int64, name string) {
	r.record(werr)
	logging.ErrorWithContext(logger, "worker crashed",
		"worker_fatal",
		logging.Any(logging.FieldPanic, werr.Panic),
		logging.Int64(logging.FieldItemID, id),
		logging.String(logging.FieldItemName, name),
		logging.String(logging.FieldStack, string(werr.Stack)),
		logging.String(logging.FieldErrorHint, "the run fails once in-flight items drain"),
	)
	r.emit(logger, Event{Kind: EventWorkerFatal, Stage: werr.Stage, Worker: werr.Worker, ItemID: id, ItemName: name, Err: werr})
}

func (r *run[T]) record(err error) {
	r.mu.Lock()
	r.fatal = append(r.fatal, err)
	r.mu.Unlock()
}

// emit delivers an event to the observers. A panicking observer is logged
// and otherwise ignored.
func (r *run[T]) emit(logger *slog.Logger, e Event) {
	if len(r.observers) == 0 {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("observer panicked",
				logging.String(logging.FieldEventType, "observer_panic"),
				logging.String("event", string(e.Kind)),
				logging.Any(logging.FieldPanic, rec),
			)
		}
	}()
	r.observers.Observe(e)
}

func (r *run[T]) stageLogger(stageName string, w int) *slog.Logger {
	return logging.ForStage(r.logger, stageName, r.overrides).With(logging.Int(logging.FieldWorker, w))
}

// catch runs fn and converts a panic into a WorkerError.
func catch(stageName string, worker int, fn func()) (werr *WorkerError) {
	defer func() {
		if rec := recover(); rec != nil {
			werr = &WorkerError{Stage: stageName, Worker: worker, Panic: rec, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}

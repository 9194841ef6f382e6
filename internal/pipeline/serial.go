package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prism/internal/logging"
	"prism/internal/services"
	"prism/internal/stage"
)

// RunSerial applies steps to each item in order on the calling goroutine,
// without queues. It is the reference the concurrent pipeline is checked
// against. Parallelism on the descriptors is ignored and the first
// transformation failure aborts the run. Commit failures are logged and the
// item is dropped, as in Run. Cancelling ctx stops reading; the item in hand
// is still committed.
func RunSerial[T any](ctx context.Context, steps []stage.Descriptor[T], src Source[T], sink Sink[T], opts ...Option) (Report, error) {
	serialSteps := make([]stage.Descriptor[T], len(steps))
	for i, step := range steps {
		step.Parallelism = 1
		serialSteps[i] = step
	}
	topo := Topology[T]{Steps: serialSteps, QueueCapacity: 1, SinkParallelism: 1}
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

	o := buildOptions(opts)
	r := &run[T]{topo: topo, overrides: o.overrides, observers: o.observers, runID: o.runID}
	r.logger = logging.NewComponentLogger(o.logger, "pipeline").With(logging.String("mode", "serial"))
	if o.runID != "" {
		r.logger = r.logger.With(logging.String(logging.FieldRunID, o.runID))
	}
	ctx = services.WithRunID(ctx, o.runID)
	work := context.WithoutCancel(ctx)

	started := time.Now()
	stepStats := make([]*workerStats, len(serialSteps))
	for i := range stepStats {
		stepStats[i] = &workerStats{}
	}
	sinkStats := &workerStats{}
	var read int64

	finish := func(err error) (Report, error) {
		rep := Report{Read: read, Started: started, Elapsed: time.Since(started)}
		for i, step := range serialSteps {
			rep.Steps = append(rep.Steps, summarizeStage(step.Name, []*workerStats{stepStats[i]}))
		}
		rep.Sink = summarizeStage(sinkName, []*workerStats{sinkStats})
		rep.Committed = rep.Sink.Processed
		var werr *WorkerError
		if errors.As(err, &werr) {
			rep.Fatal = 1
		}
		attrs := logging.Args(
			logging.Int64("read", rep.Read),
			logging.Int64("committed", rep.Committed),
			logging.Int64("dropped", rep.Dropped()),
			logging.Duration("elapsed", rep.Elapsed),
		)
		if err != nil {
			r.logger.Error("serial run aborted", append(attrs,
				logging.Error(err),
				logging.String(logging.FieldEventType, "pipeline_failed"),
			)...)
			return rep, err
		}
		r.logger.Info("serial run finished", attrs...)
		return rep, nil
	}

	r.logger.Info("serial run started", logging.Int("steps", len(serialSteps)))
	sourceLogger := r.stageLogger(sourceName, 0)
	for {
		if err := ctx.Err(); err != nil {
			sourceLogger.Info("source stopped early",
				logging.String(logging.FieldEventType, "source_cancelled"),
				logging.String(logging.FieldReason, err.Error()),
			)
			return finish(nil)
		}
		var (
			item T
			ok   bool
		)
		if werr := catch(sourceName, 0, func() { item, ok = src.Next(ctx) }); werr != nil {
			r.fail(sourceLogger, werr, 0, "")
			return finish(werr)
		}
		if !ok {
			return finish(nil)
		}
		read++
		id, name := identify(item)
		r.emit(sourceLogger, Event{Kind: EventRead, Stage: sourceName, ItemID: id, ItemName: name})

		for i, step := range serialSteps {
			logger := r.stageLogger(step.Name, 0)
			stepCtx := services.WithItemID(services.WithWorker(services.WithStage(work, step.Name), 0), id)
			var (
				result  T
				err     error
				elapsed time.Duration
			)
			if werr := catch(step.Name, 0, func() {
				start := time.Now()
				result, err = step.Transform(stepCtx, item)
				elapsed = time.Since(start)
			}); werr != nil {
				release(item)
				r.fail(logger, werr, id, name)
				return finish(werr)
			}
			if err != nil {
				release(item)
				stepStats[i].dropped++
				r.emit(logger, Event{Kind: EventDropped, Stage: step.Name, ItemID: id, ItemName: name, Duration: elapsed, Err: err})
				return finish(abortError(step.Name, id, err))
			}
			supersede(item, result)
			item = result
			stepStats[i].processed++
			stepStats[i].observe(elapsed)
			r.emit(logger, Event{Kind: EventProcessed, Stage: step.Name, ItemID: id, ItemName: name, Duration: elapsed})
		}

		sinkLogger := r.stageLogger(sinkName, 0)
		sinkCtx := services.WithItemID(services.WithWorker(services.WithStage(work, sinkName), 0), id)
		if werr := r.commit(sinkCtx, sinkLogger, sink, 0, item, sinkStats); werr != nil {
			return finish(werr)
		}
	}
}

func abortError(stepName string, id int64, err error) error {
	if errors.Is(err, services.ErrTransformation) {
		return fmt.Errorf("serial run aborted at %s for item %d: %w", stepName, id, err)
	}
	return services.Wrap(services.ErrTransformation, stepName, "serial run", fmt.Sprintf("aborted for item %d", id), err)
}

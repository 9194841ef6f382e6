package pipeline

import (
	"context"
	"fmt"
	"strings"

	"prism/internal/services"
	"prism/internal/stage"
)

// Source yields items to the pipeline. Next is only ever called from one
// goroutine and must keep returning false once exhausted.
type Source[T any] interface {
	Next(ctx context.Context) (T, bool)
}

// Sink commits finished items. Commit is called concurrently by every sink
// worker and must tolerate interleaved calls.
type Sink[T any] interface {
	Commit(ctx context.Context, item T) error
}

// SourceFunc adapts a function to Source.
type SourceFunc[T any] func(ctx context.Context) (T, bool)

func (f SourceFunc[T]) Next(ctx context.Context) (T, bool) { return f(ctx) }

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(ctx context.Context, item T) error

func (f SinkFunc[T]) Commit(ctx context.Context, item T) error { return f(ctx, item) }

// Topology is the static shape of a run.
type Topology[T any] struct {
	Steps []stage.Descriptor[T]
	// SinkParallelism is the number of sink workers. Zero mirrors the
	// parallelism of the last step.
	SinkParallelism int
	QueueCapacity   int
}

// Validate checks the topology before anything is started.
func (t Topology[T]) Validate() error {
	if len(t.Steps) == 0 {
		return configError("at least one step is required")
	}
	if t.QueueCapacity < 1 {
		return configError(fmt.Sprintf("queue capacity must be at least 1, got %d", t.QueueCapacity))
	}
	if t.SinkParallelism < 0 {
		return configError(fmt.Sprintf("sink parallelism must not be negative, got %d", t.SinkParallelism))
	}
	seen := make(map[string]struct{}, len(t.Steps))
	for i, step := range t.Steps {
		name := strings.TrimSpace(step.Name)
		if name == "" {
			return configError(fmt.Sprintf("step %d has no name", i+1))
		}
		if name == sourceName || name == sinkName {
			return configError(fmt.Sprintf("step name %q is reserved", name))
		}
		if _, dup := seen[name]; dup {
			return configError(fmt.Sprintf("step name %q is used twice", name))
		}
		seen[name] = struct{}{}
		if step.Parallelism < 1 {
			return configError(fmt.Sprintf("step %q parallelism must be at least 1, got %d", name, step.Parallelism))
		}
		if step.Transform == nil {
			return configError(fmt.Sprintf("step %q has no transform", name))
		}
	}
	return nil
}

// SinkWorkers resolves the number of sink workers.
func (t Topology[T]) SinkWorkers() int {
	if t.SinkParallelism > 0 {
		return t.SinkParallelism
	}
	if len(t.Steps) == 0 {
		return 1
	}
	return t.Steps[len(t.Steps)-1].Parallelism
}

func configError(message string) error {
	return services.Wrap(services.ErrConfiguration, "pipeline", "validate topology", message, nil)
}

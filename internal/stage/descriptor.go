package stage

import (
	"context"

	"prism/internal/textutil"
)

// Func transforms one item into its successor. It must not keep references
// to its input after returning; the caller releases the input once a result
// (or an error) comes back.
type Func[T any] func(ctx context.Context, item T) (T, error)

// Descriptor is the static description of one pipeline step.
type Descriptor[T any] struct {
	Name        string
	Parallelism int
	Transform   Func[T]
}

// Label returns the title-cased display name of the step.
func (d Descriptor[T]) Label() string {
	return textutil.StageLabel(d.Name)
}

// Identity returns a Func that hands its input straight back.
func Identity[T any]() Func[T] {
	return func(_ context.Context, item T) (T, error) { return item, nil }
}

package stage

import (
	"context"
	"fmt"

	"prism/internal/config"
	"prism/internal/imaging"
	"prism/internal/services"
)

// ImageFunc builds the transformation for the named image step.
func ImageFunc(name string, scaleFactor int) (Func[*imaging.Image], error) {
	var apply func(*imaging.Image) (*imaging.Image, error)
	switch name {
	case config.StepScale:
		apply = func(im *imaging.Image) (*imaging.Image, error) { return imaging.ScaleUp(im, scaleFactor) }
	case config.StepDesaturate:
		apply = imaging.Desaturate
	case config.StepFlip:
		apply = imaging.HorizontalFlip
	case config.StepEdge:
		apply = imaging.Sobel
	default:
		return nil, services.Wrap(services.ErrConfiguration, "stage", "build image step", fmt.Sprintf("unknown step %q", name), nil)
	}
	return func(_ context.Context, im *imaging.Image) (*imaging.Image, error) {
		out, err := apply(im)
		if err != nil {
			return nil, services.Wrap(services.ErrTransformation, name, "apply filter", "", err)
		}
		return out, nil
	}, nil
}

// ImageSteps returns the four image steps in execution order with
// parallelism resolved from cfg.
func ImageSteps(cfg *config.Config) ([]Descriptor[*imaging.Image], error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "stage", "build image steps", "config is required", nil)
	}
	names := config.StepNames()
	steps := make([]Descriptor[*imaging.Image], 0, len(names))
	for _, name := range names {
		fn, err := ImageFunc(name, cfg.Pipeline.ScaleFactor)
		if err != nil {
			return nil, err
		}
		steps = append(steps, Descriptor[*imaging.Image]{
			Name:        name,
			Parallelism: cfg.StepParallelism(name),
			Transform:   fn,
		})
	}
	return steps, nil
}

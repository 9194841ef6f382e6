package pipeline

import (
	"log/slog"

	"prism/internal/logging"
)

// Option configures a run.
type Option func(*runOptions)

type runOptions struct {
	logger    *slog.Logger
	observers observers
	overrides map[string]slog.Level
	runID     string
}

// WithLogger sets the base logger. Runs log nothing without one.
func WithLogger(logger *slog.Logger) Option {
	return func(o *runOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver adds observers that receive every Event.
func WithObserver(obs ...Observer) Option {
	return func(o *runOptions) {
		for _, ob := range obs {
			if ob != nil {
				o.observers = append(o.observers, ob)
			}
		}
	}
}

// WithLevelOverrides sets per-stage minimum log levels, keyed by stage name
// ("source", "sink", or a step name).
func WithLevelOverrides(overrides map[string]slog.Level) Option {
	return func(o *runOptions) { o.overrides = overrides }
}

// WithRunID tags logs and worker contexts with the run identifier.
func WithRunID(id string) Option {
	return func(o *runOptions) { o.runID = id }
}

func buildOptions(opts []Option) runOptions {
	o := runOptions{logger: logging.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

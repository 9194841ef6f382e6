package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"prism/internal/config"
	"prism/internal/logging"
	"prism/internal/services"
)

type runFlags struct {
	input           string
	output          string
	parallelism     int
	stepParallelism []string
	queueCapacity   int
	sinkParallelism int
	serial          bool
	noProgress      bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every image in the input directory",
		Long: `Read images from the input directory, apply scale, desaturate, flip and
edge detection, and write the results to the output directory.

Each step runs with its own worker pool connected by bounded queues. Use
--serial to run the same steps one item at a time without queues.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg, err := flags.apply(base)
			if err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Level:          cfg.Logging.Level,
				Format:         cfg.Logging.Format,
				Writer:         cmd.ErrOrStderr(),
				FilePath:       logFilePath(cfg),
				StageOverrides: cfg.Logging.StageOverrides,
			})
			if err != nil {
				return err
			}

			opts := runOptions{
				serial:   flags.serial,
				progress: !flags.noProgress,
				stdout:   cmd.OutOrStdout(),
				stderr:   cmd.ErrOrStderr(),
			}
			result, runErr := executeRun(cmd.Context(), cfg, logger, opts)
			if result.started {
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderRunSummary(result, shouldColorize(out)))
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&flags.input, "input", "i", "", "Input directory (overrides paths.input_dir)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output directory (overrides paths.output_dir)")
	cmd.Flags().IntVarP(&flags.parallelism, "parallelism", "p", 0, "Workers per step (overrides pipeline.default_parallelism)")
	cmd.Flags().StringArrayVar(&flags.stepParallelism, "step-parallelism", nil, "Workers for one step as name=N (repeatable)")
	cmd.Flags().IntVar(&flags.queueCapacity, "queue-capacity", 0, "Capacity of every inter-stage queue")
	cmd.Flags().IntVar(&flags.sinkParallelism, "sink-parallelism", 0, "Number of output writers (default: last step's workers)")
	cmd.Flags().BoolVar(&flags.serial, "serial", false, "Run the steps sequentially without queues")
	cmd.Flags().BoolVar(&flags.noProgress, "no-progress", false, "Disable the progress bar and progress logs")
	return cmd
}

// apply returns a copy of base with the flag overrides applied and validated.
func (f runFlags) apply(base *config.Config) (*config.Config, error) {
	cfg := *base
	if len(base.Logging.StageOverrides) > 0 {
		cfg.Logging.StageOverrides = make(map[string]string, len(base.Logging.StageOverrides))
		for k, v := range base.Logging.StageOverrides {
			cfg.Logging.StageOverrides[k] = v
		}
	}

	if value := strings.TrimSpace(f.input); value != "" {
		expanded, err := config.ExpandPath(value)
		if err != nil {
			return nil, fmt.Errorf("--input: %w", err)
		}
		cfg.Paths.InputDir = expanded
	}
	if value := strings.TrimSpace(f.output); value != "" {
		expanded, err := config.ExpandPath(value)
		if err != nil {
			return nil, fmt.Errorf("--output: %w", err)
		}
		cfg.Paths.OutputDir = expanded
	}
	if f.parallelism < 0 || f.queueCapacity < 0 || f.sinkParallelism < 0 {
		return nil, services.Wrap(services.ErrConfiguration, "cli", "parse flags", "counts must not be negative", nil)
	}
	if f.parallelism > 0 {
		cfg.Pipeline.DefaultParallelism = f.parallelism
	}
	if f.queueCapacity > 0 {
		cfg.Pipeline.QueueCapacity = f.queueCapacity
	}
	if f.sinkParallelism > 0 {
		cfg.Pipeline.SinkParallelism = f.sinkParallelism
	}
	for _, raw := range f.stepParallelism {
		name, n, err := parseStepParallelism(raw)
		if err != nil {
			return nil, err
		}
		if err := cfg.Pipeline.Parallelism.Set(name, n); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "cli", "--step-parallelism", "", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "cli", "validate", "", err)
	}
	return &cfg, nil
}

func parseStepParallelism(raw string) (string, int, error) {
	name, value, ok := strings.Cut(strings.TrimSpace(raw), "=")
	name = strings.ToLower(strings.TrimSpace(name))
	if !ok || name == "" {
		return "", 0, services.Wrap(services.ErrConfiguration, "cli", "--step-parallelism",
			fmt.Sprintf("expected name=N, got %q", raw), nil)
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 {
		return "", 0, services.Wrap(services.ErrConfiguration, "cli", "--step-parallelism",
			fmt.Sprintf("%s: worker count must be a positive integer", name), nil)
	}
	return name, n, nil
}

package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateJournal(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.QueueCapacity <= 0 {
		return errors.New("pipeline.queue_capacity must be positive")
	}
	if err := ensureNonNegativeMap(map[string]int{
		"pipeline.default_parallelism":    c.Pipeline.DefaultParallelism,
		"pipeline.sink_parallelism":       c.Pipeline.SinkParallelism,
		"pipeline.parallelism.scale":      c.Pipeline.Parallelism.Scale,
		"pipeline.parallelism.desaturate": c.Pipeline.Parallelism.Desaturate,
		"pipeline.parallelism.flip":       c.Pipeline.Parallelism.Flip,
		"pipeline.parallelism.edge":       c.Pipeline.Parallelism.Edge,
	}); err != nil {
		return err
	}
	if c.Pipeline.ScaleFactor < 1 || c.Pipeline.ScaleFactor > maxScaleFactor {
		return fmt.Errorf("pipeline.scale_factor must be between 1 and %d", maxScaleFactor)
	}
	return nil
}

func (c *Config) validateOutput() error {
	switch c.Output.Format {
	case "png":
	case "jpeg":
		if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
			return errors.New("output.jpeg_quality must be between 1 and 100")
		}
	default:
		return fmt.Errorf("output.format: unsupported value %q (want png or jpeg)", c.Output.Format)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if !validLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	steps := StepNames()
	for stage, level := range c.Logging.StageOverrides {
		if stage != "source" && stage != "sink" && !slices.Contains(steps, stage) {
			return fmt.Errorf("logging.stage_overrides: unknown stage %q", stage)
		}
		if !validLevel(level) {
			return fmt.Errorf("logging.stage_overrides.%s: unsupported level %q", stage, level)
		}
	}
	return nil
}

func (c *Config) validateJournal() error {
	if !c.Journal.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Paths.JournalPath) == "" {
		return errors.New("paths.journal_path must be set when journal.enabled is true")
	}
	if c.Journal.RetainRuns < 0 {
		return errors.New("journal.retain_runs must not be negative")
	}
	return nil
}

func validLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func ensureNonNegativeMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	return nil
}

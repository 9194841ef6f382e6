package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	InputDir    string `toml:"input_dir"`
	OutputDir   string `toml:"output_dir"`
	LogDir      string `toml:"log_dir"`
	JournalPath string `toml:"journal_path"`
}

// Parallelism holds per-step worker overrides. Zero means "use the default".
type Parallelism struct {
	Scale      int `toml:"scale"`
	Desaturate int `toml:"desaturate"`
	Flip       int `toml:"flip"`
	Edge       int `toml:"edge"`
}

// Pipeline contains the topology settings for a run.
type Pipeline struct {
	// QueueCapacity is the capacity of every inter-stage queue.
	QueueCapacity int `toml:"queue_capacity"`
	// DefaultParallelism applies to steps without an override. Zero derives
	// the value from the number of CPUs.
	DefaultParallelism int `toml:"default_parallelism"`
	// SinkParallelism is the number of writers. Zero mirrors the last step.
	SinkParallelism int `toml:"sink_parallelism"`
	// ScaleFactor is the integer upscale factor of the scale step.
	ScaleFactor int         `toml:"scale_factor"`
	Parallelism Parallelism `toml:"parallelism"`
}

// Output contains configuration for encoded results.
type Output struct {
	Format      string `toml:"format"`
	JPEGQuality int    `toml:"jpeg_quality"`
	Overwrite   bool   `toml:"overwrite"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Metrics contains configuration for the Prometheus textfile export.
type Metrics struct {
	TextfilePath string `toml:"textfile_path"`
}

// Journal contains configuration for the SQLite run journal.
type Journal struct {
	Enabled    bool `toml:"enabled"`
	RetainRuns int  `toml:"retain_runs"`
}

// Config encapsulates all configuration values for prism.
//
// Configuration sections by subsystem:
//   - Paths: input/output directories, log directory, journal database
//   - Pipeline: queue capacity, parallelism per step, sink writers
//   - Output: encoded image format and overwrite policy
//   - Logging: log format, level, and per-stage level overrides
//   - Metrics: Prometheus textfile destination
//   - Journal: run history retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Pipeline Pipeline `toml:"pipeline"`
	Output   Output   `toml:"output"`
	Logging  Logging  `toml:"logging"`
	Metrics  Metrics  `toml:"metrics"`
	Journal  Journal  `toml:"journal"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/prism/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("prism.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a run writes into. The input
// directory is never created.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.OutputDir, c.Paths.LogDir}
	if c.Journal.Enabled && strings.TrimSpace(c.Paths.JournalPath) != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.JournalPath))
	}
	if path := strings.TrimSpace(c.Metrics.TextfilePath); path != "" {
		dirs = append(dirs, filepath.Dir(path))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StepParallelism resolves the worker count for the named step: the explicit
// override, then the configured default, then the hardware-derived value.
func (c *Config) StepParallelism(step string) int {
	if n := c.Pipeline.Parallelism.For(step); n > 0 {
		return n
	}
	if c.Pipeline.DefaultParallelism > 0 {
		return c.Pipeline.DefaultParallelism
	}
	return HardwareParallelism()
}

// SinkParallelism resolves the writer count given the last step's parallelism.
func (c *Config) SinkParallelism(lastStep int) int {
	if c.Pipeline.SinkParallelism > 0 {
		return c.Pipeline.SinkParallelism
	}
	if lastStep > 0 {
		return lastStep
	}
	return 1
}

// For returns the override for the named step, or zero.
func (p Parallelism) For(step string) int {
	switch step {
	case StepScale:
		return p.Scale
	case StepDesaturate:
		return p.Desaturate
	case StepFlip:
		return p.Flip
	case StepEdge:
		return p.Edge
	default:
		return 0
	}
}

// Set stores an override for the named step.
func (p *Parallelism) Set(step string, n int) error {
	switch step {
	case StepScale:
		p.Scale = n
	case StepDesaturate:
		p.Desaturate = n
	case StepFlip:
		p.Flip = n
	case StepEdge:
		p.Edge = n
	default:
		return fmt.Errorf("unknown pipeline step %q (want one of %s)", step, strings.Join(StepNames(), ", "))
	}
	return nil
}

// HardwareParallelism returns the number of CPUs, falling back to a fixed
// thread count when the runtime reports none.
func HardwareParallelism() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return defaultThreadCount
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

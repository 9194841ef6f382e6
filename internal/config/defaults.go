package config

// Pipeline step names, in execution order.
const (
	StepScale      = "scale"
	StepDesaturate = "desaturate"
	StepFlip       = "flip"
	StepEdge       = "edge"
)

const (
	defaultInputDir      = "~/.local/share/prism/input"
	defaultOutputDir     = "~/.local/share/prism/output"
	defaultLogDir        = "~/.local/share/prism/logs"
	defaultJournalPath   = "~/.local/share/prism/journal.db"
	defaultQueueCapacity = 32
	defaultScaleFactor   = 2
	defaultThreadCount   = 16
	defaultOutputFormat  = "png"
	defaultJPEGQuality   = 90
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
	defaultRetainRuns    = 200
	maxScaleFactor       = 16
)

// StepNames returns the pipeline step names in execution order.
func StepNames() []string {
	return []string{StepScale, StepDesaturate, StepFlip, StepEdge}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:    defaultInputDir,
			OutputDir:   defaultOutputDir,
			LogDir:      defaultLogDir,
			JournalPath: defaultJournalPath,
		},
		Pipeline: Pipeline{
			QueueCapacity: defaultQueueCapacity,
			ScaleFactor:   defaultScaleFactor,
		},
		Output: Output{
			Format:      defaultOutputFormat,
			JPEGQuality: defaultJPEGQuality,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Journal: Journal{
			Enabled:    true,
			RetainRuns: defaultRetainRuns,
		},
	}
}

// Package logging assembles structured slog loggers and formatting helpers used
// across prism.
//
// It owns the console and JSON handlers, the tee that mirrors console output
// into the JSON log file, and per-stage level overrides so a single noisy
// stage can be raised to debug without flooding the rest of the run.
// Context-aware helpers tag log lines with run IDs, stage names, worker
// indexes, and item IDs. A no-op logger is provided for tests and wiring code
// that cannot fail.
package logging

package preflight

import (
	"context"
	"path/filepath"
	"strings"

	"prism/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Optional results are shown but never block a run.
	Optional bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckInputDirectory("Input directory", cfg.Paths.InputDir))
	results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))
	results = append(results, CheckOutputLock("Output lock", cfg.Paths.OutputDir))

	if strings.TrimSpace(cfg.Paths.LogDir) != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}

	if cfg.Journal.Enabled {
		res := CheckJournal(ctx, "Journal", cfg.Paths.JournalPath)
		res.Optional = true
		results = append(results, res)
	}

	if path := strings.TrimSpace(cfg.Metrics.TextfilePath); path != "" {
		res := CheckDirectoryAccess("Metrics textfile", filepath.Dir(path))
		res.Optional = true
		results = append(results, res)
	}

	return results
}

// Blocking returns the failed results that should stop a run.
func Blocking(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

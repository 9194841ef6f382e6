package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"prism/internal/config"
	"prism/internal/imagedir"
	"prism/internal/imaging"
	"prism/internal/journal"
	"prism/internal/logging"
	"prism/internal/metrics"
	"prism/internal/pipeline"
	"prism/internal/preflight"
	"prism/internal/stage"
)

type runOptions struct {
	serial   bool
	progress bool
	stdout   io.Writer
	stderr   io.Writer
}

type runResult struct {
	started      bool
	runID        string
	mode         string
	topology     string
	outputDir    string
	report       pipeline.Report
	bytesWritten int64
	skipped      int
	cancelled    bool
	err          error
}

// executeRun wires the directory reader and writer, journal, metrics and
// progress around one pipeline run. The returned result is populated as soon
// as the pipeline has started, even when the run fails.
func executeRun(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts runOptions) (runResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	runLogger := logging.NewComponentLogger(logger, "run")

	if err := cfg.EnsureDirectories(); err != nil {
		return runResult{}, err
	}
	if failed := preflight.Blocking(preflight.RunAll(ctx, cfg)); len(failed) > 0 {
		return runResult{}, preflightError(failed)
	}

	steps, err := stage.ImageSteps(cfg)
	if err != nil {
		return runResult{}, err
	}
	topo := pipeline.Topology[*imaging.Image]{
		Steps:           steps,
		SinkParallelism: cfg.SinkParallelism(steps[len(steps)-1].Parallelism),
		QueueCapacity:   cfg.Pipeline.QueueCapacity,
	}
	if err := topo.Validate(); err != nil {
		return runResult{}, err
	}

	reader, err := imagedir.NewReader(cfg.Paths.InputDir, logger)
	if err != nil {
		return runResult{}, err
	}
	writer, err := imagedir.NewWriter(cfg.Paths.OutputDir, imagedir.WriterOptions{
		Format:      cfg.Output.Format,
		JPEGQuality: cfg.Output.JPEGQuality,
		Overwrite:   cfg.Output.Overwrite,
		Logger:      logger,
	})
	if err != nil {
		return runResult{}, err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			runLogger.Warn("release output lock failed", logging.Error(err))
		}
	}()

	result := runResult{
		mode:      journal.ModePipeline,
		topology:  topologyLabel(topo),
		outputDir: cfg.Paths.OutputDir,
	}
	if opts.serial {
		result.mode = journal.ModeSerial
		result.topology = "serial"
	}

	history := openHistory(ctx, cfg, runLogger, journal.RunInfo{
		Mode:      result.mode,
		InputDir:  cfg.Paths.InputDir,
		OutputDir: cfg.Paths.OutputDir,
		Topology:  result.topology,
	})
	result.runID = history.runID
	if result.runID == "" {
		result.runID = uuid.NewString()
	}
	runLogger = runLogger.With(logging.String(logging.FieldRunID, result.runID))

	collector := metrics.New()
	observers := []pipeline.Observer{collector}
	if history.recorder != nil {
		observers = append(observers, history.recorder)
	}
	var progress *progressReporter
	if opts.progress {
		progress = newProgressReporter(opts.stderr, reader.Total(), reader.Skipped, runLogger)
		observers = append(observers, progress)
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithObserver(observers...),
		pipeline.WithLevelOverrides(logging.ParseOverrides(cfg.Logging.StageOverrides)),
		pipeline.WithRunID(result.runID),
	}

	runLogger.Info("run starting",
		logging.String("mode", result.mode),
		logging.String("topology", result.topology),
		logging.String("input_dir", cfg.Paths.InputDir),
		logging.String("output_dir", cfg.Paths.OutputDir),
		logging.Int("candidates", reader.Total()),
	)

	var (
		rep    pipeline.Report
		runErr error
	)
	if opts.serial {
		rep, runErr = pipeline.RunSerial(ctx, steps, reader, writer, pipeOpts...)
	} else {
		rep, runErr = pipeline.Run(ctx, topo, reader, writer, pipeOpts...)
	}
	progress.finish()

	result.started = true
	result.report = rep
	result.bytesWritten = writer.BytesWritten()
	result.skipped = reader.Skipped()
	result.cancelled = ctx.Err() != nil
	result.err = runErr

	history.finish(ctx, journal.SummaryFromReport(rep, result.bytesWritten, runErr), cfg.Journal.RetainRuns)

	collector.RecordReport(rep, result.bytesWritten, runErr)
	if err := collector.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		logging.WarnWithContext(runLogger, "metrics export failed", "metrics_export_failed",
			logging.Error(err),
			logging.String(logging.FieldPath, cfg.Metrics.TextfilePath),
			logging.String(logging.FieldErrorHint, "check metrics.textfile_path is writable"),
			logging.String(logging.FieldImpact, "metrics for this run are not exported"),
		)
	}
	return result, runErr
}

// runHistory ties a run to the journal. Every method is a no-op when the
// journal is disabled or could not be opened; journal trouble never fails a run.
type runHistory struct {
	store    *journal.Store
	recorder *journal.Recorder
	runID    string
	logger   *slog.Logger
}

func openHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger, info journal.RunInfo) *runHistory {
	h := &runHistory{logger: logger}
	if !cfg.Journal.Enabled {
		return h
	}
	store, err := journal.Open(cfg.Paths.JournalPath)
	if err != nil {
		h.warn("journal unavailable", err)
		return h
	}
	id, err := store.BeginRun(ctx, info)
	if err != nil {
		_ = store.Close()
		h.warn("journal begin run failed", err)
		return h
	}
	h.store = store
	h.runID = id
	h.recorder = store.NewRecorder(id)
	return h
}

func (h *runHistory) finish(ctx context.Context, summary journal.Summary, retain int) {
	if h.store == nil {
		return
	}
	defer h.store.Close()
	// The run context may already be cancelled; history is still written.
	ctx = context.WithoutCancel(ctx)
	if err := h.recorder.Flush(ctx); err != nil {
		h.warn("journal flush failed", err)
	}
	if err := h.store.FinishRun(ctx, h.runID, summary); err != nil {
		h.warn("journal finish run failed", err)
	}
	if retain > 0 {
		if removed, err := h.store.Prune(ctx, retain); err != nil {
			h.warn("journal prune failed", err)
		} else if removed > 0 {
			h.logger.Debug("journal pruned", logging.Int64("removed", removed))
		}
	}
}

func (h *runHistory) warn(msg string, err error) {
	logging.WarnWithContext(h.logger, msg, "journal_unavailable",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check paths.journal_path or disable [journal]"),
		logging.String(logging.FieldImpact, "run history is not recorded"),
	)
}

func topologyLabel(topo pipeline.Topology[*imaging.Image]) string {
	parts := make([]string, 0, len(topo.Steps)+2)
	for _, step := range topo.Steps {
		parts = append(parts, fmt.Sprintf("%s=%d", step.Name, step.Parallelism))
	}
	parts = append(parts, fmt.Sprintf("sink=%d", topo.SinkWorkers()))
	parts = append(parts, fmt.Sprintf("capacity=%d", topo.QueueCapacity))
	return strings.Join(parts, " ")
}

func logFilePath(cfg *config.Config) string {
	if strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
}

func preflightError(failed []preflight.Result) error {
	lines := make([]string, 0, len(failed))
	for _, r := range failed {
		lines = append(lines, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(lines, "; "))
}

package main

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"prism/internal/logging"
	"prism/internal/pipeline"
)

// progressReporter advances once per item that reached a terminal outcome,
// and counts files the reader skipped so the total is still reached. On a
// terminal it draws a progress bar; otherwise it logs sampled progress.
type progressReporter struct {
	mu      sync.Mutex
	total   int
	done    int
	skipped func() int
	bar     *progressbar.ProgressBar
	sampler *logging.ProgressSampler
	logger  *slog.Logger
}

func newProgressReporter(w io.Writer, total int, skipped func() int, logger *slog.Logger) *progressReporter {
	p := &progressReporter{total: total, skipped: skipped, logger: logger}
	if total > 0 && isTerminal(w) {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("processing"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		return p
	}
	p.sampler = logging.NewProgressSampler(10)
	return p
}

func (p *progressReporter) Observe(e pipeline.Event) {
	switch e.Kind {
	case pipeline.EventCommitted, pipeline.EventDropped, pipeline.EventCommitFailed, pipeline.EventDiscarded:
	default:
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.report()
}

// report must be called with p.mu held.
func (p *progressReporter) report() {
	completed := p.done
	if p.skipped != nil {
		completed += p.skipped()
	}
	if p.bar != nil {
		_ = p.bar.Set(min(completed, p.total))
		return
	}
	if p.total <= 0 {
		return
	}
	percent := float64(completed) * 100 / float64(p.total)
	if p.sampler.ShouldLog(percent, "processing") {
		p.logger.Info("progress",
			logging.String(logging.FieldEventType, "progress"),
			logging.Int("done", p.done),
			logging.Int("skipped", completed-p.done),
			logging.Int("total", p.total),
			logging.Float64("percent", math.Round(percent)),
		)
	}
}

// Done returns the number of items counted so far.
func (p *progressReporter) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// finish accounts for files skipped after the last item finished.
func (p *progressReporter) finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

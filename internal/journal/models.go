package journal

import (
	"errors"
	"time"

	"prism/internal/pipeline"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Mode distinguishes concurrent runs from the serial reference.
const (
	ModePipeline = "pipeline"
	ModeSerial   = "serial"
)

// RunInfo is what is known when a run starts.
type RunInfo struct {
	Mode      string
	InputDir  string
	OutputDir string
	// Topology is a short human-readable description such as
	// "scale=4 desaturate=4 flip=4 edge=4 sink=4 capacity=32".
	Topology string
}

// Summary is what is known when a run ends.
type Summary struct {
	Read         int64
	Committed    int64
	Dropped      int64
	Discarded    int64
	BytesWritten int64
	Elapsed      time.Duration
	Err          error
}

// SummaryFromReport converts a pipeline report into a journal summary.
func SummaryFromReport(rep pipeline.Report, bytesWritten int64, err error) Summary {
	return Summary{
		Read:         rep.Read,
		Committed:    rep.Committed,
		Dropped:      rep.Dropped(),
		Discarded:    rep.Discarded(),
		BytesWritten: bytesWritten,
		Elapsed:      rep.Elapsed,
		Err:          err,
	}
}

// Run is one row of the runs table.
type Run struct {
	ID           string
	Mode         string
	InputDir     string
	OutputDir    string
	Topology     string
	Status       Status
	StartedAt    time.Time
	FinishedAt   time.Time
	Read         int64
	Committed    int64
	Dropped      int64
	Discarded    int64
	BytesWritten int64
	Elapsed      time.Duration
	ErrorMessage string
}

// Outcome is the terminal fate of an item as stored in run_items.
type Outcome string

const (
	OutcomeCommitted    Outcome = "committed"
	OutcomeDropped      Outcome = "dropped"
	OutcomeCommitFailed Outcome = "commit_failed"
	OutcomeDiscarded    Outcome = "discarded"
	OutcomeWorkerFatal  Outcome = "worker_fatal"
)

// ItemRecord is one row of the run_items table.
type ItemRecord struct {
	RunID        string
	ItemID       int64
	ItemName     string
	Stage        string
	Outcome      Outcome
	ErrorMessage string
	Duration     time.Duration
	RecordedAt   time.Time
}

func outcomeFor(kind pipeline.EventKind) (Outcome, bool) {
	switch kind {
	case pipeline.EventCommitted:
		return OutcomeCommitted, true
	case pipeline.EventDropped:
		return OutcomeDropped, true
	case pipeline.EventCommitFailed:
		return OutcomeCommitFailed, true
	case pipeline.EventDiscarded:
		return OutcomeDiscarded, true
	case pipeline.EventWorkerFatal:
		return OutcomeWorkerFatal, true
	default:
		return "", false
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var werr *pipeline.WorkerError
	if errors.As(err, &werr) {
		return werr.Error()
	}
	return err.Error()
}

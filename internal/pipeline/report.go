package pipeline

import (
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"prism/internal/queue"
)

// LatencyStats summarizes per-item durations for one stage.
type LatencyStats struct {
	Count int
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// StageReport aggregates the workers of one stage.
type StageReport struct {
	Name    string
	Workers int
	// Processed counts successful transforms, or commits for the sink.
	Processed int64
	// Dropped counts transform failures, or commit failures for the sink.
	Dropped int64
	// Discarded counts items thrown away after a worker panicked.
	Discarded int64
	Latency   LatencyStats
}

// QueueReport captures one queue after the run.
type QueueReport struct {
	Name       string
	Stats      queue.Stats
	MarkersIn  int64
	MarkersOut int64
}

// Report summarizes a finished run.
type Report struct {
	Read      int64
	Committed int64
	Steps     []StageReport
	Sink      StageReport
	Queues    []QueueReport
	Fatal     int
	Started   time.Time
	Elapsed   time.Duration
}

// Dropped returns the number of items lost to transform or commit failures.
func (r Report) Dropped() int64 {
	total := r.Sink.Dropped
	for _, step := range r.Steps {
		total += step.Dropped
	}
	return total
}

// Discarded returns the number of items thrown away by crashed workers.
func (r Report) Discarded() int64 {
	total := r.Sink.Discarded
	for _, step := range r.Steps {
		total += step.Discarded
	}
	return total
}

// workerStats is owned by a single goroutine while the run executes and is
// read only after that goroutine has been joined.
type workerStats struct {
	processed int64
	dropped   int64
	discarded int64
	latencies []float64
}

func (w *workerStats) observe(d time.Duration) {
	w.latencies = append(w.latencies, d.Seconds())
}

func summarizeStage(name string, workers []*workerStats) StageReport {
	rep := StageReport{Name: name, Workers: len(workers)}
	var samples []float64
	for _, w := range workers {
		rep.Processed += w.processed
		rep.Dropped += w.dropped
		rep.Discarded += w.discarded
		samples = append(samples, w.latencies...)
	}
	rep.Latency = summarizeLatency(samples)
	return rep
}

func summarizeLatency(samples []float64) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	return LatencyStats{
		Count: len(sorted),
		Mean:  seconds(stat.Mean(sorted, nil)),
		P50:   seconds(stat.Quantile(0.5, stat.Empirical, sorted, nil)),
		P95:   seconds(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
		Max:   seconds(floats.Max(sorted)),
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}

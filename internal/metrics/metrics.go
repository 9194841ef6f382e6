package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"prism/internal/pipeline"
)

const namespace = "prism"

// Collector holds all Prometheus metrics for prism runs.
type Collector struct {
	registry *prometheus.Registry

	// Item metrics
	Items         *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	WorkerFatal   *prometheus.CounterVec

	// Queue metrics, set from the final report
	QueueCapacity  *prometheus.GaugeVec
	QueueHighWater *prometheus.GaugeVec
	QueuePushWaits *prometheus.GaugeVec
	QueuePopWaits  *prometheus.GaugeVec

	// Run metrics
	RunItems        *prometheus.GaugeVec
	RunDuration     prometheus.Gauge
	RunBytesWritten prometheus.Gauge
	LastRunSuccess  prometheus.Gauge
	LastRunTime     prometheus.Gauge
}

// New creates a Collector registered on its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		Items: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Item events by stage and kind",
			},
			[]string{"stage", "kind"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Per-item transform or commit time in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"stage"},
		),
		WorkerFatal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_fatal_total",
				Help:      "Worker panics by stage",
			},
			[]string{"stage"},
		),

		QueueCapacity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_capacity",
				Help:      "Configured capacity of each inter-stage queue",
			},
			[]string{"queue"},
		),
		QueueHighWater: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_high_water",
				Help:      "Largest observed length of each inter-stage queue",
			},
			[]string{"queue"},
		),
		QueuePushWaits: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_push_waits",
				Help:      "Number of pushes that blocked on a full queue during the last run",
			},
			[]string{"queue"},
		),
		QueuePopWaits: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_pop_waits",
				Help:      "Number of pops that blocked on an empty queue during the last run",
			},
			[]string{"queue"},
		),

		RunItems: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_items",
				Help:      "Item totals of the last run by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_duration_seconds",
				Help:      "Wall time of the last run in seconds",
			},
		),
		RunBytesWritten: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_bytes_written",
				Help:      "Encoded bytes written by the last run",
			},
		),
		LastRunSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_success",
				Help:      "1 when the last run finished without a fatal error",
			},
		),
		LastRunTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run started",
			},
		),
	}
}

// Registry exposes the collector's registry, mainly for tests and textfile export.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe implements pipeline.Observer.
func (c *Collector) Observe(e pipeline.Event) {
	c.Items.WithLabelValues(e.Stage, string(e.Kind)).Inc()
	switch e.Kind {
	case pipeline.EventProcessed, pipeline.EventCommitted:
		if e.Duration > 0 {
			c.StageDuration.WithLabelValues(e.Stage).Observe(e.Duration.Seconds())
		}
	case pipeline.EventWorkerFatal:
		c.WorkerFatal.WithLabelValues(e.Stage).Inc()
	}
}

// RecordReport folds a finished run into the run and queue gauges.
func (c *Collector) RecordReport(rep pipeline.Report, bytesWritten int64, runErr error) {
	for _, q := range rep.Queues {
		c.QueueCapacity.WithLabelValues(q.Name).Set(float64(q.Stats.Capacity))
		c.QueueHighWater.WithLabelValues(q.Name).Set(float64(q.Stats.HighWater))
		c.QueuePushWaits.WithLabelValues(q.Name).Set(float64(q.Stats.PushWaits))
		c.QueuePopWaits.WithLabelValues(q.Name).Set(float64(q.Stats.PopWaits))
	}

	c.RunItems.WithLabelValues("read").Set(float64(rep.Read))
	c.RunItems.WithLabelValues("committed").Set(float64(rep.Committed))
	c.RunItems.WithLabelValues("dropped").Set(float64(rep.Dropped()))
	c.RunItems.WithLabelValues("discarded").Set(float64(rep.Discarded()))
	c.RunDuration.Set(rep.Elapsed.Seconds())
	c.RunBytesWritten.Set(float64(bytesWritten))
	if !rep.Started.IsZero() {
		c.LastRunTime.Set(float64(rep.Started.Unix()))
	}
	if runErr == nil {
		c.LastRunSuccess.Set(1)
	} else {
		c.LastRunSuccess.Set(0)
	}
}

// WriteTextfile writes the registry in text exposition format. The file is
// replaced atomically so node_exporter never reads a partial file.
func (c *Collector) WriteTextfile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Package metrics holds the Prometheus collectors for task dispatch.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK     = "ok"
	OutcomeError  = "error"
	OutcomeDenied = "denied"
)

type Metrics struct {
	tasksTotal       *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	pipelinesTotal   *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	inFlight         prometheus.Gauge
}

// New registers the collectors with reg. A nil reg uses a private registry,
// which keeps tests independent of the global default.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		// Labels: task, outcome (ok, error, denied)
		tasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "velu",
				Subsystem: "orchestrator",
				Name:      "tasks_total",
				Help:      "Total number of dispatched tasks by outcome",
			},
			[]string{"task", "outcome"},
		),
		taskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "velu",
				Subsystem: "orchestrator",
				Name:      "task_duration_seconds",
				Help:      "Duration of task handler invocations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task"},
		),
		// Labels: status (done, error)
		pipelinesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "velu",
				Subsystem: "orchestrator",
				Name:      "pipelines_total",
				Help:      "Total number of pipeline runs by final status",
			},
			[]string{"status"},
		),
		pipelineDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "velu",
				Subsystem: "orchestrator",
				Name:      "pipeline_duration_seconds",
				Help:      "Duration of full pipeline runs in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "velu",
				Subsystem: "orchestrator",
				Name:      "tasks_in_flight",
				Help:      "Number of task invocations currently running",
			},
		),
	}
}

func (m *Metrics) TaskStarted() {
	m.inFlight.Inc()
}

func (m *Metrics) ObserveTask(task, outcome string, d time.Duration) {
	m.inFlight.Dec()
	m.tasksTotal.WithLabelValues(task, outcome).Inc()
	m.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (m *Metrics) ObservePipeline(status string, d time.Duration) {
	m.pipelinesTotal.WithLabelValues(status).Inc()
	m.pipelineDuration.Observe(d.Seconds())
}

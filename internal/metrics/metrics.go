// Package metrics aggregates workflow execution counters and run history.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time view of the aggregate execution metrics.
type Snapshot struct {
	TotalExecutions  int64            `json:"total_executions"`
	Succeeded        int64            `json:"succeeded"`
	Failed           int64            `json:"failed"`
	Stopped          int64            `json:"stopped"`
	AvgDurationMs    float64          `json:"avg_duration_ms"`
	ErrorsByCode     map[string]int64 `json:"errors_by_code,omitempty"`
	CurrentlyRunning int64            `json:"currently_running"`
	QueuedExecutions int64            `json:"queued_executions"`
}

// Collector records per-run outcomes and mirrors them to Prometheus.
type Collector struct {
	mu            sync.Mutex
	total         int64
	succeeded     int64
	failed        int64
	stopped       int64
	durationSumMs float64
	errorsByCode  map[string]int64
	running       int64
	queued        int64

	promTotal    *prometheus.CounterVec
	promDuration prometheus.Histogram
	promRunning  prometheus.Gauge
	promQueued   prometheus.Gauge
}

// NewCollector creates a Collector and registers its Prometheus metrics
// with the given registerer. Pass nil to skip Prometheus registration.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		errorsByCode: make(map[string]int64),
		promTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeflow_workflow_executions_total",
			Help: "Total workflow executions by terminal status.",
		}, []string{"status"}),
		promDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nodeflow_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		promRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodeflow_workflows_running",
			Help: "Number of workflow runs currently executing.",
		}),
		promQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodeflow_workflows_queued",
			Help: "Number of workflow runs waiting in the admission queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.promTotal, c.promDuration, c.promRunning, c.promQueued)
	}
	return c
}

// Record registers a finished run. status is a terminal run status string
// ("completed", "error", "stopped"); errCode is the error code for failed
// runs, "" otherwise.
func (c *Collector) Record(status string, duration time.Duration, errCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	c.durationSumMs += float64(duration.Milliseconds())
	switch status {
	case "completed":
		c.succeeded++
	case "error":
		c.failed++
		if errCode != "" {
			c.errorsByCode[errCode]++
		}
	case "stopped":
		c.stopped++
	}

	c.promTotal.WithLabelValues(status).Inc()
	c.promDuration.Observe(duration.Seconds())
}

// SetRunning updates the currently-running gauge.
func (c *Collector) SetRunning(n int) {
	c.mu.Lock()
	c.running = int64(n)
	c.mu.Unlock()
	c.promRunning.Set(float64(n))
}

// SetQueued updates the queued gauge.
func (c *Collector) SetQueued(n int) {
	c.mu.Lock()
	c.queued = int64(n)
	c.mu.Unlock()
	c.promQueued.Set(float64(n))
}

// Snapshot returns a copy of the current aggregates.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalExecutions:  c.total,
		Succeeded:        c.succeeded,
		Failed:           c.failed,
		Stopped:          c.stopped,
		CurrentlyRunning: c.running,
		QueuedExecutions: c.queued,
	}
	if c.total > 0 {
		s.AvgDurationMs = c.durationSumMs / float64(c.total)
	}
	if len(c.errorsByCode) > 0 {
		s.ErrorsByCode = make(map[string]int64, len(c.errorsByCode))
		for k, v := range c.errorsByCode {
			s.ErrorsByCode[k] = v
		}
	}
	return s
}

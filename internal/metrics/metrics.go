// Package metrics exposes tracking pipeline counters over Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"micetrack/internal/backend"
	"micetrack/internal/batch"
)

// Metrics holds all application metrics
type Metrics struct {
	// Batch counters
	BatchesStarted  atomic.Uint64
	BatchesFinished atomic.Uint64
	BatchesStopped  atomic.Uint64

	// Job counters
	JobsStarted   atomic.Uint64
	JobsCompleted atomic.Uint64
	JobsFailed    atomic.Uint64
	JobsStopped   atomic.Uint64

	// Progress tracking
	PollUpdates     atomic.Uint64
	FramesProcessed atomic.Uint64 // current frame of the active job

	// Analysis counters
	RearingEventsDetected atomic.Uint64
	RunsArchived          atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"micetrack_batches_started_total", "Total tracking batches started", m.BatchesStarted.Load},
		{"micetrack_batches_finished_total", "Total tracking batches finished", m.BatchesFinished.Load},
		{"micetrack_batches_stopped_total", "Total tracking batches stopped by the user", m.BatchesStopped.Load},
		{"micetrack_jobs_started_total", "Total tracking jobs started", m.JobsStarted.Load},
		{"micetrack_jobs_completed_total", "Total tracking jobs completed", m.JobsCompleted.Load},
		{"micetrack_jobs_failed_total", "Total tracking jobs failed on the backend", m.JobsFailed.Load},
		{"micetrack_jobs_stopped_total", "Total tracking jobs stopped by the user", m.JobsStopped.Load},
		{"micetrack_poll_updates_total", "Total progress snapshots received from the backend", m.PollUpdates.Load},
		{"micetrack_frames_processed", "Current frame of the active tracking job", m.FramesProcessed.Load},
		{"micetrack_rearing_events_total", "Total rearing events detected by analysis", m.RearingEventsDetected.Load},
		{"micetrack_runs_archived_total", "Total analysis runs archived to the database", m.RunsArchived.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// Observe updates the counters from a batch event. Registered on the event
// bus so the orchestrator stays metrics-agnostic.
func (m *Metrics) Observe(ev *batch.Event) {
	switch ev.Type {
	case batch.EventBatchStarted:
		m.BatchesStarted.Add(1)
	case batch.EventBatchFinished:
		m.BatchesFinished.Add(1)
	case batch.EventBatchStopped:
		m.BatchesStopped.Add(1)
	case batch.EventJobProgress:
		m.PollUpdates.Add(1)
		if ev.Job.CurrentFrame > 0 {
			m.FramesProcessed.Store(uint64(ev.Job.CurrentFrame))
		}
	case batch.EventJobStatus:
		switch ev.Job.Status {
		case backend.StatusUploading:
			m.JobsStarted.Add(1)
		case backend.StatusCompleted:
			m.JobsCompleted.Add(1)
		case backend.StatusError:
			m.JobsFailed.Add(1)
		case backend.StatusStopped:
			m.JobsStopped.Add(1)
		}
	}
}

// AttachBus subscribes the metrics to a batch event bus. Returns the
// unsubscribe function.
func (m *Metrics) AttachBus(bus *batch.EventBus) func() {
	return bus.Subscribe(m.Observe)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

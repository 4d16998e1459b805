// Package metrics exposes job engine activity as Prometheus metrics.
//
// A Collector is registered with an engine as both an observer and a failure
// sink:
//
//	c := metrics.NewCollector(prometheus.DefaultRegisterer)
//	engine := job.NewEngine(store, model, job.WithObserver(c), job.WithFailureSink(c))
//
// Metrics:
//   - gojobs_jobs_submitted_total
//   - gojobs_jobs_finished_total{outcome="success|failure"}
//   - gojobs_job_failures_total{stage}: completion-path failures
//   - gojobs_jobs_pending: submitted, waiting for a worker slot
//   - gojobs_jobs_in_flight: work running
//   - gojobs_job_duration_seconds: work start to terminal save
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3leaps/gojobs/pkg/job"
)

const namespace = "gojobs"

// Collector records engine lifecycle callbacks as Prometheus metrics.
type Collector struct {
	submitted prometheus.Counter
	finished  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	pending   prometheus.Gauge
	inFlight  prometheus.Gauge
	duration  prometheus.Histogram
}

// NewCollector creates a collector and registers its metrics with reg. A nil
// reg leaves the metrics unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs whose initial record was persisted",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs whose terminal record was persisted, by outcome",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failures_total",
			Help:      "Total number of completion-path failures, by stage",
		}, []string{"stage"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_pending",
			Help:      "Current number of submitted jobs waiting for a worker slot",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Current number of jobs running work",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from work start to terminal save in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(c.submitted, c.finished, c.failures, c.pending, c.inFlight, c.duration)
	}
	return c
}

// JobSubmitted implements job.Observer.
func (c *Collector) JobSubmitted(_ context.Context, _ uuid.UUID) {
	c.submitted.Inc()
	c.pending.Inc()
}

// JobStarted implements job.Observer.
func (c *Collector) JobStarted(_ context.Context, _ uuid.UUID) {
	c.pending.Dec()
	c.inFlight.Inc()
}

// JobFinished implements job.Observer.
func (c *Collector) JobFinished(_ context.Context, _ uuid.UUID, failed bool, elapsed time.Duration) {
	c.inFlight.Dec()
	c.finished.WithLabelValues(outcome(failed)).Inc()
	c.duration.Observe(elapsed.Seconds())
}

// ReportFailure implements job.FailureSink.
func (c *Collector) ReportFailure(_ context.Context, f job.Incident) {
	c.failures.WithLabelValues(string(f.Stage)).Inc()
	switch f.Stage {
	case job.StageFinalSave, job.StageWorkPanic:
		c.inFlight.Dec()
	}
}

func outcome(failed bool) string {
	if failed {
		return "failure"
	}
	return "success"
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var (
	_ job.Observer    = (*Collector)(nil)
	_ job.FailureSink = (*Collector)(nil)
)

// Package metrics exposes engine counters on a dedicated Prometheus
// registry so the ops endpoint serves only our series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	Registry *prometheus.Registry

	ChecksTotal    *prometheus.CounterVec
	CheckDuration  *prometheus.HistogramVec
	IncidentsTotal *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec
	JobsRetried    prometheus.Counter
	EventsDropped  prometheus.Counter
	ChecksPruned   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "varuna_checks_total",
			Help: "Checks executed, by monitor type and outcome.",
		}, []string{"type", "status"}),
		CheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "varuna_check_duration_seconds",
			Help:    "Probe duration by monitor type.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"type"}),
		IncidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "varuna_incidents_total",
			Help: "Incident lifecycle events.",
		}, []string{"event"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "varuna_queue_depth",
			Help: "Queue jobs by state.",
		}, []string{"state"}),
		JobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "varuna_jobs_retried_total",
			Help: "Queue jobs rescheduled after a failed run.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "varuna_events_dropped_total",
			Help: "Incident events dropped because the event channel was full.",
		}),
		ChecksPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "varuna_checks_pruned_total",
			Help: "Raw check rows deleted by retention.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ChecksTotal,
		m.CheckDuration,
		m.IncidentsTotal,
		m.QueueDepth,
		m.JobsRetried,
		m.EventsDropped,
		m.ChecksPruned,
	)
	return m
}

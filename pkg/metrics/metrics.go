// Package metrics provides Prometheus metrics for reconciliation runs.
// The process is a one-shot scheduled job, so instead of serving a
// scrape endpoint the collected metrics can be pushed to a Pushgateway
// at the end of a run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the per-run reconciliation metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Registrations counts runners registered with a coordinator.
	Registrations prometheus.Counter

	// Deletions counts runners deleted remotely: orphans and stale
	// registrations replaced by a fresh one.
	Deletions prometheus.Counter

	// DeletionFailures counts best-effort deletions that failed.
	DeletionFailures prometheus.Counter

	// Verifications counts token verification calls.
	Verifications prometheus.Counter

	// Adoptions counts tokens restored from existing remote
	// registrations without re-registering.
	Adoptions prometheus.Counter

	// RunDuration observes the wall time of whole reconciliation runs.
	RunDuration prometheus.Histogram
}

// New creates a Metrics instance with all metrics registered on a
// dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runnersync",
			Subsystem: "reconcile",
			Name:      "registrations_total",
			Help:      "Total number of runner registrations performed.",
		}),
		Deletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runnersync",
			Subsystem: "reconcile",
			Name:      "deletions_total",
			Help:      "Total number of remote runner registrations deleted.",
		}),
		DeletionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runnersync",
			Subsystem: "reconcile",
			Name:      "deletion_failures_total",
			Help:      "Total number of best-effort runner deletions that failed.",
		}),
		Verifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runnersync",
			Subsystem: "reconcile",
			Name:      "verifications_total",
			Help:      "Total number of runner token verification calls.",
		}),
		Adoptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runnersync",
			Subsystem: "reconcile",
			Name:      "adoptions_total",
			Help:      "Total number of tokens restored from existing registrations.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "runnersync",
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.Registrations,
		m.Deletions,
		m.DeletionFailures,
		m.Verifications,
		m.Adoptions,
		m.RunDuration,
	)

	return m
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push sends the run's metrics to a Pushgateway, grouped by instance so
// every host keeps its own series.
func (m *Metrics) Push(gatewayURL, job, instance string) error {
	return push.New(gatewayURL, job).
		Grouping("instance", instance).
		Gatherer(m.registry).
		Push()
}

package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "goloky"

// executorMetrics exports an executor's activity to Prometheus. Every
// metric carries the executor id as a constant label so several executors
// can share one registry.
type executorMetrics struct {
	registry   *prometheus.Registry
	registerer prometheus.Registerer
	collectors []prometheus.Collector

	submitted     prometheus.Counter
	completed     *prometheus.CounterVec
	crashes       prometheus.Counter
	spawns        prometheus.Counter
	spawnFailures prometheus.Counter
	taskDuration  prometheus.Histogram
}

func newExecutorMetrics(e *Executor, registerer prometheus.Registerer) (*executorMetrics, error) {
	m := &executorMetrics{registerer: registerer}
	if registerer == nil {
		m.registry = prometheus.NewRegistry()
		m.registerer = m.registry
	}

	labels := prometheus.Labels{"executor": e.id}

	m.submitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "tasks_submitted_total",
		Help:        "Total number of tasks accepted by the executor",
		ConstLabels: labels,
	})

	m.completed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "tasks_completed_total",
		Help:        "Total number of tasks that reached a terminal state, by outcome",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.crashes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "worker_crashes_total",
		Help:        "Total number of worker processes that exited unexpectedly",
		ConstLabels: labels,
	})

	m.spawns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "worker_spawns_total",
		Help:        "Total number of worker processes started",
		ConstLabels: labels,
	})

	m.spawnFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Name:        "worker_spawn_failures_total",
		Help:        "Total number of worker processes that failed to start",
		ConstLabels: labels,
	})

	m.taskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   metricsNamespace,
		Name:        "task_duration_seconds",
		Help:        "Time from dispatch to result for tasks that ran on a worker",
		Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
		ConstLabels: labels,
	})

	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        "queue_depth",
		Help:        "Number of submitted tasks waiting for a worker",
		ConstLabels: labels,
	}, func() float64 { return float64(e.Stats().Pending) })

	workers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        "workers",
		Help:        "Number of live worker processes",
		ConstLabels: labels,
	}, func() float64 { return float64(e.Stats().Workers) })

	m.collectors = []prometheus.Collector{
		m.submitted,
		m.completed,
		m.crashes,
		m.spawns,
		m.spawnFailures,
		m.taskDuration,
		queueDepth,
		workers,
	}
	for _, c := range m.collectors {
		if err := m.registerer.Register(c); err != nil {
			m.unregister()
			return nil, err
		}
	}
	return m, nil
}

func (m *executorMetrics) unregister() {
	for _, c := range m.collectors {
		m.registerer.Unregister(c)
	}
}

// gatherer returns the registry holding the metrics, if one is known.
func (m *executorMetrics) gatherer() prometheus.Gatherer {
	if m.registry != nil {
		return m.registry
	}
	if g, ok := m.registerer.(prometheus.Gatherer); ok {
		return g
	}
	return nil
}

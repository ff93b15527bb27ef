// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktree_mutations_total",
			Help: "Mutations handled by the service, by operation and result kind",
		},
		[]string{"op", "result"},
	)
	MutationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasktree_mutation_duration_seconds",
			Help:    "Wall time of one read-decide-write mutation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	RecordsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktree_records_written_total",
			Help: "Records put or deleted by committed deltas",
		},
		[]string{"kind"},
	)
	ForestRebuilds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasktree_forest_rebuilds_total",
			Help: "Full forest rebuilds (first load or after a failure)",
		},
	)
	ForestNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasktree_forest_nodes",
			Help: "Tasks in the cached forest",
		},
	)
)

func init() {
	prometheus.MustRegister(Mutations)
	prometheus.MustRegister(MutationDuration)
	prometheus.MustRegister(RecordsWritten)
	prometheus.MustRegister(ForestRebuilds)
	prometheus.MustRegister(ForestNodes)
}

// ObserveMutation records one finished mutation. result is "ok" or an error kind.
func ObserveMutation(op, result string, took time.Duration) {
	if result == "" {
		result = "ok"
	}
	Mutations.WithLabelValues(op, result).Inc()
	MutationDuration.WithLabelValues(op).Observe(took.Seconds())
}

// ObserveWrites counts the records a committed delta touched.
func ObserveWrites(tasks, templates, relations int) {
	if tasks > 0 {
		RecordsWritten.WithLabelValues("task").Add(float64(tasks))
	}
	if templates > 0 {
		RecordsWritten.WithLabelValues("template").Add(float64(templates))
	}
	if relations > 0 {
		RecordsWritten.WithLabelValues("relation").Add(float64(relations))
	}
}

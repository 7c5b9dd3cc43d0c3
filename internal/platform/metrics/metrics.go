// Package metrics exposes Prometheus collectors for scheduling outcomes.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "facility"

var (
	once sync.Once

	commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_commits_total",
			Help:      "Booking writes by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Allocation plans computed, by sufficiency.",
		},
		[]string{"sufficient"},
	)

	allocationSpan = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_span_days",
			Help:      "Calendar days spanned by non-empty allocation plans.",
			Buckets:   []float64{1, 2, 3, 7, 14, 30, 60, 90},
		},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignment_transitions_total",
			Help:      "Lifecycle events by event and outcome.",
		},
		[]string{"event", "outcome"},
	)

	extensions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extension_decisions_total",
			Help:      "Extension decisions by decision and outcome.",
		},
		[]string{"decision", "outcome"},
	)

	retries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_retries_total",
			Help:      "Check-and-commit sequences retried after lock contention.",
		},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_cache_lookups_total",
			Help:      "Capacity cache lookups by result.",
		},
		[]string{"result"},
	)
)

// Register registers all collectors with the default registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(commits, allocations, allocationSpan, transitions, extensions, retries, cacheLookups)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveCommit(op, outcome string) {
	commits.WithLabelValues(op, outcome).Inc()
}

func ObserveAllocation(sufficient bool, spanDays int) {
	label := "false"
	if sufficient {
		label = "true"
	}
	allocations.WithLabelValues(label).Inc()
	if spanDays > 0 {
		allocationSpan.Observe(float64(spanDays))
	}
}

func ObserveTransition(event, outcome string) {
	transitions.WithLabelValues(event, outcome).Inc()
}

func ObserveExtension(decision, outcome string) {
	extensions.WithLabelValues(decision, outcome).Inc()
}

func IncRetry() {
	retries.Inc()
}

func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// Package metrics holds Prometheus instruments used by the archive and
// recovery engines.  All collectors are registered with the global registry,
// so mounting promhttp.Handler() in cmd/web is enough to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ArchiveOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_records_total",
			Help: "Root ids processed by the archive engine, by entity and outcome.",
		}, []string{"entity", "outcome"})

	RecoveryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_records_total",
			Help: "Ids processed by restore, by entity and outcome.",
		}, []string{"entity", "outcome"})

	IdentityRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_repairs_total",
			Help: "Identifier write-back statements, by outcome.",
		}, []string{"outcome"})

	SchemaLoadSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schema_load_seconds",
			Help:    "Time spent introspecting the live schema for one operation.",
			Buckets: prometheus.DefBuckets,
		})

	HTTPRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_seconds",
			Help:    "API latency by route pattern, method, and status code.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"route", "method", "status"})
)

func init() {
	prometheus.MustRegister(
		ArchiveOutcomes,
		RecoveryOutcomes,
		IdentityRepairs,
		SchemaLoadSeconds,
		HTTPRequestSeconds,
	)
}

// Package metrics exposes Sekha's runtime counters over /metrics via
// github.com/prometheus/client_golang, the way the retrieval pack itself
// declares and registers Prometheus collectors (observability/metrics.go's
// exporter dependency) rather than a hand-rolled text encoder.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector the HTTP layer and the background
// scheduler update. It wraps a private prometheus.Registry rather than the
// global DefaultRegisterer so tests can construct independent instances.
type Registry struct {
	reg *prometheus.Registry

	QueueDepth         prometheus.Gauge
	DeadLetterCount    prometheus.Gauge
	PendingVectorDeletes prometheus.Gauge
	RequestDuration    *prometheus.HistogramVec
	RequestsTotal      *prometheus.CounterVec
	RollupsTotal       *prometheus.CounterVec
}

// New builds a Registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		reg: reg,
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sekha", Subsystem: "embedding_queue", Name: "depth",
			Help: "Current number of jobs waiting in the embedding queue.",
		}),
		DeadLetterCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sekha", Subsystem: "embedding_queue", Name: "dead_letters",
			Help: "Messages that exhausted their embedding retry budget.",
		}),
		PendingVectorDeletes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sekha", Subsystem: "vector_store", Name: "pending_deletes",
			Help: "Vector deletes queued for the background reaper.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sekha", Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route, method and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sekha", Subsystem: "http", Name: "requests_total",
			Help: "Total HTTP requests by route and status.",
		}, []string{"route", "method", "status"}),
		RollupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sekha", Subsystem: "summarization", Name: "rollups_total",
			Help: "Nightly rollups completed by level.",
		}, []string{"level"}),
	}
	return r
}

// Gatherer exposes the underlying registry for promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

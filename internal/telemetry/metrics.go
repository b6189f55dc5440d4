// Package telemetry provides observability primitives for the Bifrost gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	PoolMarks        *prometheus.CounterVec
	TrafficDropped   prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "requests_total",
			Help:      "Ingress requests by route, target provider, and status.",
		}, []string{"method", "route", "provider", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "bifrost",
			Name:                            "request_duration_seconds",
			Help:                            "Ingress request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"route", "provider"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bifrost",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "bifrost",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream provider call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"provider", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "upstream_errors_total",
			Help:      "Total non-2xx upstream responses.",
		}, []string{"provider", "status"}),

		PoolMarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "pool_marks_total",
			Help:      "Total credential health marks applied, by level.",
		}, []string{"level"}),

		TrafficDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "traffic_records_dropped_total",
			Help:      "Traffic records dropped under bus backpressure.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.PoolMarks,
		m.TrafficDropped,
	)

	return m
}

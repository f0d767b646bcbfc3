/*
Package observability exposes Prometheus instrumentation for the eddy
engine: evaluation throughput, cache effectiveness, and capture lifecycle.
*/
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine's Prometheus collectors.
type Metrics struct {
	Evaluations          prometheus.Counter
	CacheHits            prometheus.Counter
	CacheMisses          prometheus.Counter
	Evictions            prometheus.Counter
	CaptureStartFailures prometheus.Counter
	CaptureGeneration    prometheus.Gauge
	CaptureBytes         prometheus.Gauge
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Evaluations: factory.NewCounter(prometheus.CounterOpts{
			Name: "eddy_evaluations_total",
			Help: "Number of evaluate calls handled.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "eddy_cache_hits_total",
			Help: "Number of nodes served from the element cache.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "eddy_cache_misses_total",
			Help: "Number of cache reads that missed and fell back to re-execution.",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "eddy_evictions_total",
			Help: "Number of user-requested captured data evictions.",
		}),
		CaptureStartFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "eddy_capture_start_failures_total",
			Help: "Number of background capture submissions rejected by the engine.",
		}),
		CaptureGeneration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eddy_capture_generation",
			Help: "Current capture generation counter.",
		}),
		CaptureBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eddy_capture_bytes",
			Help: "Bytes accumulated by the current capture generation.",
		}),
	}
}

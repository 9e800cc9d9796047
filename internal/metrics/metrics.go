package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache label values.
const (
	CacheKernel  = "kernel"
	CacheProgram = "program"
)

// Metrics holds the collectors for one cache instance.
type Metrics struct {
	CacheRequests *prometheus.CounterVec
	CacheEntries  *prometheus.GaugeVec

	Compilations    *prometheus.CounterVec
	CompileDuration prometheus.Histogram

	ToolInvocations *prometheus.CounterVec
	ModuleLoads     *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg creates the collectors
// without registering them.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_cache_requests_total",
			Help: "Kernel and program cache lookups by outcome",
		}, []string{"cache", "result"}),

		CacheEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kernel_cache_entries",
			Help: "Number of entries currently held by the cache",
		}, []string{"cache"}),

		Compilations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_compilations_total",
			Help: "Program compilation pipeline runs by outcome",
		}, []string{"result"}),

		CompileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kernel_compile_duration_ms",
			Help:    "Duration of a full program compilation in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1ms to ~65s
		}),

		ToolInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_toolchain_invocations_total",
			Help: "External compiler and finalizer runs by exit status",
		}, []string{"tool", "status"}),

		ModuleLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_module_loads_total",
			Help: "GPU module loads by backend and driver status",
		}, []string{"backend", "status"}),
	}
}

// Noop returns unregistered collectors, for callers that do not export metrics.
func Noop() *Metrics {
	return New(nil)
}

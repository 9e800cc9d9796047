package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	t.Run("CacheRequests", func(t *testing.T) {
		m.CacheRequests.WithLabelValues(CacheKernel, "hit").Inc()
		m.CacheRequests.WithLabelValues(CacheKernel, "hit").Inc()
		m.CacheRequests.WithLabelValues(CacheProgram, "miss").Inc()
		assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheRequests.WithLabelValues(CacheKernel, "hit")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheRequests.WithLabelValues(CacheProgram, "miss")))
	})

	t.Run("CacheEntries", func(t *testing.T) {
		m.CacheEntries.WithLabelValues(CacheKernel).Set(3)
		assert.Equal(t, float64(3), testutil.ToFloat64(m.CacheEntries.WithLabelValues(CacheKernel)))
	})

	t.Run("CompileDuration", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.CompileDuration.Observe(250)
		})
	})

	count, err := testutil.GatherAndCount(reg, "kernel_cache_requests_total", "kernel_compile_duration_ms")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestIsolatedRegistries(t *testing.T) {
	// Two caches in one process must not clash on registration.
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})

	m := Noop()
	m.Compilations.WithLabelValues("success").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Compilations.WithLabelValues("success")))
}

func BenchmarkCacheRequests(b *testing.B) {
	m := Noop()
	for i := 0; i < b.N; i++ {
		m.CacheRequests.WithLabelValues(CacheKernel, "hit").Inc()
	}
}

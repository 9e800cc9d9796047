package program

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxnlabs/kernel-cache/internal/errdefs"
	"github.com/fxnlabs/kernel-cache/internal/gpu"
	"github.com/fxnlabs/kernel-cache/internal/kernels"
	"github.com/fxnlabs/kernel-cache/internal/metrics"
	"github.com/fxnlabs/kernel-cache/internal/toolchain"
	"github.com/fxnlabs/kernel-cache/internal/toolchain/toolchaintest"
)

var testSources = kernels.NewFS(fstest.MapFS{
	"conv1x1.cl": &fstest.MapFile{Data: []byte("__kernel void Conv1x1Fwd() {}")},
})

type fixture struct {
	compiler *Compiler
	manager  *gpu.Manager
	host     *gpu.HostBackend
	fake     *toolchaintest.Fake
	staging  string
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, opts toolchaintest.Options) *fixture {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	host := gpu.NewHostBackend(zap.NewNop())
	mgr, err := gpu.NewManagerWithBackend(host, zap.NewNop(), m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Cleanup() })

	fake := toolchaintest.Install(t, opts)
	staging := t.TempDir()
	tc := toolchain.New(fake.Config, nil, zap.NewNop(), m)
	return &fixture{
		compiler: NewCompiler(testSources, tc, mgr, staging, zap.NewNop(), m),
		manager:  mgr,
		host:     host,
		fake:     fake,
		staging:  staging,
		metrics:  m,
	}
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Empty(t, names, "staging root must be empty")
}

func TestCompiler_Build(t *testing.T) {
	f := newFixture(t, toolchaintest.Options{})

	p, err := f.compiler.Build(context.Background(), "conv1x1.cl", "-DSTRIDE=1")
	require.NoError(t, err)
	assert.Equal(t, "conv1x1.cl", p.Name())
	assert.Equal(t, "-DSTRIDE=1", p.Params())
	require.NotNil(t, p.Module())
	assert.Equal(t, 1, f.host.Loaded())
	requireEmptyDir(t, f.staging)

	calls := f.fake.CompilerCalls(t)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "-mdevice=Fiji")
	assert.Contains(t, calls[0], "-DSTRIDE=1")
	assert.Contains(t, calls[0], "conv1x1.cl.")

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Compilations.WithLabelValues("success")))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 0, f.host.Loaded())
}

func TestCompiler_BuildFailures(t *testing.T) {
	tests := []struct {
		name    string
		opts    toolchaintest.Options
		program string
		target  error
		status  gpu.Status
	}{
		{name: "missing source", program: "missing.cl", target: errdefs.ErrNotFound},
		{name: "compiler exits nonzero", opts: toolchaintest.Options{CompilerExit: 1}, program: "conv1x1.cl", target: errdefs.ErrCompile},
		{name: "finalizer exits nonzero", opts: toolchaintest.Options{FinalizerExit: 2}, program: "conv1x1.cl", target: errdefs.ErrLink},
		{name: "driver rejects image", opts: toolchaintest.Options{NotELF: true}, program: "conv1x1.cl", target: errdefs.ErrDriver, status: gpu.StatusInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts)

			p, err := f.compiler.Build(context.Background(), tt.program, "")
			require.Error(t, err)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.target)
			if tt.status != gpu.StatusSuccess {
				status, ok := gpu.StatusOf(err)
				require.True(t, ok)
				assert.Equal(t, tt.status, status)
			}

			assert.Equal(t, 0, f.host.Loaded(), "no module left loaded")
			requireEmptyDir(t, f.staging)
			assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Compilations.WithLabelValues("failure")))
		})
	}
}

func TestCompiler_BadStagingRoot(t *testing.T) {
	f := newFixture(t, toolchaintest.Options{})
	f.compiler.stagingRoot = filepath.Join(f.staging, "missing")

	_, err := f.compiler.Build(context.Background(), "conv1x1.cl", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrCreate)
	assert.Empty(t, f.fake.CompilerCalls(t), "compiler never ran")
}

func TestCompiler_Cancelled(t *testing.T) {
	f := newFixture(t, toolchaintest.Options{CompilerSleep: "30"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.compiler.Build(ctx, "conv1x1.cl", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	requireEmptyDir(t, f.staging)
}

func TestCompiler_ConcurrentSameSource(t *testing.T) {
	f := newFixture(t, toolchaintest.Options{})

	const n = 8
	var wg sync.WaitGroup
	programs := make([]*Program, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			programs[i], errs[i] = f.compiler.Build(context.Background(), "conv1x1.cl", "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		defer programs[i].Close()
	}
	assert.Len(t, f.fake.CompilerCalls(t), n, "the compiler itself does not deduplicate")
	assert.Equal(t, n, f.host.Loaded())
	requireEmptyDir(t, f.staging)
}

type failingLoader struct{}

func (failingLoader) LoadModule(path string) (*gpu.Module, error) {
	return nil, errdefs.DriverStatus("load module", path, int(gpu.StatusOutOfMemory), gpu.StatusOutOfMemory.String())
}

func TestCompiler_DriverStatusPreserved(t *testing.T) {
	fake := toolchaintest.Install(t, toolchaintest.Options{})
	staging := t.TempDir()
	c := NewCompiler(testSources, toolchain.New(fake.Config, nil, nil, nil), failingLoader{}, staging, nil, nil)

	_, err := c.Build(context.Background(), "conv1x1.cl", "")
	status, ok := gpu.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, gpu.StatusOutOfMemory, status)
	requireEmptyDir(t, staging)
}

// pinnedLoader loads through the manager, then swaps the staged source for
// a non-empty directory so removing the staged file fails.
type pinnedLoader struct {
	mgr *gpu.Manager
}

func (l pinnedLoader) LoadModule(path string) (*gpu.Module, error) {
	m, err := l.mgr.LoadModule(path)
	if err != nil {
		return nil, err
	}
	src := strings.TrimSuffix(path, toolchain.BinaryExt)
	if err := os.Remove(src); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(src, "pinned"), 0o755); err != nil {
		return nil, err
	}
	return m, nil
}

func TestCompiler_CleanupFailureAfterLoad(t *testing.T) {
	f := newFixture(t, toolchaintest.Options{})
	c := NewCompiler(testSources, toolchain.New(f.fake.Config, nil, nil, nil), pinnedLoader{mgr: f.manager}, f.staging, nil, f.metrics)

	p, err := c.Build(context.Background(), "conv1x1.cl", "")
	require.Error(t, err)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, errdefs.ErrIO)
	assert.Equal(t, 0, f.host.Loaded(), "loaded module is unloaded again")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Compilations.WithLabelValues("failure")))
	requireEmptyDir(t, f.staging)
}

package app

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/fxnlabs/kernel-cache/internal/config"
	"github.com/fxnlabs/kernel-cache/internal/errdefs"
	"github.com/fxnlabs/kernel-cache/internal/gpu"
	"github.com/fxnlabs/kernel-cache/internal/kernelcache"
	"github.com/fxnlabs/kernel-cache/internal/toolchain/toolchaintest"
)

func testConfig(t *testing.T) *config.Config {
	fake := toolchaintest.Install(t, toolchaintest.Options{})

	cfg := config.Default()
	cfg.Logger.Verbosity = "error"
	cfg.Toolchain.Compiler = fake.Config.Compiler
	cfg.Toolchain.Finalizer = fake.Config.Finalizer
	cfg.Staging.Root = t.TempDir()
	cfg.Driver.Backend = gpu.BackendHost
	return cfg
}

func TestModule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.ListenAddress = "127.0.0.1:0"

	var (
		cache  *kernelcache.Cache
		mgr    *gpu.Manager
		server *MetricsServer
	)
	app := fxtest.New(t,
		Module(cfg),
		fx.Populate(&cache, &mgr, &server),
	)
	app.RequireStart()

	k, err := cache.Get(context.Background(), kernelcache.Request{
		Algorithm:     "Sgemm",
		NetworkConfig: "M=64,N=64,K=64",
		Program:       "gemm.cl",
		Entry:         "Sgemm",
		Local:         []int{16, 16},
		Global:        []int{64, 64},
		Params:        "-DTILE=16",
	})
	require.NoError(t, err)
	assert.Equal(t, "Sgemm", k.Entry())
	assert.Equal(t, gpu.BackendHost, mgr.GetBackendType())

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `kernel_compilations_total{result="success"} 1`)
	assert.Contains(t, string(body), "go_goroutines")

	app.RequireStop()

	_, err = cache.Lookup("Sgemm", "M=64,N=64,K=64")
	assert.ErrorIs(t, err, errdefs.ErrClosed)
	assert.Equal(t, "none", mgr.GetBackendType())
}

func TestModule_NoMetricsServer(t *testing.T) {
	var server *MetricsServer
	app := fxtest.New(t,
		Module(testConfig(t)),
		fx.Populate(&server),
	)
	app.RequireStart()
	assert.Empty(t, server.Addr())
	app.RequireStop()
}

func TestModule_BadBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Driver.Backend = "opencl"

	app := fx.New(Module(cfg), fx.Invoke(func(*kernelcache.Cache) {}), fx.NopLogger)
	assert.Error(t, app.Err())
}

// Package app assembles the kernel cache and its collaborators from a
// config.Config with fx.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fxnlabs/kernel-cache/internal/config"
	"github.com/fxnlabs/kernel-cache/internal/gpu"
	"github.com/fxnlabs/kernel-cache/internal/kernelcache"
	"github.com/fxnlabs/kernel-cache/internal/kernels"
	"github.com/fxnlabs/kernel-cache/internal/logger"
	"github.com/fxnlabs/kernel-cache/internal/metrics"
	"github.com/fxnlabs/kernel-cache/internal/program"
	"github.com/fxnlabs/kernel-cache/internal/toolchain"
)

// Module provides a started *kernelcache.Cache, the *gpu.Manager it loads
// into and a *MetricsServer. Stopping the app closes the cache before the
// driver context is torn down.
func Module(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			NewLogger,
			NewRegistry,
			NewMetrics,
			NewGPUManager,
			NewSources,
			NewToolchain,
			NewBuilder,
			NewCache,
			NewMetricsServer,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Invoke(func(*MetricsServer) {}),
	)
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Logger.Verbosity, cfg.Logger.Encoding)
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func NewGPUManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*gpu.Manager, error) {
	mgr, err := gpu.NewManager(cfg.Driver.Backend, log, m)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(mgr.Cleanup))
	return mgr, nil
}

func NewSources(cfg *config.Config) kernels.Provider {
	if cfg.Sources.Dir != "" {
		return kernels.Dir(cfg.Sources.Dir)
	}
	return kernels.Embedded()
}

func NewToolchain(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *toolchain.Toolchain {
	return toolchain.New(toolchain.Config{
		Compiler:       cfg.Toolchain.Compiler,
		Finalizer:      cfg.Toolchain.Finalizer,
		Device:         cfg.Toolchain.Device,
		Target:         cfg.Toolchain.Target,
		CompilerFlags:  cfg.Toolchain.CompilerFlags,
		FinalizerFlags: cfg.Toolchain.FinalizerFlags,
		Timeout:        cfg.Toolchain.Timeout,
	}, nil, log, m)
}

func NewBuilder(cfg *config.Config, sources kernels.Provider, tc *toolchain.Toolchain, mgr *gpu.Manager, log *zap.Logger, m *metrics.Metrics) program.Builder {
	return program.NewCompiler(sources, tc, mgr, cfg.Staging.Root, log, m)
}

func NewCache(lc fx.Lifecycle, builder program.Builder, log *zap.Logger, m *metrics.Metrics) *kernelcache.Cache {
	cache := kernelcache.New(builder, log, m)
	lc.Append(fx.StopHook(cache.Close))
	return cache
}

// MetricsServer serves /metrics on the configured address. It does
// nothing when no address is configured.
type MetricsServer struct {
	addr   string
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
}

func NewMetricsServer(lc fx.Lifecycle, cfg *config.Config, reg *prometheus.Registry, log *zap.Logger) *MetricsServer {
	s := &MetricsServer{addr: cfg.Metrics.ListenAddress, logger: log.Named("metrics")}
	if s.addr == "" {
		return s
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	lc.Append(fx.Hook{OnStart: s.start, OnStop: s.stop})
	return s
}

// Addr returns the bound listen address, or "" when the server is not
// running.
func (s *MetricsServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *MetricsServer) start(context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("Serving metrics", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *MetricsServer) stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

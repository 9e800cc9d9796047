// Package program builds Programs: compiled kernel sources loaded into the
// GPU driver as modules.
package program

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fxnlabs/kernel-cache/internal/gpu"
	"github.com/fxnlabs/kernel-cache/internal/kernels"
	"github.com/fxnlabs/kernel-cache/internal/metrics"
	"github.com/fxnlabs/kernel-cache/internal/tmpfs"
)

// Program is the compiled artifact for one (source name, params) pair.
// It owns exactly one loaded module.
type Program struct {
	name   string
	params string
	module *gpu.Module

	closeOnce sync.Once
	closeErr  error
}

// New wraps a loaded module. The Program takes ownership of m.
func New(name, params string, m *gpu.Module) *Program {
	return &Program{name: name, params: params, module: m}
}

func (p *Program) Name() string { return p.name }
func (p *Program) Params() string { return p.params }

// Module returns the loaded module. Callers must not unload it.
func (p *Program) Module() *gpu.Module { return p.module }

// Close unloads the module. Only the first call has an effect.
func (p *Program) Close() error {
	p.closeOnce.Do(func() {
		if p.module != nil {
			p.closeErr = p.module.Unload()
		}
	})
	return p.closeErr
}

// Builder produces Programs.
type Builder interface {
	Build(ctx context.Context, name, params string) (*Program, error)
}

// Toolchain turns a staged source into a code object on disk.
type Toolchain interface {
	Build(ctx context.Context, workDir, src, params string) (string, error)
}

// Loader loads a code object into the driver.
type Loader interface {
	LoadModule(path string) (*gpu.Module, error)
}

// Compiler runs the full pipeline: fetch source, stage it, compile,
// finalize and load.
type Compiler struct {
	sources     kernels.Provider
	toolchain   Toolchain
	loader      Loader
	stagingRoot string
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewCompiler returns a Compiler staging its work under stagingRoot
// (os.TempDir() when empty).
func NewCompiler(sources kernels.Provider, tc Toolchain, loader Loader, stagingRoot string, logger *zap.Logger, m *metrics.Metrics) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Compiler{
		sources:     sources,
		toolchain:   tc,
		loader:      loader,
		stagingRoot: stagingRoot,
		logger:      logger.Named("compiler"),
		metrics:     m,
	}
}

// Build compiles the named program with params. Everything staged on disk
// is removed before Build returns, whether it succeeds or not.
func (c *Compiler) Build(ctx context.Context, name, params string) (p *Program, err error) {
	start := time.Now()
	log := c.logger.With(zap.String("program", name), zap.String("params", params))
	defer func() {
		elapsed := time.Since(start)
		if err != nil {
			c.metrics.Compilations.WithLabelValues("failure").Inc()
			log.Error("Program compilation failed", zap.Duration("elapsed", elapsed), zap.Error(err))
			return
		}
		c.metrics.Compilations.WithLabelValues("success").Inc()
		c.metrics.CompileDuration.Observe(float64(elapsed.Microseconds()) / 1000)
		log.Info("Program compiled", zap.Duration("elapsed", elapsed))
	}()

	src, err := c.sources.Source(name)
	if err != nil {
		return nil, err
	}

	// Staging cleanup can fail after the module is loaded; no partial result.
	defer func() {
		if err != nil && p != nil {
			_ = p.Close()
			p = nil
		}
	}()

	dir, err := tmpfs.NewDir(c.stagingRoot, name)
	if err != nil {
		return nil, err
	}
	defer tmpfs.Release(dir, &err, log)

	file, err := tmpfs.NewFile(dir.Path, name)
	if err != nil {
		return nil, err
	}
	defer tmpfs.Release(file, &err, log)

	if err := file.Write(src); err != nil {
		return nil, err
	}

	binary, err := c.toolchain.Build(ctx, dir.Path, file.Path, params)
	if err != nil {
		return nil, err
	}

	module, err := c.loader.LoadModule(binary)
	if err != nil {
		return nil, err
	}
	return New(name, params, module), nil
}

// Package kernelcache memoizes compiled kernels by (algorithm, network
// configuration) and compiled programs by (source name, parameters).
//
// A Cache compiles each key at most once. Concurrent requests for a key
// that is being compiled wait for that compilation instead of starting
// another; requests for different keys never wait on each other. Failed
// compilations are not cached, so the next request retries from scratch.
//
// Entries are never evicted. Close unloads every program and ends the
// cache's life.
package kernelcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fxnlabs/kernel-cache/internal/errdefs"
	"github.com/fxnlabs/kernel-cache/internal/metrics"
	"github.com/fxnlabs/kernel-cache/internal/program"
)

// Request describes the kernel wanted by Get. Only Algorithm and
// NetworkConfig identify the entry; the remaining fields are used to build
// it on a miss and are ignored on a hit.
type Request struct {
	Algorithm     string
	NetworkConfig string
	Program       string
	Entry         string
	Local         []int
	Global        []int
	Params        string
}

func (r Request) validate() error {
	const op = "get kernel"
	switch {
	case r.Algorithm == "":
		return errdefs.Invalidf(op, "algorithm is empty")
	case r.Program == "":
		return errdefs.Invalidf(op, "program name is empty")
	case r.Entry == "":
		return errdefs.Invalidf(op, "entry point is empty")
	}
	if err := validateDims("local", r.Local); err != nil {
		return err
	}
	if err := validateDims("global", r.Global); err != nil {
		return err
	}
	if len(r.Local) != len(r.Global) {
		return errdefs.Invalidf(op, "local dims %v and global dims %v differ in rank", r.Local, r.Global)
	}
	return nil
}

func validateDims(which string, dims []int) error {
	if len(dims) == 0 || len(dims) > 3 {
		return errdefs.Invalidf("get kernel", "%s dims must have 1 to 3 axes, got %d", which, len(dims))
	}
	for _, d := range dims {
		if d <= 0 {
			return errdefs.Invalidf("get kernel", "%s dims %v must be positive", which, dims)
		}
	}
	return nil
}

// Stats reports the number of cached entries.
type Stats struct {
	Kernels  int
	Programs int
}

// Cache is the kernel and program cache. Create it with New and release
// it with Close.
type Cache struct {
	builder program.Builder

	kernels  *shardedMap[ConfigKey, *Kernel]
	programs *shardedMap[ProgramKey, *program.Program]

	kernelFlight  singleflight.Group
	programFlight singleflight.Group

	// mu orders inserts against Close.
	mu     sync.RWMutex
	closed bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New returns an empty cache that builds programs with builder.
func New(builder program.Builder, logger *zap.Logger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Cache{
		builder:  builder,
		kernels:  newShardedMap[ConfigKey, *Kernel](),
		programs: newShardedMap[ProgramKey, *program.Program](),
		logger:   logger.Named("kernel_cache"),
		metrics:  m,
	}
}

// Get returns the kernel for (req.Algorithm, req.NetworkConfig), building
// it on first use.
//
// On a hit the stored kernel is returned as is, even when req names a
// different program, entry point or geometry.
func (c *Cache) Get(ctx context.Context, req Request) (*Kernel, error) {
	if c.isClosed() {
		return nil, errClosed("get kernel")
	}

	key := ConfigKey{Algorithm: req.Algorithm, NetworkConfig: req.NetworkConfig}
	if k, ok := c.kernels.load(key); ok {
		c.metrics.CacheRequests.WithLabelValues(metrics.CacheKernel, "hit").Inc()
		c.noteMismatch(k, req)
		return k, nil
	}
	c.metrics.CacheRequests.WithLabelValues(metrics.CacheKernel, "miss").Inc()

	if err := req.validate(); err != nil {
		return nil, err
	}

	v, err := c.do(ctx, &c.kernelFlight, key.String(), func(ctx context.Context) (any, error) {
		if k, ok := c.kernels.load(key); ok {
			return k, nil
		}
		p, err := c.GetProgram(ctx, req.Program, req.Params)
		if err != nil {
			return nil, err
		}
		return c.insertKernel(key, newKernel(key, p, req))
	})
	if err != nil {
		return nil, err
	}
	return v.(*Kernel), nil
}

// Lookup returns the kernel stored for (algorithm, networkConfig) by an
// earlier Get. It never compiles.
func (c *Cache) Lookup(algorithm, networkConfig string) (*Kernel, error) {
	if c.isClosed() {
		return nil, errClosed("lookup kernel")
	}
	key := ConfigKey{Algorithm: algorithm, NetworkConfig: networkConfig}
	if k, ok := c.kernels.load(key); ok {
		c.metrics.CacheRequests.WithLabelValues(metrics.CacheKernel, "hit").Inc()
		return k, nil
	}
	c.metrics.CacheRequests.WithLabelValues(metrics.CacheKernel, "miss").Inc()
	return nil, errdefs.NotFoundf("lookup kernel", "no kernel cached for algorithm %q and network config %q", algorithm, networkConfig)
}

// GetProgram returns the program compiled from name with params, building
// it on first use. Programs are cached independently of kernels.
func (c *Cache) GetProgram(ctx context.Context, name, params string) (*program.Program, error) {
	if c.isClosed() {
		return nil, errClosed("get program")
	}
	if name == "" {
		return nil, errdefs.Invalidf("get program", "program name is empty")
	}

	key := ProgramKey{Name: name, Params: params}
	if p, ok := c.programs.load(key); ok {
		c.metrics.CacheRequests.WithLabelValues(metrics.CacheProgram, "hit").Inc()
		return p, nil
	}
	c.metrics.CacheRequests.WithLabelValues(metrics.CacheProgram, "miss").Inc()

	v, err := c.do(ctx, &c.programFlight, key.String(), func(ctx context.Context) (any, error) {
		if p, ok := c.programs.load(key); ok {
			return p, nil
		}
		p, err := c.builder.Build(ctx, name, params)
		if err != nil {
			return nil, err
		}
		return c.insertProgram(key, p)
	})
	if err != nil {
		return nil, err
	}
	return v.(*program.Program), nil
}

// Stats returns the current entry counts.
func (c *Cache) Stats() Stats {
	return Stats{Kernels: c.kernels.len(), Programs: c.programs.len()}
}

// Close drops every entry and unloads every program. Later calls on the
// cache fail with errdefs.ErrClosed. Close is safe to call more than once.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	kernels := c.kernels.drain()
	programs := c.programs.drain()
	c.mu.Unlock()

	var errs []error
	for _, p := range programs {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("unload program %s: %w", p.Name(), err))
		}
	}
	c.metrics.CacheEntries.WithLabelValues(metrics.CacheKernel).Set(0)
	c.metrics.CacheEntries.WithLabelValues(metrics.CacheProgram).Set(0)
	c.logger.Info("Kernel cache closed",
		zap.Int("kernels", len(kernels)),
		zap.Int("programs", len(programs)),
		zap.Int("unload_errors", len(errs)))
	return errors.Join(errs...)
}

// abandonedError marks a build that failed because the caller that
// started it went away, not because the build itself is broken.
type abandonedError struct{ err error }

func (e *abandonedError) Error() string { return e.err.Error() }
func (e *abandonedError) Unwrap() error { return e.err }

// do runs fn once per key among concurrent callers. fn runs under the
// context of the caller that started it; if that caller is cancelled the
// others start a fresh build rather than inherit the cancellation.
func (c *Cache) do(ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (any, error)) (any, error) {
	for {
		ch := g.DoChan(key, func() (any, error) {
			v, err := fn(ctx)
			if err != nil && ctx.Err() != nil {
				return nil, &abandonedError{err: err}
			}
			return v, err
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			var abandoned *abandonedError
			if errors.As(res.Err, &abandoned) {
				if ctx.Err() == nil {
					c.logger.Debug("Build abandoned by its caller, retrying", zap.String("key", key))
					continue
				}
				return nil, abandoned.err
			}
			return res.Val, res.Err
		}
	}
}

func (c *Cache) insertKernel(key ConfigKey, k *Kernel) (*Kernel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, errClosed("get kernel")
	}
	stored, _ := c.kernels.store(key, k)
	c.metrics.CacheEntries.WithLabelValues(metrics.CacheKernel).Set(float64(c.kernels.len()))
	c.logger.Debug("Kernel cached",
		zap.String("algorithm", key.Algorithm),
		zap.String("network_config", key.NetworkConfig),
		zap.String("program", k.program.Name()),
		zap.String("entry", k.entry))
	return stored, nil
}

func (c *Cache) insertProgram(key ProgramKey, p *program.Program) (*program.Program, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		_ = p.Close()
		return nil, errClosed("get program")
	}
	stored, inserted := c.programs.store(key, p)
	if !inserted {
		_ = p.Close()
	}
	c.metrics.CacheEntries.WithLabelValues(metrics.CacheProgram).Set(float64(c.programs.len()))
	return stored, nil
}

func (c *Cache) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// noteMismatch logs hits whose request disagrees with the stored kernel.
// The key alone decides identity, so this is informational only.
func (c *Cache) noteMismatch(k *Kernel, req Request) {
	if req.Program == "" && req.Entry == "" {
		return
	}
	if req.Program != k.program.Name() || req.Entry != k.entry || req.Params != k.params {
		c.logger.Debug("Cache hit ignores differing request",
			zap.String("algorithm", req.Algorithm),
			zap.String("network_config", req.NetworkConfig),
			zap.String("cached_program", k.program.Name()),
			zap.String("requested_program", req.Program),
			zap.String("cached_entry", k.entry),
			zap.String("requested_entry", req.Entry))
	}
}

func errClosed(op string) error {
	return &errdefs.Error{Kind: errdefs.Closed, Op: op}
}

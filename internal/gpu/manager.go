package gpu

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fxnlabs/kernel-cache/internal/metrics"
)

// Backend selection values accepted by NewManager.
const (
	BackendAuto = "auto"
	BackendHIP  = "hip"
	BackendHost = "host"
)

// Manager handles backend selection and lifecycle, and serializes module
// loads against driver context teardown.
type Manager struct {
	backend Backend
	// gen changes on every Cleanup so modules from a destroyed context
	// are not unloaded twice.
	gen     uint64
	mu      sync.RWMutex
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewManager creates a new GPU manager for the requested backend kind.
// "auto" tries HIP first and falls back to the host backend.
func NewManager(kind string, logger *zap.Logger, m *metrics.Metrics) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Noop()
	}
	logger = logger.Named("gpu")

	var backend Backend
	switch kind {
	case "", BackendAuto:
		backend = tryHIPBackend(logger)
		if backend == nil {
			backend = NewHostBackend(logger)
		}
	case BackendHIP:
		backend = NewHIPBackend(logger)
		if !backend.IsAvailable() {
			return nil, fmt.Errorf("HIP backend requested but no HIP device is available")
		}
	case BackendHost:
		backend = NewHostBackend(logger)
	default:
		return nil, fmt.Errorf("unknown GPU backend %q", kind)
	}

	return NewManagerWithBackend(backend, logger, m)
}

// tryHIPBackend returns an initialized HIP backend, or nil when none is usable.
func tryHIPBackend(logger *zap.Logger) Backend {
	hip := NewHIPBackend(logger)
	if !hip.IsAvailable() {
		return nil
	}
	if err := hip.Initialize(); err != nil {
		logger.Warn("HIP backend failed to initialize, falling back to host", zap.Error(err))
		_ = hip.Cleanup()
		return nil
	}
	return hip
}

// NewManagerWithBackend wraps an already constructed backend and
// initializes it.
func NewManagerWithBackend(backend Backend, logger *zap.Logger, m *metrics.Metrics) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Noop()
	}
	if err := backend.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", backend.Name(), err)
	}
	logger.Info("Using GPU backend", zap.String("backend", backend.Name()), zap.String("device", backend.GetDeviceInfo().Name))
	return &Manager{
		backend: backend,
		logger:  logger,
		metrics: m,
	}, nil
}

// GetBackend returns the current backend
func (m *Manager) GetBackend() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend
}

// LoadModule loads the code object at path. A non-success driver status
// is returned as an errdefs Driver error carrying the status code.
func (m *Manager) LoadModule(path string) (*Module, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.backend == nil {
		return nil, statusError("load module", path, StatusDeinitialized)
	}

	handle, status := m.backend.LoadModule(path)
	m.metrics.ModuleLoads.WithLabelValues(m.backend.Name(), status.String()).Inc()
	if status != StatusSuccess {
		m.logger.Debug("Module load failed", zap.String("path", path), zap.Stringer("status", status))
		return nil, statusError("load module", path, status)
	}

	return &Module{
		manager: m,
		backend: m.backend,
		gen:     m.gen,
		handle:  handle,
		path:    path,
	}, nil
}

// GetDeviceInfo returns device information from the current backend
func (m *Manager) GetDeviceInfo() DeviceInfo {
	backend := m.GetBackend()
	if backend == nil {
		return DeviceInfo{Name: "No backend available"}
	}
	return backend.GetDeviceInfo()
}

// IsGPUAvailable returns true if a GPU backend is active
func (m *Manager) IsGPUAvailable() bool {
	backend := m.GetBackend()
	if backend == nil {
		return false
	}
	_, isHost := backend.(*HostBackend)
	return !isHost
}

// GetBackendType returns the name of the current backend, or "none".
func (m *Manager) GetBackendType() string {
	backend := m.GetBackend()
	if backend == nil {
		return "none"
	}
	return backend.Name()
}

// Cleanup destroys the driver context. It waits for in-progress loads.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend != nil {
		if err := m.backend.Cleanup(); err != nil {
			return err
		}
		m.backend = nil
		m.gen++
	}
	return nil
}

func (m *Manager) unload(mod *Module) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// The context the module lived in is gone.
	if m.backend == nil || m.gen != mod.gen {
		return nil
	}
	if status := mod.backend.UnloadModule(mod.handle); status != StatusSuccess {
		return statusError("unload module", mod.path, status)
	}
	return nil
}

// Module is a code object loaded into the driver. It is owned by exactly
// one Program and must not be copied.
type Module struct {
	manager *Manager
	backend Backend
	gen     uint64
	handle  ModuleHandle
	path    string

	once sync.Once
	err  error
}

// Handle returns the driver handle.
func (mod *Module) Handle() ModuleHandle { return mod.handle }

// Path is the code object the module was loaded from. The file itself is
// removed once the compilation that produced it returns.
func (mod *Module) Path() string { return mod.path }

// Unload releases the module. Only the first call reaches the driver.
func (mod *Module) Unload() error {
	mod.once.Do(func() {
		mod.err = mod.manager.unload(mod)
	})
	return mod.err
}

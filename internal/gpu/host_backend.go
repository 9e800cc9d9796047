package gpu

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// HostBackend implements Backend without a GPU. It maps code objects into
// host memory and hands out handles for them, which lets the compilation
// pipeline run end to end on machines with only the toolchain installed.
type HostBackend struct {
	logger *zap.Logger

	mu          sync.Mutex
	initialized bool
	next        ModuleHandle
	modules     map[ModuleHandle][]byte
}

// NewHostBackend creates a new host backend instance
func NewHostBackend(logger *zap.Logger) *HostBackend {
	return &HostBackend{
		logger:  logger,
		modules: make(map[ModuleHandle][]byte),
	}
}

func (h *HostBackend) Name() string { return "host" }

// Initialize prepares the host backend for use
func (h *HostBackend) Initialize() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.initialized {
		return nil
	}
	h.initialized = true
	h.logger.Info("Host backend initialized")
	return nil
}

// Cleanup drops every module still mapped.
func (h *HostBackend) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.modules); n > 0 {
		h.logger.Warn("Host backend cleaned up with modules still loaded", zap.Int("modules", n))
	}
	h.modules = make(map[ModuleHandle][]byte)
	h.initialized = false
	return nil
}

// IsAvailable always returns true.
func (h *HostBackend) IsAvailable() bool {
	return true
}

// GetDeviceInfo returns device information for the host
func (h *HostBackend) GetDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Name:          fmt.Sprintf("Host (%s)", runtime.GOARCH),
		Arch:          runtime.GOARCH,
		DriverVersion: runtime.Version(),
	}
}

// LoadModule reads the code object at path. Anything that is not an ELF
// image is rejected with StatusInvalidImage.
func (h *HostBackend) LoadModule(path string) (ModuleHandle, Status) {
	image, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, StatusFileNotFound
		}
		h.logger.Debug("Failed to read code object", zap.String("path", path), zap.Error(err))
		return 0, StatusOperatingSystem
	}
	if !bytes.HasPrefix(image, elfMagic) {
		return 0, StatusInvalidImage
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return 0, StatusNotInitialized
	}
	h.next++
	h.modules[h.next] = image
	return h.next, StatusSuccess
}

// UnloadModule releases a handle returned by LoadModule.
func (h *HostBackend) UnloadModule(handle ModuleHandle) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.modules[handle]; !ok {
		return StatusInvalidHandle
	}
	delete(h.modules, handle)
	return StatusSuccess
}

// Loaded returns the number of modules currently mapped.
func (h *HostBackend) Loaded() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.modules)
}

//go:build hip
// +build hip

package gpu

/*
#cgo CFLAGS: -D__HIP_PLATFORM_AMD__ -I/opt/rocm/include
#cgo LDFLAGS: -L/opt/rocm/lib -lamdhip64
#include <hip/hip_runtime_api.h>
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"sync"
	"unsafe"

	"go.uber.org/zap"
)

// HIPBackend implements Backend on the ROCm HIP runtime
type HIPBackend struct {
	logger      *zap.Logger
	initialized bool
	deviceInfo  DeviceInfo
	available   bool

	mu      sync.Mutex
	next    ModuleHandle
	modules map[ModuleHandle]C.hipModule_t
}

// NewHIPBackend creates a new HIP backend instance
func NewHIPBackend(logger *zap.Logger) *HIPBackend {
	backend := &HIPBackend{
		logger:  logger,
		modules: make(map[ModuleHandle]C.hipModule_t),
	}

	if err := backend.checkDevice(); err != nil {
		logger.Warn("HIP device not available", zap.Error(err))
		backend.available = false
	} else {
		backend.available = true
	}

	return backend
}

func (h *HIPBackend) Name() string { return "hip" }

// Initialize prepares the HIP backend for use
func (h *HIPBackend) Initialize() error {
	if !h.available {
		return fmt.Errorf("HIP device not available")
	}

	if h.initialized {
		return nil
	}

	h.logger.Debug("Initializing HIP backend")

	if status := Status(C.hipSetDevice(0)); status != StatusSuccess {
		return statusError("set device", "", status)
	}

	var prop C.hipDeviceProp_t
	if status := Status(C.hipGetDeviceProperties(&prop, 0)); status != StatusSuccess {
		return statusError("get device properties", "", status)
	}

	var driverVersion C.int
	_ = C.hipDriverGetVersion(&driverVersion)

	h.deviceInfo = DeviceInfo{
		Name:          C.GoString(&prop.name[0]),
		Arch:          C.GoString(&prop.gcnArchName[0]),
		TotalMemory:   int64(prop.totalGlobalMem),
		DriverVersion: fmt.Sprintf("%d", int(driverVersion)),
	}

	h.initialized = true
	h.logger.Info("HIP backend initialized",
		zap.String("device", h.deviceInfo.Name),
		zap.String("arch", h.deviceInfo.Arch),
		zap.Float64("total_memory_gb", float64(h.deviceInfo.TotalMemory)/(1<<30)))

	return nil
}

// LoadModule loads a code object with hipModuleLoad.
func (h *HIPBackend) LoadModule(path string) (ModuleHandle, Status) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var m C.hipModule_t
	if status := Status(C.hipModuleLoad(&m, cpath)); status != StatusSuccess {
		return 0, status
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.modules[h.next] = m
	return h.next, StatusSuccess
}

// UnloadModule releases a module with hipModuleUnload.
func (h *HIPBackend) UnloadModule(handle ModuleHandle) Status {
	h.mu.Lock()
	m, ok := h.modules[handle]
	delete(h.modules, handle)
	h.mu.Unlock()
	if !ok {
		return StatusInvalidHandle
	}
	return Status(C.hipModuleUnload(m))
}

// GetDeviceInfo returns information about the HIP device
func (h *HIPBackend) GetDeviceInfo() DeviceInfo {
	return h.deviceInfo
}

// IsAvailable checks if HIP is available
func (h *HIPBackend) IsAvailable() bool {
	return h.available
}

// Cleanup unloads leftover modules and resets the device.
func (h *HIPBackend) Cleanup() error {
	if !h.initialized {
		return nil
	}

	h.logger.Debug("Cleaning up HIP backend")

	h.mu.Lock()
	for handle, m := range h.modules {
		if status := Status(C.hipModuleUnload(m)); status != StatusSuccess {
			h.logger.Warn("Failed to unload module during cleanup", zap.Stringer("status", status))
		}
		delete(h.modules, handle)
	}
	h.mu.Unlock()

	if status := Status(C.hipDeviceReset()); status != StatusSuccess {
		return statusError("device reset", "", status)
	}

	h.initialized = false
	return nil
}

// checkDevice verifies HIP device availability
func (h *HIPBackend) checkDevice() error {
	if status := Status(C.hipInit(0)); status != StatusSuccess {
		return statusError("init", "", status)
	}
	var count C.int
	if status := Status(C.hipGetDeviceCount(&count)); status != StatusSuccess {
		return statusError("get device count", "", status)
	}
	if count == 0 {
		return statusError("get device count", "", StatusNoDevice)
	}
	return nil
}

//go:build !hip
// +build !hip

package gpu

import "go.uber.org/zap"

// HIPBackend is a stub type when HIP is not available
type HIPBackend struct {
	logger *zap.Logger
}

// NewHIPBackend returns a backend that reports itself unavailable.
func NewHIPBackend(logger *zap.Logger) *HIPBackend {
	return &HIPBackend{logger: logger}
}

func (h *HIPBackend) Name() string { return "hip" }

func (h *HIPBackend) LoadModule(path string) (ModuleHandle, Status) {
	return 0, StatusNoDevice
}

func (h *HIPBackend) UnloadModule(handle ModuleHandle) Status {
	return StatusInvalidHandle
}

func (h *HIPBackend) GetDeviceInfo() DeviceInfo {
	return DeviceInfo{Name: "HIP not available"}
}

func (h *HIPBackend) IsAvailable() bool {
	return false
}

func (h *HIPBackend) Initialize() error {
	return statusError("init", "", StatusNoDevice)
}

func (h *HIPBackend) Cleanup() error {
	return nil
}

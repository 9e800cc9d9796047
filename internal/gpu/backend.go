package gpu

// DeviceInfo contains information about the GPU device
type DeviceInfo struct {
	Name          string `json:"name"`
	Arch          string `json:"arch"`
	TotalMemory   int64  `json:"totalMemory"` // in bytes
	DriverVersion string `json:"driverVersion"`
}

// ModuleHandle is the driver's opaque reference to a loaded module.
type ModuleHandle uintptr

// Backend is a GPU driver able to load compiled code objects as modules.
//
// Implementation notes:
// - LoadModule and UnloadModule report the native status instead of an
//   error so callers can tell driver failure classes apart
// - Backends must be safe for concurrent LoadModule/UnloadModule calls
// - Cleanup destroys the driver context; the Manager guarantees no load
//   is in progress while it runs
type Backend interface {
	// Name identifies the backend in logs and metrics ("hip", "host").
	Name() string

	// LoadModule loads the code object at path into the driver.
	LoadModule(path string) (ModuleHandle, Status)

	// UnloadModule releases a handle returned by LoadModule.
	UnloadModule(h ModuleHandle) Status

	// GetDeviceInfo returns information about the device the backend drives.
	GetDeviceInfo() DeviceInfo

	// IsAvailable performs a quick check without heavy initialization.
	IsAvailable() bool

	// Initialize prepares the driver context. Called once before first use.
	Initialize() error

	// Cleanup releases the driver context.
	Cleanup() error
}

package gpu

import (
	"errors"
	"fmt"

	"github.com/fxnlabs/kernel-cache/internal/errdefs"
)

// Status is a native driver status code. Values follow hipError_t so a
// status from the HIP runtime converts without translation.
type Status int

const (
	StatusSuccess                    Status = 0
	StatusInvalidValue               Status = 1
	StatusOutOfMemory                Status = 2
	StatusNotInitialized             Status = 3
	StatusDeinitialized              Status = 4
	StatusNoDevice                   Status = 100
	StatusInvalidDevice              Status = 101
	StatusInvalidImage               Status = 200
	StatusInvalidContext             Status = 201
	StatusFileNotFound               Status = 301
	StatusSharedObjectSymbolNotFound Status = 302
	StatusSharedObjectInitFailed     Status = 303
	StatusOperatingSystem            Status = 304
	StatusInvalidHandle              Status = 400
	StatusNotFound                   Status = 500
	StatusUnknown                    Status = 999
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "hipSuccess"
	case StatusInvalidValue:
		return "hipErrorInvalidValue"
	case StatusOutOfMemory:
		return "hipErrorOutOfMemory"
	case StatusNotInitialized:
		return "hipErrorNotInitialized"
	case StatusDeinitialized:
		return "hipErrorDeinitialized"
	case StatusNoDevice:
		return "hipErrorNoDevice"
	case StatusInvalidDevice:
		return "hipErrorInvalidDevice"
	case StatusInvalidImage:
		return "hipErrorInvalidImage"
	case StatusInvalidContext:
		return "hipErrorInvalidContext"
	case StatusFileNotFound:
		return "hipErrorFileNotFound"
	case StatusSharedObjectSymbolNotFound:
		return "hipErrorSharedObjectSymbolNotFound"
	case StatusSharedObjectInitFailed:
		return "hipErrorSharedObjectInitFailed"
	case StatusOperatingSystem:
		return "hipErrorOperatingSystem"
	case StatusInvalidHandle:
		return "hipErrorInvalidHandle"
	case StatusNotFound:
		return "hipErrorNotFound"
	case StatusUnknown:
		return "hipErrorUnknown"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusOf returns the driver status carried by err, if err is a driver error.
func StatusOf(err error) (Status, bool) {
	var e *errdefs.Error
	if errors.As(err, &e) && e.Kind == errdefs.Driver {
		return Status(e.Status), true
	}
	return StatusSuccess, false
}

func statusError(op, path string, s Status) error {
	return errdefs.DriverStatus(op, path, int(s), s.String())
}

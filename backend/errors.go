package backend

import (
	"errors"
	"fmt"
)

// AllocationError reports that device memory could not be obtained, either
// because the device is unavailable or because memory is exhausted.
//
// It is distinct from ComputeError so callers can fall back to the host
// device when an accelerated device cannot be used.
type AllocationError struct {
	Device string
	Op     string // "init", "upload", "alloc", "download"
	Bytes  uint64
	Err    error
}

func (e *AllocationError) Error() string {
	if e.Bytes > 0 {
		return fmt.Sprintf("backend: %s %s (%d bytes): %v", e.Device, e.Op, e.Bytes, e.Err)
	}
	return fmt.Sprintf("backend: %s %s: %v", e.Device, e.Op, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// ComputeError reports that a kernel launch failed or faulted.
type ComputeError struct {
	Device string
	Kernel string
	Err    error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("backend: %s launch %s: %v", e.Device, e.Kernel, e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }

// IsAllocation reports whether err is, or wraps, an *AllocationError.
func IsAllocation(err error) bool {
	var ae *AllocationError
	return errors.As(err, &ae)
}

// IsCompute reports whether err is, or wraps, a *ComputeError.
func IsCompute(err error) bool {
	var ce *ComputeError
	return errors.As(err, &ce)
}

package pixkern

import (
	"errors"
	"fmt"

	"github.com/gogpu/pixkern/backend"
)

// ErrPanic is wrapped by the error of a work item that panicked. The panic
// fails that item only.
var ErrPanic = errors.New("pixkern: work item panicked")

// LoadError reports that an input image is unreadable, missing or corrupt.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// WriteError reports that an output could not be created or written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// AllocationError reports that the compute device is unavailable or out of
// memory. See backend.AllocationError.
type AllocationError = backend.AllocationError

// ComputeError reports that a kernel launch failed, faulted or timed out.
// See backend.ComputeError.
type ComputeError = backend.ComputeError

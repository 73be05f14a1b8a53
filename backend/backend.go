package backend

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/pixkern/kernel"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested device is not registered
	// or cannot be initialized.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrBufferReleased is returned when using a buffer after Release.
	ErrBufferReleased = errors.New("backend: buffer has been released")

	// ErrForeignBuffer is returned when a buffer is passed to a device that
	// did not create it.
	ErrForeignBuffer = errors.New("backend: buffer belongs to another device")

	// ErrShapeMismatch is returned when buffer and grid shapes disagree.
	ErrShapeMismatch = errors.New("backend: shape mismatch")

	// ErrInvalidShape is returned for non-positive dimensions.
	ErrInvalidShape = errors.New("backend: invalid shape")

	// ErrMemoryBudgetExceeded is returned when an allocation would exceed
	// the device memory budget.
	ErrMemoryBudgetExceeded = errors.New("backend: memory budget exceeded")

	// ErrKernelFault is returned when a kernel panics during a launch.
	ErrKernelFault = errors.New("backend: kernel fault")
)

// Info describes a device.
type Info struct {
	// Name is the registry name ("host", "wgpu").
	Name string

	// Accelerated reports whether kernels run off the host CPU.
	Accelerated bool

	// Detail is a human-readable description (adapter name, CPU features).
	Detail string
}

// Device is a compute backend able to hold planes and run kernels on them.
//
// Every Buffer belongs to the Device that created it and is valid until
// Release. Buffers are owned by a single work item and are never shared
// between concurrent launches.
type Device interface {
	// Name returns the registry name of the device.
	Name() string

	// Info describes the device. Valid after Init.
	Info() Info

	// Init acquires device resources. Failure to reach the device is
	// reported as *AllocationError.
	Init() error

	// Close releases all device resources.
	Close()

	// Upload copies host into a new device buffer of shape s.
	// len(host) must equal s.Len().
	Upload(host []float32, s kernel.Shape) (*Buffer, error)

	// Alloc returns a zero-initialized device buffer of shape s.
	Alloc(s kernel.Shape) (*Buffer, error)

	// Download copies b into a new host slice.
	Download(b *Buffer) ([]float32, error)

	// Release frees b. Releasing twice is a no-op.
	Release(b *Buffer)

	// Launch runs kernel id over grid g reading in and writing out, and
	// returns after every execution unit has completed.
	Launch(ctx context.Context, id kernel.ID, in, out *Buffer, g kernel.Grid) error
}

var bufferIDs atomic.Uint64

// Buffer is a device-resident plane of float32 samples.
//
// The element type contract is float32 on every device: hosts hand over
// float32 planes and receive float32 planes back, bit for bit.
type Buffer struct {
	id       uint64
	shape    kernel.Shape
	owner    Device
	payload  any // []float32 on host, *gpuBuffer on wgpu
	bytes    uint64
	released atomic.Bool
}

func newBuffer(owner Device, s kernel.Shape, payload any) *Buffer {
	return &Buffer{
		id:      bufferIDs.Add(1),
		shape:   s,
		owner:   owner,
		payload: payload,
		bytes:   planeBytes(s),
	}
}

// ID returns a process-unique buffer identifier.
func (b *Buffer) ID() uint64 { return b.id }

// Shape returns the plane shape of the buffer.
func (b *Buffer) Shape() kernel.Shape { return b.shape }

// Bytes returns the device memory size of the buffer.
func (b *Buffer) Bytes() uint64 { return b.bytes }

// Released reports whether Release has been called.
func (b *Buffer) Released() bool { return b.released.Load() }

// String returns a short description for logs.
func (b *Buffer) String() string {
	return fmt.Sprintf("buffer#%d(%v)", b.id, b.shape)
}

// check validates that b is live and belongs to dev.
func (b *Buffer) check(dev Device) error {
	if b == nil {
		return ErrBufferReleased
	}
	if b.owner != dev {
		return ErrForeignBuffer
	}
	if b.released.Load() {
		return ErrBufferReleased
	}
	return nil
}

// planeBytes is the float32 storage size of a plane.
func planeBytes(s kernel.Shape) uint64 {
	return uint64(s.Len()) * 4 //nolint:gosec // shape validated positive
}

// checkLaunch validates the buffers and grid of a launch.
func checkLaunch(dev Device, id kernel.ID, in, out *Buffer, g kernel.Grid) error {
	if !id.Valid() {
		return fmt.Errorf("backend: unknown kernel %v", id)
	}
	if err := in.check(dev); err != nil {
		return fmt.Errorf("input %w", err)
	}
	if err := out.check(dev); err != nil {
		return fmt.Errorf("output %w", err)
	}
	if in.shape != out.shape || in.shape != g.Shape {
		return fmt.Errorf("%w: in %v, out %v, grid %v", ErrShapeMismatch, in.shape, out.shape, g.Shape)
	}
	return nil
}

package backend

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/gogpu/pixkern/internal/parallel"
	"github.com/gogpu/pixkern/kernel"
)

// HostConfig configures a HostDevice.
type HostConfig struct {
	// Workers is the number of execution-unit goroutines.
	// Defaults to GOMAXPROCS if <= 0.
	Workers int

	// MaxMemoryMB is the buffer memory budget in megabytes.
	// Zero or negative leaves host buffers unbounded.
	MaxMemoryMB int
}

// HostDevice runs kernels on goroutines over Go slices.
//
// A launch splits the grid into blocks and hands each block to the worker
// pool; every unit of a block evaluates the kernel at its coordinate.
//
// HostDevice is safe for concurrent use.
type HostDevice struct {
	cfg HostConfig

	mu          sync.Mutex
	pool        *parallel.WorkerPool
	mem         *memoryBudget
	initialized bool
}

var _ Device = (*HostDevice)(nil)

func init() {
	Register(DeviceHost, func(cfg Config) Device {
		return NewHostDevice(HostConfig{MaxMemoryMB: cfg.MaxMemoryMB})
	})
}

// NewHostDevice creates a host device. Call Init before use.
func NewHostDevice(cfg HostConfig) *HostDevice {
	return &HostDevice{cfg: cfg}
}

// Name returns DeviceHost.
func (d *HostDevice) Name() string { return DeviceHost }

// Info describes the host CPU.
func (d *HostDevice) Info() Info {
	workers := d.cfg.Workers
	d.mu.Lock()
	if d.pool != nil {
		workers = d.pool.Workers()
	}
	d.mu.Unlock()
	return Info{
		Name:   DeviceHost,
		Detail: fmt.Sprintf("%s/%s workers=%d simd=[%s]", runtime.GOOS, runtime.GOARCH, workers, simdFeatures()),
	}
}

// simdFeatures lists the vector extensions the CPU reports.
func simdFeatures() string {
	var f []string
	switch {
	case cpu.X86.HasAVX512F:
		f = append(f, "avx512")
	case cpu.X86.HasAVX2:
		f = append(f, "avx2")
	case cpu.X86.HasSSE41:
		f = append(f, "sse4.1")
	}
	if cpu.X86.HasFMA {
		f = append(f, "fma")
	}
	if cpu.ARM64.HasASIMD {
		f = append(f, "neon")
	}
	if cpu.ARM64.HasSVE {
		f = append(f, "sve")
	}
	return strings.Join(f, ",")
}

// Init starts the worker pool. Init is idempotent.
func (d *HostDevice) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	d.pool = parallel.NewWorkerPool(d.cfg.Workers)
	d.mem = newHostBudget(d.cfg.MaxMemoryMB)
	d.initialized = true
	slogger().Debug("host device initialized", "workers", d.pool.Workers(), "budget", d.mem.stats().TotalBytes)
	return nil
}

// Close stops the worker pool.
func (d *HostDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return
	}
	d.pool.Close()
	d.initialized = false
}

// Stats returns buffer memory statistics.
func (d *HostDevice) Stats() MemoryStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mem == nil {
		return MemoryStats{}
	}
	return d.mem.stats()
}

// state returns the pool and budget, or ErrNotInitialized.
func (d *HostDevice) state() (*parallel.WorkerPool, *memoryBudget, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil, nil, ErrNotInitialized
	}
	return d.pool, d.mem, nil
}

// allocate reserves and creates a zeroed plane.
func (d *HostDevice) allocate(op string, s kernel.Shape) (*Buffer, []float32, error) {
	if !s.Valid() {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidShape, s)
	}
	_, mem, err := d.state()
	if err != nil {
		return nil, nil, &AllocationError{Device: DeviceHost, Op: op, Err: err}
	}
	n := planeBytes(s)
	if err := mem.reserve(n); err != nil {
		return nil, nil, &AllocationError{Device: DeviceHost, Op: op, Bytes: n, Err: err}
	}
	data := make([]float32, s.Len())
	return newBuffer(d, s, data), data, nil
}

// Upload copies host into a new buffer.
func (d *HostDevice) Upload(host []float32, s kernel.Shape) (*Buffer, error) {
	if len(host) != s.Len() {
		return nil, fmt.Errorf("%w: %d samples for %v", ErrShapeMismatch, len(host), s)
	}
	b, data, err := d.allocate("upload", s)
	if err != nil {
		return nil, err
	}
	copy(data, host)
	return b, nil
}

// Alloc returns a zeroed buffer.
func (d *HostDevice) Alloc(s kernel.Shape) (*Buffer, error) {
	b, _, err := d.allocate("alloc", s)
	return b, err
}

// Download copies b into a new slice.
func (d *HostDevice) Download(b *Buffer) ([]float32, error) {
	if err := b.check(d); err != nil {
		return nil, err
	}
	data := b.payload.([]float32)
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// Release frees b.
func (d *HostDevice) Release(b *Buffer) {
	if b == nil || b.owner != Device(d) {
		return
	}
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	if _, mem, err := d.state(); err == nil {
		mem.free(b.bytes)
	}
	// The slice itself is left to the collector: an abandoned launch may
	// still be writing to it.
}

// Launch evaluates kernel id at every unit of g, one pool task per block.
func (d *HostDevice) Launch(ctx context.Context, id kernel.ID, in, out *Buffer, g kernel.Grid) error {
	if err := checkLaunch(d, id, in, out, g); err != nil {
		return &ComputeError{Device: DeviceHost, Kernel: id.String(), Err: err}
	}
	pool, _, err := d.state()
	if err != nil {
		return &ComputeError{Device: DeviceHost, Kernel: id.String(), Err: err}
	}

	fn, _ := kernel.Lookup(id)
	src := in.payload.([]float32)
	dst := out.payload.([]float32)
	s := g.Shape

	var fault atomic.Value
	err = pool.ExecuteAll(ctx, g.Blocks(), func(block int) {
		defer func() {
			if r := recover(); r != nil {
				fault.CompareAndSwap(nil, fmt.Sprint(r))
			}
		}()
		g.EachUnit(block, func(x, y int) {
			fn(src, dst, s, x, y)
		})
	})
	if f := fault.Load(); f != nil {
		return &ComputeError{Device: DeviceHost, Kernel: id.String(), Err: fmt.Errorf("%w: %v", ErrKernelFault, f)}
	}
	if err != nil {
		return &ComputeError{Device: DeviceHost, Kernel: id.String(), Err: err}
	}
	return nil
}

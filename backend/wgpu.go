//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/pixkern/kernel"
)

// DefaultFenceTimeout bounds a single GPU submission when the launch
// context carries no deadline.
const DefaultFenceTimeout = 10 * time.Second

// WGPU errors.
var (
	// ErrNoAdapter is returned when no GPU adapter is found.
	ErrNoAdapter = errors.New("backend: no GPU adapters found")

	// ErrNoHALAccess is returned when a device provider does not expose
	// HAL device and queue handles.
	ErrNoHALAccess = errors.New("backend: provider does not expose HAL types")

	// ErrFenceTimeout is returned when the GPU does not signal completion
	// before the deadline.
	ErrFenceTimeout = errors.New("backend: GPU fence wait timed out")

	// ErrBlockMismatch is returned when a grid block differs from the
	// workgroup size the pipelines were built for.
	ErrBlockMismatch = errors.New("backend: grid block does not match pipeline workgroup size")
)

// WGPUConfig configures a WGPUDevice.
type WGPUConfig struct {
	// Block is the workgroup size compiled into the kernel pipelines.
	// Defaults to kernel.DefaultBlock.
	Block kernel.Block

	// MaxMemoryMB is the device buffer budget in megabytes.
	// Defaults to DefaultMaxMemoryMB if < MinMemoryMB.
	MaxMemoryMB int

	// FenceTimeout bounds each submission. Defaults to DefaultFenceTimeout.
	FenceTimeout time.Duration
}

// gpuBuffer is the payload of a Buffer created by WGPUDevice.
type gpuBuffer struct {
	buf  hal.Buffer
	size uint64
}

// kernelPipeline is the compiled pipeline of one kernel.
type kernelPipeline struct {
	shader   hal.ShaderModule
	pipeline hal.ComputePipeline
}

// WGPUDevice runs kernels as WGSL compute shaders through wgpu/hal.
//
// Each kernel is compiled once at Init (WGSL to SPIR-V with naga) into a
// pipeline whose workgroup size equals the configured block. A launch binds
// a params uniform, the input storage buffer and the output storage buffer,
// dispatches one workgroup per grid block and waits on a fence.
//
// WGPUDevice is safe for concurrent use; submissions are serialized.
type WGPUDevice struct {
	cfg WGPUConfig

	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipelines  map[kernel.ID]*kernelPipeline

	mem            *memoryBudget
	adapterName    string
	ready          bool
	externalDevice bool // true when using shared device (don't destroy on Close)
}

var _ Device = (*WGPUDevice)(nil)

func init() {
	Register(DeviceWGPU, func(cfg Config) Device {
		return NewWGPUDevice(WGPUConfig{MaxMemoryMB: cfg.MaxMemoryMB})
	})
}

// NewWGPUDevice creates a device that opens its own Vulkan adapter on Init.
func NewWGPUDevice(cfg WGPUConfig) *WGPUDevice {
	if !cfg.Block.Valid() {
		cfg.Block = kernel.DefaultBlock
	}
	if cfg.FenceTimeout <= 0 {
		cfg.FenceTimeout = DefaultFenceTimeout
	}
	return &WGPUDevice{cfg: cfg}
}

// NewWGPUDeviceFromProvider creates an initialized device that shares the
// GPU device of an external provider (e.g., a gogpu window). The provider
// must also expose HalDevice() and HalQueue(); the shared device is not
// destroyed on Close.
func NewWGPUDeviceFromProvider(provider gpucontext.DeviceProvider, cfg WGPUConfig) (*WGPUDevice, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	d := NewWGPUDevice(cfg)
	if provider == nil {
		return nil, &AllocationError{Device: DeviceWGPU, Op: "init", Err: ErrNoHALAccess}
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, &AllocationError{Device: DeviceWGPU, Op: "init", Err: ErrNoHALAccess}
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, &AllocationError{Device: DeviceWGPU, Op: "init", Err: fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHALAccess)}
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, &AllocationError{Device: DeviceWGPU, Op: "init", Err: fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHALAccess)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.device = device
	d.queue = queue
	d.externalDevice = true
	d.adapterName = "shared"
	if err := d.createPipelines(); err != nil {
		d.destroyPipelines()
		return nil, &AllocationError{Device: DeviceWGPU, Op: "init", Err: err}
	}
	d.mem = newMemoryBudget(d.cfg.MaxMemoryMB)
	d.ready = true
	slogger().Info("wgpu device using shared GPU device")
	return d, nil
}

// Name returns DeviceWGPU.
func (d *WGPUDevice) Name() string { return DeviceWGPU }

// Info describes the selected adapter.
func (d *WGPUDevice) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Info{
		Name:        DeviceWGPU,
		Accelerated: true,
		Detail:      fmt.Sprintf("%s workgroup=%v", d.adapterName, d.cfg.Block),
	}
}

// Block returns the workgroup size of the compiled pipelines.
func (d *WGPUDevice) Block() kernel.Block { return d.cfg.Block }

// Init opens a Vulkan adapter and compiles every kernel pipeline.
// Any failure is reported as *AllocationError so callers can fall back.
func (d *WGPUDevice) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready {
		return nil
	}
	if err := d.initGPU(); err != nil {
		d.releaseLocked()
		return &AllocationError{Device: DeviceWGPU, Op: "init", Err: err}
	}
	d.mem = newMemoryBudget(d.cfg.MaxMemoryMB)
	d.ready = true
	return nil
}

func (d *WGPUDevice) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	d.instance = instance

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	d.device = openDev.Device
	d.queue = openDev.Queue
	d.adapterName = selected.Info.Name

	if err := d.createPipelines(); err != nil {
		return fmt.Errorf("create pipelines: %w", err)
	}
	slogger().Info("wgpu device initialized", "adapter", d.adapterName, "workgroup", d.cfg.Block.String())
	return nil
}

// compileWGSL compiles WGSL source to SPIR-V words.
func compileWGSL(src string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, err
	}
	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return words, nil
}

func (d *WGPUDevice) createPipelines() error {
	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "pixkern_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	d.bindLayout = bindLayout

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "pixkern_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{d.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	d.pipeLayout = pipeLayout

	d.pipelines = make(map[kernel.ID]*kernelPipeline, len(kernel.IDs()))
	for _, id := range kernel.IDs() {
		src, err := kernel.ShaderSource(id, d.cfg.Block.Width, d.cfg.Block.Height)
		if err != nil {
			return err
		}
		spirv, err := compileWGSL(src)
		if err != nil {
			return fmt.Errorf("compile %v shader: %w", id, err)
		}
		kp := &kernelPipeline{}
		d.pipelines[id] = kp

		kp.shader, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  "pixkern_" + id.String(),
			Source: hal.ShaderSource{SPIRV: spirv},
		})
		if err != nil {
			return fmt.Errorf("create %v shader module: %w", id, err)
		}
		kp.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label: "pixkern_" + id.String() + "_pipeline", Layout: d.pipeLayout,
			Compute: hal.ComputeState{Module: kp.shader, EntryPoint: kernel.ShaderEntryPoint},
		})
		if err != nil {
			return fmt.Errorf("create %v compute pipeline: %w", id, err)
		}
	}
	return nil
}

func (d *WGPUDevice) destroyPipelines() {
	if d.device == nil {
		return
	}
	for _, kp := range d.pipelines {
		if kp.pipeline != nil {
			d.device.DestroyComputePipeline(kp.pipeline)
		}
		if kp.shader != nil {
			d.device.DestroyShaderModule(kp.shader)
		}
	}
	d.pipelines = nil
	if d.pipeLayout != nil {
		d.device.DestroyPipelineLayout(d.pipeLayout)
		d.pipeLayout = nil
	}
	if d.bindLayout != nil {
		d.device.DestroyBindGroupLayout(d.bindLayout)
		d.bindLayout = nil
	}
}

// Close destroys pipelines and, unless shared, the device and instance.
func (d *WGPUDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseLocked()
}

func (d *WGPUDevice) releaseLocked() {
	d.destroyPipelines()
	if !d.externalDevice {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.instance = nil
	d.queue = nil
	d.ready = false
	d.externalDevice = false
}

// Stats returns buffer memory statistics.
func (d *WGPUDevice) Stats() MemoryStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mem == nil {
		return MemoryStats{}
	}
	return d.mem.stats()
}

// createStorage reserves budget and creates a storage buffer of shape s.
// Callers hold d.mu.
func (d *WGPUDevice) createStorage(op string, s kernel.Shape) (*Buffer, *gpuBuffer, error) {
	if !s.Valid() {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidShape, s)
	}
	if !d.ready {
		return nil, nil, &AllocationError{Device: DeviceWGPU, Op: op, Err: ErrNotInitialized}
	}
	size := planeBytes(s)
	if err := d.mem.reserve(size); err != nil {
		return nil, nil, &AllocationError{Device: DeviceWGPU, Op: op, Bytes: size, Err: err}
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "pixkern_plane", Size: size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.mem.free(size)
		return nil, nil, &AllocationError{Device: DeviceWGPU, Op: op, Bytes: size, Err: err}
	}
	gb := &gpuBuffer{buf: buf, size: size}
	return newBuffer(d, s, gb), gb, nil
}

// Upload writes host into a new storage buffer.
func (d *WGPUDevice) Upload(host []float32, s kernel.Shape) (*Buffer, error) {
	if len(host) != s.Len() {
		return nil, fmt.Errorf("%w: %d samples for %v", ErrShapeMismatch, len(host), s)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, gb, err := d.createStorage("upload", s)
	if err != nil {
		return nil, err
	}
	d.queue.WriteBuffer(gb.buf, 0, encodePlane(host))
	return b, nil
}

// Alloc creates a storage buffer and clears it explicitly.
func (d *WGPUDevice) Alloc(s kernel.Shape) (*Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, gb, err := d.createStorage("alloc", s)
	if err != nil {
		return nil, err
	}
	d.queue.WriteBuffer(gb.buf, 0, make([]byte, gb.size))
	return b, nil
}

// Download copies b through a staging buffer into host memory.
func (d *WGPUDevice) Download(b *Buffer) ([]float32, error) {
	if err := b.check(d); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return nil, ErrNotInitialized
	}
	gb, ok := b.payload.(*gpuBuffer)
	if !ok {
		return nil, ErrBufferReleased
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "pixkern_staging", Size: gb.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, &AllocationError{Device: DeviceWGPU, Op: "download", Bytes: gb.size, Err: err}
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "pixkern_readback"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("pixkern_readback"); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(gb.buf, staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: gb.size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	if err := d.submitAndWait(cmdBuf, d.cfg.FenceTimeout); err != nil {
		return nil, err
	}

	readback := make([]byte, gb.size)
	if err := d.queue.ReadBuffer(staging, 0, readback); err != nil {
		return nil, fmt.Errorf("readback: %w", err)
	}
	return decodePlane(readback), nil
}

// Release destroys the buffer behind b.
func (d *WGPUDevice) Release(b *Buffer) {
	if b == nil || b.owner != Device(d) {
		return
	}
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	gb, _ := b.payload.(*gpuBuffer)
	if gb != nil && d.device != nil {
		d.device.DestroyBuffer(gb.buf)
	}
	if d.mem != nil {
		d.mem.free(b.bytes)
	}
	b.payload = nil
}

// Launch dispatches one workgroup per grid block and waits for the fence.
// The wait is bounded by the context deadline when one is set.
func (d *WGPUDevice) Launch(ctx context.Context, id kernel.ID, in, out *Buffer, g kernel.Grid) error {
	fail := func(err error) error {
		return &ComputeError{Device: DeviceWGPU, Kernel: id.String(), Err: err}
	}
	if err := checkLaunch(d, id, in, out, g); err != nil {
		return fail(err)
	}
	if g.Block != d.cfg.Block {
		return fail(fmt.Errorf("%w: grid %v, pipeline %v", ErrBlockMismatch, g.Block, d.cfg.Block))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return fail(ErrNotInitialized)
	}
	kp := d.pipelines[id]
	src, srcOK := in.payload.(*gpuBuffer)
	dst, dstOK := out.payload.(*gpuBuffer)
	if !srcOK || !dstOK {
		return fail(ErrBufferReleased)
	}

	params, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "pixkern_params", Size: kernel.ParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fail(fmt.Errorf("create params buffer: %w", err))
	}
	defer d.device.DestroyBuffer(params)
	d.queue.WriteBuffer(params, 0, encodeParams(g.Shape))

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "pixkern_bind", Layout: d.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: params.NativeHandle(), Offset: 0, Size: kernel.ParamsSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: src.buf.NativeHandle(), Offset: 0, Size: src.size}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: dst.buf.NativeHandle(), Offset: 0, Size: dst.size}},
		},
	})
	if err != nil {
		return fail(fmt.Errorf("create bind group: %w", err))
	}
	defer d.device.DestroyBindGroup(bg)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "pixkern_launch"})
	if err != nil {
		return fail(fmt.Errorf("create command encoder: %w", err))
	}
	if err := encoder.BeginEncoding("pixkern_" + id.String()); err != nil {
		return fail(fmt.Errorf("begin encoding: %w", err))
	}
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "pixkern_pass"})
	pass.SetPipeline(kp.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(uint32(g.X), uint32(g.Y), 1) //nolint:gosec // grid dimensions fit uint32
	pass.End()
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fail(fmt.Errorf("end encoding: %w", err))
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	timeout := d.cfg.FenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = max(remaining, time.Millisecond)
		}
	}
	slogger().Debug("wgpu launch", "kernel", id.String(), "grid", g.String(), "bytes", src.size)
	if err := d.submitAndWait(cmdBuf, timeout); err != nil {
		return fail(err)
	}
	return nil
}

// submitAndWait submits one command buffer and blocks on its fence.
// Callers hold d.mu.
func (d *WGPUDevice) submitAndWait(cmdBuf hal.CommandBuffer, timeout time.Duration) error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	ok, err := d.device.Wait(fence, 1, timeout)
	if err != nil {
		return fmt.Errorf("wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w after %v", ErrFenceTimeout, timeout)
	}
	return nil
}

// encodeParams packs the Params uniform: width, height, two pad words.
func encodeParams(s kernel.Shape) []byte {
	out := make([]byte, kernel.ParamsSize)
	binary.LittleEndian.PutUint32(out[0:], uint32(s.Width))  //nolint:gosec // validated positive
	binary.LittleEndian.PutUint32(out[4:], uint32(s.Height)) //nolint:gosec // validated positive
	return out
}

// encodePlane serializes samples as little-endian float32 bit patterns.
func encodePlane(p []float32) []byte {
	out := make([]byte, len(p)*4)
	for i, v := range p {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// decodePlane is the inverse of encodePlane.
func decodePlane(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

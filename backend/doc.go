// Package backend provides the compute devices that run pixkern kernels.
//
// A [Device] owns the memory kernels read and write. It moves host planes
// into device buffers, launches a kernel over a grid of execution units, and
// copies results back:
//
//	in, err := dev.Upload(plane, shape)
//	if err != nil {
//		return err // *AllocationError when memory or the device is unavailable
//	}
//	defer dev.Release(in)
//
//	out, err := dev.Alloc(shape) // zero-initialized
//	if err != nil {
//		return err
//	}
//	defer dev.Release(out)
//
//	if err := dev.Launch(ctx, kernel.Blur, in, out, grid); err != nil {
//		return err // *ComputeError
//	}
//	result, err := dev.Download(out)
//
// # Devices
//
//   - "host": goroutine execution units over Go slices (always available)
//   - "wgpu": Vulkan compute via gogpu/wgpu with WGSL kernels
//     (excluded with the nogpu build tag)
//
// # Device Selection
//
// Devices register factories on import. [Select] initializes a named device;
// [SelectBest] tries devices in priority order (wgpu, host) and falls back
// when initialization fails with an [AllocationError]. Selection happens
// once at startup; work is never re-routed between devices per call.
package backend

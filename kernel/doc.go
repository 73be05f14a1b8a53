// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package kernel defines the per-pixel transform kernels of pixkern.
//
// Every kernel is a pure function of its input plane and a fixed set of
// named constants. It is evaluated independently at each output coordinate,
// which is what lets a device run all coordinates of one launch in parallel
// without synchronization between execution units.
//
// All kernels read a 3×3 neighborhood. Only interior coordinates
// (1 ≤ x < W-1, 1 ≤ y < H-1) are written; border coordinates are left
// untouched, so output planes must be zero-initialized before a launch:
//
//	out := make([]float32, len(in)) // zeroed border
//	kernel.Apply(kernel.Blur, in, out, kernel.Shape{Width: w, Height: h})
//
// The same kernels are available as WGSL compute shaders through
// [ShaderSource] for accelerated devices.
package kernel

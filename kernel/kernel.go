// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import (
	"fmt"
	"math"
)

// Blur weights. The 3×3 weight grid is
//
//	1 2 1
//	2 4 2
//	1 2 1
//
// and the weighted sum is divided by BlurDivisor.
const (
	BlurCenter  = 4
	BlurEdge    = 2
	BlurCorner  = 1
	BlurDivisor = 16
)

// Threshold edge constants.
const (
	// Threshold is the gradient magnitude a pixel must exceed to be an edge.
	Threshold = 100

	// EdgeOn is written for pixels whose magnitude exceeds Threshold.
	EdgeOn = 255

	// EdgeOff is written for all other interior pixels.
	EdgeOff = 0
)

// Shape is the geometry of a single sample plane.
type Shape struct {
	Width  int
	Height int
}

// Len returns the number of samples in a plane of this shape.
func (s Shape) Len() int {
	return s.Width * s.Height
}

// Valid reports whether both dimensions are positive.
func (s Shape) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Interior reports whether (x, y) has its full 3×3 neighborhood in bounds.
func (s Shape) Interior(x, y int) bool {
	return x >= 1 && x < s.Width-1 && y >= 1 && y < s.Height-1
}

// String returns "WxH".
func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ID identifies a kernel in the closed kernel set.
type ID uint8

const (
	// Gradient computes the Sobel gradient magnitude.
	Gradient ID = iota

	// Blur computes the normalized 3×3 weighted average.
	Blur

	// ThresholdEdge computes the gradient magnitude and binarizes it
	// against Threshold.
	ThresholdEdge

	idCount
)

// String returns the kernel name.
func (id ID) String() string {
	switch id {
	case Gradient:
		return "gradient"
	case Blur:
		return "blur"
	case ThresholdEdge:
		return "threshold"
	default:
		return fmt.Sprintf("kernel(%d)", uint8(id))
	}
}

// Valid reports whether id names a member of the kernel set.
func (id ID) Valid() bool {
	return id < idCount
}

// Func evaluates one kernel at output coordinate (x, y).
//
// Coordinates outside the plane and border coordinates are no-ops, so a
// device may evaluate a Func at every unit of an oversized grid.
type Func func(in, out []float32, s Shape, x, y int)

// table maps every ID to its routine.
var table = [idCount]Func{
	Gradient:      gradientAt,
	Blur:          blurAt,
	ThresholdEdge: thresholdAt,
}

// Lookup returns the routine for id.
func Lookup(id ID) (Func, bool) {
	if !id.Valid() {
		return nil, false
	}
	return table[id], true
}

// IDs returns every kernel in the set in declaration order.
func IDs() []ID {
	ids := make([]ID, 0, idCount)
	for id := ID(0); id < idCount; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Parse returns the kernel whose String is name.
func Parse(name string) (ID, bool) {
	for id := ID(0); id < idCount; id++ {
		if id.String() == name {
			return id, true
		}
	}
	return 0, false
}

// Apply evaluates id sequentially over every coordinate of s.
// It is the reference evaluation used to check device output.
func Apply(id ID, in, out []float32, s Shape) error {
	fn, ok := Lookup(id)
	if !ok {
		return fmt.Errorf("kernel: unknown kernel %v", id)
	}
	if len(in) < s.Len() || len(out) < s.Len() {
		return fmt.Errorf("kernel: plane too small for %v", s)
	}
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			fn(in, out, s, x, y)
		}
	}
	return nil
}

// neighborhood holds the 3×3 samples around a coordinate.
type neighborhood struct {
	nw, n, ne float32
	w, c, e   float32
	sw, s, se float32
}

func load(in []float32, width, x, y int) neighborhood {
	i := y*width + x
	up := i - width
	down := i + width
	return neighborhood{
		nw: in[up-1], n: in[up], ne: in[up+1],
		w: in[i-1], c: in[i], e: in[i+1],
		sw: in[down-1], s: in[down], se: in[down+1],
	}
}

// magnitude returns sqrt(Gx² + Gy²). The explicit conversions keep the
// squares rounded to float32 so the sum is never fused.
func (p neighborhood) magnitude() float32 {
	gx := (p.nw - p.ne) + 2*(p.w-p.e) + (p.sw - p.se)
	gy := (p.nw + 2*p.n + p.ne) - (p.sw + 2*p.s + p.se)
	sq := float32(gx*gx) + float32(gy*gy)
	return float32(math.Sqrt(float64(sq)))
}

func gradientAt(in, out []float32, s Shape, x, y int) {
	if !s.Interior(x, y) {
		return
	}
	out[y*s.Width+x] = load(in, s.Width, x, y).magnitude()
}

func blurAt(in, out []float32, s Shape, x, y int) {
	if !s.Interior(x, y) {
		return
	}
	p := load(in, s.Width, x, y)
	sum := BlurCenter*p.c +
		BlurEdge*(p.n+p.s+p.e+p.w) +
		BlurCorner*(p.nw+p.ne+p.sw+p.se)
	out[y*s.Width+x] = sum / BlurDivisor
}

func thresholdAt(in, out []float32, s Shape, x, y int) {
	if !s.Interior(x, y) {
		return
	}
	v := float32(EdgeOff)
	if load(in, s.Width, x, y).magnitude() > Threshold {
		v = EdgeOn
	}
	out[y*s.Width+x] = v
}

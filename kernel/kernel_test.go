// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/gogpu/naga"
)

// plane builds a plane of shape s with samples from fn.
func plane(s Shape, fn func(x, y int) float32) []float32 {
	p := make([]float32, s.Len())
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			p[y*s.Width+x] = fn(x, y)
		}
	}
	return p
}

func randomPlane(s Shape, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	return plane(s, func(_, _ int) float32 { return float32(rng.Intn(256)) })
}

func run(t *testing.T, id ID, in []float32, s Shape) []float32 {
	t.Helper()
	out := make([]float32, s.Len())
	if err := Apply(id, in, out, s); err != nil {
		t.Fatalf("Apply(%v) error = %v", id, err)
	}
	return out
}

func TestIDString(t *testing.T) {
	tests := []struct {
		id   ID
		want string
	}{
		{Gradient, "gradient"},
		{Blur, "blur"},
		{ThresholdEdge, "threshold"},
		{ID(42), "kernel(42)"},
	}
	for _, tt := range tests {
		if got := tt.id.String(); got != tt.want {
			t.Errorf("ID(%d).String() = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestLookup(t *testing.T) {
	for _, id := range IDs() {
		if fn, ok := Lookup(id); !ok || fn == nil {
			t.Errorf("Lookup(%v) ok = %v, want routine", id, ok)
		}
	}
	if _, ok := Lookup(idCount); ok {
		t.Error("Lookup(idCount) should fail")
	}
	if got := len(IDs()); got != 3 {
		t.Errorf("len(IDs()) = %d, want 3", got)
	}
}

func TestParse(t *testing.T) {
	for _, id := range IDs() {
		if got, ok := Parse(id.String()); !ok || got != id {
			t.Errorf("Parse(%q) = %v, %v", id.String(), got, ok)
		}
	}
	if _, ok := Parse("sharpen"); ok {
		t.Error("Parse(sharpen) should fail")
	}
}

func TestApplyRejectsShortPlanes(t *testing.T) {
	s := Shape{Width: 4, Height: 4}
	if err := Apply(Blur, make([]float32, 3), make([]float32, 16), s); err == nil {
		t.Error("Apply with short input should fail")
	}
	if err := Apply(ID(9), make([]float32, 16), make([]float32, 16), s); err == nil {
		t.Error("Apply with unknown kernel should fail")
	}
}

func TestBorderInvariant(t *testing.T) {
	shapes := []Shape{{3, 3}, {4, 7}, {16, 16}, {33, 17}}
	for _, s := range shapes {
		in := randomPlane(s, int64(s.Len()))
		for _, id := range IDs() {
			out := run(t, id, in, s)
			for y := 0; y < s.Height; y++ {
				for x := 0; x < s.Width; x++ {
					if s.Interior(x, y) {
						continue
					}
					if v := out[y*s.Width+x]; v != 0 {
						t.Fatalf("%v %v: border (%d,%d) = %v, want 0", id, s, x, y, v)
					}
				}
			}
		}
	}
}

func TestDeterminism(t *testing.T) {
	s := Shape{Width: 40, Height: 23}
	in := randomPlane(s, 7)
	for _, id := range IDs() {
		first := run(t, id, in, s)
		for i := 0; i < 3; i++ {
			again := run(t, id, in, s)
			for j := range first {
				if first[j] != again[j] {
					t.Fatalf("%v: run %d differs at %d: %v != %v", id, i, j, first[j], again[j])
				}
			}
		}
	}
}

func TestThresholdBinary(t *testing.T) {
	s := Shape{Width: 32, Height: 32}
	out := run(t, ThresholdEdge, randomPlane(s, 99), s)
	for i, v := range out {
		if v != EdgeOn && v != EdgeOff {
			t.Fatalf("threshold output[%d] = %v, want 0 or 255", i, v)
		}
	}
}

func TestZeroScenario(t *testing.T) {
	s := Shape{Width: 8, Height: 8}
	in := make([]float32, s.Len())
	for _, id := range IDs() {
		for i, v := range run(t, id, in, s) {
			if v != 0 {
				t.Fatalf("%v: output[%d] = %v, want 0", id, i, v)
			}
		}
	}
}

// step returns a 5×5 plane with columns 0-1 at 0 and columns 2-4 at level.
func step(level float32) ([]float32, Shape) {
	s := Shape{Width: 5, Height: 5}
	return plane(s, func(x, _ int) float32 {
		if x >= 2 {
			return level
		}
		return 0
	}), s
}

func TestGradientVerticalEdge(t *testing.T) {
	in, s := step(10)
	out := run(t, Gradient, in, s)

	// Gx = (0-10) + 2(0-10) + (0-10) = -40, Gy = 0.
	want := map[[2]int]float32{
		{1, 1}: 40, {2, 1}: 40, {3, 1}: 0,
		{1, 2}: 40, {2, 2}: 40, {3, 2}: 0,
		{1, 3}: 40, {2, 3}: 40, {3, 3}: 0,
	}
	for p, w := range want {
		if got := out[p[1]*s.Width+p[0]]; got != w {
			t.Errorf("gradient(%d,%d) = %v, want %v", p[0], p[1], got, w)
		}
	}
}

func TestGradientDiagonal(t *testing.T) {
	s := Shape{Width: 3, Height: 3}
	// Only NW is set: Gx = 3, Gy = 3.
	in := []float32{
		3, 0, 0,
		0, 0, 0,
		0, 0, 0,
	}
	out := run(t, Gradient, in, s)
	want := float32(math.Sqrt(18))
	if got := out[4]; got != want {
		t.Errorf("gradient center = %v, want %v", got, want)
	}
}

func TestThresholdIsStrict(t *testing.T) {
	tests := []struct {
		name  string
		level float32
		want  float32
	}{
		{"below", 20, EdgeOff}, // magnitude 80
		{"equal", 25, EdgeOff}, // magnitude 100
		{"above", 30, EdgeOn},  // magnitude 120
		{"far above", 255, EdgeOn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, s := step(tt.level)
			out := run(t, ThresholdEdge, in, s)
			if got := out[2*s.Width+2]; got != tt.want {
				t.Errorf("threshold(2,2) = %v, want %v", got, tt.want)
			}
			if got := out[2*s.Width+3]; got != EdgeOff {
				t.Errorf("threshold(3,2) = %v, want %v (flat region)", got, EdgeOff)
			}
		})
	}
}

func TestBlurWeights(t *testing.T) {
	s := Shape{Width: 5, Height: 5}
	in := make([]float32, s.Len())
	in[2*s.Width+2] = 16

	out := run(t, Blur, in, s)
	want := []float32{
		0, 0, 0, 0, 0,
		0, 1, 2, 1, 0,
		0, 2, 4, 2, 0,
		0, 1, 2, 1, 0,
		0, 0, 0, 0, 0,
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("blur[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestBlurPreservesFlatRegions(t *testing.T) {
	s := Shape{Width: 6, Height: 6}
	in := plane(s, func(_, _ int) float32 { return 200 })
	out := run(t, Blur, in, s)
	for y := 1; y < s.Height-1; y++ {
		for x := 1; x < s.Width-1; x++ {
			if got := out[y*s.Width+x]; got != 200 {
				t.Errorf("blur(%d,%d) = %v, want 200", x, y, got)
			}
		}
	}
}

func TestKernelsIgnoreOutOfRangeUnits(t *testing.T) {
	s := Shape{Width: 4, Height: 4}
	in := randomPlane(s, 3)
	out := make([]float32, s.Len())
	for _, id := range IDs() {
		fn, _ := Lookup(id)
		// Units past the far edge of a grid must be no-ops.
		fn(in, out, s, 4, 1)
		fn(in, out, s, 1, 17)
		fn(in, out, s, -1, 0)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v after out-of-range units, want 0", i, v)
		}
	}
}

func TestShaderSource(t *testing.T) {
	for _, id := range IDs() {
		src, err := ShaderSource(id, 16, 8)
		if err != nil {
			t.Fatalf("ShaderSource(%v) error = %v", id, err)
		}
		if !strings.Contains(src, "@workgroup_size(16, 8, 1)") {
			t.Errorf("%v: workgroup size not substituted", id)
		}
		if strings.Contains(src, "{{") {
			t.Errorf("%v: unreplaced placeholder in shader", id)
		}
		if !strings.Contains(src, "fn "+ShaderEntryPoint+"(") {
			t.Errorf("%v: missing entry point %q", id, ShaderEntryPoint)
		}
	}

	if _, err := ShaderSource(Blur, 0, 16); err == nil {
		t.Error("ShaderSource with zero block width should fail")
	}
	if _, err := ShaderSource(ID(7), 16, 16); err == nil {
		t.Error("ShaderSource with unknown kernel should fail")
	}
}

func TestShaderSourceCompiles(t *testing.T) {
	for _, id := range IDs() {
		src, err := ShaderSource(id, 16, 16)
		if err != nil {
			t.Fatalf("ShaderSource(%v) error = %v", id, err)
		}
		spirv, err := naga.Compile(src)
		if err != nil {
			t.Fatalf("naga.Compile(%v) error = %v", id, err)
		}
		if len(spirv) == 0 || len(spirv)%4 != 0 {
			t.Errorf("%v: SPIR-V length %d is not a non-empty word multiple", id, len(spirv))
		}
	}
}

func BenchmarkKernels(b *testing.B) {
	s := Shape{Width: 512, Height: 512}
	in := randomPlane(s, 1)
	out := make([]float32, s.Len())
	for _, id := range IDs() {
		b.Run(id.String(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = Apply(id, in, out, s)
			}
		})
	}
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import "fmt"

// Default block shape in execution units.
const (
	DefaultBlockWidth  = 16
	DefaultBlockHeight = 16
)

// Block is the shape of one group of execution units.
type Block struct {
	Width  int
	Height int
}

// DefaultBlock is the 16×16 block used unless configured otherwise.
var DefaultBlock = Block{Width: DefaultBlockWidth, Height: DefaultBlockHeight}

// Valid reports whether both dimensions are positive.
func (b Block) Valid() bool {
	return b.Width > 0 && b.Height > 0
}

// Units returns the number of execution units in one block.
func (b Block) Units() int {
	return b.Width * b.Height
}

// String returns "WxH".
func (b Block) String() string {
	return fmt.Sprintf("%dx%d", b.Width, b.Height)
}

// Grid maps a plane onto blocks of execution units.
//
// X and Y are the number of blocks along each axis. Units of the last column
// or row of blocks may fall outside the plane; kernels treat those as no-ops.
type Grid struct {
	X, Y  int
	Block Block
	Shape Shape
}

// NewGrid returns the grid covering s with blocks of shape b:
// ceil(W/b.Width) × ceil(H/b.Height).
func NewGrid(s Shape, b Block) (Grid, error) {
	if !s.Valid() {
		return Grid{}, fmt.Errorf("kernel: invalid shape %v", s)
	}
	if !b.Valid() {
		return Grid{}, fmt.Errorf("kernel: invalid block %v", b)
	}
	return Grid{
		X:     ceilDiv(s.Width, b.Width),
		Y:     ceilDiv(s.Height, b.Height),
		Block: b,
		Shape: s,
	}, nil
}

// Blocks returns the number of blocks in the grid.
func (g Grid) Blocks() int {
	return g.X * g.Y
}

// Units returns the total number of execution units, including those that
// fall outside the plane.
func (g Grid) Units() int {
	return g.Blocks() * g.Block.Units()
}

// BlockOrigin returns the plane coordinate of unit (0,0) of block i, where
// blocks are numbered row-major.
func (g Grid) BlockOrigin(i int) (x, y int) {
	return (i % g.X) * g.Block.Width, (i / g.X) * g.Block.Height
}

// EachUnit calls fn with the plane coordinate of every unit of block i.
// Coordinates may lie outside the plane.
func (g Grid) EachUnit(i int, fn func(x, y int)) {
	ox, oy := g.BlockOrigin(i)
	for ty := 0; ty < g.Block.Height; ty++ {
		for tx := 0; tx < g.Block.Width; tx++ {
			fn(ox+tx, oy+ty)
		}
	}
}

// Covers reports whether (x, y) is addressed by some unit of the grid.
func (g Grid) Covers(x, y int) bool {
	return x >= 0 && y >= 0 &&
		x < g.X*g.Block.Width && y < g.Y*g.Block.Height
}

// String returns "XxY blocks of WxH".
func (g Grid) String() string {
	return fmt.Sprintf("%dx%d blocks of %v", g.X, g.Y, g.Block)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

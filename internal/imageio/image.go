// Package imageio loads image files into planar float32 samples and writes
// them back.
//
// Supported containers are TIFF and BMP (golang.org/x/image) plus PNG and
// JPEG. Samples are 8- or 16-bit integers on disk; in memory every channel
// is a row-major []float32 plane holding the integer values exactly. Alpha
// is dropped on load: color images become three planes (R, G, B).
package imageio

import (
	"errors"
	"fmt"
	"math"
)

// Image errors.
var (
	// ErrInvalidDimensions is returned for non-positive width or height.
	ErrInvalidDimensions = errors.New("imageio: invalid dimensions")

	// ErrInvalidLayout is returned for unsupported channel counts or bit depths.
	ErrInvalidLayout = errors.New("imageio: unsupported channel layout")

	// ErrTooLarge is returned when an image header claims more pixels than
	// the decoder is allowed to allocate.
	ErrTooLarge = errors.New("imageio: image too large")
)

// Supported bit depths.
const (
	Depth8  = 8
	Depth16 = 16
)

// Image is a planar image. Planes[c][y*Width+x] is the sample of channel c
// at (x, y).
type Image struct {
	Width    int
	Height   int
	Channels int // 1 (gray) or 3 (RGB)
	BitDepth int // Depth8 or Depth16
	Planes   [][]float32
}

// New allocates a zeroed image.
func New(width, height, channels, bitDepth int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidLayout, channels)
	}
	if bitDepth != Depth8 && bitDepth != Depth16 {
		return nil, fmt.Errorf("%w: %d-bit", ErrInvalidLayout, bitDepth)
	}
	planes := make([][]float32, channels)
	for c := range planes {
		planes[c] = make([]float32, width*height)
	}
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		BitDepth: bitDepth,
		Planes:   planes,
	}, nil
}

// NewLike allocates a zeroed image with the geometry and layout of img.
func NewLike(img *Image) (*Image, error) {
	return New(img.Width, img.Height, img.Channels, img.BitDepth)
}

// MaxValue returns the largest sample value of the image's bit depth.
func (img *Image) MaxValue() float32 {
	if img.BitDepth == Depth16 {
		return math.MaxUint16
	}
	return math.MaxUint8
}

// String returns a short description for logs.
func (img *Image) String() string {
	return fmt.Sprintf("%dx%d/%dch/%dbit", img.Width, img.Height, img.Channels, img.BitDepth)
}

// quantize converts a sample to the integer range [0, max], saturating and
// truncating toward zero. NaN maps to zero.
func quantize(v, maxValue float32) uint32 {
	switch {
	case math.IsNaN(float64(v)), v <= 0:
		return 0
	case v >= maxValue:
		return uint32(maxValue)
	default:
		return uint32(v)
	}
}

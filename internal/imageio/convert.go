package imageio

import (
	"fmt"
	"image"
	"image/color"
)

// FromStdImage converts a decoded image to planes.
//
// Gray and Gray16 become one plane; every other model becomes three planes
// (R, G, B) at 8 bits, or 16 bits for 64-bit color models. Alpha is dropped
// after un-premultiplying. An empty image yields ErrInvalidDimensions.
func FromStdImage(src image.Image) (*Image, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)
	}

	switch m := src.(type) {
	case *image.Gray:
		img, err := New(w, h, 1, Depth8)
		if err != nil {
			return nil, err
		}
		p := img.Planes[0]
		for y := range h {
			row := m.Pix[y*m.Stride : y*m.Stride+w]
			for x, v := range row {
				p[y*w+x] = float32(v)
			}
		}
		return img, nil

	case *image.Gray16:
		img, err := New(w, h, 1, Depth16)
		if err != nil {
			return nil, err
		}
		p := img.Planes[0]
		for y := range h {
			off := y * m.Stride
			for x := range w {
				// Gray16 in image package is big-endian
				p[y*w+x] = float32(uint16(m.Pix[off+2*x])<<8 | uint16(m.Pix[off+2*x+1]))
			}
		}
		return img, nil

	case *image.NRGBA:
		img, err := New(w, h, 3, Depth8)
		if err != nil {
			return nil, err
		}
		for y := range h {
			off := y * m.Stride
			for x := range w {
				i := y*w + x
				img.Planes[0][i] = float32(m.Pix[off+4*x])
				img.Planes[1][i] = float32(m.Pix[off+4*x+1])
				img.Planes[2][i] = float32(m.Pix[off+4*x+2])
			}
		}
		return img, nil
	}

	depth := Depth8
	model := color.NRGBAModel
	switch src.ColorModel() {
	case color.RGBA64Model, color.NRGBA64Model:
		depth = Depth16
		model = color.NRGBA64Model
	}
	img, err := New(w, h, 3, depth)
	if err != nil {
		return nil, err
	}
	for y := range h {
		for x := range w {
			i := y*w + x
			if depth == Depth16 {
				c := model.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				img.Planes[0][i] = float32(c.R)
				img.Planes[1][i] = float32(c.G)
				img.Planes[2][i] = float32(c.B)
				continue
			}
			c := model.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			img.Planes[0][i] = float32(c.R)
			img.Planes[1][i] = float32(c.G)
			img.Planes[2][i] = float32(c.B)
		}
	}
	return img, nil
}

// ToStdImage converts planes to a standard image, saturating every sample
// to the bit depth. One channel gives *image.Gray or *image.Gray16; three
// give opaque *image.NRGBA or *image.NRGBA64.
func (img *Image) ToStdImage() image.Image {
	rect := image.Rect(0, 0, img.Width, img.Height)
	maxV := img.MaxValue()
	w := img.Width

	switch {
	case img.Channels == 1 && img.BitDepth == Depth8:
		gray := image.NewGray(rect)
		for y := range img.Height {
			for x := range w {
				gray.Pix[y*gray.Stride+x] = uint8(quantize(img.Planes[0][y*w+x], maxV)) //nolint:gosec // saturated
			}
		}
		return gray

	case img.Channels == 1:
		gray16 := image.NewGray16(rect)
		for y := range img.Height {
			for x := range w {
				v := quantize(img.Planes[0][y*w+x], maxV)
				off := y*gray16.Stride + 2*x
				gray16.Pix[off] = uint8(v >> 8) //nolint:gosec // saturated
				gray16.Pix[off+1] = uint8(v)    //nolint:gosec // low byte
			}
		}
		return gray16

	case img.BitDepth == Depth8:
		nrgba := image.NewNRGBA(rect)
		for y := range img.Height {
			for x := range w {
				i := y*w + x
				off := y*nrgba.Stride + 4*x
				nrgba.Pix[off] = uint8(quantize(img.Planes[0][i], maxV))   //nolint:gosec // saturated
				nrgba.Pix[off+1] = uint8(quantize(img.Planes[1][i], maxV)) //nolint:gosec // saturated
				nrgba.Pix[off+2] = uint8(quantize(img.Planes[2][i], maxV)) //nolint:gosec // saturated
				nrgba.Pix[off+3] = 255                                     // Opaque
			}
		}
		return nrgba

	default:
		nrgba64 := image.NewNRGBA64(rect)
		for y := range img.Height {
			for x := range w {
				i := y*w + x
				nrgba64.SetNRGBA64(x, y, color.NRGBA64{
					R: uint16(quantize(img.Planes[0][i], maxV)), //nolint:gosec // saturated
					G: uint16(quantize(img.Planes[1][i], maxV)), //nolint:gosec // saturated
					B: uint16(quantize(img.Planes[2][i], maxV)), //nolint:gosec // saturated
					A: 0xffff,
				})
			}
		}
		return nrgba64
	}
}

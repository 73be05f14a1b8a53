package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// I/O errors.
var (
	// ErrUnsupportedFormat is returned when the file extension has no encoder.
	ErrUnsupportedFormat = errors.New("imageio: unsupported format")

	// ErrEmptyData is returned when image data is empty.
	ErrEmptyData = errors.New("imageio: empty data")
)

// Format is an image container format.
type Format uint8

// Supported formats.
const (
	FormatUnknown Format = iota
	FormatTIFF
	FormatPNG
	FormatJPEG
	FormatBMP
)

// DefaultJPEGQuality is the quality used when writing JPEG files.
const DefaultJPEGQuality = 95

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatTIFF:
		return "tiff"
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatBMP:
		return "bmp"
	default:
		return "unknown"
	}
}

// FormatOf returns the format implied by the extension of path.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return FormatTIFF
	case ".png":
		return FormatPNG
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".bmp":
		return FormatBMP
	default:
		return FormatUnknown
	}
}

// DefaultMaxPixels is the largest width×height Load accepts. The decoders
// allocate the full image before returning, so the header is checked first.
const DefaultMaxPixels = 1 << 27

// Load reads and decodes the image file at path, rejecting images larger
// than DefaultMaxPixels. The format is detected from the file contents.
func Load(path string) (*Image, error) {
	return LoadLimit(path, DefaultMaxPixels)
}

// LoadLimit is Load with an explicit pixel limit. maxPixels <= 0 disables
// the limit.
func LoadLimit(path string, maxPixels int) (*Image, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("imageio: read file: %w", err)
	}
	return decodeBytes(data, maxPixels)
}

// LoadFromBytes decodes an image from a byte slice.
func LoadFromBytes(data []byte) (*Image, error) {
	return decodeBytes(data, DefaultMaxPixels)
}

// Decode decodes an image from r, auto-detecting the format among those
// registered with the image package (TIFF, BMP, PNG, JPEG).
func Decode(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("imageio: read: %w", err)
	}
	return decodeBytes(data, DefaultMaxPixels)
}

func decodeBytes(data []byte, maxPixels int) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imageio: decode: %w", err)
	}
	if err := CheckSize(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imageio: decode: %w", err)
	}
	return FromStdImage(img)
}

// CheckSize reports whether a width×height image may be decoded under
// maxPixels. maxPixels <= 0 only rejects empty dimensions.
func CheckSize(width, height, maxPixels int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if maxPixels > 0 && width > maxPixels/height {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, width, height, maxPixels)
	}
	return nil
}

// Encode writes img to w in format f.
func Encode(w io.Writer, img *Image, f Format) error {
	std := img.ToStdImage()
	var err error
	switch f {
	case FormatTIFF:
		err = tiff.Encode(w, std, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case FormatPNG:
		err = png.Encode(w, std)
	case FormatJPEG:
		err = jpeg.Encode(w, std, &jpeg.Options{Quality: DefaultJPEGQuality})
	case FormatBMP:
		err = bmp.Encode(w, std)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return fmt.Errorf("imageio: encode %v: %w", f, err)
	}
	return nil
}

// Save encodes img to path, choosing the format from the extension and
// creating missing parent directories.
func Save(img *Image, path string) error {
	f := FormatOf(path)
	if f == FormatUnknown {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("imageio: create directory: %w", err)
	}

	file, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("imageio: create file: %w", err)
	}
	if err := Encode(file, img, f); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

package pixkern

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/gogpu/pixkern/internal/imageio"
	"github.com/gogpu/pixkern/kernel"
)

// Image is a planar image as loaded from disk.
type Image = imageio.Image

// Transform is a registered (name, kernel) pair. The name selects the
// output directory and appears in the journal.
type Transform struct {
	Name   string
	Kernel kernel.ID
}

// Result is the output of one transform over one image.
type Result struct {
	Image *Image

	// Elapsed covers upload, launch and download of every channel plane.
	Elapsed time.Duration
}

// DefaultTransforms returns gradient, blur and threshold, in that order.
func DefaultTransforms() []Transform {
	ids := kernel.IDs()
	ts := make([]Transform, len(ids))
	for i, id := range ids {
		ts[i] = Transform{Name: id.String(), Kernel: id}
	}
	return ts
}

// ParseTransforms resolves a comma-separated list of kernel names.
// Names match case-insensitively after compatibility normalization, so
// "Blur" and fullwidth "ＢＬＵＲ" both select the blur kernel. Transforms
// carry the canonical kernel name.
func ParseTransforms(list string) ([]Transform, error) {
	fold := cases.Fold()
	var ts []Transform
	for _, name := range strings.Split(list, ",") {
		key := fold.String(norm.NFKC.String(strings.TrimSpace(name)))
		if key == "" {
			continue
		}
		id, ok := kernel.Parse(key)
		if !ok {
			return nil, fmt.Errorf("pixkern: unknown transform %q", strings.TrimSpace(name))
		}
		ts = append(ts, Transform{Name: id.String(), Kernel: id})
	}
	if len(ts) == 0 {
		return nil, fmt.Errorf("pixkern: no transforms in %q", list)
	}
	return ts, nil
}

// TargetFunc maps an input path and transform name to an output path.
type TargetFunc func(input, transform string) string

// MirrorTarget returns the output path of input under outputRoot: the
// inputRoot prefix is replaced with outputRoot/transform, keeping the rest
// of the tree. Inputs outside inputRoot keep only their base name.
//
//	MirrorTarget("data/images", "data", "data/images/a/x.tiff", "blur") == "data/blur/a/x.tiff"
func MirrorTarget(inputRoot, outputRoot, input, transform string) string {
	rel, err := filepath.Rel(inputRoot, input)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(input)
	}
	return filepath.Join(outputRoot, transform, rel)
}

// Mirror returns a TargetFunc applying MirrorTarget with fixed roots.
func Mirror(inputRoot, outputRoot string) TargetFunc {
	return func(input, transform string) string {
		return MirrorTarget(inputRoot, outputRoot, input, transform)
	}
}

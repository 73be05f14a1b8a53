package pixkern

import (
	"time"

	"github.com/gogpu/pixkern/internal/imageio"
	"github.com/gogpu/pixkern/kernel"
)

// Default batch configuration, matching the data/ directory layout.
const (
	// DefaultInputRoot is the directory scanned for input images.
	DefaultInputRoot = "data/images"

	// DefaultOutputRoot holds one subdirectory per transform.
	DefaultOutputRoot = "data"

	// DefaultMaxPixels is the largest input width×height loaded.
	DefaultMaxPixels = imageio.DefaultMaxPixels
)

// Option configures a Batch during creation.
//
// Example:
//
//	b := pixkern.NewBatch(dev, w,
//	    pixkern.WithWorkers(4),
//	    pixkern.WithLaunchTimeout(30*time.Second),
//	)
type Option func(*options)

// options holds optional configuration for Batch creation.
type options struct {
	workers       int
	transforms    []Transform
	target        TargetFunc
	source        string
	launchTimeout time.Duration
	block         kernel.Block
	maxPixels     int
}

// defaultOptions returns the default batch options.
func defaultOptions() options {
	return options{
		workers:    1,
		transforms: DefaultTransforms(),
		target:     Mirror(DefaultInputRoot, DefaultOutputRoot),
		source:     DefaultInputRoot,
		block:      kernel.DefaultBlock,
		maxPixels:  DefaultMaxPixels,
	}
}

// WithWorkers sets how many images are processed concurrently.
// Values below 1 select sequential processing. Each worker owns the device
// buffers of its own work items.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.workers = n
	}
}

// WithTransforms replaces the registered transforms. They are applied to
// every image in the given order.
func WithTransforms(ts ...Transform) Option {
	return func(o *options) {
		o.transforms = append([]Transform(nil), ts...)
	}
}

// WithTarget sets how output paths are derived from input paths.
func WithTarget(fn TargetFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.target = fn
		}
	}
}

// WithSource names the input location in the empty-batch diagnostic.
func WithSource(source string) Option {
	return func(o *options) {
		o.source = source
	}
}

// WithLaunchTimeout bounds every kernel launch. A launch exceeding d fails
// its work item with a ComputeError; zero disables the timeout.
func WithLaunchTimeout(d time.Duration) Option {
	return func(o *options) {
		o.launchTimeout = d
	}
}

// WithBlock sets the block shape of launch grids. Devices with a fixed
// workgroup size (wgpu) use their own.
func WithBlock(b kernel.Block) Option {
	return func(o *options) {
		if b.Valid() {
			o.block = b
		}
	}
}

// WithMaxPixels bounds the width×height of input images. Larger images are
// rejected from their header with a LoadError before any pixel memory is
// allocated. n <= 0 removes the bound.
func WithMaxPixels(n int) Option {
	return func(o *options) {
		o.maxPixels = n
	}
}

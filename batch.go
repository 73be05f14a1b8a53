package pixkern

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/pixkern/backend"
	"github.com/gogpu/pixkern/dispatch"
	"github.com/gogpu/pixkern/internal/imageio"
	"github.com/gogpu/pixkern/kernel"
)

// Batch applies every registered transform to every image of a list.
//
// Work items are (image, transform) pairs. A failure in one work item is
// logged and never stops the batch. Each image is loaded once; a load
// failure is logged once and skips all transforms of that image.
type Batch struct {
	dev  backend.Device
	disp *dispatch.Dispatcher
	w    Writer
	opts options
}

// NewBatch creates a batch running on dev and reporting to w.
// dev must be initialized.
func NewBatch(dev backend.Device, w Writer, opts ...Option) *Batch {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Batch{
		dev: dev,
		disp: &dispatch.Dispatcher{
			Device:  dev,
			Block:   o.block,
			Timeout: o.launchTimeout,
		},
		w:    w,
		opts: o,
	}
}

// Transforms returns the registered transforms in application order.
func (b *Batch) Transforms() []Transform {
	return append([]Transform(nil), b.opts.transforms...)
}

// Run processes paths in order. An empty list records a single diagnostic
// and returns nil. Run returns a non-nil error only if ctx is canceled or
// the journal cannot be written.
func (b *Batch) Run(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		Logger().Info("no input images", "source", b.opts.source)
		return b.w.LogDiagnostic(fmt.Sprintf("No images found in %s", b.opts.source))
	}

	if b.opts.workers <= 1 {
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := b.processImage(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.workers)
	for _, p := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return b.processImage(gctx, p)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// processImage runs every transform over one image. Only journal failures
// and cancellation are returned.
func (b *Batch) processImage(ctx context.Context, path string) error {
	var img *Image
	err := guard(func() (err error) {
		img, err = imageio.LoadLimit(path, b.opts.maxPixels)
		return err
	})
	if err != nil {
		return b.fail(path, &LoadError{Path: path, Err: err})
	}
	Logger().Debug("image loaded", "path", path, "layout", img.String())

	for _, t := range b.opts.transforms {
		if err := ctx.Err(); err != nil {
			return err
		}
		var d time.Duration
		err := guard(func() (err error) {
			d, err = b.runItem(ctx, path, img, t)
			return err
		})
		if err != nil {
			if ferr := b.fail(path, err); ferr != nil {
				return ferr
			}
			continue
		}
		if err := b.w.LogSuccess(path, t.Name, d); err != nil {
			return err
		}
	}
	return nil
}

// runItem is one work item: upload through write. The returned duration
// covers all of it.
func (b *Batch) runItem(ctx context.Context, path string, img *Image, t Transform) (time.Duration, error) {
	start := time.Now()
	res, err := b.Apply(ctx, img, t)
	if err != nil {
		return 0, err
	}
	target := b.opts.target(path, t.Name)
	if err := b.w.Write(res.Image, target); err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	Logger().Debug("work item done", "path", path, "transform", t.Name, "launch", res.Elapsed, "total", elapsed)
	return elapsed, nil
}

// Apply runs transform t over every channel plane of img on the batch
// device and returns the assembled output.
func (b *Batch) Apply(ctx context.Context, img *Image, t Transform) (*Result, error) {
	s := kernel.Shape{Width: img.Width, Height: img.Height}
	out, err := imageio.NewLike(img)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	for c, plane := range img.Planes {
		p, err := b.applyPlane(ctx, t.Kernel, plane, s)
		if err != nil {
			return nil, err
		}
		out.Planes[c] = p
	}
	return &Result{Image: out, Elapsed: time.Since(start)}, nil
}

// applyPlane uploads plane, launches id into a zeroed buffer and downloads
// the result. Both buffers are released on every path.
func (b *Batch) applyPlane(ctx context.Context, id kernel.ID, plane []float32, s kernel.Shape) ([]float32, error) {
	in, err := b.dev.Upload(plane, s)
	if err != nil {
		return nil, err
	}
	defer b.dev.Release(in)

	out, err := b.dev.Alloc(s)
	if err != nil {
		return nil, err
	}
	defer b.dev.Release(out)

	d, err := b.disp.Launch(ctx, id, in, out)
	if err != nil {
		return nil, err
	}
	Logger().Debug("plane launched", "kernel", id.String(), "shape", s.String(), "elapsed", d)

	return b.dev.Download(out)
}

// guard runs fn, turning a panic into ErrPanic so that only the current
// work item fails.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

// fail records a failed work item in the journal.
func (b *Batch) fail(path string, err error) error {
	Logger().Warn("work item failed", "path", path, "err", err)
	return b.w.LogFailure(path, err.Error())
}

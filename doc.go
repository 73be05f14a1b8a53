// Package pixkern applies pixel-level image transforms to batches of images
// on a compute device.
//
// # Overview
//
// Three kernels are provided by package kernel: gradient magnitude (Sobel),
// a normalized 3×3 blur, and a binary edge threshold. Each is evaluated
// independently at every interior output coordinate; border coordinates are
// never written and stay zero because output buffers are zero-initialized.
//
// Kernels run on a backend.Device: the host device executes grid blocks on a
// worker pool, the wgpu device runs the same kernels as WGSL compute
// shaders. The device is selected once at startup:
//
//	dev, err := backend.Select(backend.DeviceAuto)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
// # Batches
//
// A Batch applies every registered transform to every image of a list and
// writes each output to a mirrored directory tree:
//
//	w, err := pixkern.OpenResultWriter("results/log.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	b := pixkern.NewBatch(dev, w)
//	err = b.Run(ctx, []string{"data/images/a.tiff", "data/images/b.tiff"})
//
// With the defaults, data/images/a.tiff produces data/gradient/a.tiff,
// data/blur/a.tiff and data/threshold/a.tiff, and results/log.txt gains one
// line per work item:
//
//	data/images/a.tiff -> blur processed in 0.00213 seconds
//	Error processing data/images/b.tiff: load: imageio: decode: ...
//
// A failure affects only its own work item. An empty list records
// "No images found in <source>" and is not an error.
//
// # Logging
//
// Diagnostics go through log/slog and are disabled by default; see
// SetLogger. The journal is written regardless of the logger.
package pixkern

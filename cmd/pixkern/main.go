// Command pixkern applies the gradient, blur and threshold kernels to every
// image in a directory, writing each result to a mirrored directory tree and
// appending one line per work item to a log file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gogpu/pixkern"
	"github.com/gogpu/pixkern/backend"
	"github.com/gogpu/pixkern/kernel"
)

func main() {
	var (
		input      = flag.String("input", pixkern.DefaultInputRoot, "directory of input images")
		pattern    = flag.String("pattern", "*.tiff", "glob pattern of input files within -input")
		output     = flag.String("output", pixkern.DefaultOutputRoot, "root of the per-transform output directories")
		logPath    = flag.String("log", "results/log.txt", "append-only log file")
		device     = flag.String("backend", backend.DeviceAuto, "compute backend: auto, host or wgpu")
		transforms = flag.String("transforms", "gradient,blur,threshold", "comma-separated transforms to apply, in order")
		workers    = flag.Int("workers", 1, "images processed concurrently")
		timeout    = flag.Duration("timeout", 0, "per-launch timeout (0 disables)")
		block      = flag.String("block", "16x16", "host grid block shape WxH (wgpu uses its compiled workgroup)")
		maxMemory  = flag.Int("max-memory", 0, "device buffer budget in MB (0: unbounded on host, 256 on GPU)")
		maxPixels  = flag.Int("max-pixels", pixkern.DefaultMaxPixels, "largest accepted input width*height (0 disables)")
		verbose    = flag.Bool("v", false, "verbose diagnostics on stderr")
	)
	flag.Parse()

	if *verbose {
		pixkern.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	blk, err := parseBlock(*block)
	if err != nil {
		log.Fatalf("Invalid -block: %v", err)
	}
	ts, err := pixkern.ParseTransforms(*transforms)
	if err != nil {
		log.Fatalf("Invalid -transforms: %v", err)
	}

	paths, err := discover(*input, *pattern)
	if err != nil {
		log.Fatalf("Failed to list inputs: %v", err)
	}

	w, err := pixkern.OpenResultWriter(*logPath)
	if err != nil {
		log.Fatalf("Failed to open log: %v", err)
	}
	defer func() { _ = w.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var dev backend.Device
	if len(paths) > 0 {
		dev, err = backend.SelectWith(*device, backend.Config{MaxMemoryMB: *maxMemory})
		if err != nil {
			log.Fatalf("Failed to select backend %q: %v", *device, err)
		}
		defer dev.Close()
		info := dev.Info()
		log.Printf("Using %s backend (%s)", info.Name, info.Detail)
	}

	b := pixkern.NewBatch(dev, w,
		pixkern.WithTransforms(ts...),
		pixkern.WithTarget(pixkern.Mirror(*input, *output)),
		pixkern.WithSource(*input),
		pixkern.WithWorkers(*workers),
		pixkern.WithLaunchTimeout(*timeout),
		pixkern.WithBlock(blk),
		pixkern.WithMaxPixels(*maxPixels),
	)

	start := time.Now()
	if err := b.Run(ctx, paths); err != nil {
		log.Fatalf("Batch stopped: %v", err)
	}
	log.Printf("Processed %d images in %v, log in %s", len(paths), time.Since(start).Round(time.Millisecond), *logPath)
}

// discover returns the files in dir matching pattern, sorted.
func discover(dir, pattern string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	files := paths[:0]
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			files = append(files, p)
		}
	}
	sort.Strings(files)
	return files, nil
}

// parseBlock parses "WxH".
func parseBlock(s string) (kernel.Block, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return kernel.Block{}, fmt.Errorf("%q is not WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return kernel.Block{}, fmt.Errorf("width: %w", err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return kernel.Block{}, fmt.Errorf("height: %w", err)
	}
	b := kernel.Block{Width: w, Height: h}
	if !b.Valid() {
		return kernel.Block{}, fmt.Errorf("%q must be positive", s)
	}
	return b, nil
}

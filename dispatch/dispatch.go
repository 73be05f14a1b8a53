// Package dispatch maps a plane onto a grid of execution units and runs one
// kernel over it synchronously.
//
// A launch covers the plane with ceil(W/bw) × ceil(H/bh) blocks, hands the
// grid to the device and blocks until every unit has completed. The returned
// duration is the wall-clock time around the launch.
//
// With a Timeout configured, a launch that does not complete in time is
// abandoned and reported as a *backend.ComputeError wrapping
// ErrLaunchTimeout, so a stalled kernel fails only its own work item.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogpu/pixkern/backend"
	"github.com/gogpu/pixkern/kernel"
)

// ErrLaunchTimeout is returned when a launch exceeds the dispatcher timeout.
var ErrLaunchTimeout = errors.New("dispatch: launch timed out")

// blockDevice is implemented by devices whose pipelines are compiled for a
// fixed block shape.
type blockDevice interface {
	Block() kernel.Block
}

// Dispatcher launches kernels on a device.
//
// The zero Block selects the device's native block, or kernel.DefaultBlock.
// A zero Timeout waits indefinitely (bounded only by ctx).
type Dispatcher struct {
	Device  backend.Device
	Block   kernel.Block
	Timeout time.Duration

	// Logger receives debug records for each launch. Nil uses the backend
	// package logger current at launch time.
	Logger *slog.Logger
}

// New returns a dispatcher for dev with the default block and no timeout.
func New(dev backend.Device) *Dispatcher {
	return &Dispatcher{Device: dev}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return backend.Logger()
}

// block resolves the block shape used for the next launch.
func (d *Dispatcher) block() kernel.Block {
	if bd, ok := d.Device.(blockDevice); ok {
		return bd.Block()
	}
	if d.Block.Valid() {
		return d.Block
	}
	return kernel.DefaultBlock
}

// Grid returns the grid a launch over shape s would use.
func (d *Dispatcher) Grid(s kernel.Shape) (kernel.Grid, error) {
	return kernel.NewGrid(s, d.block())
}

// Launch runs kernel id reading in and writing out, and returns the
// wall-clock duration of the launch. It returns only after every execution
// unit has completed, or after the timeout has abandoned the launch.
func (d *Dispatcher) Launch(ctx context.Context, id kernel.ID, in, out *backend.Buffer) (time.Duration, error) {
	fail := func(err error) error {
		return &backend.ComputeError{Device: d.deviceName(), Kernel: id.String(), Err: err}
	}
	if d.Device == nil {
		return 0, fail(backend.ErrNotInitialized)
	}
	if in == nil || out == nil {
		return 0, fail(backend.ErrBufferReleased)
	}
	if in.Shape() != out.Shape() {
		return 0, fail(fmt.Errorf("%w: in %v, out %v", backend.ErrShapeMismatch, in.Shape(), out.Shape()))
	}
	g, err := d.Grid(in.Shape())
	if err != nil {
		return 0, fail(err)
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if d.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	d.logger().Debug("kernel launch", "kernel", id.String(), "grid", g.String(), "units", g.Units())

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		done <- d.Device.Launch(runCtx, id, in, out, g)
	}()

	select {
	case err := <-done:
		elapsed := time.Since(start)
		if err != nil {
			if d.timedOut(ctx, runCtx) {
				return elapsed, fail(fmt.Errorf("%w after %v", ErrLaunchTimeout, d.Timeout))
			}
			if backend.IsCompute(err) {
				return elapsed, err
			}
			return elapsed, fail(err)
		}
		return elapsed, nil
	case <-runCtx.Done():
		if err := ctx.Err(); err != nil {
			return time.Since(start), fail(err)
		}
		return time.Since(start), fail(fmt.Errorf("%w after %v", ErrLaunchTimeout, d.Timeout))
	}
}

// timedOut reports whether the launch context expired because of the
// dispatcher timeout rather than the caller's context.
func (d *Dispatcher) timedOut(ctx, runCtx context.Context) bool {
	return d.Timeout > 0 && ctx.Err() == nil && runCtx.Err() != nil
}

func (d *Dispatcher) deviceName() string {
	if d.Device == nil {
		return "none"
	}
	return d.Device.Name()
}

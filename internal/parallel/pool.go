// Package parallel provides the goroutine pool that plays the role of
// execution units for host kernel launches.
package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned when work is submitted to a closed pool.
var ErrPoolClosed = errors.New("parallel: pool is closed")

// task is one unit of work: index i of a batch.
type task struct {
	ctx  context.Context
	fn   func(i int)
	i    int
	done *sync.WaitGroup
	ran  *atomic.Int64
}

// WorkerPool is a fixed set of goroutines draining a shared task queue.
//
// A batch submitted with ExecuteAll behaves like one kernel launch: every
// index runs at most once, and ExecuteAll returns only after every submitted
// index has finished, which acts as the launch barrier.
//
// Thread safety: WorkerPool is safe for concurrent use. Concurrent batches
// interleave on the same workers.
type WorkerPool struct {
	workers int
	tasks   chan task
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	closeMu sync.RWMutex
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &WorkerPool{
		workers: workers,
		tasks:   make(chan task, workers*4),
		done:    make(chan struct{}),
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case t := <-p.tasks:
			p.run(t)
		}
	}
}

// run executes t unless its batch was canceled.
func (p *WorkerPool) run(t task) {
	defer t.done.Done()
	if t.ctx.Err() != nil {
		return
	}
	t.fn(t.i)
	t.ran.Add(1)
}

// ExecuteAll runs fn(0) … fn(n-1) across the workers and waits for all of
// them. If ctx is canceled, indices that have not started are skipped and
// ctx.Err() is returned once the started ones finish.
func (p *WorkerPool) ExecuteAll(ctx context.Context, n int, fn func(i int)) error {
	if n <= 0 {
		return nil
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if !p.running.Load() {
		return ErrPoolClosed
	}

	var (
		wg  sync.WaitGroup
		ran atomic.Int64
	)
submit:
	for i := 0; i < n; i++ {
		wg.Add(1)
		select {
		case p.tasks <- task{ctx: ctx, fn: fn, i: i, done: &wg, ran: &ran}:
		case <-ctx.Done():
			wg.Done()
			break submit
		}
	}
	wg.Wait()

	if int(ran.Load()) != n {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the workers after the queued tasks drain.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool accepts work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

package backend

import (
	"fmt"
	"math"
	"sync"
)

// Default memory limits.
const (
	// DefaultMaxMemoryMB is the default device memory budget (256 MB).
	DefaultMaxMemoryMB = 256

	// MinMemoryMB is the minimum allowed memory budget (1 MB).
	MinMemoryMB = 1
)

// MemoryStats contains device memory usage statistics.
type MemoryStats struct {
	// TotalBytes is the memory budget in bytes.
	TotalBytes uint64

	// UsedBytes is the currently allocated memory in bytes.
	UsedBytes uint64

	// BufferCount is the number of live buffers.
	BufferCount int

	// PeakBytes is the highest UsedBytes observed.
	PeakBytes uint64
}

// Unlimited reports whether the budget has no bound.
func (s MemoryStats) Unlimited() bool { return s.TotalBytes == math.MaxUint64 }

// String returns a human-readable string of memory stats.
func (s MemoryStats) String() string {
	if s.Unlimited() {
		return fmt.Sprintf("Memory[%d KB/unlimited, %d buffers, peak %d KB]",
			s.UsedBytes/1024, s.BufferCount, s.PeakBytes/1024)
	}
	return fmt.Sprintf("Memory[%d/%d KB, %d buffers, peak %d KB]",
		s.UsedBytes/1024, s.TotalBytes/1024, s.BufferCount, s.PeakBytes/1024)
}

// memoryBudget tracks bytes held by live buffers of one device.
//
// memoryBudget is safe for concurrent use.
type memoryBudget struct {
	mu      sync.Mutex
	budget  uint64
	used    uint64
	peak    uint64
	buffers int
}

// newMemoryBudget creates a budget of maxMB megabytes.
// Values below MinMemoryMB select DefaultMaxMemoryMB.
func newMemoryBudget(maxMB int) *memoryBudget {
	if maxMB < MinMemoryMB {
		maxMB = DefaultMaxMemoryMB
	}
	return &memoryBudget{budget: uint64(maxMB) * 1024 * 1024} //nolint:gosec // maxMB is positive
}

// newHostBudget creates a budget of maxMB megabytes, or an unbounded one
// when maxMB <= 0. Host buffers live in process memory, so only an explicit
// limit applies.
func newHostBudget(maxMB int) *memoryBudget {
	if maxMB <= 0 {
		return &memoryBudget{budget: math.MaxUint64}
	}
	return newMemoryBudget(maxMB)
}

// reserve accounts n bytes or fails with ErrMemoryBudgetExceeded.
func (m *memoryBudget) reserve(n uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.budget-m.used {
		return fmt.Errorf("%w: need %d, %d of %d in use", ErrMemoryBudgetExceeded, n, m.used, m.budget)
	}
	m.used += n
	m.buffers++
	if m.used > m.peak {
		m.peak = m.used
	}
	return nil
}

// free returns n bytes to the budget.
func (m *memoryBudget) free(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.used {
		n = m.used
	}
	m.used -= n
	if m.buffers > 0 {
		m.buffers--
	}
}

func (m *memoryBudget) stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MemoryStats{
		TotalBytes:  m.budget,
		UsedBytes:   m.used,
		BufferCount: m.buffers,
		PeakBytes:   m.peak,
	}
}

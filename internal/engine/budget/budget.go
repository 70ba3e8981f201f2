// Package budget gates bounded-depth cloning on process heap usage.
package budget

import (
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
)

// sampleEvery controls how often the heap is actually measured.
const sampleEvery = 256

// Monitor reports the clone depth the current heap usage allows. Once the heap
// crosses the limit, clones degrade to shallow copies for the rest of the scan.
type Monitor struct {
	logger   *zap.Logger
	limit    uint64
	maxDepth int
	calls    atomic.Uint64
	exceeded atomic.Bool
	readHeap func() uint64
}

// NewMonitor builds a monitor. A limitMB of 0 disables the check.
func NewMonitor(logger *zap.Logger, limitMB int, maxDepth int) *Monitor {
	if maxDepth < 1 {
		maxDepth = 1
	}
	return &Monitor{
		logger:   logger.Named("budget"),
		limit:    uint64(limitMB) << 20,
		maxDepth: maxDepth,
		readHeap: heapAlloc,
	}
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Exceeded reports whether the budget has been crossed.
func (m *Monitor) Exceeded() bool {
	if m == nil || m.limit == 0 {
		return false
	}
	if m.exceeded.Load() {
		return true
	}
	if m.calls.Add(1)%sampleEvery != 1 {
		return false
	}
	if used := m.readHeap(); used > m.limit {
		if m.exceeded.CompareAndSwap(false, true) {
			m.logger.Warn("Memory budget exceeded, cloning degrades to shallow copies.",
				zap.Uint64("heap_bytes", used),
				zap.Uint64("limit_bytes", m.limit))
		}
		return true
	}
	return false
}

// CloneDepth is the depth Clone operations should use right now.
func (m *Monitor) CloneDepth() int {
	if m == nil {
		return 1
	}
	if m.Exceeded() {
		return 1
	}
	return m.maxDepth
}

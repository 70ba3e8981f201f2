package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestMonitor_DegradesOnceOverLimit(t *testing.T) {
	m := NewMonitor(zaptest.NewLogger(t), 1, 3)
	heap := uint64(0)
	m.readHeap = func() uint64 { return heap }

	assert.Equal(t, 3, m.CloneDepth())

	heap = 2 << 20
	// Force the next call to sample.
	m.calls.Store(0)
	assert.Equal(t, 1, m.CloneDepth())

	heap = 0
	assert.Equal(t, 1, m.CloneDepth(), "degradation is sticky")
}

func TestMonitor_Disabled(t *testing.T) {
	m := NewMonitor(zaptest.NewLogger(t), 0, 4)
	m.readHeap = func() uint64 { return 1 << 40 }
	assert.False(t, m.Exceeded())
	assert.Equal(t, 4, m.CloneDepth())

	var nilMonitor *Monitor
	assert.Equal(t, 1, nilMonitor.CloneDepth())
}

package findings

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

func sample(line int) Finding {
	return Finding{
		Kind:     "xss",
		RuleID:   "dom-inner-html",
		Label:    "DOM XSS (HTML Injection)",
		Source:   uast.Location{File: "app.js", StartLine: 1, StartCol: 1},
		Sink:     uast.Location{File: "app.js", StartLine: line, StartCol: 3},
		SinkName: "el.innerHTML",
	}
}

func TestCollectorDeduplicates(t *testing.T) {
	c := NewCollector("scan-1")
	assert.True(t, c.Emit(sample(4)))
	assert.False(t, c.Emit(sample(4)), "same sink, source and kind")
	assert.True(t, c.Emit(sample(5)))
	require.Equal(t, 2, c.Len())

	got := c.All()
	assert.NotEqual(t, uuid.Nil, got[0].ID)
	assert.Equal(t, "scan-1", got[0].ScanID)
	assert.False(t, got[0].ObservedAt.IsZero())

	got[0].Kind = "mutated"
	assert.Equal(t, "xss", c.All()[0].Kind, "All returns a copy")
}

func TestCollectorConcurrentEmit(t *testing.T) {
	c := NewCollector("scan")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Emit(sample(i % 10))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
}

func TestMessage(t *testing.T) {
	f := sample(4)
	assert.Equal(t, fmt.Sprintf("DOM XSS (HTML Injection): data from %s reaches el.innerHTML", f.Source.String()), f.Message())

	f.Source = uast.Location{}
	f.Label = ""
	assert.Equal(t, "xss: tainted data reaches el.innerHTML", f.Message())
}

// Package findings defines the record the checker emits for every unsanitized
// flow from a source to a sink, and a collector for them.
package findings

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Step is one hop of a finding's provenance trace.
type Step struct {
	Location uast.Location `json:"location"`
	Role     string        `json:"role"`
}

// Finding is one source-to-sink flow.
type Finding struct {
	ID         uuid.UUID     `json:"id"`
	ScanID     string        `json:"scan_id,omitempty"`
	EntryPoint string        `json:"entry_point"`
	Kind       string        `json:"kind"`
	Tags       []string      `json:"tags"`
	RuleID     string        `json:"rule_id"`
	Label      string        `json:"label"`
	Source     uast.Location `json:"source"`
	Sink       uast.Location `json:"sink"`
	// SinkName is the call or property path that triggered the sink.
	SinkName   string    `json:"sink_name"`
	Sanitizers []string  `json:"sanitizers,omitempty"`
	Trace      []Step    `json:"trace"`
	ObservedAt time.Time `json:"observed_at"`
}

// Key identifies a flow for deduplication: the same sink reached from the same
// source with the same kind is reported once.
func (f *Finding) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", f.Sink.String(), f.Source.String(), f.Kind, f.RuleID)
}

// Message is a one-line human readable description.
func (f *Finding) Message() string {
	label := f.Label
	if label == "" {
		label = f.Kind
	}
	if f.Source.IsZero() {
		return fmt.Sprintf("%s: tainted data reaches %s", label, f.SinkName)
	}
	return fmt.Sprintf("%s: data from %s reaches %s", label, f.Source.String(), f.SinkName)
}

// Collector accumulates findings. It is safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	scan  string
	items []Finding
	seen  map[string]struct{}
}

// NewCollector returns an empty collector stamping findings with scanID.
func NewCollector(scanID string) *Collector {
	return &Collector{scan: scanID, seen: make(map[string]struct{})}
}

// Emit records f unless an equivalent finding was already recorded. It
// reports whether f was new. Missing ids and timestamps are filled in.
func (c *Collector) Emit(f Finding) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := f.Key()
	if _, dup := c.seen[key]; dup {
		return false
	}
	c.seen[key] = struct{}{}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.ScanID == "" {
		f.ScanID = c.scan
	}
	if f.ObservedAt.IsZero() {
		f.ObservedAt = time.Now().UTC()
	}
	c.items = append(c.items, f)
	return true
}

// All returns a copy of every recorded finding in emission order.
func (c *Collector) All() []Finding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Finding, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of recorded findings.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Package taint attaches, reads, merges and clears taint tags and provenance
// traces on symbolic values.
package taint

import (
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// MaxAggregateDepth bounds the recursive search performed by Aggregate.
const MaxAggregateDepth = 5

// Trace roles recorded by the engine.
const (
	RoleSource    = "source"
	RoleParameter = "parameter"
	RolePropagate = "propagate"
	RoleCall      = "call"
	RoleReturn    = "return"
	RoleField     = "field"
	RoleSanitizer = "sanitizer"
	RoleSink      = "sink"
)

// Mark adds tags to v and records where they came from.
func Mark(v value.Value, tags value.TagSet, loc uast.Location, role string) {
	if v == nil || len(tags) == 0 {
		return
	}
	a := v.Attrs()
	a.AddTags(tags)
	a.AppendTrace(value.TraceEntry{Location: loc, Role: role})
}

// MergeTags returns a ∪ b without mutating either. An empty side returns the other as is.
func MergeTags(a, b value.TagSet) value.TagSet {
	return value.UnionTags(a, b)
}

// Aggregate reports the first non-empty tag set reachable from v within
// MaxAggregateDepth field hops. It is an existence check, not a union.
func Aggregate(v value.Value) value.TagSet {
	_, tags := Locate(v, MaxAggregateDepth, nonEmpty)
	return tags
}

// IsTainted reports whether any tag is reachable from v.
func IsTainted(v value.Value) bool {
	return len(Aggregate(v)) > 0
}

func nonEmpty(tags value.TagSet) bool { return len(tags) > 0 }

// Locate returns the first value reachable from v, searched depth-first with v
// itself first, whose own tag set satisfies accept.
func Locate(v value.Value, depth int, accept func(value.TagSet) bool) (value.Value, value.TagSet) {
	if depth > MaxAggregateDepth {
		depth = MaxAggregateDepth
	}
	visited := make(map[value.Value]struct{})
	return locate(v, depth, accept, visited)
}

func locate(v value.Value, depth int, accept func(value.TagSet) bool, visited map[value.Value]struct{}) (value.Value, value.TagSet) {
	if v == nil || depth < 0 {
		return nil, nil
	}
	if _, seen := visited[v]; seen {
		return nil, nil
	}
	visited[v] = struct{}{}

	if tags := v.Attrs().Tags(); len(tags) > 0 && accept(tags) {
		return v, tags
	}
	if depth == 0 {
		return nil, nil
	}
	for _, child := range value.Children(v) {
		if found, tags := locate(child, depth-1, accept, visited); found != nil {
			return found, tags
		}
	}
	return nil, nil
}

// CollectSanitizers gathers sanitizer ids recorded on v and its descendants.
func CollectSanitizers(v value.Value) []string {
	var out []string
	seen := make(map[string]struct{})
	visited := make(map[value.Value]struct{})
	var walk func(value.Value, int)
	walk = func(cur value.Value, depth int) {
		if cur == nil || depth < 0 {
			return
		}
		if _, ok := visited[cur]; ok {
			return
		}
		visited[cur] = struct{}{}
		for _, id := range cur.Attrs().Sanitizers() {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
		for _, child := range value.Children(cur) {
			walk(child, depth-1)
		}
	}
	walk(v, MaxAggregateDepth)
	return out
}

// Propagate copies the taint reachable from src onto dst, carrying src's trace
// forward and appending a step for this propagation.
func Propagate(dst, src value.Value, loc uast.Location, role string) bool {
	if dst == nil || src == nil || dst == src {
		return false
	}
	found, tags := Locate(src, MaxAggregateDepth, nonEmpty)
	if found == nil {
		return false
	}
	a := dst.Attrs()
	if len(a.Trace()) == 0 {
		for _, e := range found.Attrs().Trace() {
			a.AppendTrace(e)
		}
	}
	for _, id := range found.Attrs().Sanitizers() {
		a.AddSanitizer(id)
	}
	Mark(dst, tags, loc, role)
	return true
}

// PropagateAll propagates from every source onto dst and reports whether any was tainted.
func PropagateAll(dst value.Value, srcs []value.Value, loc uast.Location, role string) bool {
	tainted := false
	for _, src := range srcs {
		if Propagate(dst, src, loc, role) {
			tainted = true
		}
	}
	return tainted
}

// Refresh clears taint state from every value reachable from root that deny
// selects. Record-like values also lose their cached members so they are
// re-derived on the next entry point. It returns the number of values reset.
func Refresh(root value.Value, deny func(value.Value) bool) int {
	if root == nil || deny == nil {
		return 0
	}
	visited := make(map[value.Value]struct{})
	count := 0
	var walk func(value.Value)
	walk = func(v value.Value) {
		if v == nil {
			return
		}
		if _, ok := visited[v]; ok {
			return
		}
		visited[v] = struct{}{}

		children := value.Children(v)
		if deny(v) {
			v.Attrs().Reset()
			count++
			switch t := v.(type) {
			case *value.Object:
				t.Fields().Clear()
				children = nil
			case *value.Package:
				t.Fields().Clear()
				children = nil
			}
		}
		for _, c := range children {
			walk(c)
		}
	}
	walk(root)
	return count
}

// Package value holds the symbolic value model: the variants the interpreter
// produces, their taint attributes, and the scope chain built from them.
package value

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Kind discriminates value variants.
type Kind int

const (
	KindPrimitive Kind = iota
	KindObject
	KindFunction
	KindScope
	KindUnion
	KindPackage
	KindUndefined
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	case KindScope:
		return "scope"
	case KindUnion:
		return "union"
	case KindPackage:
		return "package"
	case KindUndefined:
		return "undefined"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is implemented by every variant.
type Value interface {
	Kind() Kind
	Attrs() *Attributes
}

// ID is the identity triple of a value. Scoped is the access path as written in
// source (e.g. "req.query.id"); Qualified prefixes it with the declaring module.
type ID struct {
	Local     string
	Scoped    string
	Qualified string
}

// ChildID derives the identity of a member named name under parent.
func ChildID(parent ID, name string) ID {
	id := ID{Local: name, Scoped: name, Qualified: name}
	if parent.Scoped != "" {
		id.Scoped = parent.Scoped + "." + name
	}
	if parent.Qualified != "" {
		id.Qualified = parent.Qualified + "." + name
	}
	return id
}

// Tag labels a value as derived from an untrusted source of a given kind.
type Tag string

// TagSet is treated as immutable once attached to a value; mutations always
// produce a new set so sets can be shared between values.
type TagSet map[Tag]struct{}

// NewTagSet builds a set from tags.
func NewTagSet(tags ...Tag) TagSet {
	if len(tags) == 0 {
		return nil
	}
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

func (s TagSet) Has(t Tag) bool {
	_, ok := s[t]
	return ok
}

func (s TagSet) Len() int { return len(s) }

// Sorted returns the tags in lexical order.
func (s TagSet) Sorted() []Tag {
	out := make([]Tag, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Intersects reports whether s and other share a tag.
func (s TagSet) Intersects(other TagSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for t := range small {
		if large.Has(t) {
			return true
		}
	}
	return false
}

// UnionTags returns a ∪ b. When either side is empty the other is returned as is.
func UnionTags(a, b TagSet) TagSet {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make(TagSet, len(a)+len(b))
	for t := range a {
		out[t] = struct{}{}
	}
	for t := range b {
		out[t] = struct{}{}
	}
	return out
}

// TraceEntry explains one step of how taint reached a value.
type TraceEntry struct {
	Location uast.Location `json:"location"`
	Role     string        `json:"role"`
}

var serials atomic.Uint64

// Attributes are the fields common to every variant.
type Attributes struct {
	id         ID
	serial     uint64
	owner      *Scope
	tags       TagSet
	descendant bool
	trace      []TraceEntry
	sanitizers []string

	// TypeName is the declared static type when the frontend knows it.
	TypeName string
	// ReadOnly members are never copied by inheritance flattening.
	ReadOnly bool
	// Inherited is set on members copied down from a super class.
	Inherited bool
	// InheritedFrom is the super scope an inherited member physically came from.
	InheritedFrom *Scope
}

func newAttributes(id ID) Attributes {
	return Attributes{id: id, serial: serials.Add(1)}
}

func (a *Attributes) ID() ID         { return a.id }
func (a *Attributes) Serial() uint64 { return a.serial }
func (a *Attributes) Owner() *Scope  { return a.owner }

// SetOwner records the declaring scope. The first owner wins.
func (a *Attributes) SetOwner(s *Scope) {
	if a.owner == nil {
		a.owner = s
	}
}

// Tags returns the value's own tag set. Callers must not mutate it.
func (a *Attributes) Tags() TagSet { return a.tags }

// Tainted reports whether the value itself carries tags.
func (a *Attributes) Tainted() bool { return len(a.tags) > 0 }

// HasTaintedDescendant reports the recursive flag.
func (a *Attributes) HasTaintedDescendant() bool { return a.descendant || len(a.tags) > 0 }

// SetTaintedDescendant raises the recursive flag. It is never lowered outside Reset.
func (a *Attributes) SetTaintedDescendant() { a.descendant = true }

// AddTags grows the tag set. It never shrinks it.
func (a *Attributes) AddTags(tags TagSet) {
	if len(tags) == 0 {
		return
	}
	a.tags = UnionTags(a.tags, tags)
	a.descendant = true
}

// AppendTrace records a provenance step.
func (a *Attributes) AppendTrace(e TraceEntry) {
	a.trace = append(a.trace[:len(a.trace):len(a.trace)], e)
}

// Trace returns a copy of the provenance trace.
func (a *Attributes) Trace() []TraceEntry {
	out := make([]TraceEntry, len(a.trace))
	copy(out, a.trace)
	return out
}

// AddSanitizer records that the value passed through sanitizer id.
func (a *Attributes) AddSanitizer(id string) {
	for _, s := range a.sanitizers {
		if s == id {
			return
		}
	}
	a.sanitizers = append(a.sanitizers[:len(a.sanitizers):len(a.sanitizers)], id)
}

// Sanitizers returns the sanitizer ids the value passed through.
func (a *Attributes) Sanitizers() []string {
	out := make([]string, len(a.sanitizers))
	copy(out, a.sanitizers)
	return out
}

// Reset clears taint state. Only the entry-point refresh pass calls it.
func (a *Attributes) Reset() {
	a.tags = nil
	a.descendant = false
	a.trace = nil
	a.sanitizers = nil
}

// copyFrom duplicates src into a, assigning a fresh serial.
func (a *Attributes) copyFrom(src *Attributes) {
	*a = *src
	a.serial = serials.Add(1)
	a.trace = src.Trace()
	a.sanitizers = src.Sanitizers()
}

// LastTrace returns the most recent trace entry, if any.
func (a *Attributes) LastTrace() (TraceEntry, bool) {
	if len(a.trace) == 0 {
		return TraceEntry{}, false
	}
	return a.trace[len(a.trace)-1], true
}

// Describe renders a short debugging label.
func Describe(v Value) string {
	if v == nil {
		return "<nil>"
	}
	id := v.Attrs().ID()
	name := id.Scoped
	if name == "" {
		name = id.Local
	}
	if p, ok := v.(*Primitive); ok && p.Concrete {
		return fmt.Sprintf("%s(%q)", v.Kind(), p.Literal)
	}
	return fmt.Sprintf("%s(%s)", v.Kind(), name)
}

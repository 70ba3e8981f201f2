// Package builtins simulates standard-library containers, string builders,
// futures and executors on top of builtin scopes.
//
// Containers start precise: elements sit in the scope's fields under literal
// indices (lists) or key signatures (maps, sets). The first operation whose
// effect cannot be pinned to one literal key degrades the container for good:
// elements move to an unordered overflow buffer and reads return the whole
// container.
package builtins

import (
	"strconv"

	"github.com/xkilldash9x/scalpel-sast/internal/engine/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Builtin type names.
const (
	TypeList          = "list"
	TypeQueue         = "queue"
	TypeStack         = "stack"
	TypeMap           = "map"
	TypeSet           = "set"
	TypeEntry         = "entry"
	TypeIterator      = "iterator"
	TypeStringBuilder = "stringbuilder"
	TypeFuture        = "future"
	TypeExecutor      = "executor"
)

func siteLoc(c *value.Call) uast.Location {
	if c == nil || c.Site == nil {
		return uast.Location{}
	}
	return c.Site.Loc()
}

func indexKey(i int) string { return strconv.Itoa(i) }

// elements returns the stored elements: fields in order while precise plus
// anything already flushed to the overflow buffer.
func elements(s *value.Scope) []value.Value {
	out := s.Fields().Values()
	return append(out, s.Container.Overflow...)
}

// degrade permanently switches s to imprecise mode, flushing precise elements
// into the overflow buffer.
func degrade(s *value.Scope) {
	c := s.Container
	if s.Fields().Len() > 0 {
		c.Overflow = append(c.Overflow, s.Fields().Values()...)
		s.Fields().Clear()
	}
	c.Length = 0
	c.MarkImprecise()
}

// ensureConsistent flushes fields left behind when a sibling view flipped the
// shared precision flag.
func ensureConsistent(s *value.Scope) {
	if !s.Container.Precise() && s.Fields().Len() > 0 {
		degrade(s)
	}
}

// conservative is the value every imprecise read returns: the container itself.
func conservative(s *value.Scope) value.Value { return s }

// store adds v to the overflow buffer of an imprecise container.
func store(s *value.Scope, v value.Value) {
	if v == nil {
		return
	}
	s.Container.Overflow = append(s.Container.Overflow, v)
	if v.Attrs().HasTaintedDescendant() {
		s.Attrs().SetTaintedDescendant()
	}
}

// appendElem appends at the end of a precise list or to the overflow buffer.
func appendElem(s *value.Scope, v value.Value) {
	ensureConsistent(s)
	c := s.Container
	if !c.Precise() {
		store(s, v)
		return
	}
	s.SetField(indexKey(c.Length), v)
	c.Length++
}

// insertAt shifts elements at and after idx one slot to the right.
func insertAt(s *value.Scope, idx int, v value.Value) {
	c := s.Container
	for i := c.Length - 1; i >= idx; i-- {
		prev, _ := s.Field(indexKey(i))
		s.Fields().Set(indexKey(i+1), prev)
	}
	s.SetField(indexKey(idx), v)
	c.Length++
	reorder(s)
}

// removeAt drops idx and shifts the tail left, returning the removed element.
func removeAt(s *value.Scope, idx int) value.Value {
	c := s.Container
	removed, _ := s.Field(indexKey(idx))
	for i := idx; i < c.Length-1; i++ {
		next, _ := s.Field(indexKey(i + 1))
		s.Fields().Set(indexKey(i), next)
	}
	s.Fields().Delete(indexKey(c.Length - 1))
	c.Length--
	return removed
}

// reorder rewrites the field map so insertion order matches index order.
func reorder(s *value.Scope) {
	c := s.Container
	vals := make([]value.Value, c.Length)
	for i := 0; i < c.Length; i++ {
		vals[i], _ = s.Field(indexKey(i))
	}
	s.Fields().Clear()
	for i, v := range vals {
		s.Fields().Set(indexKey(i), v)
	}
}

// contents returns what a read of "some element" yields: the join of all
// elements while precise, the container itself otherwise.
func contents(s *value.Scope, id value.ID) value.Value {
	ensureConsistent(s)
	if !s.Container.Precise() {
		return conservative(s)
	}
	elems := elements(s)
	if len(elems) == 0 {
		return value.NewUndefined(id)
	}
	return value.Join(elems...)
}

// elemsOf returns what iterating v yields, for arguments such as addAll(other).
func elemsOf(v value.Value) []value.Value {
	var out []value.Value
	for _, alt := range value.Alternatives(v) {
		if sc, ok := alt.(*value.Scope); ok && sc.Container != nil {
			switch sc.Container.Type {
			case TypeMap:
				out = append(out, mapValues(sc)...)
			default:
				out = append(out, elements(sc)...)
			}
			continue
		}
		out = append(out, alt)
	}
	return out
}

// symbolic builds an unknown primitive result that carries the receiver's taint.
func symbolic(c *value.Call, kind uast.LiteralKind, from ...value.Value) *value.Primitive {
	p := value.NewSymbolicPrimitive(resultID(c), kind)
	for _, src := range from {
		taint.Propagate(p, src, siteLoc(c), taint.RolePropagate)
	}
	return p
}

// resultID names the value produced by call c.
func resultID(c *value.Call) value.ID {
	if c.Receiver == nil {
		return value.ID{Local: c.Name + "()", Scoped: c.Name + "()", Qualified: c.Name + "()"}
	}
	return value.ChildID(c.Receiver.Attrs().ID(), c.Name+"()")
}

func number(n int) *value.Primitive {
	return value.NewLiteral(strconv.Itoa(n), uast.LiteralNumber)
}

// invoke calls a callback argument through the interpreter.
func invoke(c *value.Call, cb value.Value, args ...value.Value) value.Value {
	if cb == nil || c.Invoker == nil {
		return value.NewUndefined(value.ID{Local: "callback"})
	}
	return c.Invoker.Invoke(cb, nil, args, c.Site)
}

// cloneElem copies nested containers to the permitted depth; other values
// keep their identity so map keys still match after iteration.
func cloneElem(v value.Value, depth int) value.Value {
	if sc, ok := v.(*value.Scope); ok && sc.Container != nil && depth > 1 {
		return value.Clone(sc, depth-1)
	}
	return v
}

// newView builds a view of s holding elems. The view shares s's precision
// flag and is parented to s so members not found on the view resolve against s.
func newView(c *value.Call, s *value.Scope, typ string, elems []value.Value) *value.Scope {
	id := resultID(c)
	view := value.NewScope(id.Local, s, value.ScopeBuiltin)
	view.SetID(id)
	view.Container = s.Container.Derive(typ, s)
	depth := 1
	if c.Invoker != nil {
		depth = c.Invoker.CloneDepth()
	}
	if s.Container.Precise() {
		for _, e := range elems {
			appendElem(view, cloneElem(e, depth))
		}
	} else {
		for _, e := range elems {
			store(view, cloneElem(e, depth))
		}
	}
	return view
}

// newList creates a fresh precise list holding elems.
func newList(id value.ID, elems []value.Value) *value.Scope {
	s := value.NewBuiltinScope(id, TypeList, nil)
	for _, e := range elems {
		appendElem(s, e)
	}
	return s
}

// NewList builds a precise list, used for array literals.
func NewList(id value.ID, elems []value.Value) *value.Scope {
	return newList(id, elems)
}

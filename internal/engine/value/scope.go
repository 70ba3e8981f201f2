package value

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// ScopeKind says what a Scope is standing in for.
type ScopeKind int

const (
	ScopeGlobal ScopeKind = iota
	ScopeModule
	ScopeBlock
	ScopeFunction
	ScopeClass
	ScopeInstance
	ScopePackage
	ScopeBuiltin
	ScopeSuperProxy
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeGlobal:
		return "global"
	case ScopeModule:
		return "module"
	case ScopeBlock:
		return "block"
	case ScopeFunction:
		return "function"
	case ScopeClass:
		return "class"
	case ScopeInstance:
		return "instance"
	case ScopePackage:
		return "package"
	case ScopeBuiltin:
		return "builtin"
	case ScopeSuperProxy:
		return "super"
	default:
		return "unknown"
	}
}

// PathSeparator splits dotted field paths.
const PathSeparator = "."

// Scope is a field map with a parent link. It serves as lexical scope, module
// namespace, class namespace, object instance and builtin container.
type Scope struct {
	attrs  Attributes
	fields Fields
	parent *Scope

	ScopeKind ScopeKind
	Node      uast.Node
	File      string

	Declarations map[string]uast.Node
	Modifiers    map[string][]string
	Metadata     map[string]any

	// Container is set on builtin container instances.
	Container *Container
	// Overloads lists constructors collected from super classes (super proxies only).
	Overloads []Value
}

// NewScope creates a child of parent. The parent link is fixed for the scope's lifetime.
func NewScope(name string, parent *Scope, kind ScopeKind) *Scope {
	id := ID{Local: name, Scoped: name, Qualified: name}
	file := ""
	if parent != nil {
		file = parent.File
		if kind == ScopeBlock || kind == ScopeFunction {
			id.Qualified = ChildID(parent.attrs.id, name).Qualified
		}
	}
	return &Scope{
		attrs:     newAttributes(id),
		parent:    parent,
		ScopeKind: kind,
		File:      file,
	}
}

// NewModuleScope creates the namespace for the compile unit at file.
func NewModuleScope(file string, parent *Scope) *Scope {
	s := NewScope(file, parent, ScopeModule)
	s.attrs.id = ID{Local: file, Qualified: file}
	s.File = file
	return s
}

// CreateChild is shorthand for NewScope(name, s, kind).
func (s *Scope) CreateChild(name string, kind ScopeKind) *Scope {
	return NewScope(name, s, kind)
}

func (s *Scope) Kind() Kind         { return KindScope }
func (s *Scope) Attrs() *Attributes { return &s.attrs }
func (s *Scope) Fields() *Fields    { return &s.fields }
func (s *Scope) Parent() *Scope     { return s.parent }

// SetID overrides the identity, used when a scope stands in for a named value.
func (s *Scope) SetID(id ID) { s.attrs.id = id }

// Field returns the scope's own field.
func (s *Scope) Field(name string) (Value, bool) {
	return s.fields.Get(name)
}

// SetField binds name on this scope.
func (s *Scope) SetField(name string, v Value) {
	if v != nil {
		v.Attrs().SetOwner(s)
	}
	setHolderField(s, name, v)
}

// Resolve walks the parent chain and returns the value and the scope holding it.
func (s *Scope) Resolve(name string) (Value, *Scope, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.fields.Get(name); ok {
			return v, cur, true
		}
	}
	return nil, nil, false
}

// LookupMember finds a member of an object-like scope: the scope's own fields,
// then, for instances, views and super proxies, the scope they were derived from.
func (s *Scope) LookupMember(name string) (Value, bool) {
	if v, ok := s.fields.Get(name); ok {
		return v, true
	}
	switch s.ScopeKind {
	case ScopeInstance, ScopeSuperProxy, ScopeBuiltin:
		if s.parent != nil && s.parent.ScopeKind != ScopeModule && s.parent.ScopeKind != ScopeGlobal {
			return s.parent.LookupMember(name)
		}
	}
	return nil, false
}

// Enclosing returns the nearest ancestor (including s) of the given kind.
func (s *Scope) Enclosing(kind ScopeKind) *Scope {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.ScopeKind == kind {
			return cur
		}
	}
	return nil
}

// Declare records a declaration node for shadowing checks.
func (s *Scope) Declare(name string, node uast.Node) {
	if s.Declarations == nil {
		s.Declarations = make(map[string]uast.Node)
	}
	s.Declarations[name] = node
}

// Declared reports whether name was declared directly in s.
func (s *Scope) Declared(name string) (uast.Node, bool) {
	n, ok := s.Declarations[name]
	return n, ok
}

// GetPath resolves a dotted path. The first segment is resolved through the
// scope chain; later segments through member fields.
func (s *Scope) GetPath(path string) (Value, bool) {
	parts := strings.Split(path, PathSeparator)
	cur, _, ok := s.Resolve(parts[0])
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		h, isHolder := cur.(Holder)
		if !isHolder {
			return nil, false
		}
		var next Value
		if sc, isScope := h.(*Scope); isScope {
			next, ok = sc.LookupMember(part)
		} else {
			next, ok = h.Fields().Get(part)
		}
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// SetPath writes a dotted path rooted at s's own fields, creating intermediate
// objects for missing or non-record segments.
func (s *Scope) SetPath(path string, v Value) {
	parts := strings.Split(path, PathSeparator)
	if len(parts) == 1 {
		s.SetField(path, v)
		return
	}
	var holder Holder = s
	for _, part := range parts[:len(parts)-1] {
		next, ok := holder.Fields().Get(part)
		h, isHolder := next.(Holder)
		if !ok || !isHolder {
			obj := NewObject(ChildID(holder.Attrs().ID(), part), nil)
			obj.attrs.SetOwner(s)
			setHolderField(holder, part, obj)
			h = obj
		}
		holder = h
	}
	last := parts[len(parts)-1]
	if sc, ok := holder.(*Scope); ok {
		sc.SetField(last, v)
		return
	}
	setHolderField(holder, last, v)
}

// AddModifier records a visibility or other modifier for member name.
func (s *Scope) AddModifier(name string, mods ...string) {
	if len(mods) == 0 {
		return
	}
	if s.Modifiers == nil {
		s.Modifiers = make(map[string][]string)
	}
	for _, m := range mods {
		if !uast.HasModifier(s.Modifiers[name], m) {
			s.Modifiers[name] = append(s.Modifiers[name], m)
		}
	}
}

// SetMeta stores per-scope analysis metadata.
func (s *Scope) SetMeta(key string, v any) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	s.Metadata[key] = v
}

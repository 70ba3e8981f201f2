// Package classes flattens inherited members into class scopes and builds
// instances from them.
package classes

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// SuperField names the proxy used for explicit super member access.
const SuperField = "super"

// metaSupers holds every super proxy of a class, in declaration order.
const metaSupers = "supers"

// Resolver memoizes class scopes per definition and flattens each exactly once.
type Resolver struct {
	logger    *zap.Logger
	classes   map[*uast.ClassDefinition]*value.Scope
	flattened map[*value.Scope]struct{}
	resolving map[*value.Scope]struct{}
}

// NewResolver returns an empty resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{
		logger:    logger.Named("classes"),
		classes:   make(map[*uast.ClassDefinition]*value.Scope),
		flattened: make(map[*value.Scope]struct{}),
		resolving: make(map[*value.Scope]struct{}),
	}
}

// Populate fills a fresh class scope with its own members and returns the
// resolved scopes of its declared supers.
type Populate func(class *value.Scope) []*value.Scope

// Resolve returns the class scope for def, building and flattening it on first
// use. A recursive request for a class still being built returns the partial
// scope. A definition evaluated again under a different enclosing scope, such
// as a class declared inside a function body, is rebuilt.
func (r *Resolver) Resolve(def *uast.ClassDefinition, parent *value.Scope, populate Populate) *value.Scope {
	if s, ok := r.classes[def]; ok && (s.Parent() == parent || populate == nil) {
		return s
	}
	name := def.ClassName()
	class := parent.CreateChild(name, value.ScopeClass)
	class.SetID(value.ChildID(parent.Attrs().ID(), name))
	class.Node = def
	r.classes[def] = class

	supers := populate(class)
	r.Flatten(class, supers)
	return class
}

// Lookup returns the memoized scope for def.
func (r *Resolver) Lookup(def *uast.ClassDefinition) (*value.Scope, bool) {
	s, ok := r.classes[def]
	return s, ok
}

// Flatten copies every non-read-only member of each super into class. Members
// the class declares itself win. Flattening an already flattened scope is a no-op.
func (r *Resolver) Flatten(class *value.Scope, supers []*value.Scope) {
	if _, done := r.flattened[class]; done {
		return
	}
	if _, busy := r.resolving[class]; busy {
		r.logger.Debug("Inheritance cycle, skipping.", zap.String("class", class.Attrs().ID().Qualified))
		return
	}
	r.resolving[class] = struct{}{}
	defer delete(r.resolving, class)

	for _, super := range supers {
		if super == nil {
			continue
		}
		if super == class {
			r.logger.Debug("Class lists itself as a super, skipping.", zap.String("class", class.Attrs().ID().Qualified))
			continue
		}
		r.inherit(class, super)
	}
	r.flattened[class] = struct{}{}
}

func (r *Resolver) inherit(class, super *value.Scope) {
	proxy := value.NewScope(SuperField, super, value.ScopeSuperProxy)
	proxy.SetID(value.ChildID(class.Attrs().ID(), SuperField))
	proxy.Attrs().ReadOnly = true
	proxies, _ := class.Metadata[metaSupers].([]*value.Scope)
	class.SetMeta(metaSupers, append(proxies, proxy))
	if _, has := class.Field(SuperField); !has {
		class.SetField(SuperField, proxy)
	}

	super.Fields().Range(func(name string, member value.Value) bool {
		if member.Attrs().ReadOnly {
			return true
		}
		if name == uast.ConstructorName {
			proxy.Overloads = append(proxy.Overloads, value.Alternatives(member)...)
		}
		if _, own := class.Field(name); own {
			return true
		}
		class.Fields().Set(name, inheritedCopy(member, class, super))
		if member.Attrs().HasTaintedDescendant() {
			class.Attrs().SetTaintedDescendant()
		}
		return true
	})

	for name, node := range super.Declarations {
		if _, own := class.Declared(name); !own {
			class.Declare(name, node)
		}
	}
	for name, mods := range super.Modifiers {
		class.AddModifier(name, mods...)
	}
	for k, v := range super.Metadata {
		if k == metaSupers {
			continue
		}
		if _, own := class.Metadata[k]; !own {
			class.SetMeta(k, v)
		}
	}
}

func inheritedCopy(member value.Value, class, super *value.Scope) value.Value {
	if u, ok := member.(*value.Union); ok {
		// Overloads: every alternative is rebound to the subclass.
		alts := u.Alternatives()
		for i, alt := range alts {
			alts[i] = inheritedCopy(alt, class, super)
		}
		joined := value.Join(alts...)
		joined.Attrs().Inherited = true
		if joined.Attrs().InheritedFrom == nil {
			joined.Attrs().InheritedFrom = super
		}
		return joined
	}
	cp := value.ShallowCopy(member)
	a := cp.Attrs()
	a.Inherited = true
	if a.InheritedFrom == nil {
		a.InheritedFrom = super
	}
	if fn, ok := cp.(*value.Function); ok {
		fn.BoundTo = class
	}
	return cp
}

// Super returns the proxy for explicit super access from code defined in class.
func Super(class *value.Scope) (*value.Scope, bool) {
	if class == nil {
		return nil, false
	}
	v, ok := class.Field(SuperField)
	if !ok {
		return nil, false
	}
	p, ok := v.(*value.Scope)
	return p, ok && p.ScopeKind == value.ScopeSuperProxy
}

// Supers returns every super proxy of class in declaration order.
func Supers(class *value.Scope) []*value.Scope {
	proxies, _ := class.Metadata[metaSupers].([]*value.Scope)
	return proxies
}

// Constructors returns the constructors reachable from s: the accumulated
// overloads for a super proxy, the constructor member otherwise.
func Constructors(s *value.Scope) []value.Value {
	if s.ScopeKind == value.ScopeSuperProxy {
		if len(s.Overloads) > 0 {
			return s.Overloads
		}
		s = s.Parent()
	}
	if ctor, ok := s.Field(uast.ConstructorName); ok {
		return value.Alternatives(ctor)
	}
	return nil
}

// NewInstance creates an object of class. Methods stay on the class and are
// found through the parent link; data fields are cloned to depth.
func NewInstance(class *value.Scope, id value.ID, depth int) *value.Scope {
	inst := value.NewScope(id.Local, class, value.ScopeInstance)
	inst.SetID(id)
	inst.Node = class.Node
	inst.Attrs().TypeName = class.Attrs().ID().Local
	class.Fields().Range(func(name string, member value.Value) bool {
		switch member.(type) {
		case *value.Function:
			return true
		case *value.Scope:
			if member.Attrs().ReadOnly {
				return true
			}
		}
		if uast.HasModifier(class.Modifiers[name], "static") {
			return true
		}
		inst.SetField(name, value.Clone(member, depth))
		return true
	})
	return inst
}

package value

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Children enumerates the values reachable in one step from v. Parent links
// and captured scopes are not followed.
func Children(v Value) []Value {
	switch t := v.(type) {
	case *Union:
		return t.Alternatives()
	case *Scope:
		out := t.fields.Values()
		if c := t.Container; c != nil {
			out = append(out, c.Overflow...)
			sigs := make([]string, 0, len(c.KeyRefs))
			for sig := range c.KeyRefs {
				sigs = append(sigs, sig)
			}
			sort.Strings(sigs)
			for _, sig := range sigs {
				out = append(out, c.KeyRefs[sig])
			}
			if c.Result != nil {
				out = append(out, c.Result)
			}
		}
		return out
	case Holder:
		return t.Fields().Values()
	}
	return nil
}

// ShallowCopy duplicates v's own attributes and field map; the field values
// themselves are shared.
func ShallowCopy(v Value) Value {
	switch t := v.(type) {
	case *Primitive:
		cp := *t
		cp.attrs.copyFrom(&t.attrs)
		return &cp
	case *Object:
		cp := &Object{Node: t.Node, fields: t.fields.clone()}
		cp.attrs.copyFrom(&t.attrs)
		return cp
	case *Function:
		cp := *t
		cp.attrs.copyFrom(&t.attrs)
		cp.fields = t.fields.clone()
		return &cp
	case *Scope:
		cp := *t
		cp.attrs.copyFrom(&t.attrs)
		cp.fields = t.fields.clone()
		if t.Container != nil {
			cp.Container = t.Container.clone()
		}
		cp.Overloads = append([]Value(nil), t.Overloads...)
		return &cp
	case *Package:
		cp := &Package{Path: t.Path, fields: t.fields.clone()}
		cp.attrs.copyFrom(&t.attrs)
		return cp
	case *Union:
		cp := &Union{alts: t.Alternatives()}
		cp.attrs.copyFrom(&t.attrs)
		return cp
	case *Undefined:
		cp := *t
		cp.attrs.copyFrom(&t.attrs)
		return &cp
	}
	return v
}

// Clone copies v and its field values down to depth levels. Depth 0 returns v
// unchanged, depth 1 is a shallow copy. Cycles map back to their existing copy.
func Clone(v Value, depth int) Value {
	return clone(v, depth, make(map[Value]Value))
}

func clone(v Value, depth int, seen map[Value]Value) Value {
	if v == nil || depth <= 0 {
		return v
	}
	if cp, ok := seen[v]; ok {
		return cp
	}
	cp := ShallowCopy(v)
	seen[v] = cp
	if depth == 1 {
		return cp
	}
	switch t := cp.(type) {
	case Holder:
		f := t.Fields()
		for _, k := range f.Keys() {
			child, _ := f.Get(k)
			f.Set(k, clone(child, depth-1, seen))
		}
		if sc, ok := t.(*Scope); ok && sc.Container != nil {
			for i, o := range sc.Container.Overflow {
				sc.Container.Overflow[i] = clone(o, depth-1, seen)
			}
		}
	case *Union:
		for i, a := range t.alts {
			t.alts[i] = clone(a, depth-1, seen)
		}
	}
	return cp
}

// Signature is the structural identity of a map key: literal payloads for
// concrete primitives, the value's serial otherwise. Pinned is false when the
// key cannot be resolved to one stable entry.
func Signature(key Value) (sig string, pinned bool) {
	switch t := key.(type) {
	case *Primitive:
		if t.Concrete {
			return fmt.Sprintf("lit:%s:%s", t.LiteralKind, t.Literal), true
		}
		return "", false
	case *Union, *Undefined:
		return "", false
	case nil:
		return "", false
	}
	return "ref:" + key.Kind().String() + ":" + strconv.FormatUint(key.Attrs().Serial(), 10), true
}

// LiteralIndex extracts a non-negative integer from a concrete numeric primitive.
func LiteralIndex(v Value) (int, bool) {
	p, ok := v.(*Primitive)
	if !ok || !p.Concrete {
		return 0, false
	}
	if p.LiteralKind != uast.LiteralNumber && p.LiteralKind != uast.LiteralString {
		return 0, false
	}
	n, err := strconv.Atoi(p.Literal)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// LiteralString extracts a concrete string or number payload.
func LiteralString(v Value) (string, bool) {
	p, ok := v.(*Primitive)
	if !ok || !p.Concrete {
		return "", false
	}
	return p.Literal, true
}

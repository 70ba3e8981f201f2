package value

// Union is "one of these alternatives, statically indeterminate which".
// It is never empty and never contains another Union.
type Union struct {
	attrs Attributes
	alts  []Value
}

// NewUnion flattens nested unions and drops duplicate identities. An empty
// input yields a union holding a single Undefined.
func NewUnion(alts ...Value) *Union {
	u := &Union{attrs: newAttributes(ID{Local: "union"})}
	seen := make(map[Value]struct{}, len(alts))
	var add func(v Value)
	add = func(v Value) {
		if v == nil {
			return
		}
		if inner, ok := v.(*Union); ok {
			for _, a := range inner.alts {
				add(a)
			}
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		u.alts = append(u.alts, v)
		if v.Attrs().HasTaintedDescendant() {
			u.attrs.SetTaintedDescendant()
		}
	}
	for _, v := range alts {
		add(v)
	}
	if len(u.alts) == 0 {
		u.alts = append(u.alts, NewUndefined(ID{Local: "undefined"}))
	}
	u.attrs.id = u.alts[0].Attrs().ID()
	return u
}

// Join merges alternatives at a control-flow join. A single distinct
// alternative is returned unwrapped.
func Join(alts ...Value) Value {
	u := NewUnion(alts...)
	if len(u.alts) == 1 {
		return u.alts[0]
	}
	return u
}

func (u *Union) Kind() Kind         { return KindUnion }
func (u *Union) Attrs() *Attributes { return &u.attrs }

// Alternatives returns the flattened members in insertion order.
func (u *Union) Alternatives() []Value {
	out := make([]Value, len(u.alts))
	copy(out, u.alts)
	return out
}

func (u *Union) Len() int { return len(u.alts) }

// Alternatives returns the members of v if it is a union, or v itself.
func Alternatives(v Value) []Value {
	if u, ok := v.(*Union); ok {
		return u.Alternatives()
	}
	if v == nil {
		return nil
	}
	return []Value{v}
}

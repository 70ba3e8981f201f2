package value

// precision is shared between a container and every view derived from it.
type precision struct {
	imprecise bool
}

// Container is the simulation state of a builtin container instance. While
// precise, elements live in the owning scope's fields under literal keys.
// Once imprecise, everything lives in Overflow and reads return the whole container.
type Container struct {
	Type string
	prec *precision

	Overflow []Value
	// KeyRefs maps key signatures to the key values of map-like containers.
	KeyRefs map[string]Value
	// Length is the element count while precise.
	Length int

	// Result and Continuations drive simulated futures.
	Result        Value
	Continuations []Continuation

	// Origin is the container a view was derived from.
	Origin *Scope
}

// Continuation is one chained stage of a simulated future.
type Continuation struct {
	Method   string
	Callback Value
}

// NewContainer returns precise state for the named builtin type.
func NewContainer(typ string) *Container {
	return &Container{Type: typ, prec: &precision{}}
}

// Derive returns state for a view of typ sharing c's precision flag.
func (c *Container) Derive(typ string, origin *Scope) *Container {
	return &Container{Type: typ, prec: c.prec, Origin: origin}
}

// Precise reports whether exact key/index modeling is still in force.
func (c *Container) Precise() bool { return !c.prec.imprecise }

// MarkImprecise flips the shared precision flag. There is no way back.
func (c *Container) MarkImprecise() { c.prec.imprecise = true }

// SharesPrecision reports whether c and other observe the same flag.
func (c *Container) SharesPrecision(other *Container) bool {
	return other != nil && c.prec == other.prec
}

func (c *Container) clone() *Container {
	cp := *c
	cp.Overflow = append([]Value(nil), c.Overflow...)
	if c.KeyRefs != nil {
		cp.KeyRefs = make(map[string]Value, len(c.KeyRefs))
		for k, v := range c.KeyRefs {
			cp.KeyRefs[k] = v
		}
	}
	cp.Continuations = append([]Continuation(nil), c.Continuations...)
	return &cp
}

// NewBuiltinScope creates a scope instance for a container of typ.
func NewBuiltinScope(id ID, typ string, parent *Scope) *Scope {
	s := NewScope(id.Local, parent, ScopeBuiltin)
	s.attrs.id = id
	s.Container = NewContainer(typ)
	return s
}

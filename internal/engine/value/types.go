package value

import (
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Primitive is a literal. Concrete is false for primitives whose payload is
// not known statically (e.g. the length of a list, a concatenation with a symbol).
type Primitive struct {
	attrs       Attributes
	Literal     string
	LiteralKind uast.LiteralKind
	Concrete    bool
}

// NewLiteral builds a concrete primitive.
func NewLiteral(literal string, kind uast.LiteralKind) *Primitive {
	return &Primitive{
		attrs:       newAttributes(ID{Local: literal}),
		Literal:     literal,
		LiteralKind: kind,
		Concrete:    true,
	}
}

// NewSymbolicPrimitive builds a primitive whose payload is unknown.
func NewSymbolicPrimitive(id ID, kind uast.LiteralKind) *Primitive {
	return &Primitive{attrs: newAttributes(id), LiteralKind: kind}
}

func (p *Primitive) Kind() Kind         { return KindPrimitive }
func (p *Primitive) Attrs() *Attributes { return &p.attrs }

// Object is a plain record, typically from an object literal or an unknown call result.
type Object struct {
	attrs  Attributes
	fields Fields
	Node   uast.Node
}

func NewObject(id ID, node uast.Node) *Object {
	return &Object{attrs: newAttributes(id), Node: node}
}

func (o *Object) Kind() Kind         { return KindObject }
func (o *Object) Attrs() *Attributes { return &o.attrs }
func (o *Object) Fields() *Fields    { return &o.fields }

// SetField stores v under name and propagates the descendant flag.
func (o *Object) SetField(name string, v Value) {
	setHolderField(o, name, v)
}

// Invoker lets native builtins call back into the interpreter.
type Invoker interface {
	Invoke(callee Value, receiver Value, args []Value, site uast.Node) Value
	// CloneDepth is the clone depth currently permitted by the memory budget.
	CloneDepth() int
}

// Call is the argument bag handed to a native function.
type Call struct {
	Invoker  Invoker
	Name     string
	Receiver Value
	Args     []Value
	ArgNodes []uast.Node
	Site     uast.Node
}

// Arg returns the i-th argument or nil.
func (c *Call) Arg(i int) Value {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// NativeFunc implements a builtin method in Go.
type NativeFunc func(c *Call) Value

// Function is a closure over a definition, or a native builtin.
type Function struct {
	attrs  Attributes
	fields Fields

	Def      *uast.FunctionDefinition
	Captured *Scope
	// Receiver is the bound "this" for method values.
	Receiver Value
	// BoundTo is the class scope the method belongs to; inherited copies point at the subclass.
	BoundTo *Scope
	Native  NativeFunc
}

// NewClosure builds a closure over def capturing scope.
func NewClosure(id ID, def *uast.FunctionDefinition, captured *Scope) *Function {
	return &Function{attrs: newAttributes(id), Def: def, Captured: captured}
}

// NewNative wraps fn as a callable value.
func NewNative(id ID, fn NativeFunc) *Function {
	return &Function{attrs: newAttributes(id), Native: fn}
}

func (f *Function) Kind() Kind         { return KindFunction }
func (f *Function) Attrs() *Attributes { return &f.attrs }
func (f *Function) Fields() *Fields    { return &f.fields }

// IsConstructor reports whether the closure is a class constructor.
func (f *Function) IsConstructor() bool {
	return f.Def != nil && (f.Def.Constructor || f.Def.FunctionName() == uast.ConstructorName)
}

// Bind returns a copy of f with receiver bound.
func (f *Function) Bind(receiver Value) *Function {
	cp := *f
	cp.attrs.copyFrom(&f.attrs)
	cp.fields = f.fields.clone()
	cp.Receiver = receiver
	return &cp
}

// Package is a namespace placeholder for imports that cannot be resolved to source.
type Package struct {
	attrs  Attributes
	fields Fields
	Path   string
}

func NewPackage(path string) *Package {
	return &Package{attrs: newAttributes(ID{Local: path, Scoped: path, Qualified: path}), Path: path}
}

func (p *Package) Kind() Kind         { return KindPackage }
func (p *Package) Attrs() *Attributes { return &p.attrs }
func (p *Package) Fields() *Fields    { return &p.fields }

// Member returns the named child, creating a nested package placeholder on first use.
func (p *Package) Member(name string) Value {
	if v, ok := p.fields.Get(name); ok {
		return v
	}
	child := NewPackage(p.Path + "." + name)
	child.attrs.id = ChildID(p.attrs.id, name)
	p.fields.Set(name, child)
	return child
}

// Undefined is the explicit absence of a value. It still carries an identity so
// that member access on an unresolved name yields a meaningful access path.
type Undefined struct {
	attrs         Attributes
	Uninitialized bool
}

func NewUndefined(id ID) *Undefined {
	return &Undefined{attrs: newAttributes(id)}
}

// NewUninitialized is the placeholder bound by a declaration without initializer.
func NewUninitialized(id ID) *Undefined {
	return &Undefined{attrs: newAttributes(id), Uninitialized: true}
}

func (u *Undefined) Kind() Kind         { return KindUndefined }
func (u *Undefined) Attrs() *Attributes { return &u.attrs }

// IsUndefined reports whether v is nil or the Undefined variant.
func IsUndefined(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(*Undefined)
	return ok
}

func setHolderField(h Holder, name string, v Value) {
	if v == nil {
		v = NewUndefined(ChildID(h.Attrs().ID(), name))
	}
	h.Fields().Set(name, v)
	if v.Attrs().HasTaintedDescendant() {
		h.Attrs().SetTaintedDescendant()
	}
}

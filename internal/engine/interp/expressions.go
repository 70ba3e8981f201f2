package interp

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/engine/builtins"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/classes"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// dynamicField holds everything written through a key that is not a literal.
const dynamicField = "[]"

// metaFunction marks a function scope with the closure it activates.
const metaFunction = "function"

func (in *Interpreter) evalIdentifier(scope *value.Scope, t *uast.Identifier) value.Value {
	v, _, ok := scope.Resolve(t.Name)
	if !ok {
		v = value.NewUndefined(value.ID{Local: t.Name, Scoped: t.Name, Qualified: t.Name})
	}
	e := in.event(scope, t)
	e.Name = t.Name
	e.Result = v
	in.ctx.Hooks.OnIdentifier(e)
	return e.Result
}

// propertyName returns the static name of a member key.
func propertyName(n uast.Node) (string, bool) {
	switch k := n.(type) {
	case *uast.Identifier:
		return k.Name, true
	case *uast.Literal:
		return k.Value, true
	}
	return "", false
}

// accessPath renders n the way rules refer to it: "req.query.id", "db.query",
// "Runtime.getRuntime().exec".
func accessPath(n uast.Node) string {
	switch t := n.(type) {
	case *uast.Identifier:
		return t.Name
	case *uast.ThisExpression:
		return "this"
	case *uast.SuperExpression:
		return "super"
	case *uast.Literal:
		return t.Value
	case *uast.MemberAccess:
		base := accessPath(t.Object)
		name, ok := propertyName(t.Property)
		if !ok {
			name = dynamicField
		}
		if base == "" {
			return name
		}
		return base + "." + name
	case *uast.CallExpression:
		return accessPath(t.Callee) + "()"
	case *uast.NewExpression:
		return "new " + accessPath(t.Callee) + "()"
	case *uast.AwaitExpression:
		return accessPath(t.Argument)
	}
	return ""
}

// valueName is the name a value answers to when used as a callee.
func valueName(v value.Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case *value.Package:
		return t.Path
	}
	id := v.Attrs().ID()
	if id.Scoped != "" {
		return id.Scoped
	}
	return id.Local
}

// inheritTaint gives a member read off a tainted owner the owner's own tags.
func inheritTaint(child, owner value.Value, site uast.Node) {
	if owner == nil || !owner.Attrs().Tainted() {
		return
	}
	loc := uast.Location{}
	if site != nil {
		loc = site.Loc()
	}
	taint.Propagate(child, owner, loc, taint.RoleField)
}

func siteLoc(n uast.Node) uast.Location {
	if n == nil {
		return uast.Location{}
	}
	return n.Loc()
}

// resolveMember evaluates a member access and returns the member and the
// receiver a call through it binds to.
func (in *Interpreter) resolveMember(scope *value.Scope, t *uast.MemberAccess, call bool) (value.Value, value.Value) {
	var obj, receiver value.Value
	if _, isSuper := t.Object.(*uast.SuperExpression); isSuper {
		if proxy := in.superOf(scope); proxy != nil {
			obj = proxy
		} else {
			obj = value.NewUndefined(value.ID{Local: "super", Scoped: "super"})
		}
		receiver = in.lookupThis(scope)
	} else {
		obj = in.Eval(scope, t.Object)
		receiver = obj
	}

	var v value.Value
	name, static := propertyName(t.Property)
	if t.Computed {
		key := in.Eval(scope, t.Property)
		name, static = value.LiteralString(key)
		v = in.index(scope, obj, key, t)
	} else {
		v = in.member(scope, obj, name, t, call)
	}
	if !static {
		name = dynamicField
	}

	e := in.event(scope, t)
	e.Name = accessPath(t)
	e.Property = name
	e.Object = obj
	e.Result = v
	in.ctx.Hooks.OnMemberAccess(e)
	return e.Result, receiver
}

func (in *Interpreter) evalMember(scope *value.Scope, t *uast.MemberAccess, call bool) value.Value {
	v, _ := in.resolveMember(scope, t, call)
	return v
}

// member reads obj.name. Records auto-vivify missing members so repeated
// reads observe the same value. In call position, builtin and primitive
// members resolve to methods.
func (in *Interpreter) member(scope *value.Scope, obj value.Value, name string, site uast.Node, call bool) value.Value {
	if u, ok := obj.(*value.Union); ok {
		var out []value.Value
		for _, alt := range u.Alternatives() {
			out = append(out, in.member(scope, alt, name, site, call))
		}
		return value.Join(out...)
	}
	childID := value.ChildID(obj.Attrs().ID(), name)
	switch o := obj.(type) {
	case *value.Scope:
		if o.Container != nil {
			if !call {
				if v, ok := in.ctx.Builtins.Property(o, name, in, site); ok {
					return v
				}
			}
			return in.ctx.Builtins.Method(o, name)
		}
		if v, ok := o.LookupMember(name); ok {
			return v
		}
		child := value.NewUndefined(childID)
		inheritTaint(child, o, site)
		return child
	case *value.Object:
		if v, ok := o.Fields().Get(name); ok {
			return v
		}
		child := value.NewObject(childID, site)
		inheritTaint(child, o, site)
		o.SetField(name, child)
		return child
	case *value.Package:
		return o.Member(name)
	case *value.Function:
		if v, ok := o.Fields().Get(name); ok {
			return v
		}
		switch name {
		case "call", "apply", "bind":
			return in.functionMethod(o, name)
		}
		return value.NewUndefined(childID)
	case *value.Primitive:
		if call {
			return primitiveMethod(o, name)
		}
		p := value.NewSymbolicPrimitive(childID, uast.LiteralNumber)
		taint.Propagate(p, o, siteLoc(site), taint.RolePropagate)
		return p
	default:
		child := value.NewObject(childID, site)
		inheritTaint(child, obj, site)
		return child
	}
}

// index reads obj[key].
func (in *Interpreter) index(scope *value.Scope, obj, key value.Value, site uast.Node) value.Value {
	var out []value.Value
	for _, alt := range value.Alternatives(obj) {
		if s, ok := builtins.IsBuiltin(alt); ok {
			out = append(out, in.ctx.Builtins.Index(s, key, in, site))
			continue
		}
		if name, ok := value.LiteralString(key); ok {
			out = append(out, in.member(scope, alt, name, site, false))
			continue
		}
		switch o := alt.(type) {
		case *value.Object, *value.Scope:
			// Any member may be read: the whole record stands in for it.
			out = append(out, o)
		case *value.Primitive:
			p := value.NewSymbolicPrimitive(value.ChildID(o.Attrs().ID(), dynamicField), uast.LiteralString)
			taint.Propagate(p, o, siteLoc(site), taint.RolePropagate)
			out = append(out, p)
		default:
			out = append(out, in.member(scope, alt, dynamicField, site, false))
		}
	}
	return value.Join(out...)
}

// primitiveMethod models methods on strings and numbers: the result is an
// unknown primitive carrying the receiver's and arguments' taint.
func primitiveMethod(recv *value.Primitive, name string) *value.Function {
	id := value.ChildID(recv.Attrs().ID(), name)
	fn := value.NewNative(id, func(c *value.Call) value.Value {
		res := value.NewSymbolicPrimitive(value.ChildID(recv.Attrs().ID(), name+"()"), uast.LiteralString)
		loc := siteLoc(c.Site)
		taint.Propagate(res, recv, loc, taint.RolePropagate)
		for _, a := range c.Args {
			if _, isFn := a.(*value.Function); isFn {
				continue
			}
			taint.Propagate(res, a, loc, taint.RolePropagate)
		}
		return res
	})
	fn.Receiver = recv
	return fn
}

// functionMethod models Function.prototype.call, apply and bind.
func (in *Interpreter) functionMethod(fn *value.Function, name string) *value.Function {
	return value.NewNative(value.ChildID(fn.Attrs().ID(), name), func(c *value.Call) value.Value {
		this := c.Arg(0)
		switch name {
		case "bind":
			return fn.Bind(this)
		case "apply":
			var args []value.Value
			if len(c.Args) > 1 {
				args = builtins.Spread(c.Args[1])
			}
			return in.invoke(fn, this, args, nil, c.Site)
		default:
			var args []value.Value
			if len(c.Args) > 1 {
				args = c.Args[1:]
			}
			return in.invoke(fn, this, args, nil, c.Site)
		}
	})
}

func (in *Interpreter) lookupThis(scope *value.Scope) value.Value {
	if v, _, ok := scope.Resolve("this"); ok {
		return v
	}
	return value.NewUndefined(value.ID{Local: "this", Scoped: "this"})
}

// superOf returns the super proxy for code running in scope: the super of the
// class that physically defines the running method.
func (in *Interpreter) superOf(scope *value.Scope) *value.Scope {
	for cur := scope; cur != nil; cur = cur.Parent() {
		fn, ok := cur.Metadata[metaFunction].(*value.Function)
		if !ok {
			continue
		}
		owner := fn.BoundTo
		if a := fn.Attrs(); a.Inherited && a.InheritedFrom != nil {
			owner = a.InheritedFrom
		}
		if owner == nil {
			return nil
		}
		proxy, ok := classes.Super(owner)
		if !ok {
			return nil
		}
		return proxy
	}
	return nil
}

var comparisonOps = map[string]bool{
	"==": true, "!=": true, "===": true, "!==": true, "<": true, ">": true,
	"<=": true, ">=": true, "instanceof": true, "in": true,
}

func (in *Interpreter) evalBinary(scope *value.Scope, t *uast.BinaryExpression) value.Value {
	l := in.Eval(scope, t.Left)
	r := in.Eval(scope, t.Right)
	res := in.combine(t.Operator, l, r, t)
	e := in.event(scope, t)
	e.Name = t.Operator
	e.Left, e.Right = l, r
	e.Result = res
	in.ctx.Hooks.OnBinary(e)
	return e.Result
}

// combine applies a binary operator. Logical operators yield either operand;
// everything else derives a fresh primitive carrying both operands' taint.
func (in *Interpreter) combine(op string, l, r value.Value, site uast.Node) value.Value {
	switch op {
	case "&&", "||", "??":
		return value.Join(l, r)
	}
	if op == "+" {
		if res, ok := concatLiterals(l, r); ok {
			return res
		}
	}
	kind := uast.LiteralNumber
	switch {
	case comparisonOps[op]:
		kind = uast.LiteralBool
	case op == "+" && !(isNumber(l) && isNumber(r)):
		kind = uast.LiteralString
	}
	res := value.NewSymbolicPrimitive(value.ID{Local: op, Scoped: valueName(l) + " " + op + " " + valueName(r)}, kind)
	loc := siteLoc(site)
	taint.Propagate(res, l, loc, taint.RolePropagate)
	taint.Propagate(res, r, loc, taint.RolePropagate)
	if l.Attrs().HasTaintedDescendant() || r.Attrs().HasTaintedDescendant() {
		res.Attrs().SetTaintedDescendant()
	}
	return res
}

func isNumber(v value.Value) bool {
	p, ok := v.(*value.Primitive)
	return ok && p.LiteralKind == uast.LiteralNumber
}

// concatLiterals folds "+" over two concrete, untainted primitives.
func concatLiterals(l, r value.Value) (value.Value, bool) {
	lp, lok := l.(*value.Primitive)
	rp, rok := r.(*value.Primitive)
	if !lok || !rok || !lp.Concrete || !rp.Concrete {
		return nil, false
	}
	if lp.Attrs().HasTaintedDescendant() || rp.Attrs().HasTaintedDescendant() {
		return nil, false
	}
	if lp.LiteralKind == uast.LiteralNumber && rp.LiteralKind == uast.LiteralNumber {
		a, err1 := strconv.ParseFloat(lp.Literal, 64)
		b, err2 := strconv.ParseFloat(rp.Literal, 64)
		if err1 != nil || err2 != nil {
			return nil, false
		}
		return value.NewLiteral(strconv.FormatFloat(a+b, 'f', -1, 64), uast.LiteralNumber), true
	}
	return value.NewLiteral(lp.Literal+rp.Literal, uast.LiteralString), true
}

func (in *Interpreter) evalUnary(scope *value.Scope, t *uast.UnaryExpression) value.Value {
	switch t.Operator {
	case "delete":
		if m, ok := t.Argument.(*uast.MemberAccess); ok {
			in.deleteMember(scope, m)
		}
		return value.NewSymbolicPrimitive(value.ID{Local: "delete"}, uast.LiteralBool)
	case "void":
		in.Eval(scope, t.Argument)
		return value.NewUndefined(value.ID{Local: "undefined"})
	}
	v := in.Eval(scope, t.Argument)
	switch t.Operator {
	case "!", "typeof":
		kind := uast.LiteralBool
		if t.Operator == "typeof" {
			kind = uast.LiteralString
		}
		return value.NewSymbolicPrimitive(value.ID{Local: t.Operator}, kind)
	}
	res := value.NewSymbolicPrimitive(value.ID{Local: t.Operator, Scoped: t.Operator + valueName(v)}, uast.LiteralNumber)
	taint.Propagate(res, v, t.Loc(), taint.RolePropagate)
	if t.Operator == "++" || t.Operator == "--" {
		in.bindPattern(scope, t.Argument, res, t, false)
	}
	return res
}

func (in *Interpreter) deleteMember(scope *value.Scope, m *uast.MemberAccess) {
	obj := in.Eval(scope, m.Object)
	name, ok := propertyName(m.Property)
	if m.Computed {
		name, ok = value.LiteralString(in.Eval(scope, m.Property))
	}
	if !ok {
		return
	}
	for _, alt := range value.Alternatives(obj) {
		h, isHolder := alt.(value.Holder)
		if !isHolder {
			continue
		}
		if s, isScope := h.(*value.Scope); isScope && s.Container != nil {
			continue
		}
		in.st.log.record(h, name)
		h.Fields().Delete(name)
	}
}

func (in *Interpreter) evalAssignment(scope *value.Scope, t *uast.AssignmentExpression) value.Value {
	var v value.Value
	if t.Operator == "" || t.Operator == "=" {
		v = in.Eval(scope, t.Right)
	} else {
		old := in.Eval(scope, t.Left)
		r := in.Eval(scope, t.Right)
		v = in.combine(strings.TrimSuffix(t.Operator, "="), old, r, t)
	}
	if m, ok := t.Left.(*uast.MemberAccess); ok {
		return in.assignMember(scope, m, v, t)
	}
	in.bindPattern(scope, t.Left, v, t, false)
	return v
}

// assignName writes to the nearest binding of name, or to the module scope
// when there is none.
func (in *Interpreter) assignName(scope *value.Scope, name string, v value.Value, node uast.Node) {
	_, holder, ok := scope.Resolve(name)
	if !ok {
		holder = scope.Enclosing(value.ScopeModule)
		if holder == nil {
			holder = scope
		}
	}
	e := in.event(scope, node)
	e.Name = name
	e.Object = holder
	e.Right = v
	e.Result = v
	in.ctx.Hooks.OnAssign(e)
	in.st.setField(holder, name, e.Result)
}

// assignMember evaluates obj.prop = v (or obj[key] = v) and returns the stored value.
func (in *Interpreter) assignMember(scope *value.Scope, t *uast.MemberAccess, v value.Value, node uast.Node) value.Value {
	var obj value.Value
	if _, isThis := t.Object.(*uast.SuperExpression); isThis {
		obj = in.lookupThis(scope)
	} else {
		obj = in.Eval(scope, t.Object)
	}
	var key value.Value
	name, pinned := propertyName(t.Property)
	if t.Computed {
		key = in.Eval(scope, t.Property)
		name, pinned = value.LiteralString(key)
	}
	if !pinned {
		name = dynamicField
	}
	if node == nil {
		node = t
	}
	e := in.event(scope, node)
	e.Name = accessPath(t)
	e.Property = name
	e.Object = obj
	e.Right = v
	e.Result = v
	in.ctx.Hooks.OnAssign(e)
	v = e.Result

	for _, alt := range value.Alternatives(obj) {
		switch o := alt.(type) {
		case *value.Scope:
			if o.Container != nil {
				if t.Computed {
					in.ctx.Builtins.SetIndex(o, key, v, in, node)
				}
				continue
			}
			in.storeMember(o, name, pinned, v)
		case value.Holder:
			in.storeMember(o, name, pinned, v)
		default:
			in.logger.Debug("Dropping member write on a non-record value.",
				zap.String("target", e.Name),
				zap.String("kind", alt.Kind().String()))
		}
	}
	return v
}

func (in *Interpreter) storeMember(h value.Holder, name string, pinned bool, v value.Value) {
	if !pinned {
		if old, ok := h.Fields().Get(dynamicField); ok {
			v = value.Join(old, v)
		}
	}
	in.st.setField(h, name, v)
}

func (in *Interpreter) evalConditional(scope *value.Scope, t *uast.ConditionalExpression) value.Value {
	in.Eval(scope, t.Test)
	var a, b value.Value
	in.st.branches(false,
		func() { a = in.Eval(scope, t.Consequent) },
		func() { b = in.Eval(scope, t.Alternative) },
	)
	return value.Join(a, b)
}

func (in *Interpreter) evalObject(scope *value.Scope, t *uast.ObjectExpression) value.Value {
	id := value.ID{Local: "{}", Scoped: "{}", Qualified: "{}@" + t.Loc().String()}
	obj := value.NewObject(id, t)
	for _, p := range t.Properties {
		if sp, ok := p.Value.(*uast.SpreadElement); ok && p.Key == nil {
			src := in.Eval(scope, sp.Argument)
			for _, alt := range value.Alternatives(src) {
				if h, ok := alt.(value.Holder); ok {
					if s, isScope := h.(*value.Scope); !isScope || s.Container == nil {
						h.Fields().Range(func(name string, v value.Value) bool {
							obj.SetField(name, v)
							return true
						})
						continue
					}
				}
				in.storeMember(obj, dynamicField, false, alt)
			}
			continue
		}
		name, ok := propertyName(p.Key)
		if !ok {
			name, ok = value.LiteralString(in.Eval(scope, p.Key))
		}
		if !ok {
			name = dynamicField
		}
		var v value.Value
		if p.Value == nil {
			v = in.Eval(scope, p.Key)
		} else {
			v = in.Eval(scope, p.Value)
		}
		if name == dynamicField {
			if old, exists := obj.Fields().Get(name); exists {
				v = value.Join(old, v)
			}
		}
		obj.SetField(name, v)
	}
	return obj
}

func (in *Interpreter) evalTuple(scope *value.Scope, t *uast.TupleExpression) value.Value {
	var elems []value.Value
	for _, e := range t.Elements {
		if e == nil {
			elems = append(elems, value.NewUndefined(value.ID{Local: "undefined"}))
			continue
		}
		if sp, ok := e.(*uast.SpreadElement); ok {
			elems = append(elems, builtins.Spread(in.Eval(scope, sp.Argument))...)
			continue
		}
		elems = append(elems, in.Eval(scope, e))
	}
	id := value.ID{Local: "[]", Scoped: "[]", Qualified: "[]@" + t.Loc().String()}
	return builtins.NewList(id, elems)
}

func (in *Interpreter) evalAwait(scope *value.Scope, t *uast.AwaitExpression) value.Value {
	return builtins.Settle(in.Eval(scope, t.Argument), in)
}

package interp

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/engine/builtins"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/classes"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// callSite gathers everything known about one call before it is dispatched.
type callSite struct {
	callee    value.Value
	receiver  value.Value
	args      []value.Value
	named     map[string]value.Value
	argNodes  []uast.Node
	name      string
	qualified string
	property  string
}

func (in *Interpreter) evalCall(scope *value.Scope, t *uast.CallExpression) value.Value {
	cs := &callSite{argNodes: t.Arguments, name: accessPath(t.Callee)}
	switch c := t.Callee.(type) {
	case *uast.MemberAccess:
		cs.callee, cs.receiver = in.resolveMember(scope, c, true)
		cs.property, _ = propertyName(c.Property)
	case *uast.SuperExpression:
		return in.superCall(scope, t)
	default:
		cs.callee = in.Eval(scope, t.Callee)
		if id, ok := c.(*uast.Identifier); ok {
			cs.property = id.Name
		}
	}
	cs.args, cs.named = in.evalArgs(scope, t.Arguments)
	cs.qualified = valueName(cs.callee)
	return in.call(scope, t, cs)
}

// evalArgs evaluates positional arguments, expanding spreads, and collects
// keyword arguments by name.
func (in *Interpreter) evalArgs(scope *value.Scope, nodes []uast.Node) ([]value.Value, map[string]value.Value) {
	var args []value.Value
	var named map[string]value.Value
	for _, n := range nodes {
		switch a := n.(type) {
		case *uast.NamedArgument:
			if named == nil {
				named = make(map[string]value.Value)
			}
			named[a.Name] = in.Eval(scope, a.Value)
		case *uast.SpreadElement:
			args = append(args, builtins.Spread(in.Eval(scope, a.Argument))...)
		default:
			args = append(args, in.Eval(scope, n))
		}
	}
	return args, named
}

// call fires the call hooks around dispatching cs. A BeforeCall hook that
// sets Result replaces the invocation entirely.
func (in *Interpreter) call(scope *value.Scope, site uast.Node, cs *callSite) value.Value {
	e := in.event(scope, site)
	e.Name = cs.name
	e.Qualified = cs.qualified
	e.Property = cs.property
	e.Object = cs.receiver
	e.Callee = cs.callee
	e.Args = cs.args
	e.ArgNodes = cs.argNodes
	in.ctx.Hooks.BeforeCall(e)

	if e.Result == nil {
		alts := selectOverloads(value.Alternatives(cs.callee), len(e.Args))
		results := make([]value.Value, 0, len(alts))
		for _, alt := range alts {
			results = append(results, in.apply(scope, site, alt, cs, e.Args))
		}
		e.Result = value.Join(results...)
	}
	in.ctx.Hooks.AfterCall(e)
	return e.Result
}

// apply dispatches one callee alternative.
func (in *Interpreter) apply(scope *value.Scope, site uast.Node, callee value.Value, cs *callSite, args []value.Value) value.Value {
	switch f := callee.(type) {
	case *value.Function:
		if f.Native != nil {
			receiver := f.Receiver
			if receiver == nil {
				receiver = cs.receiver
			}
			return f.Native(&value.Call{
				Invoker:  in,
				Name:     cs.property,
				Receiver: receiver,
				Args:     args,
				ArgNodes: cs.argNodes,
				Site:     site,
			})
		}
		if f.IsConstructor() && f.BoundTo != nil && !isInstance(cs.receiver) {
			return in.construct(scope, site, f.BoundTo, cs.name, args, cs.named)
		}
		if f.Def != nil {
			return in.invoke(f, cs.receiver, args, cs.named, site)
		}
	case *value.Scope:
		if f.ScopeKind == value.ScopeClass {
			return in.construct(scope, site, f, cs.name, args, cs.named)
		}
	}
	switch callee.(type) {
	case *value.Undefined, *value.Object, *value.Package:
		if native, ok := in.ctx.Builtins.Static(valueName(callee)); ok {
			return native(&value.Call{Invoker: in, Args: args, ArgNodes: cs.argNodes, Site: site})
		}
	}
	return in.unknownCall(site, cs, args)
}

func isInstance(v value.Value) bool {
	s, ok := v.(*value.Scope)
	return ok && s.ScopeKind == value.ScopeInstance
}

// selectOverloads narrows a set of class methods sharing a name to those
// accepting n arguments. Anything that is not a method disables the filter.
func selectOverloads(alts []value.Value, n int) []value.Value {
	if len(alts) < 2 {
		return alts
	}
	var out []value.Value
	for _, a := range alts {
		fn, ok := a.(*value.Function)
		if !ok || fn.Def == nil || fn.BoundTo == nil {
			return alts
		}
		if accepts(fn.Def, n) {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return alts
	}
	return out
}

func accepts(def *uast.FunctionDefinition, n int) bool {
	params := len(def.Parameters)
	if params > 0 && def.Parameters[params-1].Rest {
		return n >= params-1
	}
	return n == params
}

// invoke runs a closure in a fresh function scope. Calls past the depth bound,
// or re-entering a function more often than allowed, return a symbolic result.
func (in *Interpreter) invoke(fn *value.Function, receiver value.Value, args []value.Value, named map[string]value.Value, site uast.Node) value.Value {
	if fn.Native != nil {
		if receiver == nil {
			receiver = fn.Receiver
		}
		return fn.Native(&value.Call{Invoker: in, Name: fn.Attrs().ID().Local, Receiver: receiver, Args: args, Site: site})
	}
	name := valueName(fn)
	if fn.Def == nil {
		return in.symbolicResult(name, name, receiver, args, site)
	}
	if receiver == nil {
		receiver = fn.Receiver
	}
	cfg := in.ctx.Config
	if in.st.Depth() >= cfg.MaxCallDepth || in.st.active(fn) > cfg.MaxRecursion {
		in.logger.Debug("Call bound reached, returning symbolic result.",
			zap.String("function", name),
			zap.Int("depth", in.st.Depth()))
		return in.symbolicResult(name, name, receiver, args, site)
	}

	parent := fn.Captured
	if isInstance(receiver) && fn.BoundTo != nil {
		parent = receiver.(*value.Scope)
	}
	if parent == nil {
		parent = in.ctx.Global
	}
	local := fn.Def.FunctionName()
	if local == "" {
		local = "<lambda>"
	}
	fs := parent.CreateChild(local, value.ScopeFunction)
	fs.SetMeta(metaFunction, fn)
	switch {
	case receiver != nil:
		fs.SetField("this", receiver)
	case fn.BoundTo != nil:
		fs.SetField("this", fn.BoundTo)
	}

	f := &frame{fn: fn, scope: fs}
	in.st.push(f)
	defer in.st.pop()

	in.bindParams(fs, fn, args, named)
	if fn.Def.ExpressionFun {
		f.returns = append(f.returns, in.Eval(fs, fn.Def.Body))
	} else {
		switch b := fn.Def.Body.(type) {
		case nil:
		case *uast.ScopedStatement:
			in.execBlock(fs, b, b.Body)
		default:
			in.exec(fs, b)
		}
	}
	in.st.rethrow(f)
	if len(f.returns) == 0 {
		return value.NewUndefined(value.ChildID(fn.Attrs().ID(), "return"))
	}
	return value.Join(f.returns...)
}

// bindParams binds each declared parameter: positional argument first, then
// a keyword argument of the same name, then the default. The PreDeclare hook
// sees and may replace every binding.
func (in *Interpreter) bindParams(fs *value.Scope, fn *value.Function, args []value.Value, named map[string]value.Value) {
	for i, p := range fn.Def.Parameters {
		name := p.ParamName()
		var v value.Value
		switch {
		case p.Rest:
			var rest []value.Value
			if i < len(args) {
				rest = args[i:]
			}
			v = builtins.NewList(value.ChildID(fs.Attrs().ID(), name), rest)
		case i < len(args):
			v = args[i]
		case named[name] != nil:
			v = named[name]
		case p.Init != nil:
			v = in.Eval(fs, p.Init)
		default:
			v = value.NewUndefined(value.ID{Local: name, Scoped: name, Qualified: value.ChildID(fn.Attrs().ID(), name).Qualified})
		}
		e := in.event(fs, p)
		e.Declaration = p
		e.Name = name
		e.Function = fn
		e.Args = args
		e.Result = v
		in.ctx.Hooks.PreDeclare(e)
		v = e.Result
		if p.VarType != "" {
			typed(v, p.VarType)
		}
		in.bindPattern(fs, p.ID, v, p, true)
	}
}

// symbolicResult stands in for the return value of code that is not
// interpreted: it carries the taint of the receiver and every argument.
func (in *Interpreter) symbolicResult(name, qualified string, receiver value.Value, args []value.Value, site uast.Node) value.Value {
	id := value.ID{Local: name + "()", Scoped: name + "()", Qualified: qualified + "()"}
	res := value.NewObject(id, site)
	loc := siteLoc(site)
	if receiver != nil {
		taint.Propagate(res, receiver, loc, taint.RoleCall)
	}
	for _, a := range args {
		if _, isFn := a.(*value.Function); isFn {
			continue
		}
		taint.Propagate(res, a, loc, taint.RoleCall)
	}
	return res
}

// unknownCall handles a callee with no definition. Function arguments are
// treated as callbacks and invoked with the symbolic result standing in for
// each of their parameters.
func (in *Interpreter) unknownCall(site uast.Node, cs *callSite, args []value.Value) value.Value {
	name := cs.name
	if name == "" {
		name = valueName(cs.callee)
	}
	res := in.symbolicResult(name, cs.qualified, cs.receiver, args, site)
	if !in.ctx.Config.InvokeUnknownCallbacks {
		return res
	}
	for _, a := range args {
		for _, alt := range value.Alternatives(a) {
			fn, ok := alt.(*value.Function)
			if !ok || fn.Def == nil {
				continue
			}
			cbArgs := make([]value.Value, len(fn.Def.Parameters))
			for i := range cbArgs {
				cbArgs[i] = res
			}
			in.invoke(fn, nil, cbArgs, nil, site)
		}
	}
	return res
}

// superCall runs the super constructors matching the argument count against
// the current receiver.
func (in *Interpreter) superCall(scope *value.Scope, t *uast.CallExpression) value.Value {
	cs := &callSite{argNodes: t.Arguments, name: "super", property: "super"}
	cs.receiver = in.lookupThis(scope)
	cs.args, cs.named = in.evalArgs(scope, t.Arguments)
	var ctors []value.Value
	if proxy := in.superOf(scope); proxy != nil {
		ctors = classes.Constructors(proxy)
	}
	if len(ctors) == 0 {
		cs.callee = value.NewUndefined(value.ID{Local: "super", Scoped: "super"})
	} else {
		cs.callee = value.Join(ctors...)
	}
	cs.qualified = valueName(cs.callee)
	return in.call(scope, t, cs)
}

func (in *Interpreter) evalNew(scope *value.Scope, t *uast.NewExpression) value.Value {
	callee := in.Eval(scope, t.Callee)
	name := accessPath(t.Callee)
	args, named := in.evalArgs(scope, t.Arguments)
	var out []value.Value
	for _, alt := range value.Alternatives(callee) {
		out = append(out, in.construct(scope, t, alt, name, args, named))
	}
	return value.Join(out...)
}

// construct fires the construction hooks around building an object of callee.
func (in *Interpreter) construct(scope *value.Scope, site uast.Node, callee value.Value, name string, args []value.Value, named map[string]value.Value) value.Value {
	e := in.event(scope, site)
	e.Name = name
	e.Qualified = valueName(callee)
	e.Callee = callee
	e.Args = args
	in.ctx.Hooks.BeforeConstruct(e)
	if e.Result == nil {
		e.Result = in.build(site, callee, name, e.Args, named)
	}
	in.ctx.Hooks.AfterConstruct(e)
	return e.Result
}

func (in *Interpreter) build(site uast.Node, callee value.Value, name string, args []value.Value, named map[string]value.Value) value.Value {
	switch c := callee.(type) {
	case *value.Scope:
		if c.ScopeKind == value.ScopeClass {
			return in.instantiate(c, args, named, site, name)
		}
	case *value.Function:
		if c.IsConstructor() && c.BoundTo != nil {
			return in.instantiate(c.BoundTo, args, named, site, name)
		}
		if c.Def != nil {
			obj := value.NewObject(instanceID(name, site), site)
			obj.Attrs().TypeName = name
			in.invoke(c, obj, args, named, site)
			return obj
		}
	}
	if typ, ok := in.ctx.Builtins.Constructor(name); ok {
		return in.ctx.Builtins.Construct(typ, &value.Call{Invoker: in, Name: name, Args: args, Site: site})
	}
	obj := in.unknownCall(site, &callSite{callee: callee, name: "new " + name, qualified: "new " + valueName(callee)}, args)
	obj.Attrs().TypeName = name
	return obj
}

func instanceID(name string, site uast.Node) value.ID {
	id := value.ID{Local: name, Scoped: "new " + name, Qualified: "new " + name}
	if site != nil {
		id.Qualified += "@" + site.Loc().String()
	}
	return id
}

// instantiate creates an instance of class and runs the constructors that
// accept the arguments. Several matching overloads run as alternatives.
func (in *Interpreter) instantiate(class *value.Scope, args []value.Value, named map[string]value.Value, site uast.Node, name string) *value.Scope {
	inst := classes.NewInstance(class, instanceID(name, site), in.CloneDepth())
	ctors := selectOverloads(classes.Constructors(class), len(args))
	arms := make([]func(), 0, len(ctors))
	for _, c := range ctors {
		fn, ok := c.(*value.Function)
		if !ok {
			continue
		}
		arms = append(arms, func() { in.invoke(fn, inst, args, named, site) })
	}
	switch len(arms) {
	case 0:
	case 1:
		arms[0]()
	default:
		in.st.branches(false, arms...)
	}
	return inst
}

// evalFunction creates a closure over scope. Named functions are bound in scope.
func (in *Interpreter) evalFunction(scope *value.Scope, def *uast.FunctionDefinition) value.Value {
	name := def.FunctionName()
	local := name
	if local == "" {
		local = "<lambda>"
	}
	id := value.ChildID(scope.Attrs().ID(), local)
	id.Scoped = local
	fn := value.NewClosure(id, def, scope)
	if name != "" {
		in.st.setField(scope, name, fn)
		scope.Declare(name, def)
		scope.AddModifier(name, def.Modifiers...)
	}
	return fn
}

// evalClass resolves (or reuses) the class scope for def and binds it in scope.
func (in *Interpreter) evalClass(scope *value.Scope, def *uast.ClassDefinition) value.Value {
	class := in.ctx.Classes.Resolve(def, scope, func(class *value.Scope) []*value.Scope {
		var supers []*value.Scope
		for _, s := range def.Supers {
			for _, alt := range value.Alternatives(in.Eval(scope, s)) {
				if sc, ok := alt.(*value.Scope); ok && sc.ScopeKind == value.ScopeClass {
					supers = append(supers, sc)
				}
			}
		}
		in.populateClass(class, def)
		return supers
	})
	if name := def.ClassName(); name != "" {
		in.st.setField(scope, name, class)
		scope.Declare(name, def)
		scope.AddModifier(name, def.Modifiers...)
	}
	return class
}

// populateClass binds the class body: methods and constructors as closures
// bound to the class, fields with their initial values, nested classes.
// Overloads sharing a name are kept as alternatives.
func (in *Interpreter) populateClass(class *value.Scope, def *uast.ClassDefinition) {
	for _, n := range def.Body {
		switch m := n.(type) {
		case *uast.FunctionDefinition:
			name := m.FunctionName()
			if m.Constructor {
				name = uast.ConstructorName
			}
			fn := value.NewClosure(value.ChildID(class.Attrs().ID(), name), m, class)
			fn.BoundTo = class
			var v value.Value = fn
			if existing, ok := class.Field(name); ok {
				if _, isFn := existing.(*value.Function); isFn || existing.Kind() == value.KindUnion {
					v = value.Join(existing, fn)
				}
			}
			class.SetField(name, v)
			class.Declare(name, m)
			class.AddModifier(name, m.Modifiers...)
		case *uast.VariableDeclaration:
			name := m.ParamName()
			var v value.Value
			if m.Init != nil {
				v = in.Eval(class, m.Init)
			} else {
				v = value.NewUninitialized(value.ChildID(class.Attrs().ID(), name))
			}
			typed(v, m.VarType)
			in.bindPattern(class, m.ID, v, m, true)
			class.AddModifier(name, m.Modifiers...)
		case *uast.ClassDefinition:
			in.evalClass(class, m)
		default:
			stmt := n
			in.guard(stmt, func() { in.exec(class, stmt) })
		}
	}
}

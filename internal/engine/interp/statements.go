package interp

import (
	"github.com/xkilldash9x/scalpel-sast/internal/engine/builtins"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/issues"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// exec runs one statement for its effects.
func (in *Interpreter) exec(scope *value.Scope, n uast.Node) {
	switch t := n.(type) {
	case nil:
	case *uast.ScopedStatement:
		in.execBlock(scope.CreateChild("block", value.ScopeBlock), t, t.Body)
	case *uast.ExpressionStatement:
		in.Eval(scope, t.Expression)
	case *uast.VariableDeclaration:
		in.declare(scope, t)
	case *uast.FunctionDefinition:
		in.evalFunction(scope, t)
	case *uast.ClassDefinition:
		in.evalClass(scope, t)
	case *uast.IfStatement:
		in.execIf(scope, t)
	case *uast.LoopStatement:
		in.execLoop(scope, t)
	case *uast.SwitchStatement:
		in.execSwitch(scope, t)
	case *uast.TryStatement:
		in.execTry(scope, t)
	case *uast.ThrowStatement:
		v := in.Eval(scope, t.Argument)
		f := in.st.top()
		f.thrown = append(f.thrown, v)
		f.throwing = true
	case *uast.ReturnStatement:
		var v value.Value
		if t.Argument != nil {
			v = in.Eval(scope, t.Argument)
		} else {
			v = value.NewUndefined(value.ID{Local: "undefined"})
		}
		f := in.st.top()
		f.returns = append(f.returns, v)
		f.returned = true
	case *uast.BreakStatement, *uast.ContinueStatement:
		in.st.top().broke = true
	case *uast.Noop:
	default:
		in.Eval(scope, n)
	}
}

// execBlock runs stmts in scope. Function and class definitions are bound
// before anything else so calls may precede the definition in source order.
func (in *Interpreter) execBlock(scope *value.Scope, block uast.Node, stmts []uast.Node) {
	hoisted := make(map[uast.Node]struct{})
	for _, s := range stmts {
		switch d := s.(type) {
		case *uast.FunctionDefinition:
			if d.FunctionName() != "" {
				in.guard(s, func() { in.evalFunction(scope, d) })
				hoisted[s] = struct{}{}
			}
		case *uast.ClassDefinition:
			in.guard(s, func() { in.evalClass(scope, d) })
			hoisted[s] = struct{}{}
		}
	}
	f := in.st.top()
	for _, s := range stmts {
		if f.done() {
			break
		}
		if _, ok := hoisted[s]; ok {
			continue
		}
		stmt := s
		in.guard(stmt, func() { in.exec(scope, stmt) })
	}
	in.ctx.Hooks.EndOfBlock(in.event(scope, block))
}

// declare binds a variable declaration in scope.
func (in *Interpreter) declare(scope *value.Scope, d *uast.VariableDeclaration) {
	var v value.Value
	if d.Init == nil {
		v = value.NewUninitialized(patternID(scope, d.ID))
	} else {
		v = in.Eval(scope, d.Init)
	}
	e := in.event(scope, d)
	e.Declaration = d
	e.Name = d.ParamName()
	e.Function = in.st.Function()
	e.Result = v
	in.ctx.Hooks.PreDeclare(e)
	v = e.Result
	if d.VarType != "" {
		typed(v, d.VarType)
	}
	in.bindPattern(scope, d.ID, v, d, true)
}

func patternID(scope *value.Scope, n uast.Node) value.ID {
	name := "_"
	if id, ok := n.(*uast.Identifier); ok {
		name = id.Name
	}
	id := value.ChildID(scope.Attrs().ID(), name)
	id.Scoped = name
	return id
}

// typed records a declared static type on values that do not know their own.
func typed(v value.Value, typeName string) {
	if v == nil {
		return
	}
	switch v.(type) {
	case *value.Object, *value.Undefined, *value.Scope, *value.Package:
		if v.Attrs().TypeName == "" {
			v.Attrs().TypeName = typeName
		}
	}
}

// bindPattern binds v to the target pattern. Tuple and object patterns
// distribute v element-wise; a value that cannot be decomposed to match is
// replicated across every target.
func (in *Interpreter) bindPattern(scope *value.Scope, target uast.Node, v value.Value, decl uast.Node, declare bool) {
	switch t := target.(type) {
	case *uast.Identifier:
		if declare {
			in.st.setField(scope, t.Name, v)
			scope.Declare(t.Name, decl)
			return
		}
		in.assignName(scope, t.Name, v, t)
	case *uast.VariableDeclaration:
		in.bindPattern(scope, t.ID, v, t, declare)
	case *uast.MemberAccess:
		in.assignMember(scope, t, v, nil)
	case *uast.AssignmentExpression:
		// Pattern with a default value.
		if value.IsUndefined(v) {
			v = value.Join(v, in.Eval(scope, t.Right))
		}
		in.bindPattern(scope, t.Left, v, decl, declare)
	case *uast.TupleExpression:
		in.bindTuple(scope, t, v, decl, declare)
	case *uast.ObjectExpression:
		for _, p := range t.Properties {
			if spread, ok := p.Value.(*uast.SpreadElement); ok {
				in.bindPattern(scope, spread.Argument, v, decl, declare)
				continue
			}
			name, ok := propertyName(p.Key)
			if !ok {
				in.bindPattern(scope, p.Value, v, decl, declare)
				continue
			}
			target := p.Value
			if target == nil {
				target = p.Key
			}
			in.bindPattern(scope, target, in.member(scope, v, name, p, false), decl, declare)
		}
	case nil:
	default:
		in.report(&issues.UnexpectedNodeError{Node: target, Kind: "pattern " + target.Kind().String()})
	}
}

func (in *Interpreter) bindTuple(scope *value.Scope, t *uast.TupleExpression, v value.Value, decl uast.Node, declare bool) {
	var elems []value.Value
	decomposed := false
	if s, ok := builtins.IsBuiltin(v); ok && s.Container.Precise() {
		elems = builtins.Spread(s)
		fixed := 0
		for _, e := range t.Elements {
			if _, rest := e.(*uast.SpreadElement); !rest {
				fixed++
			}
		}
		decomposed = len(elems) == fixed || (fixed < len(t.Elements) && len(elems) >= fixed)
	}
	for i, e := range t.Elements {
		if e == nil {
			continue
		}
		if rest, ok := e.(*uast.SpreadElement); ok {
			var tail value.Value = v
			if decomposed {
				tail = builtins.NewList(value.ChildID(v.Attrs().ID(), "rest"), elems[min(i, len(elems)):])
			}
			in.bindPattern(scope, rest.Argument, tail, decl, declare)
			continue
		}
		part := v
		if decomposed && i < len(elems) {
			part = elems[i]
		}
		in.bindPattern(scope, e, part, decl, declare)
	}
}

func (in *Interpreter) execIf(scope *value.Scope, t *uast.IfStatement) {
	in.Eval(scope, t.Test)
	arms := []func(){func() { in.exec(scope, t.Consequent) }}
	if t.Alternative != nil {
		arms = append(arms, func() { in.exec(scope, t.Alternative) })
	}
	in.st.branches(t.Alternative == nil, arms...)
}

// execLoop runs the body once and joins the result with the state before the
// loop, which also covers the loop never running.
func (in *Interpreter) execLoop(scope *value.Scope, t *uast.LoopStatement) {
	loop := scope.CreateChild("loop", value.ScopeBlock)
	if t.Init != nil {
		in.exec(loop, t.Init)
	}
	var element value.Value
	if t.Right != nil {
		element = in.iterationValue(loop, t)
	}
	f := in.st.top()
	body := func() {
		if t.Left != nil && element != nil {
			in.bindLoopTarget(loop, t.Left, element)
		}
		in.exec(loop, t.Body)
		if !f.done() && t.Update != nil {
			in.Eval(loop, t.Update)
		}
	}
	if t.LoopKind == uast.LoopDoWhile {
		body()
		f.broke = false
		if t.Test != nil {
			in.Eval(loop, t.Test)
		}
		return
	}
	if t.Test != nil {
		in.Eval(loop, t.Test)
	}
	in.st.branches(true, body)
	f.broke = false
}

func (in *Interpreter) bindLoopTarget(scope *value.Scope, left uast.Node, element value.Value) {
	if d, ok := left.(*uast.VariableDeclaration); ok {
		if d.VarType != "" {
			typed(element, d.VarType)
		}
		in.bindPattern(scope, d.ID, element, d, true)
		return
	}
	in.bindPattern(scope, left, element, left, false)
}

// iterationValue is the value bound to the loop target on each iteration.
func (in *Interpreter) iterationValue(scope *value.Scope, t *uast.LoopStatement) value.Value {
	coll := in.Eval(scope, t.Right)
	var alts []value.Value
	for _, alt := range value.Alternatives(coll) {
		if t.LoopKind == uast.LoopForIn {
			key := value.NewSymbolicPrimitive(value.ChildID(alt.Attrs().ID(), "[key]"), uast.LiteralString)
			taint.Propagate(key, alt, t.Right.Loc(), taint.RolePropagate)
			alts = append(alts, key)
			continue
		}
		switch c := alt.(type) {
		case *value.Scope:
			if c.Container != nil {
				alts = append(alts, builtins.Element(c))
				continue
			}
			alts = append(alts, value.Join(c.Fields().Values()...))
		case *value.Object:
			if c.Fields().Len() == 0 {
				alts = append(alts, in.member(scope, c, "[]", t.Right, false))
				continue
			}
			alts = append(alts, value.Join(c.Fields().Values()...))
		case *value.Primitive:
			ch := value.NewSymbolicPrimitive(value.ChildID(c.Attrs().ID(), "[]"), uast.LiteralString)
			taint.Propagate(ch, c, t.Right.Loc(), taint.RolePropagate)
			alts = append(alts, ch)
		default:
			alts = append(alts, in.member(scope, alt, "[]", t.Right, false))
		}
	}
	return value.Join(alts...)
}

// execSwitch treats every case as an alternative. Fall-through between cases
// is not modeled; without a default clause no case may run at all.
func (in *Interpreter) execSwitch(scope *value.Scope, t *uast.SwitchStatement) {
	in.Eval(scope, t.Discriminant)
	block := scope.CreateChild("switch", value.ScopeBlock)
	hasDefault := false
	arms := make([]func(), 0, len(t.Cases))
	for _, c := range t.Cases {
		c := c
		if c.Test == nil {
			hasDefault = true
		} else {
			in.Eval(block, c.Test)
		}
		arms = append(arms, func() { in.execBlock(block, c, c.Body) })
	}
	f := in.st.top()
	in.st.branches(!hasDefault, arms...)
	if f.broke && !f.returned {
		f.broke = false
	}
}

// execTry runs the body, then each handler as an alternative bound to what
// the body threw, then the finalizer unconditionally.
func (in *Interpreter) execTry(scope *value.Scope, t *uast.TryStatement) {
	f := in.st.top()
	outerThrown := f.thrown
	f.thrown = nil
	in.exec(scope, t.Body)
	thrown := f.thrown
	if len(t.Handlers) > 0 {
		f.throwing = false
		f.thrown = outerThrown
		arms := make([]func(), 0, len(t.Handlers))
		for _, h := range t.Handlers {
			h := h
			arms = append(arms, func() {
				handler := scope.CreateChild("catch", value.ScopeBlock)
				if h.Param != nil {
					exc := value.NewObject(value.ID{Local: "exception", Scoped: "exception"}, h)
					taint.PropagateAll(exc, thrown, h.Loc(), taint.RolePropagate)
					caught := value.Join(append([]value.Value{exc}, thrown...)...)
					in.bindLoopTarget(handler, h.Param, caught)
				}
				in.exec(handler, h.Body)
			})
		}
		in.st.branches(true, arms...)
	} else {
		f.thrown = append(outerThrown, thrown...)
	}
	if t.Finalizer != nil {
		returned, throwing := f.returned, f.throwing
		f.returned, f.throwing = false, false
		in.exec(scope, t.Finalizer)
		f.returned = f.returned || returned
		f.throwing = f.throwing || throwing
	}
}

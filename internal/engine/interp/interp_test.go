package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/issues"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// -- syntax helpers --

func ident(name string) *uast.Identifier { return &uast.Identifier{Name: name} }

func str(s string) *uast.Literal { return &uast.Literal{Value: s, LiteralKind: uast.LiteralString} }

func call(callee uast.Node, args ...uast.Node) *uast.CallExpression {
	return &uast.CallExpression{Callee: callee, Arguments: args}
}

func dot(obj uast.Node, names ...string) uast.Node {
	cur := obj
	for _, n := range names {
		cur = &uast.MemberAccess{Object: cur, Property: ident(n)}
	}
	return cur
}

func let(name string, init uast.Node) *uast.VariableDeclaration {
	return &uast.VariableDeclaration{ID: ident(name), Init: init}
}

func stmt(e uast.Node) *uast.ExpressionStatement { return &uast.ExpressionStatement{Expression: e} }

func assign(left, right uast.Node) *uast.ExpressionStatement {
	return stmt(&uast.AssignmentExpression{Operator: "=", Left: left, Right: right})
}

func block(body ...uast.Node) *uast.ScopedStatement { return &uast.ScopedStatement{Body: body} }

func fn(name string, params []string, body ...uast.Node) *uast.FunctionDefinition {
	def := &uast.FunctionDefinition{Body: block(body...)}
	if name != "" {
		def.Name = ident(name)
	}
	for _, p := range params {
		def.Parameters = append(def.Parameters, &uast.VariableDeclaration{ID: ident(p)})
	}
	return def
}

func ret(e uast.Node) *uast.ReturnStatement { return &uast.ReturnStatement{Argument: e} }

func unit(uri string, body ...uast.Node) *uast.CompileUnit {
	return &uast.CompileUnit{URI: uri, Language: "javascript", Body: body}
}

// -- hooks --

// flowHooks taints whatever source() returns and records the arguments of sink().
type flowHooks struct {
	NopHooks
	sinks      [][]value.Value
	declared   []string
	taintParam string
}

func (h *flowHooks) AfterCall(e *Event) {
	if e.Name == "source" {
		taint.Mark(e.Result, value.NewTagSet("XSS"), e.Node.Loc(), taint.RoleSource)
	}
}

func (h *flowHooks) BeforeCall(e *Event) {
	if e.Name == "sink" {
		h.sinks = append(h.sinks, e.Args)
	}
}

func (h *flowHooks) PreDeclare(e *Event) {
	h.declared = append(h.declared, e.Name)
	if e.Function != nil && e.Name == h.taintParam {
		taint.Mark(e.Result, value.NewTagSet("XSS"), e.Node.Loc(), taint.RoleParameter)
	}
}

func newInterpreter(t *testing.T, hooks Hooks) *Interpreter {
	t.Helper()
	cfg := config.NewDefaultConfig().Engine()
	ctx := NewAnalysisContext(cfg, zaptest.NewLogger(t), hooks, nil)
	return New(ctx)
}

func runUnit(t *testing.T, hooks Hooks, body ...uast.Node) (*Interpreter, *value.Scope) {
	t.Helper()
	in := newInterpreter(t, hooks)
	u := unit("app.js", body...)
	in.Context().AddUnit(u)
	module, err := in.RunFile(u)
	require.NoError(t, err)
	return in, module
}

func sinkArg(t *testing.T, h *flowHooks, i int) value.Value {
	t.Helper()
	require.Greater(t, len(h.sinks), i, "sink was not reached")
	require.NotEmpty(t, h.sinks[i])
	return h.sinks[i][0]
}

// -- tests --

func TestTaintFlowsThroughConcatenation(t *testing.T) {
	h := &flowHooks{}
	runUnit(t, h,
		let("a", call(ident("source"))),
		let("b", &uast.BinaryExpression{Operator: "+", Left: str("id="), Right: ident("a")}),
		stmt(call(ident("sink"), ident("b"))),
	)
	assert.True(t, taint.IsTainted(sinkArg(t, h, 0)))
}

func TestConcreteConcatenationFolds(t *testing.T) {
	h := &flowHooks{}
	runUnit(t, h,
		stmt(call(ident("sink"), &uast.BinaryExpression{Operator: "+", Left: str("a"), Right: str("b")})),
	)
	got := sinkArg(t, h, 0)
	p, ok := got.(*value.Primitive)
	require.True(t, ok)
	assert.Equal(t, "ab", p.Literal)
	assert.False(t, taint.IsTainted(got))
}

func TestBranchesJoinAssignments(t *testing.T) {
	h := &flowHooks{}
	_, module := runUnit(t, h,
		let("x", str("safe")),
		&uast.IfStatement{Test: ident("cond"), Consequent: block(assign(ident("x"), call(ident("source"))))},
		stmt(call(ident("sink"), ident("x"))),
	)
	got := sinkArg(t, h, 0)
	assert.Len(t, value.Alternatives(got), 2, "both the untouched and the assigned value survive")
	assert.True(t, taint.IsTainted(got))

	x, ok := module.Field("x")
	require.True(t, ok)
	assert.Same(t, got, x)
}

func TestIfElseBothReturningEndsTheBlock(t *testing.T) {
	h := &flowHooks{}
	runUnit(t, h,
		fn("pick", nil,
			&uast.IfStatement{
				Test:        ident("cond"),
				Consequent:  block(ret(str("a"))),
				Alternative: block(ret(str("b"))),
			},
			stmt(call(ident("sink"), str("unreachable"))),
		),
		stmt(call(ident("sink"), call(ident("pick")))),
	)
	require.Len(t, h.sinks, 1)
	assert.Len(t, value.Alternatives(sinkArg(t, h, 0)), 2)
}

func TestHoistedFunctionCarriesTaint(t *testing.T) {
	h := &flowHooks{}
	runUnit(t, h,
		stmt(call(ident("sink"), call(ident("wrap"), call(ident("source"))))),
		fn("wrap", []string{"v"},
			ret(&uast.BinaryExpression{Operator: "+", Left: ident("v"), Right: str("!")}),
		),
	)
	assert.True(t, taint.IsTainted(sinkArg(t, h, 0)))
	assert.Contains(t, h.declared, "v")
}

func TestUnknownCallbackReceivesTaintedParameter(t *testing.T) {
	h := &flowHooks{taintParam: "req"}
	runUnit(t, h,
		stmt(call(dot(ident("app"), "get"), str("/"),
			fn("", []string{"req", "res"},
				stmt(call(ident("sink"), dot(ident("req"), "query", "id"))),
			),
		)),
	)
	arg := sinkArg(t, h, 0)
	assert.True(t, taint.IsTainted(arg))
	assert.Equal(t, "id", arg.Attrs().ID().Local)
}

func TestUnknownCallbacksCanBeDisabled(t *testing.T) {
	h := &flowHooks{}
	in := newInterpreter(t, h)
	in.Context().Config.InvokeUnknownCallbacks = false
	u := unit("app.js",
		stmt(call(dot(ident("app"), "get"), str("/"),
			fn("", []string{"req"}, stmt(call(ident("sink"), ident("req")))),
		)),
	)
	_, err := in.RunFile(u)
	require.NoError(t, err)
	assert.Empty(t, h.sinks)
}

func TestClassInstanceFieldFlow(t *testing.T) {
	ctor := fn("constructor", []string{"v"}, assign(dot(&uast.ThisExpression{}, "v"), ident("v")))
	ctor.Constructor = true
	getter := fn("get", nil, ret(dot(&uast.ThisExpression{}, "v")))
	class := &uast.ClassDefinition{Name: ident("Box"), Body: []uast.Node{ctor, getter}}

	h := &flowHooks{}
	_, module := runUnit(t, h,
		let("b", &uast.NewExpression{Callee: ident("Box"), Arguments: []uast.Node{call(ident("source"))}}),
		stmt(call(ident("sink"), call(dot(ident("b"), "get")))),
		class,
	)
	assert.True(t, taint.IsTainted(sinkArg(t, h, 0)))

	b, ok := module.Field("b")
	require.True(t, ok)
	inst, ok := b.(*value.Scope)
	require.True(t, ok)
	assert.Equal(t, value.ScopeInstance, inst.ScopeKind)
	assert.Equal(t, "Box", inst.Attrs().TypeName)
}

func TestTryCatchBindsThrownValue(t *testing.T) {
	h := &flowHooks{}
	runUnit(t, h,
		&uast.TryStatement{
			Body: block(&uast.ThrowStatement{Argument: call(ident("source"))}),
			Handlers: []*uast.CatchClause{{
				Param: ident("e"),
				Body:  block(stmt(call(ident("sink"), ident("e")))),
			}},
			Finalizer: block(stmt(call(ident("sink"), str("finally")))),
		},
		stmt(call(ident("sink"), str("after"))),
	)
	require.Len(t, h.sinks, 3)
	assert.True(t, taint.IsTainted(sinkArg(t, h, 0)))
}

func TestThrowFromCalleeReachesCallerHandler(t *testing.T) {
	h := &flowHooks{}
	runUnit(t, h,
		fn("fail", nil, &uast.ThrowStatement{Argument: call(ident("source"))}),
		&uast.TryStatement{
			Body: block(stmt(call(ident("fail")))),
			Handlers: []*uast.CatchClause{{
				Param: ident("e"),
				Body:  block(stmt(call(ident("sink"), ident("e")))),
			}},
		},
	)
	assert.True(t, taint.IsTainted(sinkArg(t, h, 0)))
}

func TestObjectDestructuring(t *testing.T) {
	h := &flowHooks{}
	pattern := &uast.ObjectExpression{Properties: []*uast.ObjectProperty{{Key: ident("q")}}}
	runUnit(t, h,
		let("o", &uast.ObjectExpression{Properties: []*uast.ObjectProperty{
			{Key: ident("q"), Value: call(ident("source"))},
			{Key: ident("safe"), Value: str("x")},
		}}),
		&uast.VariableDeclaration{ID: pattern, Init: ident("o")},
		stmt(call(ident("sink"), ident("q"))),
	)
	assert.True(t, taint.IsTainted(sinkArg(t, h, 0)))
}

func TestRecursionIsBounded(t *testing.T) {
	h := &flowHooks{}
	runUnit(t, h,
		fn("loop", []string{"n"}, ret(call(ident("loop"), ident("n")))),
		stmt(call(ident("sink"), call(ident("loop"), call(ident("source"))))),
	)
	assert.True(t, taint.IsTainted(sinkArg(t, h, 0)))
}

func TestCommonJSImport(t *testing.T) {
	h := &flowHooks{}
	in := newInterpreter(t, h)
	lib := unit("src/lib.js", assign(dot(ident("exports"), "value"), call(ident("source"))))
	app := unit("src/app.js",
		let("lib", &uast.ImportExpression{Source: "./lib"}),
		stmt(call(ident("sink"), dot(ident("lib"), "value"))),
	)
	in.Context().AddUnit(lib)
	in.Context().AddUnit(app)

	_, err := in.RunFile(app)
	require.NoError(t, err)
	assert.True(t, taint.IsTainted(sinkArg(t, h, 0)))

	m, ok := in.Context().Module("src/lib.js")
	require.True(t, ok, "the imported module is memoized")
	again, err := in.LoadModule("src/lib.js")
	require.NoError(t, err)
	assert.Same(t, m, again)
}

func TestImportCycleTerminates(t *testing.T) {
	in := newInterpreter(t, nil)
	a := unit("a.js", let("b", &uast.ImportExpression{Source: "./b"}))
	b := unit("b.js", let("a", &uast.ImportExpression{Source: "./a"}))
	in.Context().AddUnit(a)
	in.Context().AddUnit(b)
	_, err := in.RunFile(a)
	require.NoError(t, err)
}

func TestUnresolvedImportIsAPackage(t *testing.T) {
	_, module := runUnit(t, nil, let("fs", &uast.ImportExpression{Source: "fs"}))
	v, ok := module.Field("fs")
	require.True(t, ok)
	pkg, ok := v.(*value.Package)
	require.True(t, ok)
	assert.Equal(t, "fs", pkg.Path)
}

func TestUnexpectedNodeIsRecoverable(t *testing.T) {
	in, _ := runUnit(t, nil, stmt(&uast.CaseClause{}), let("x", str("still runs")))
	assert.Equal(t, 1, in.Context().Issues.Total())
}

func TestFatalIssueAborts(t *testing.T) {
	cfg := config.NewDefaultConfig().Engine()
	logger := zaptest.NewLogger(t)
	ctx := NewAnalysisContext(cfg, logger, nil, issues.NewHandler(logger, 0))
	in := New(ctx)
	_, err := in.RunFile(unit("app.js", stmt(&uast.CaseClause{})))
	require.Error(t, err)
	assert.True(t, IsAbort(err))
}

func TestBeforeCallResultReplacesInvocation(t *testing.T) {
	h := &replaceHooks{}
	_, module := runUnit(t, h,
		fn("secret", nil, ret(str("real"))),
		let("x", call(ident("secret"))),
	)
	x, _ := module.Field("x")
	assert.Equal(t, "stub", x.(*value.Primitive).Literal)
}

type replaceHooks struct{ NopHooks }

func (replaceHooks) BeforeCall(e *Event) {
	if e.Name == "secret" {
		e.Result = value.NewLiteral("stub", uast.LiteralString)
	}
}

func TestSelectOverloads(t *testing.T) {
	class := value.NewModuleScope("A.java", nil).CreateChild("A", value.ScopeClass)
	mk := func(n int, rest bool) value.Value {
		def := &uast.FunctionDefinition{Name: ident("m")}
		for i := 0; i < n; i++ {
			def.Parameters = append(def.Parameters, &uast.VariableDeclaration{ID: ident("p"), Rest: rest && i == n-1})
		}
		f := value.NewClosure(value.ID{Local: "m"}, def, class)
		f.BoundTo = class
		return f
	}
	one, two, variadic := mk(1, false), mk(2, false), mk(2, true)
	alts := []value.Value{one, two, variadic}

	assert.Equal(t, []value.Value{one, variadic}, selectOverloads(alts, 1))
	assert.Equal(t, []value.Value{two, variadic}, selectOverloads(alts, 2))
	assert.Equal(t, alts, selectOverloads(alts, 0), "no match keeps every alternative")

	free := value.NewClosure(value.ID{Local: "f"}, &uast.FunctionDefinition{}, class)
	mixed := []value.Value{one, free}
	assert.Equal(t, mixed, selectOverloads(mixed, 2))
}

func TestKeywordArgumentsBindByName(t *testing.T) {
	named := func(name string, v uast.Node) *uast.NamedArgument {
		return &uast.NamedArgument{Name: name, Value: v}
	}
	tests := []struct {
		name    string
		args    []uast.Node
		tainted bool
	}{
		{name: "keyword fills the matching parameter", args: []uast.Node{named("b", call(ident("source")))}, tainted: true},
		{name: "keyword after positional", args: []uast.Node{str("x"), named("b", call(ident("source")))}, tainted: true},
		{name: "keyword for another parameter", args: []uast.Node{named("a", call(ident("source")))}, tainted: false},
		{name: "positional wins over keyword", args: []uast.Node{str("x"), str("y"), named("b", call(ident("source")))}, tainted: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &flowHooks{}
			runUnit(t, h,
				fn("pick", []string{"a", "b"}, ret(ident("b"))),
				stmt(call(ident("sink"), call(ident("pick"), tt.args...))),
			)
			assert.Equal(t, tt.tainted, taint.IsTainted(sinkArg(t, h, 0)))
		})
	}
}

func TestTupleDestructuring(t *testing.T) {
	tuple := func(names ...string) *uast.TupleExpression {
		out := &uast.TupleExpression{}
		for _, n := range names {
			out.Elements = append(out.Elements, ident(n))
		}
		return out
	}
	list := &uast.TupleExpression{Elements: []uast.Node{call(ident("source")), str("safe")}}

	tests := []struct {
		name   string
		init   uast.Node
		expect map[string]bool
		shared bool
	}{
		{
			name:   "precise list is distributed element-wise",
			init:   list,
			expect: map[string]bool{"x": true, "y": false},
		},
		{
			name:   "opaque value is replicated to every target",
			init:   call(ident("source")),
			expect: map[string]bool{"x": true, "y": true},
			shared: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &flowHooks{}
			_, module := runUnit(t, h, &uast.VariableDeclaration{ID: tuple("x", "y"), Init: tt.init})
			for name, want := range tt.expect {
				v, ok := module.Field(name)
				require.True(t, ok, name)
				assert.Equal(t, want, taint.IsTainted(v), name)
			}
			x, _ := module.Field("x")
			y, _ := module.Field("y")
			if tt.shared {
				assert.Same(t, x, y)
			} else {
				assert.NotSame(t, x, y)
			}
		})
	}

	t.Run("rest element collects the tail", func(t *testing.T) {
		h := &flowHooks{}
		pattern := &uast.TupleExpression{Elements: []uast.Node{ident("head"), &uast.SpreadElement{Argument: ident("tail")}}}
		_, module := runUnit(t, h, &uast.VariableDeclaration{ID: pattern, Init: list})
		head, ok := module.Field("head")
		require.True(t, ok)
		assert.True(t, taint.IsTainted(head))
		tail, ok := module.Field("tail")
		require.True(t, ok)
		s, ok := tail.(*value.Scope)
		require.True(t, ok)
		require.NotNil(t, s.Container)
		assert.Equal(t, 1, s.Container.Length)
	})
}

func TestDeclarationWithoutInitializer(t *testing.T) {
	tests := []struct {
		name    string
		body    []uast.Node
		tainted bool
		uninit  bool
	}{
		{
			name:   "placeholder is bound",
			body:   []uast.Node{let("z", nil), stmt(call(ident("sink"), ident("z")))},
			uninit: true,
		},
		{
			name:    "later assignment replaces the placeholder",
			body:    []uast.Node{let("z", nil), assign(ident("z"), call(ident("source"))), stmt(call(ident("sink"), ident("z")))},
			tainted: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &flowHooks{}
			runUnit(t, h, tt.body...)
			got := sinkArg(t, h, 0)
			assert.Equal(t, tt.tainted, taint.IsTainted(got))
			u, isUndefined := got.(*value.Undefined)
			assert.Equal(t, tt.uninit, isUndefined && u.Uninitialized)
			assert.Contains(t, h.declared, "z")
			if tt.uninit {
				assert.Equal(t, "z", u.Attrs().ID().Scoped)
			}
		})
	}
}

func TestSuperMemberReachesParentImplementation(t *testing.T) {
	exclaim := fn("greet", []string{"v"}, ret(&uast.BinaryExpression{Operator: "+", Left: ident("v"), Right: str("!")}))
	base := &uast.ClassDefinition{Name: ident("Base"), Body: []uast.Node{exclaim}}
	override := fn("greet", []string{"v"}, ret(str("safe")))
	viaSuper := fn("shout", []string{"v"}, ret(call(&uast.MemberAccess{Object: &uast.SuperExpression{}, Property: ident("greet")}, ident("v"))))
	derived := &uast.ClassDefinition{Name: ident("Derived"), Supers: []uast.Node{ident("Base")}, Body: []uast.Node{override, viaSuper}}

	tests := []struct {
		name    string
		method  string
		tainted bool
	}{
		{name: "super access calls the parent member", method: "shout", tainted: true},
		{name: "plain access calls the override", method: "greet", tainted: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &flowHooks{}
			runUnit(t, h,
				base,
				derived,
				let("d", &uast.NewExpression{Callee: ident("Derived")}),
				stmt(call(ident("sink"), call(dot(ident("d"), tt.method), call(ident("source"))))),
			)
			assert.Equal(t, tt.tainted, taint.IsTainted(sinkArg(t, h, 0)))
		})
	}
}

func TestFutureContinuationsRunWithoutJoin(t *testing.T) {
	acceptSink := fn("", []string{"v"}, stmt(call(ident("sink"), ident("v"))))

	t.Run("resolved future runs the callback at the chaining site", func(t *testing.T) {
		h := &flowHooks{}
		runUnit(t, h,
			let("p", call(dot(ident("CompletableFuture"), "supplyAsync"), fn("", nil, ret(call(ident("source")))))),
			stmt(call(dot(ident("p"), "thenAccept"), acceptSink)),
		)
		require.Len(t, h.sinks, 1)
		assert.True(t, taint.IsTainted(sinkArg(t, h, 0)))
	})

	t.Run("completion runs waiting callbacks", func(t *testing.T) {
		h := &flowHooks{}
		runUnit(t, h,
			let("f", &uast.NewExpression{Callee: ident("CompletableFuture")}),
			stmt(call(dot(ident("f"), "thenAccept"), acceptSink)),
			stmt(call(dot(ident("f"), "complete"), call(ident("source")))),
		)
		require.Len(t, h.sinks, 1)
		assert.True(t, taint.IsTainted(sinkArg(t, h, 0)))
	})

	t.Run("unresolved future is flushed", func(t *testing.T) {
		h := &flowHooks{}
		in, _ := runUnit(t, h,
			let("f", &uast.NewExpression{Callee: ident("CompletableFuture")}),
			stmt(call(dot(ident("f"), "thenAccept"), acceptSink)),
		)
		assert.Empty(t, h.sinks)

		n, err := in.FlushFutures()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Len(t, h.sinks, 1)

		n, err = in.FlushFutures()
		require.NoError(t, err)
		assert.Zero(t, n, "settled futures are not flushed twice")
	})
}

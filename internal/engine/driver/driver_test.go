package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/interp"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/issues"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

func ident(name string) *uast.Identifier { return &uast.Identifier{Name: name} }

func call(callee uast.Node, args ...uast.Node) *uast.CallExpression {
	return &uast.CallExpression{Callee: callee, Arguments: args}
}

func dot(obj uast.Node, name string) *uast.MemberAccess {
	return &uast.MemberAccess{Object: obj, Property: ident(name)}
}

func stmt(e uast.Node) *uast.ExpressionStatement { return &uast.ExpressionStatement{Expression: e} }

func fn(name string, params []string, body ...uast.Node) *uast.FunctionDefinition {
	def := &uast.FunctionDefinition{Name: ident(name), Body: &uast.ScopedStatement{Body: body}}
	for _, p := range params {
		def.Parameters = append(def.Parameters, &uast.VariableDeclaration{ID: ident(p)})
	}
	return def
}

// recorder taints source() results and records sink() arguments and entry points.
type recorder struct {
	interp.NopHooks
	sinks   [][]value.Value
	entries []string
	started int
	args    [][]value.Value
}

func (r *recorder) AfterCall(e *interp.Event) {
	if e.Name == "source" {
		taint.Mark(e.Result, value.NewTagSet("http"), e.Node.Loc(), taint.RoleSource)
	}
}

func (r *recorder) BeforeCall(e *interp.Event) {
	if e.Name == "sink" {
		r.sinks = append(r.sinks, e.Args)
	}
}

func (r *recorder) StartAnalysis(*interp.Event) { r.started++ }

func (r *recorder) BeforeEntryPoint(e *interp.Event) {
	r.entries = append(r.entries, e.State.EntryPoint)
	r.args = append(r.args, e.Args)
}

func newDriver(t *testing.T, h interp.Hooks, deny func(string) bool, units ...*uast.CompileUnit) *Driver {
	t.Helper()
	ctx := interp.NewAnalysisContext(config.NewDefaultConfig().Engine(), zaptest.NewLogger(t), h, nil)
	for _, u := range units {
		ctx.AddUnit(u)
	}
	d, err := New(interp.New(ctx), zaptest.NewLogger(t), deny)
	require.NoError(t, err)
	return d
}

func unit(uri string, body ...uast.Node) *uast.CompileUnit {
	return &uast.CompileUnit{URI: uri, Language: "javascript", Body: body}
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	_, err := New(nil, zaptest.NewLogger(t), nil)
	assert.Error(t, err)
}

func TestEntryPointKey(t *testing.T) {
	assert.Equal(t, "a.js#file-begin#", FileBegin("a.js").Key())
	ep := EntryPoint{Kind: KindFunction, File: "a.js", Function: "Api.get", Attribute: "GET"}
	assert.Equal(t, "a.js#Api.get#GET", ep.Key())
}

func TestRunDeduplicatesEntryPoints(t *testing.T) {
	h := &recorder{}
	d := newDriver(t, h, nil, unit("app.js", stmt(call(ident("sink"), call(ident("source"))))))

	s, err := d.Run(context.Background(), []EntryPoint{FileBegin("app.js"), FileBegin("app.js")})
	require.NoError(t, err)
	assert.Equal(t, Summary{Interpreted: 1, Skipped: 1}, s)
	assert.Equal(t, []string{"app.js#file-begin#"}, h.entries)
	assert.Equal(t, 1, h.started)
	require.Len(t, h.sinks, 1)
	assert.True(t, taint.IsTainted(h.sinks[0][0]))

	// Keys seen by an earlier run stay seen.
	s, err = d.Run(context.Background(), []EntryPoint{FileBegin("app.js")})
	require.NoError(t, err)
	assert.Equal(t, Summary{Skipped: 1}, s)
}

func TestFunctionEntryPointGetsPlaceholders(t *testing.T) {
	h := &recorder{}
	handle := fn("handle", []string{"req"}, stmt(call(ident("sink"), dot(ident("req"), "query"))))
	handle.Parameters[0].VarType = "Request"
	d := newDriver(t, h, nil, unit("app.js", handle))

	s, err := d.Run(context.Background(), []EntryPoint{{Kind: KindFunction, File: "app.js", Function: "handle"}})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Interpreted)

	require.Len(t, h.args, 1)
	require.Len(t, h.args[0], 1)
	req, ok := h.args[0][0].(*value.Object)
	require.True(t, ok)
	assert.Equal(t, "req", req.Attrs().ID().Scoped)
	assert.Equal(t, "Request", req.Attrs().TypeName)

	require.Len(t, h.sinks, 1)
	query, ok := req.Fields().Get("query")
	require.True(t, ok, "member reads on the placeholder are recorded")
	assert.Same(t, query, h.sinks[0][0])
}

func TestPlaceholderResolvesAgainstCalleeScope(t *testing.T) {
	h := &recorder{}
	handle := fn("handle", []string{"config"}, stmt(call(ident("sink"), ident("config"))))
	d := newDriver(t, h, nil, unit("app.js",
		&uast.VariableDeclaration{ID: ident("config"), Init: call(ident("source"))},
		handle,
	))

	_, err := d.Run(context.Background(), []EntryPoint{{Kind: KindFunction, File: "app.js", Function: "handle"}})
	require.NoError(t, err)
	require.Len(t, h.sinks, 1)
	assert.True(t, taint.IsTainted(h.sinks[0][0]), "the module binding named like the parameter is passed in")
}

func TestMethodEntryPointRunsConstructorFirst(t *testing.T) {
	h := &recorder{}
	ctor := fn(uast.ConstructorName, nil, stmt(&uast.AssignmentExpression{
		Operator: "=",
		Left:     dot(&uast.ThisExpression{}, "db"),
		Right:    call(ident("source")),
	}))
	ctor.Constructor = true
	run := fn("run", nil, stmt(call(ident("sink"), dot(&uast.ThisExpression{}, "db"))))
	class := &uast.ClassDefinition{Name: ident("Service"), Body: []uast.Node{ctor, run}}
	d := newDriver(t, h, nil, unit("svc.js", class))

	s, err := d.Run(context.Background(), []EntryPoint{{Kind: KindFunction, File: "svc.js", Function: "Service.run"}})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Interpreted)
	require.Len(t, h.sinks, 1)
	assert.True(t, taint.IsTainted(h.sinks[0][0]))
}

func TestRefreshClearsStaleSourceValues(t *testing.T) {
	body := func() []uast.Node {
		return []uast.Node{
			&uast.VariableDeclaration{ID: ident("cached"), Init: call(ident("source"))},
			fn("use", nil, stmt(call(ident("sink"), ident("cached")))),
		}
	}
	eps := []EntryPoint{FileBegin("app.js"), {Kind: KindFunction, File: "app.js", Function: "use"}}

	tests := []struct {
		name    string
		deny    func(string) bool
		tainted bool
	}{
		{name: "no denylist", deny: nil, tainted: true},
		{name: "denied id", deny: func(qid string) bool { return qid == "source()" }, tainted: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recorder{}
			d := newDriver(t, h, tt.deny, unit("app.js", body()...))
			s, err := d.Run(context.Background(), eps)
			require.NoError(t, err)
			assert.Equal(t, 2, s.Interpreted)
			require.Len(t, h.sinks, 1)
			assert.Equal(t, tt.tainted, taint.IsTainted(h.sinks[0][0]))
		})
	}
}

func TestUnknownFunctionFailsWithoutAborting(t *testing.T) {
	h := &recorder{}
	d := newDriver(t, h, nil, unit("app.js"))
	s, err := d.Run(context.Background(), []EntryPoint{
		{Kind: KindFunction, File: "app.js", Function: "missing"},
		{Kind: KindFileBegin, File: "other.js"},
		FileBegin("app.js"),
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Interpreted: 1, Failed: 2}, s)
}

func TestCancelledContextIsReportedAsTimeout(t *testing.T) {
	d := newDriver(t, &recorder{}, nil, unit("app.js"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := d.Run(ctx, []EntryPoint{FileBegin("app.js")})
	require.Error(t, err)
	assert.True(t, issues.IsAbort(err), "timeouts outweigh the default tolerance")
	assert.Equal(t, Summary{}, s)
}

func TestCollect(t *testing.T) {
	r, err := rules.Parse([]byte(`
entrypoints:
  - {file: 'src/*.js', function: main, attribute: cli}
`))
	require.NoError(t, err)

	units := []*uast.CompileUnit{unit("src/b.js"), unit("lib/x.js"), unit("src/a.js")}
	eps := Collect(units, r.EntryPoints)

	keys := make([]string, 0, len(eps))
	for _, ep := range eps {
		keys = append(keys, ep.Key())
	}
	assert.Equal(t, []string{
		"lib/x.js#file-begin#",
		"src/a.js#file-begin#",
		"src/b.js#file-begin#",
		"src/a.js#main#cli",
		"src/b.js#main#cli",
	}, keys)
}

func TestRunFlushesUnawaitedFutures(t *testing.T) {
	h := &recorder{}
	callback := &uast.FunctionDefinition{
		Parameters: []*uast.VariableDeclaration{{ID: ident("v")}},
		Body:       &uast.ScopedStatement{Body: []uast.Node{stmt(call(ident("sink"), ident("v")))}},
	}
	d := newDriver(t, h, nil, unit("app.js",
		&uast.VariableDeclaration{ID: ident("f"), Init: &uast.NewExpression{Callee: ident("CompletableFuture")}},
		stmt(call(dot(ident("f"), "thenAccept"), callback)),
	))

	s, err := d.Run(context.Background(), []EntryPoint{FileBegin("app.js")})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Interpreted)
	assert.Len(t, h.sinks, 1, "the callback runs before the entry point ends")
}

package builtins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/internal/engine/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// fakeInvoker runs native callbacks directly and records every invocation.
type fakeInvoker struct {
	calls []string
}

func (f *fakeInvoker) Invoke(callee, receiver value.Value, args []value.Value, site uast.Node) value.Value {
	fn, ok := callee.(*value.Function)
	if !ok || fn.Native == nil {
		return value.NewUndefined(value.ID{Local: "unknown"})
	}
	f.calls = append(f.calls, fn.Attrs().ID().Local)
	return fn.Native(&value.Call{Invoker: f, Receiver: receiver, Args: args, Site: site})
}

func (f *fakeInvoker) CloneDepth() int { return 3 }

type fixture struct {
	reg *Registry
	inv *fakeInvoker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{reg: NewRegistry(zaptest.NewLogger(t)), inv: &fakeInvoker{}}
}

func (f *fixture) call(s *value.Scope, name string, args ...value.Value) value.Value {
	return f.reg.Method(s, name).Native(&value.Call{Invoker: f.inv, Receiver: s, Args: args})
}

func (f *fixture) static(t *testing.T, name string, args ...value.Value) value.Value {
	t.Helper()
	fn, ok := f.reg.Static(name)
	require.True(t, ok, "static %s should be known", name)
	return fn(&value.Call{Invoker: f.inv, Args: args})
}

func (f *fixture) construct(t *testing.T, name string, args ...value.Value) *value.Scope {
	t.Helper()
	typ, ok := f.reg.Constructor(name)
	require.True(t, ok, "constructor %s should be known", name)
	return f.reg.Construct(typ, &value.Call{Invoker: f.inv, Args: args})
}

func lit(s string) *value.Primitive { return value.NewLiteral(s, uast.LiteralString) }

func num(n string) *value.Primitive { return value.NewLiteral(n, uast.LiteralNumber) }

func tainted(name string) *value.Primitive {
	p := value.NewSymbolicPrimitive(value.ID{Local: name, Scoped: name, Qualified: name}, uast.LiteralString)
	taint.Mark(p, value.NewTagSet("XSS"), uast.Location{File: "app.js", StartLine: 1}, taint.RoleSource)
	return p
}

func callback(name string, fn func(args []value.Value) value.Value) *value.Function {
	return value.NewNative(value.ID{Local: name}, func(c *value.Call) value.Value { return fn(c.Args) })
}

func TestListLiteralIndices(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name        string
		taintSecond bool
	}{
		{name: "tainted second element", taintSecond: true},
		{name: "clean second element", taintSecond: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := f.construct(t, "ArrayList")
			second := value.Value(lit("b"))
			if tt.taintSecond {
				second = tainted("input")
			}
			f.call(list, "add", num("0"), lit("a"))
			f.call(list, "add", num("1"), second)
			f.call(list, "add", num("2"), lit("c"))

			got := f.call(list, "get", num("1"))
			assert.Same(t, second, got)
			assert.Equal(t, tt.taintSecond, taint.IsTainted(got))
			assert.False(t, taint.IsTainted(f.call(list, "get", num("0"))))
			assert.True(t, list.Container.Precise())
		})
	}
}

func TestListDynamicIndexDegrades(t *testing.T) {
	f := newFixture(t)
	list := f.construct(t, "ArrayList")
	f.call(list, "add", num("0"), lit("a"))
	f.call(list, "add", num("1"), tainted("input"))
	f.call(list, "add", num("2"), lit("c"))

	dynamic := value.NewSymbolicPrimitive(value.ID{Local: "i"}, uast.LiteralNumber)
	f.call(list, "add", dynamic, lit("d"))
	require.False(t, list.Container.Precise())

	got := f.call(list, "get", num("0"))
	assert.Same(t, list, got, "imprecise reads return the whole container")
	assert.True(t, taint.IsTainted(got))
	assert.Equal(t, 0, list.Fields().Len())
	assert.Len(t, list.Container.Overflow, 4)
}

func TestDegradationIsOneWay(t *testing.T) {
	f := newFixture(t)
	list := f.construct(t, "ArrayList")
	f.call(list, "addAll", f.static(t, "List.of", lit("x")))
	require.False(t, list.Container.Precise())

	for _, op := range []string{"clear", "add", "set", "get", "iterator", "size"} {
		f.call(list, op, num("0"), lit("y"))
		assert.False(t, list.Container.Precise(), "after %s", op)
	}
}

func TestListPushPopByType(t *testing.T) {
	f := newFixture(t)

	stack := f.construct(t, "Stack")
	f.call(stack, "push", lit("a"))
	f.call(stack, "push", lit("b"))
	assert.Equal(t, "b", f.call(stack, "peek").(*value.Primitive).Literal)
	assert.Equal(t, "b", f.call(stack, "pop").(*value.Primitive).Literal)

	deque := f.construct(t, "ArrayDeque")
	f.call(deque, "push", lit("a"))
	f.call(deque, "push", lit("b"))
	assert.Equal(t, "b", f.call(deque, "pop").(*value.Primitive).Literal)
	assert.Equal(t, "a", f.call(deque, "poll").(*value.Primitive).Literal)
	assert.True(t, value.IsUndefined(f.call(deque, "poll")))
}

func TestMapKeySignatures(t *testing.T) {
	f := newFixture(t)
	m := f.construct(t, "HashMap")
	secret := tainted("secret")

	assert.True(t, value.IsUndefined(f.call(m, "put", lit("a"), lit("1"))))
	f.call(m, "put", lit("b"), secret)
	old := f.call(m, "put", lit("a"), lit("2"))
	assert.Equal(t, "1", old.(*value.Primitive).Literal)
	assert.Equal(t, 2, m.Fields().Len(), "one entry per distinct key signature")

	assert.Same(t, secret, f.call(m, "get", lit("b")))
	assert.False(t, taint.IsTainted(f.call(m, "get", lit("a"))))
	assert.Equal(t, "true", f.call(m, "containsKey", lit("a")).(*value.Primitive).Literal)
	assert.Equal(t, "false", f.call(m, "has", lit("zzz")).(*value.Primitive).Literal)

	objKey := value.NewObject(value.ID{Local: "k"}, nil)
	f.call(m, "put", objKey, lit("obj"))
	assert.Equal(t, "obj", f.call(m, "get", objKey).(*value.Primitive).Literal)
	assert.True(t, m.Container.Precise())

	dynamic := value.NewSymbolicPrimitive(value.ID{Local: "k"}, uast.LiteralString)
	got := f.call(m, "get", dynamic)
	assert.False(t, m.Container.Precise())
	assert.Same(t, m, got)
	assert.True(t, taint.IsTainted(got))
}

func TestMapViewsSharePrecision(t *testing.T) {
	f := newFixture(t)
	m := f.construct(t, "HashMap")
	f.call(m, "put", lit("a"), tainted("v"))
	f.call(m, "put", lit("b"), lit("clean"))

	keys, ok := IsBuiltin(f.call(m, "keySet"))
	require.True(t, ok)
	assert.True(t, keys.Container.SharesPrecision(m.Container))
	assert.Same(t, m, keys.Parent())
	assert.Equal(t, 2, keys.Fields().Len())
	assert.False(t, taint.IsTainted(keys), "keys are clean")

	vals, ok := IsBuiltin(f.call(m, "values"))
	require.True(t, ok)
	assert.True(t, taint.IsTainted(vals))

	f.call(m, "putAll", f.construct(t, "HashMap"))
	assert.False(t, keys.Container.Precise(), "views observe the shared flag")
	assert.Same(t, keys, f.call(keys, "next"))
}

func TestMapForEachVisitsEntries(t *testing.T) {
	f := newFixture(t)
	m := f.construct(t, "Map")
	f.call(m, "set", lit("q"), tainted("query"))

	var seen []value.Value
	cb := callback("visit", func(args []value.Value) value.Value {
		seen = append(seen, args...)
		return value.NewUndefined(value.ID{Local: "void"})
	})
	f.call(m, "forEach", cb)
	require.Len(t, seen, 2)
	assert.True(t, taint.IsTainted(seen[0]))
}

func TestSetMembership(t *testing.T) {
	f := newFixture(t)
	s := f.construct(t, "HashSet")
	f.call(s, "add", lit("a"))
	f.call(s, "add", lit("a"))
	assert.Equal(t, 1, s.Fields().Len())
	assert.Equal(t, "true", f.call(s, "contains", lit("a")).(*value.Primitive).Literal)
	assert.Equal(t, "true", f.call(s, "remove", lit("a")).(*value.Primitive).Literal)
	assert.Equal(t, 0, s.Fields().Len())
}

func TestStringBuilder(t *testing.T) {
	f := newFixture(t)

	sb := f.construct(t, "StringBuilder", lit("a"))
	f.call(sb, "append", lit("b"))
	got := f.call(sb, "toString")
	assert.Equal(t, "ab", got.(*value.Primitive).Literal)
	assert.True(t, got.(*value.Primitive).Concrete)

	f.call(sb, "append", tainted("name"))
	got = f.call(sb, "toString")
	assert.False(t, got.(*value.Primitive).Concrete)
	assert.True(t, taint.IsTainted(got))
	assert.NotEmpty(t, got.Attrs().Trace())
}

func TestFutureContinuationsRunOnceResolved(t *testing.T) {
	f := newFixture(t)
	supplier := callback("supplier", func([]value.Value) value.Value { return tainted("body") })
	upper := callback("upper", func(args []value.Value) value.Value {
		out := value.NewSymbolicPrimitive(value.ID{Local: "upper()"}, uast.LiteralString)
		taint.Propagate(out, args[0], uast.Location{}, taint.RolePropagate)
		return out
	})
	var accepted value.Value
	accept := callback("accept", func(args []value.Value) value.Value {
		accepted = args[0]
		return value.NewUndefined(value.ID{Local: "void"})
	})

	fut, ok := IsBuiltin(f.static(t, "CompletableFuture.supplyAsync", supplier))
	require.True(t, ok)
	assert.Equal(t, []string{"supplier"}, f.inv.calls, "the supplier runs inline")

	f.call(fut, "thenApply", upper)
	f.call(fut, "thenAccept", accept)
	assert.Equal(t, []string{"supplier", "upper", "accept"}, f.inv.calls, "a resolved future runs stages as they are chained")
	assert.Empty(t, fut.Container.Continuations)
	require.NotNil(t, accepted)
	assert.True(t, taint.IsTainted(accepted))

	result := f.call(fut, "join")
	assert.Equal(t, []string{"supplier", "upper", "accept"}, f.inv.calls, "join does not replay stages")
	assert.Equal(t, "upper()", result.Attrs().ID().Local)
	assert.Same(t, result, accepted)
	assert.Zero(t, f.reg.Flush(f.inv))
}

func TestPendingFutureContinuations(t *testing.T) {
	t.Run("complete runs waiting stages", func(t *testing.T) {
		f := newFixture(t)
		var accepted value.Value
		accept := callback("accept", func(args []value.Value) value.Value {
			accepted = args[0]
			return value.NewUndefined(value.ID{Local: "void"})
		})
		fut := f.construct(t, "CompletableFuture")
		f.call(fut, "thenAccept", accept)
		assert.Empty(t, f.inv.calls, "nothing to feed the stage yet")

		body := tainted("body")
		f.call(fut, "complete", body)
		assert.Equal(t, []string{"accept"}, f.inv.calls)
		assert.Same(t, body, accepted)
		assert.Zero(t, f.reg.Flush(f.inv))
	})

	t.Run("flush runs stages of a never completed future", func(t *testing.T) {
		f := newFixture(t)
		accept := callback("accept", func([]value.Value) value.Value {
			return value.NewUndefined(value.ID{Local: "void"})
		})
		fut := f.construct(t, "CompletableFuture")
		f.call(fut, "thenAccept", accept)
		assert.Empty(t, f.inv.calls)

		assert.Equal(t, 1, f.reg.Flush(f.inv))
		assert.Equal(t, []string{"accept"}, f.inv.calls)
		assert.Zero(t, f.reg.Flush(f.inv), "flushed futures are settled")
	})
}

func TestPromiseAwait(t *testing.T) {
	f := newFixture(t)
	body := tainted("body")
	executor := callback("executor", func(args []value.Value) value.Value {
		resolve := args[0].(*value.Function)
		return resolve.Native(&value.Call{Args: []value.Value{body}})
	})
	p := f.construct(t, "Promise", executor)
	assert.Same(t, body, Settle(p, f.inv))

	resolved := f.static(t, "Promise.resolve", lit("x"))
	assert.Equal(t, "x", Settle(resolved, f.inv).(*value.Primitive).Literal)

	plain := lit("plain")
	assert.Same(t, plain, Settle(plain, f.inv))
}

func TestExecutorSubmitRunsInline(t *testing.T) {
	f := newFixture(t)
	exec := f.static(t, "Executors.newFixedThreadPool", num("4")).(*value.Scope)
	task := callback("task", func([]value.Value) value.Value { return tainted("out") })

	fut, ok := IsBuiltin(f.call(exec, "submit", task))
	require.True(t, ok)
	assert.Equal(t, []string{"task"}, f.inv.calls)
	assert.True(t, taint.IsTainted(f.call(fut, "get")))
}

func TestUnknownMethodDegrades(t *testing.T) {
	f := newFixture(t)
	list := f.static(t, "Arrays.asList", lit("a"), lit("b")).(*value.Scope)
	require.True(t, list.Container.Precise())
	assert.False(t, f.reg.HasMethod(list, "frobnicate"))

	got := f.call(list, "frobnicate", tainted("x"))
	assert.Same(t, list, got)
	assert.False(t, list.Container.Precise())
	assert.True(t, taint.IsTainted(list))
}

func TestIndexAndSetIndex(t *testing.T) {
	f := newFixture(t)
	arr := NewList(value.ID{Local: "arr"}, []value.Value{lit("a"), lit("b")})

	assert.Equal(t, "b", f.reg.Index(arr, num("1"), f.inv, nil).(*value.Primitive).Literal)
	f.reg.SetIndex(arr, num("2"), tainted("c"), f.inv, nil)
	assert.Equal(t, 3, arr.Container.Length)
	assert.True(t, taint.IsTainted(f.reg.Index(arr, num("2"), f.inv, nil)))

	length, ok := f.reg.Property(arr, "length", f.inv, nil)
	require.True(t, ok)
	assert.Equal(t, "3", length.(*value.Primitive).Literal)
}

func TestConstructorNames(t *testing.T) {
	f := newFixture(t)
	tests := map[string]string{
		"java.util.ArrayList":    TypeList,
		"HashMap<String,String>": TypeMap,
		"StringBuffer":           TypeStringBuilder,
		"CompletableFuture":      TypeFuture,
		"Map":                    TypeMap,
	}
	for name, want := range tests {
		got, ok := f.reg.Constructor(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := f.reg.Constructor("Widget")
	assert.False(t, ok)
}

func TestObjectHelpers(t *testing.T) {
	f := newFixture(t)
	obj := value.NewObject(value.ID{Local: "o"}, nil)
	obj.SetField("q", tainted("q"))
	obj.SetField("n", num("1"))

	keys := f.static(t, "Object.keys", obj).(*value.Scope)
	assert.Equal(t, 2, keys.Container.Length)
	assert.False(t, taint.IsTainted(keys))

	vals := f.static(t, "Object.values", obj).(*value.Scope)
	assert.True(t, taint.IsTainted(vals))
}

func TestEntrySetValueWritesThrough(t *testing.T) {
	f := newFixture(t)
	m := f.construct(t, "HashMap")
	f.call(m, "put", lit("k"), lit("safe"))
	require.False(t, taint.IsTainted(f.call(m, "get", lit("k"))))

	it := f.call(f.call(m, "entrySet").(*value.Scope), "iterator").(*value.Scope)
	entry, ok := IsBuiltin(f.call(it, "next"))
	require.True(t, ok)
	assert.Equal(t, "k", f.call(entry, "getKey").(*value.Primitive).Literal)

	f.call(entry, "setValue", tainted("input"))
	assert.True(t, taint.IsTainted(f.call(entry, "getValue")))
	assert.True(t, m.Container.Precise(), "a pinned slot is updated in place")
	assert.True(t, taint.IsTainted(f.call(m, "get", lit("k"))))
}

func TestListRemoveUnpinnableIndexDegrades(t *testing.T) {
	for _, idx := range []string{"0x1", "1L", "-1"} {
		t.Run(idx, func(t *testing.T) {
			f := newFixture(t)
			list := f.static(t, "Arrays.asList", tainted("first"), lit("second")).(*value.Scope)
			require.True(t, list.Container.Precise())

			got := f.call(list, "remove", num(idx))
			assert.Same(t, list, got)
			assert.False(t, list.Container.Precise())
			assert.Len(t, list.Container.Overflow, 2, "no element is dropped")
			assert.True(t, taint.IsTainted(list))
		})
	}
}

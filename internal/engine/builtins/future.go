package builtins

import (
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
)

var (
	futureMethods   map[string]method
	executorMethods map[string]method
)

func init() {
	futureMethods = map[string]method{
		"get":          futureJoin,
		"join":         futureJoin,
		"getNow":       futureJoin,
		"resultNow":    futureJoin,
		"complete":     futureComplete,
		"obtrudeValue": futureComplete,
		"isDone":       symbolicBool,
		"isCancelled":  symbolicBool,
		"cancel":       symbolicBool,
	}
	for _, name := range []string{
		"then", "thenApply", "thenApplyAsync", "thenCompose", "thenComposeAsync",
		"thenAccept", "thenAcceptAsync", "thenRun", "thenRunAsync", "thenCombine",
		"handle", "handleAsync", "whenComplete", "whenCompleteAsync",
		"exceptionally", "catch", "finally",
	} {
		futureMethods[name] = futureChain
	}
	for _, name := range []string{"completeExceptionally", "orTimeout", "completeOnTimeout"} {
		futureMethods[name] = builderSelf
	}

	executorMethods = map[string]method{
		"awaitTermination": symbolicBool,
		"isShutdown":       symbolicBool,
		"isTerminated":     symbolicBool,
		"shutdown":         undefinedMethod,
		"shutdownNow":      func(s *value.Scope, c *value.Call) value.Value { return newList(resultID(c), nil) },
		"close":            undefinedMethod,
		"invokeAll":        executorInvokeAll,
		"invokeAny":        executorInvokeAny,
	}
	for _, name := range []string{"submit", "execute", "schedule", "scheduleAtFixedRate", "scheduleWithFixedDelay", "runAsync", "supplyAsync"} {
		executorMethods[name] = executorSubmit
	}
}

func undefinedMethod(s *value.Scope, c *value.Call) value.Value { return undefinedResult(c) }

// newFuture creates a future already resolved to result.
func newFuture(id value.ID, result value.Value) *value.Scope {
	f := value.NewBuiltinScope(id, TypeFuture, nil)
	f.Container.Result = result
	if result != nil && result.Attrs().HasTaintedDescendant() {
		f.Attrs().SetTaintedDescendant()
	}
	return f
}

// isFuture reports whether v is a simulated future.
func isFuture(v value.Value) (*value.Scope, bool) {
	s, ok := v.(*value.Scope)
	if !ok || s.Container == nil || s.Container.Type != TypeFuture {
		return nil, false
	}
	return s, true
}

// futureChain records a continuation. A future that already holds a result
// runs it at once; an unresolved one keeps it until completed, joined or
// flushed at the end of the entry point.
func futureChain(s *value.Scope, c *value.Call) value.Value {
	for _, a := range c.Args {
		if _, isFn := a.(*value.Function); isFn {
			s.Container.Continuations = append(s.Container.Continuations, value.Continuation{Method: c.Name, Callback: a})
			continue
		}
		// thenCombine(other, fn): the other stage's result feeds the callback.
		if other, ok := isFuture(a); ok {
			s.Container.Continuations = append(s.Container.Continuations, value.Continuation{Method: "combine", Callback: other})
		}
	}
	if s.Container.Result != nil {
		settle(s, c)
	}
	return s
}

func futureComplete(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return boolLiteral(false)
	}
	if s.Container.Result == nil || value.IsUndefined(s.Container.Result) {
		s.Container.Result = c.Args[0]
	} else {
		s.Container.Result = value.Join(s.Container.Result, c.Args[0])
	}
	if len(s.Container.Continuations) > 0 {
		settle(s, c)
	}
	return boolLiteral(true)
}

func futureJoin(s *value.Scope, c *value.Call) value.Value {
	result := settle(s, c)
	if c.Name == "getNow" && len(c.Args) > 0 {
		return value.Join(result, c.Args[0])
	}
	return result
}

// settle replays pending continuations in order, threading the result
// through each stage, and returns the final result.
func settle(s *value.Scope, c *value.Call) value.Value {
	ct := s.Container
	result := ct.Result
	if result == nil {
		result = value.NewUndefined(value.ChildID(s.Attrs().ID(), "result"))
	}
	pending := ct.Continuations
	ct.Continuations = nil
	var combined value.Value
	for _, k := range pending {
		switch k.Method {
		case "combine":
			if other, ok := isFuture(k.Callback); ok {
				combined = settle(other, c)
			}
		case "thenAccept", "thenAcceptAsync", "thenRun", "thenRunAsync":
			invoke(c, k.Callback, result)
		case "whenComplete", "whenCompleteAsync":
			invoke(c, k.Callback, result, undefinedResult(c))
		case "finally":
			invoke(c, k.Callback)
		case "exceptionally", "catch":
			result = value.Join(result, unwrap(invoke(c, k.Callback, undefinedResult(c)), c))
		case "handle", "handleAsync":
			result = unwrap(invoke(c, k.Callback, result, undefinedResult(c)), c)
		case "thenCombine":
			args := []value.Value{result}
			if combined != nil {
				args = append(args, combined)
			}
			result = unwrap(invoke(c, k.Callback, args...), c)
		default:
			result = unwrap(invoke(c, k.Callback, result), c)
		}
	}
	ct.Result = result
	return result
}

// pending reports whether s is a future with continuations still waiting.
func pending(s *value.Scope) bool {
	return s.Container != nil && s.Container.Type == TypeFuture && len(s.Container.Continuations) > 0
}

// unwrap flattens a stage that returned another future (thenCompose, promise chains).
func unwrap(v value.Value, c *value.Call) value.Value {
	if f, ok := isFuture(v); ok {
		return settle(f, c)
	}
	return v
}

// Settle returns what awaiting v yields: the settled result of a future, or v itself.
func Settle(v value.Value, inv value.Invoker) value.Value {
	var alts []value.Value
	changed := false
	for _, alt := range value.Alternatives(v) {
		if f, ok := isFuture(alt); ok {
			alts = append(alts, settle(f, &value.Call{Invoker: inv, Name: "await", Receiver: f}))
			changed = true
			continue
		}
		alts = append(alts, alt)
	}
	if !changed {
		return v
	}
	return value.Join(alts...)
}

// executorSubmit runs the task inline and returns a future holding its result.
func executorSubmit(s *value.Scope, c *value.Call) value.Value {
	var result value.Value
	if cb := callbackArg(c); cb != nil {
		result = invoke(c, cb)
	} else {
		result = undefinedResult(c)
	}
	// submit(runnable, result) completes with the given value.
	if c.Name == "submit" && len(c.Args) > 1 {
		result = value.Join(result, c.Args[1])
	}
	return newFuture(resultID(c), unwrap(result, c))
}

// runTasks invokes every callable in a task collection.
func runTasks(c *value.Call) []value.Value {
	var results []value.Value
	for _, a := range c.Args {
		for _, task := range elemsOf(a) {
			if _, ok := task.(*value.Function); ok {
				results = append(results, unwrap(invoke(c, task), c))
			}
		}
	}
	return results
}

func executorInvokeAll(s *value.Scope, c *value.Call) value.Value {
	out := newList(resultID(c), nil)
	for _, r := range runTasks(c) {
		appendElem(out, newFuture(value.ChildID(resultID(c), "task"), r))
	}
	return out
}

func executorInvokeAny(s *value.Scope, c *value.Call) value.Value {
	results := runTasks(c)
	if len(results) == 0 {
		return undefinedResult(c)
	}
	return value.Join(results...)
}

// promiseExecutor runs the executor callback of new Promise((resolve, reject) => ...).
func promiseExecutor(f *value.Scope, c *value.Call) {
	cb := callbackArg(c)
	if cb == nil {
		return
	}
	resolve := value.NewNative(value.ChildID(f.Attrs().ID(), "resolve"), func(rc *value.Call) value.Value {
		if len(rc.Args) > 0 {
			futureComplete(f, rc)
		}
		return value.NewUndefined(value.ChildID(f.Attrs().ID(), "resolve()"))
	})
	reject := value.NewNative(value.ChildID(f.Attrs().ID(), "reject"), func(rc *value.Call) value.Value {
		return value.NewUndefined(value.ChildID(f.Attrs().ID(), "reject()"))
	})
	invoke(c, cb, resolve, reject)
}

// settledAll resolves every argument, or every element of an iterable
// argument, and returns the list of results.
func settledAll(c *value.Call) *value.Scope {
	out := newList(resultID(c), nil)
	for _, a := range c.Args {
		for _, it := range elemsOf(a) {
			appendElem(out, unwrap(it, c))
		}
	}
	return out
}

package interp

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/engine/issues"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// abort carries a fatal handler decision up through the recursive descent.
type abort struct{ err error }

// Interpreter evaluates syntax nodes over symbolic values. It is not safe for
// concurrent use; each entry point runs to completion before the next starts.
type Interpreter struct {
	ctx    *AnalysisContext
	logger *zap.Logger
	st     *State
}

// New returns an interpreter bound to ctx.
func New(ctx *AnalysisContext) *Interpreter {
	return &Interpreter{
		ctx:    ctx,
		logger: ctx.Logger.Named("interp"),
		st:     newState(""),
	}
}

// Context returns the shared analysis context.
func (in *Interpreter) Context() *AnalysisContext { return in.ctx }

// State returns the execution state of the current entry point.
func (in *Interpreter) State() *State { return in.st }

// Begin resets the execution state for a new entry point.
func (in *Interpreter) Begin(entry string) *State {
	in.st = newState(entry)
	return in.st
}

// CloneDepth is the clone depth the memory budget currently allows.
func (in *Interpreter) CloneDepth() int {
	return in.ctx.Budget.CloneDepth()
}

// run executes fn, converting a fatal issue into an error.
func (in *Interpreter) run(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a, ok := r.(abort)
			if !ok {
				panic(r)
			}
			err = a.err
		}
	}()
	fn()
	return nil
}

// report funnels an issue through the handler and unwinds if it is fatal.
func (in *Interpreter) report(issue issues.Issue) {
	if err := in.ctx.Issues.Handle(issue); err != nil {
		panic(abort{err: err})
	}
}

// guard runs one statement, turning a panic into an EngineError so a single
// bad node never takes down the traversal.
func (in *Interpreter) guard(n uast.Node, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if a, ok := r.(abort); ok {
			panic(a)
		}
		cause := r
		if err, ok := r.(error); ok {
			cause = fmt.Errorf("recovered: %w", err)
		}
		in.report(&issues.EngineError{Node: n, Cause: cause})
	}()
	fn()
}

func (in *Interpreter) event(scope *value.Scope, n uast.Node) *Event {
	return &Event{Scope: scope, Node: n, State: in.st}
}

// Eval evaluates n in scope and returns its value. Statements evaluate to Undefined.
func (in *Interpreter) Eval(scope *value.Scope, n uast.Node) value.Value {
	if n == nil {
		return value.NewUndefined(value.ID{Local: "undefined"})
	}
	switch t := n.(type) {
	case *uast.Identifier:
		return in.evalIdentifier(scope, t)
	case *uast.Literal:
		return value.NewLiteral(t.Value, t.LiteralKind)
	case *uast.MemberAccess:
		return in.evalMember(scope, t, false)
	case *uast.CallExpression:
		return in.evalCall(scope, t)
	case *uast.NewExpression:
		return in.evalNew(scope, t)
	case *uast.BinaryExpression:
		return in.evalBinary(scope, t)
	case *uast.UnaryExpression:
		return in.evalUnary(scope, t)
	case *uast.AssignmentExpression:
		return in.evalAssignment(scope, t)
	case *uast.ConditionalExpression:
		return in.evalConditional(scope, t)
	case *uast.ObjectExpression:
		return in.evalObject(scope, t)
	case *uast.TupleExpression:
		return in.evalTuple(scope, t)
	case *uast.FunctionDefinition:
		return in.evalFunction(scope, t)
	case *uast.ClassDefinition:
		return in.evalClass(scope, t)
	case *uast.ThisExpression:
		return in.lookupThis(scope)
	case *uast.SuperExpression:
		if proxy := in.superOf(scope); proxy != nil {
			return proxy
		}
		return value.NewUndefined(value.ID{Local: "super", Scoped: "super"})
	case *uast.AwaitExpression:
		return in.evalAwait(scope, t)
	case *uast.ImportExpression:
		return in.evalImport(scope, t)
	case *uast.SpreadElement:
		return in.Eval(scope, t.Argument)
	case *uast.NamedArgument:
		return in.Eval(scope, t.Value)
	case *uast.Noop:
		return value.NewUndefined(value.ID{Local: "undefined"})
	case *uast.VariableDeclaration, *uast.ScopedStatement, *uast.ExpressionStatement,
		*uast.IfStatement, *uast.LoopStatement, *uast.SwitchStatement, *uast.TryStatement,
		*uast.ThrowStatement, *uast.ReturnStatement, *uast.BreakStatement, *uast.ContinueStatement:
		in.exec(scope, n)
		return value.NewUndefined(value.ID{Local: "undefined"})
	default:
		return in.unexpected(n)
	}
}

// unexpected records a construct the dispatcher has no handler for and
// degrades it to Undefined.
func (in *Interpreter) unexpected(n uast.Node) value.Value {
	in.report(&issues.UnexpectedNodeError{Node: n, Kind: n.Kind().String()})
	return value.NewUndefined(value.ID{Local: "undefined"})
}

// RunFile (re-)interprets a whole compile unit in a fresh module scope and
// memoizes the result.
func (in *Interpreter) RunFile(unit *uast.CompileUnit) (*value.Scope, error) {
	var module *value.Scope
	err := in.run(func() {
		module = in.interpretUnit(unit)
	})
	return module, err
}

// LoadModule returns the memoized scope for file, interpreting it on first use.
func (in *Interpreter) LoadModule(file string) (*value.Scope, error) {
	var module *value.Scope
	err := in.run(func() {
		module = in.loadModule(file)
	})
	if err == nil && module == nil {
		return nil, fmt.Errorf("module %s is not part of the program", file)
	}
	return module, err
}

// Call invokes fn with the given receiver and arguments, as an entry point does.
func (in *Interpreter) Call(fn *value.Function, receiver value.Value, args []value.Value, site uast.Node) (value.Value, error) {
	var result value.Value
	err := in.run(func() {
		result = in.invoke(fn, receiver, args, nil, site)
	})
	return result, err
}

// FlushFutures runs the continuations of futures that were chained but never
// completed or awaited during the current entry point.
func (in *Interpreter) FlushFutures() (int, error) {
	n := 0
	err := in.run(func() {
		n = in.ctx.Builtins.Flush(in)
	})
	return n, err
}

// Construct instantiates class and runs its constructors with args.
func (in *Interpreter) Construct(class *value.Scope, args []value.Value, site uast.Node) (*value.Scope, error) {
	var inst *value.Scope
	err := in.run(func() {
		inst = in.instantiate(class, args, nil, site, class.Attrs().ID().Local)
	})
	return inst, err
}

// Invoke calls callee on behalf of a builtin. It implements value.Invoker.
func (in *Interpreter) Invoke(callee value.Value, receiver value.Value, args []value.Value, site uast.Node) value.Value {
	scope := in.ctx.Global
	if f := in.st.top(); f.scope != nil {
		scope = f.scope
	}
	name := valueName(callee)
	return in.call(scope, site, &callSite{
		callee:    callee,
		receiver:  receiver,
		args:      args,
		name:      name,
		qualified: name,
	})
}

// IsAbort reports whether err came from a fatal issue.
func IsAbort(err error) bool {
	var a *issues.AbortError
	return errors.As(err, &a)
}

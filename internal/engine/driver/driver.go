// Package driver runs the interpreter once per distinct entry point.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/engine/interp"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/issues"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Kind tells a function entry point from a whole-file one.
type Kind int

const (
	KindFunction Kind = iota
	KindFileBegin
)

// FileBeginMarker stands in for the function name in file-begin dedup keys.
const FileBeginMarker = "file-begin"

// EntryPoint is one place the driver starts interpretation from.
type EntryPoint struct {
	Kind Kind
	File string
	// Function is the function name, optionally qualified as "Class.method".
	Function  string
	Attribute string
	// Closure skips name resolution when set.
	Closure *value.Function
	// Scope overrides the scope parameter placeholders are resolved against.
	Scope *value.Scope
}

// FileBegin returns the entry point that interprets file from the top.
func FileBegin(file string) EntryPoint {
	return EntryPoint{Kind: KindFileBegin, File: file}
}

// Key is the deduplication key: file, function or file-begin, attribute.
func (e EntryPoint) Key() string {
	fn := e.Function
	if e.Kind == KindFileBegin {
		fn = FileBeginMarker
	}
	return e.File + "#" + fn + "#" + e.Attribute
}

// Summary counts what a run did with its entry points.
type Summary struct {
	Interpreted int
	Skipped     int
	Failed      int
}

// Driver feeds entry points to one interpreter, each exactly once.
type Driver struct {
	in     *interp.Interpreter
	logger *zap.Logger
	deny   func(qid string) bool
	seen   map[string]struct{}
}

// New returns a driver over in. deny selects the qualified ids of values that
// are re-derived on every entry point; their taint is cleared before each
// function entry point. A nil deny disables the refresh.
func New(in *interp.Interpreter, logger *zap.Logger, deny func(qid string) bool) (*Driver, error) {
	if in == nil {
		return nil, errors.New("interpreter cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Driver{
		in:     in,
		logger: logger.Named("driver"),
		deny:   deny,
		seen:   make(map[string]struct{}),
	}, nil
}

// Run interprets every entry point not seen before, in order. A cancelled ctx
// is reported as a timeout and stops the run. The returned error is non-nil
// only when the issue handler aborted the scan.
func (d *Driver) Run(ctx context.Context, eps []EntryPoint) (Summary, error) {
	var s Summary
	actx := d.in.Context()
	actx.Hooks.StartAnalysis(&interp.Event{Scope: actx.Global, State: d.in.State()})

	for _, ep := range eps {
		if err := ctx.Err(); err != nil {
			d.logger.Warn("Context cancelled, stopping before the next entry point.",
				zap.String("entry_point", ep.Key()), zap.Error(err))
			return s, actx.Issues.Handle(&issues.TimeoutError{Path: ep.File, Err: err})
		}

		key := ep.Key()
		if _, dup := d.seen[key]; dup {
			s.Skipped++
			continue
		}
		d.seen[key] = struct{}{}

		d.logger.Debug("Interpreting entry point.", zap.String("entry_point", key))
		err := d.runOne(ep)
		switch {
		case err == nil:
			s.Interpreted++
		case issues.IsAbort(err):
			s.Failed++
			d.logger.Error("Entry point aborted the scan.", zap.String("entry_point", key), zap.Error(err))
			return s, err
		default:
			s.Failed++
			d.logger.Error("Entry point failed.", zap.String("entry_point", key), zap.Error(err))
		}
	}

	d.logger.Info("Entry points processed.",
		zap.Int("interpreted", s.Interpreted),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed))
	return s, nil
}

func (d *Driver) runOne(ep EntryPoint) error {
	st := d.in.Begin(ep.Key())
	if ep.Kind == KindFileBegin {
		return d.runFile(ep, st)
	}
	return d.runFunction(ep, st)
}

func (d *Driver) runFile(ep EntryPoint, st *interp.State) error {
	actx := d.in.Context()
	unit, ok := actx.Unit(ep.File)
	if !ok {
		return fmt.Errorf("file %s is not part of the program", ep.File)
	}
	e := &interp.Event{Scope: actx.Global, Node: unit, State: st, Name: FileBeginMarker}
	actx.Hooks.BeforeEntryPoint(e)
	_, err := d.in.RunFile(unit)
	if err == nil {
		err = d.flush()
	}
	actx.Hooks.AfterEntryPoint(e)
	return err
}

func (d *Driver) runFunction(ep EntryPoint, st *interp.State) error {
	actx := d.in.Context()
	module, err := d.in.LoadModule(ep.File)
	if err != nil {
		return err
	}
	if n := d.refresh(module); n > 0 {
		d.logger.Debug("Cleared stale source values.", zap.String("file", ep.File), zap.Int("count", n))
	}

	fn := ep.Closure
	if fn == nil {
		if fn, err = resolve(module, ep.Function); err != nil {
			return err
		}
	}
	if fn.Def == nil {
		return fmt.Errorf("entry point %s is a native function", ep.Key())
	}

	var receiver value.Value
	if class := fn.BoundTo; class != nil && !uast.HasModifier(class.Modifiers[fn.Def.FunctionName()], "static") {
		inst, err := d.in.Construct(class, nil, fn.Def)
		if err != nil {
			return err
		}
		receiver = inst
	}

	args := d.placeholders(fn, ep.Scope)
	e := &interp.Event{
		Scope:    fn.Captured,
		Node:     fn.Def,
		State:    st,
		Name:     ep.Function,
		Function: fn,
		Object:   receiver,
		Args:     args,
	}
	actx.Hooks.BeforeEntryPoint(e)
	result, err := d.in.Call(fn, receiver, e.Args, fn.Def)
	e.Result = result
	if err == nil {
		err = d.flush()
	}
	actx.Hooks.AfterEntryPoint(e)
	return err
}

// flush runs continuations of futures the entry point chained but never
// awaited, so their callbacks are still interpreted.
func (d *Driver) flush() error {
	_, err := d.in.FlushFutures()
	return err
}

// refresh clears the taint of values whose identity the deny predicate selects.
func (d *Driver) refresh(module *value.Scope) int {
	if d.deny == nil {
		return 0
	}
	return taint.Refresh(module, func(v value.Value) bool {
		id := v.Attrs().ID()
		return d.deny(id.Scoped) || d.deny(id.Qualified) || d.deny(id.Local)
	})
}

// placeholders builds one argument per declared parameter: the binding of the
// same name in the callee's scope when there is one, a fresh symbolic object
// otherwise.
func (d *Driver) placeholders(fn *value.Function, scope *value.Scope) []value.Value {
	if scope == nil {
		scope = fn.Captured
	}
	owner := fn.Attrs().ID()
	args := make([]value.Value, 0, len(fn.Def.Parameters))
	for _, p := range fn.Def.Parameters {
		name := p.ParamName()
		if name != "" && scope != nil {
			if v, _, ok := scope.Resolve(name); ok {
				args = append(args, v)
				continue
			}
		}
		id := value.ChildID(owner, name)
		id.Scoped = name
		obj := value.NewObject(id, p)
		obj.Attrs().TypeName = p.VarType
		args = append(args, obj)
	}
	return args
}

// resolve finds name in module. "Class.method" looks the method up on the class.
func resolve(module *value.Scope, name string) (*value.Function, error) {
	if name == "" {
		return nil, errors.New("function entry point without a function name")
	}
	var v value.Value
	var ok bool
	if class, method, qualified := strings.Cut(name, "."); qualified {
		owner, found := module.Field(class)
		if !found {
			return nil, fmt.Errorf("class %q not found in %s", class, module.File)
		}
		s, isScope := owner.(*value.Scope)
		if !isScope {
			return nil, fmt.Errorf("%q in %s is not a class", class, module.File)
		}
		v, ok = s.LookupMember(method)
	} else {
		v, ok = module.Field(name)
	}
	if !ok {
		return nil, fmt.Errorf("function %q not found in %s", name, module.File)
	}
	for _, alt := range value.Alternatives(v) {
		if fn, isFn := alt.(*value.Function); isFn {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%q in %s is not a function", name, module.File)
}

package interp

import (
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Event is the info bag handed to every hook. Only the fields relevant to the
// hook are set. A hook may replace Result to change what the interpreter uses.
type Event struct {
	Scope *value.Scope
	Node  uast.Node
	State *State

	// Name is the access path as written in source ("req.query.id",
	// "document.write", "Runtime.getRuntime().exec").
	Name string
	// Qualified is the callee's resolved identity when it differs from Name,
	// e.g. "child_process.exec" for a call through an imported binding.
	Qualified string
	// Property is the member or method name for member accesses, calls and assignments.
	Property string
	// Object is the owner of the accessed member, the call receiver, or the
	// assignment target's owner.
	Object value.Value

	Callee   value.Value
	Args     []value.Value
	ArgNodes []uast.Node

	Left  value.Value
	Right value.Value

	// Declaration is the variable or parameter about to be bound.
	Declaration *uast.VariableDeclaration
	// Function is the function whose parameter is being bound, or the entry point's function.
	Function *value.Function

	Result value.Value
}

// File returns the file the event happened in.
func (e *Event) File() string {
	if e.Node != nil {
		if f := e.Node.Loc().File; f != "" {
			return f
		}
	}
	if e.Scope != nil {
		return e.Scope.File
	}
	return ""
}

// Hooks observe interpretation at fixed points. Implementations must not
// retain the Event after returning.
type Hooks interface {
	BeforeCall(e *Event)
	AfterCall(e *Event)
	BeforeConstruct(e *Event)
	AfterConstruct(e *Event)
	OnIdentifier(e *Event)
	OnMemberAccess(e *Event)
	OnBinary(e *Event)
	OnAssign(e *Event)
	PreDeclare(e *Event)
	EndOfBlock(e *Event)
	StartAnalysis(e *Event)
	BeforeEntryPoint(e *Event)
	AfterEntryPoint(e *Event)
}

// NopHooks implements every hook as a no-op. Embed it to override a subset.
type NopHooks struct{}

func (NopHooks) BeforeCall(*Event)       {}
func (NopHooks) AfterCall(*Event)        {}
func (NopHooks) BeforeConstruct(*Event)  {}
func (NopHooks) AfterConstruct(*Event)   {}
func (NopHooks) OnIdentifier(*Event)     {}
func (NopHooks) OnMemberAccess(*Event)   {}
func (NopHooks) OnBinary(*Event)         {}
func (NopHooks) OnAssign(*Event)         {}
func (NopHooks) PreDeclare(*Event)       {}
func (NopHooks) EndOfBlock(*Event)       {}
func (NopHooks) StartAnalysis(*Event)    {}
func (NopHooks) BeforeEntryPoint(*Event) {}
func (NopHooks) AfterEntryPoint(*Event)  {}

// Chain fans every hook out to hs in order. Later hooks see Result as left by earlier ones.
func Chain(hs ...Hooks) Hooks {
	return chain(hs)
}

type chain []Hooks

func (c chain) each(fn func(Hooks)) {
	for _, h := range c {
		if h != nil {
			fn(h)
		}
	}
}

func (c chain) BeforeCall(e *Event)       { c.each(func(h Hooks) { h.BeforeCall(e) }) }
func (c chain) AfterCall(e *Event)        { c.each(func(h Hooks) { h.AfterCall(e) }) }
func (c chain) BeforeConstruct(e *Event)  { c.each(func(h Hooks) { h.BeforeConstruct(e) }) }
func (c chain) AfterConstruct(e *Event)   { c.each(func(h Hooks) { h.AfterConstruct(e) }) }
func (c chain) OnIdentifier(e *Event)     { c.each(func(h Hooks) { h.OnIdentifier(e) }) }
func (c chain) OnMemberAccess(e *Event)   { c.each(func(h Hooks) { h.OnMemberAccess(e) }) }
func (c chain) OnBinary(e *Event)         { c.each(func(h Hooks) { h.OnBinary(e) }) }
func (c chain) OnAssign(e *Event)         { c.each(func(h Hooks) { h.OnAssign(e) }) }
func (c chain) PreDeclare(e *Event)       { c.each(func(h Hooks) { h.PreDeclare(e) }) }
func (c chain) EndOfBlock(e *Event)       { c.each(func(h Hooks) { h.EndOfBlock(e) }) }
func (c chain) StartAnalysis(e *Event)    { c.each(func(h Hooks) { h.StartAnalysis(e) }) }
func (c chain) BeforeEntryPoint(e *Event) { c.each(func(h Hooks) { h.BeforeEntryPoint(e) }) }
func (c chain) AfterEntryPoint(e *Event)  { c.each(func(h Hooks) { h.AfterEntryPoint(e) }) }

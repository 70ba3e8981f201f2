// Package checker turns interpreter events into taint findings using the
// configured source, sink and sanitizer rules.
package checker

import (
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/engine/interp"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/findings"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// TaintChecker marks sources, records sanitizers and reports flows into sinks.
type TaintChecker struct {
	interp.NopHooks

	rules     *rules.Rules
	collector *findings.Collector
	logger    *zap.Logger
	depth     int

	entry    string
	reported int
}

// New returns a checker consulting r and emitting into c. depth bounds the
// search for tainted descendants of a sink argument.
func New(r *rules.Rules, c *findings.Collector, logger *zap.Logger, depth int) *TaintChecker {
	if depth <= 0 || depth > taint.MaxAggregateDepth {
		depth = taint.MaxAggregateDepth
	}
	return &TaintChecker{
		rules:     r,
		collector: c,
		logger:    logger.Named("checker"),
		depth:     depth,
	}
}

// Reported returns the number of new findings emitted so far.
func (c *TaintChecker) Reported() int { return c.reported }

func (c *TaintChecker) OnIdentifier(e *interp.Event) {
	c.markProperty(e)
}

func (c *TaintChecker) OnMemberAccess(e *interp.Event) {
	c.markProperty(e)
}

func (c *TaintChecker) markProperty(e *interp.Event) {
	if e.Result == nil || e.Name == "" {
		return
	}
	loc := location(e.Node)
	fn := ""
	if e.State != nil {
		fn = functionName(e.State.Function())
	}
	for _, src := range c.rules.MatchPropertySource(e.Name, e.File(), fn, loc.StartLine) {
		mark(e.Result, src, loc)
	}
}

// PreDeclare taints a parameter binding when a param source names it. The
// argument itself is left untouched.
func (c *TaintChecker) PreDeclare(e *interp.Event) {
	if e.Function == nil || e.Function.Def == nil || e.Declaration == nil || e.Result == nil {
		return
	}
	if !slices.Contains(e.Function.Def.Parameters, e.Declaration) {
		return
	}
	file := e.File()
	var matched []*rules.Source
	for _, name := range functionNames(e.Function) {
		if matched = c.rules.MatchParamSource(file, name, e.Name); len(matched) > 0 {
			break
		}
	}
	if len(matched) == 0 {
		return
	}
	cp := value.ShallowCopy(e.Result)
	loc := location(e.Declaration)
	for _, src := range matched {
		mark(cp, src, loc)
	}
	e.Result = cp
	c.logger.Debug("Parameter marked as a source.",
		zap.String("function", functionName(e.Function)),
		zap.String("param", e.Name))
}

func (c *TaintChecker) AfterCall(e *interp.Event) {
	if e.Result == nil {
		return
	}
	qids := []string{e.Name, e.Qualified}
	loc := location(e.Node)

	if srcs := c.rules.MatchReturnSource(qids...); len(srcs) > 0 {
		cp := value.ShallowCopy(e.Result)
		for _, src := range srcs {
			mark(cp, src, loc)
		}
		e.Result = cp
	}

	sans := c.rules.MatchSanitizer(qids, typeName(e.Object), e.Property)
	if len(sans) == 0 {
		return
	}
	cp := value.ShallowCopy(e.Result)
	if !taint.IsTainted(cp) {
		inputs := append([]value.Value{e.Object}, e.Args...)
		taint.PropagateAll(cp, inputs, loc, taint.RoleSanitizer)
	}
	for _, s := range sans {
		cp.Attrs().AddSanitizer(s.ID)
	}
	e.Result = cp
}

func (c *TaintChecker) BeforeCall(e *interp.Event) {
	qids := []string{e.Name, e.Qualified}
	for _, sink := range c.rules.MatchSinks(qids, typeName(e.Object), e.Property) {
		c.checkArgs(e, sink)
	}
}

func (c *TaintChecker) BeforeConstruct(e *interp.Event) {
	qids := []string{e.Name, "new " + e.Name, e.Qualified}
	for _, sink := range c.rules.MatchSinks(qids, "", "") {
		c.checkArgs(e, sink)
	}
}

// OnAssign checks writes to property sinks such as el.innerHTML.
func (c *TaintChecker) OnAssign(e *interp.Event) {
	if e.Result == nil || e.Name == "" {
		return
	}
	for _, sink := range c.rules.MatchPropertySinks(e.Name) {
		c.check(e, sink, e.Result)
	}
}

func (c *TaintChecker) BeforeEntryPoint(e *interp.Event) {
	if e.State != nil {
		c.entry = e.State.EntryPoint
	}
}

func (c *TaintChecker) AfterEntryPoint(*interp.Event) {
	c.entry = ""
}

func (c *TaintChecker) checkArgs(e *interp.Event, sink *rules.Sink) {
	for i, arg := range e.Args {
		if sink.ArgSelected(i) {
			c.check(e, sink, arg)
		}
	}
}

// check reports v reaching sink unless none of its taint is accepted by the
// sink or a sanitizer protecting the sink was applied on the way.
func (c *TaintChecker) check(e *interp.Event, sink *rules.Sink, v value.Value) {
	accept := func(tags value.TagSet) bool {
		for t := range tags {
			if sink.AcceptsKind(string(t)) {
				return true
			}
		}
		return false
	}
	found, tags := taint.Locate(v, c.depth, accept)
	if found == nil {
		return
	}
	applied := taint.CollectSanitizers(found)
	if c.sanitized(sink, applied) {
		c.logger.Debug("Sanitized flow skipped.",
			zap.String("rule", sink.ID),
			zap.Strings("sanitizers", applied))
		return
	}

	loc := location(e.Node)
	f := findings.Finding{
		EntryPoint: c.entryPoint(e),
		Kind:       sink.Kind,
		RuleID:     sink.ID,
		Label:      sink.Label,
		Sink:       loc,
		SinkName:   e.Name,
		Sanitizers: applied,
	}
	if f.SinkName == "" {
		f.SinkName = e.Qualified
	}
	for _, t := range tags.Sorted() {
		if sink.AcceptsKind(string(t)) {
			f.Tags = append(f.Tags, string(t))
		}
	}
	trace := found.Attrs().Trace()
	for _, step := range trace {
		f.Trace = append(f.Trace, findings.Step{Location: step.Location, Role: step.Role})
	}
	f.Trace = append(f.Trace, findings.Step{Location: loc, Role: taint.RoleSink})
	f.Source = sourceOf(trace)

	if !c.collector.Emit(f) {
		return
	}
	c.reported++
	c.logger.Warn("Taint flow detected.",
		zap.String("rule", sink.ID),
		zap.String("kind", sink.Kind),
		zap.String("sink", f.SinkName),
		zap.String("at", loc.String()),
		zap.String("source", f.Source.String()))
}

func (c *TaintChecker) sanitized(sink *rules.Sink, applied []string) bool {
	for _, id := range applied {
		if slices.Contains(sink.Sanitizers, id) {
			return true
		}
		if s, ok := c.rules.SanitizerByID(id); ok && s.Covers(sink.Kind) {
			return true
		}
	}
	return false
}

func (c *TaintChecker) entryPoint(e *interp.Event) string {
	if e.State != nil && e.State.EntryPoint != "" {
		return e.State.EntryPoint
	}
	return c.entry
}

func mark(v value.Value, src *rules.Source, loc uast.Location) {
	tag := value.Tag(src.Kind)
	if v.Attrs().Tags().Has(tag) {
		return
	}
	taint.Mark(v, value.NewTagSet(tag), loc, taint.RoleSource)
}

// sourceOf picks the location the taint originated at.
func sourceOf(trace []value.TraceEntry) uast.Location {
	for _, step := range trace {
		if step.Role == taint.RoleSource {
			return step.Location
		}
	}
	if len(trace) > 0 {
		return trace[0].Location
	}
	return uast.Location{}
}

func location(n uast.Node) uast.Location {
	if n == nil {
		return uast.Location{}
	}
	return n.Loc()
}

// typeName returns the declared type of v or of its first typed alternative.
func typeName(v value.Value) string {
	for _, alt := range value.Alternatives(v) {
		if alt == nil {
			continue
		}
		if t := alt.Attrs().TypeName; t != "" {
			return t
		}
	}
	return ""
}

func functionName(fn *value.Function) string {
	names := functionNames(fn)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// functionNames lists the names rules may use for fn, most specific first:
// "Class.method" for class members, then the bare name.
func functionNames(fn *value.Function) []string {
	if fn == nil || fn.Def == nil {
		return nil
	}
	name := fn.Def.FunctionName()
	if name == "" {
		return nil
	}
	if fn.BoundTo != nil {
		if class := fn.BoundTo.Attrs().ID().Local; class != "" {
			return []string{class + "." + name, name}
		}
	}
	return []string{name}
}

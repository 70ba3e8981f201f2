package interp

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

func (in *Interpreter) evalImport(scope *value.Scope, t *uast.ImportExpression) value.Value {
	var module value.Value
	if target, ok := in.ctx.resolveImport(scope.File, t.Source); ok {
		if m := in.loadModule(target); m != nil {
			module = exportsOf(m)
		}
	}
	if module == nil {
		module = value.NewPackage(t.Source)
	}
	switch t.Imported {
	case "", "*":
		return module
	case "default":
		if h, ok := module.(value.Holder); ok {
			if v, has := h.Fields().Get("default"); has {
				return v
			}
		}
		return module
	}
	// An unresolved Java-style import already names the imported type.
	if p, ok := module.(*value.Package); ok && strings.HasSuffix(p.Path, "."+t.Imported) {
		return p
	}
	return in.member(scope, module, t.Imported, t, false)
}

// loadModule returns the memoized scope for file, interpreting it on first
// use. The scope is memoized before interpretation starts so import cycles
// see the partially built module instead of recursing.
func (in *Interpreter) loadModule(file string) *value.Scope {
	if m, ok := in.ctx.Module(file); ok {
		return m
	}
	unit, ok := in.ctx.Unit(file)
	if !ok {
		return nil
	}
	return in.interpretUnit(unit)
}

func (in *Interpreter) interpretUnit(unit *uast.CompileUnit) *value.Scope {
	module := value.NewModuleScope(normalize(unit.URI), in.ctx.Global)
	module.Node = unit
	in.ctx.storeModule(unit.URI, module)
	if unit.Language == "javascript" {
		bindCommonJS(module)
	}
	in.logger.Debug("Interpreting module.", zap.String("file", module.File))

	f := &frame{scope: module}
	in.st.push(f)
	defer in.st.pop()
	in.execBlock(module, unit, unit.Body)
	return module
}

// bindCommonJS pre-binds module and exports so assignments to them land on
// records the importer can read back.
func bindCommonJS(module *value.Scope) {
	exports := value.NewObject(value.ChildID(module.Attrs().ID(), "exports"), nil)
	mod := value.NewObject(value.ChildID(module.Attrs().ID(), "module"), nil)
	mod.SetField("exports", exports)
	module.SetField("module", mod)
	module.SetField("exports", exports)
	module.SetMeta("exports", exports)
}

// exportsOf returns what importing m yields: module.exports when the module
// populated or replaced it, the module scope itself otherwise.
func exportsOf(m *value.Scope) value.Value {
	initial, ok := m.Metadata["exports"].(*value.Object)
	if !ok {
		return m
	}
	modv, ok := m.Field("module")
	if !ok {
		return m
	}
	mod, ok := modv.(value.Holder)
	if !ok {
		return m
	}
	current, ok := mod.Fields().Get("exports")
	if !ok {
		return m
	}
	if current == value.Value(initial) && initial.Fields().Len() == 0 {
		return m
	}
	return current
}

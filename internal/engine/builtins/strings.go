package builtins

import (
	"github.com/xkilldash9x/scalpel-sast/internal/engine/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// builderField holds the accumulated text of a string builder.
const builderField = "value"

var builderMethods map[string]method

func init() {
	builderMethods = map[string]method{
		"append":  builderAppend,
		"add":     builderAppend,
		"concat":  builderAppend,
		"write":   builderAppend,
		"print":   builderAppend,
		"println": builderAppend,
		"insert":  builderInsert,

		"toString":    builderString,
		"substring":   builderString,
		"subSequence": builderString,
		"chars":       builderString,
		"charAt":      builderString,

		"length":       symbolicNumber,
		"indexOf":      symbolicNumber,
		"isEmpty":      symbolicBool,
		"reverse":      builderSelf,
		"setLength":    builderSelf,
		"deleteCharAt": builderSelf,
		"delete":       builderSelf,
		"replace":      builderAppend,
		"setCharAt":    builderAppend,
	}
}

// builderText returns the accumulated primitive, creating an empty literal on first use.
func builderText(s *value.Scope) value.Value {
	if v, ok := s.Field(builderField); ok {
		return v
	}
	empty := value.NewLiteral("", uast.LiteralString)
	s.SetField(builderField, empty)
	return empty
}

// concatText joins two values into a new primitive. Two concrete literals
// stay concrete; anything else becomes symbolic and inherits both sides' taint.
func concatText(id value.ID, left, right value.Value, loc uast.Location) value.Value {
	l, lok := value.LiteralString(left)
	r, rok := value.LiteralString(right)
	var out *value.Primitive
	if lok && rok && taint.Aggregate(left) == nil && taint.Aggregate(right) == nil {
		out = value.NewLiteral(l+r, uast.LiteralString)
	} else {
		out = value.NewSymbolicPrimitive(id, uast.LiteralString)
	}
	taint.Propagate(out, left, loc, taint.RolePropagate)
	taint.Propagate(out, right, loc, taint.RolePropagate)
	return out
}

func builderAppend(s *value.Scope, c *value.Call) value.Value {
	text := builderText(s)
	for _, a := range c.Args {
		if _, isIndex := value.LiteralIndex(a); isIndex && c.Name == "replace" {
			continue
		}
		text = concatText(value.ChildID(s.Attrs().ID(), builderField), text, a, siteLoc(c))
	}
	s.SetField(builderField, text)
	return s
}

func builderInsert(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) < 2 {
		return builderAppend(s, c)
	}
	if _, ok := value.LiteralIndex(c.Args[0]); !ok {
		// The insertion point is unknown: the text is no longer exact.
		s.Container.MarkImprecise()
	}
	text := concatText(value.ChildID(s.Attrs().ID(), builderField), builderText(s), c.Args[1], siteLoc(c))
	if !s.Container.Precise() {
		if p, ok := text.(*value.Primitive); ok && p.Concrete {
			sym := value.NewSymbolicPrimitive(value.ChildID(s.Attrs().ID(), builderField), uast.LiteralString)
			taint.Propagate(sym, p, siteLoc(c), taint.RolePropagate)
			text = sym
		}
	}
	s.SetField(builderField, text)
	return s
}

func builderString(s *value.Scope, c *value.Call) value.Value {
	text := builderText(s)
	if p, ok := text.(*value.Primitive); ok && p.Concrete && c.Name == "toString" {
		return value.ShallowCopy(p)
	}
	out := value.NewSymbolicPrimitive(resultID(c), uast.LiteralString)
	taint.Propagate(out, text, siteLoc(c), taint.RolePropagate)
	return out
}

func builderSelf(s *value.Scope, c *value.Call) value.Value {
	return s
}

// Package javascript lowers tree-sitter JavaScript parse trees into the
// unified syntax tree.
package javascript

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Language is recorded on every compile unit this frontend produces.
const Language = "javascript"

// Parser is the JavaScript frontend. It is safe for concurrent use: each
// Parse call owns its tree-sitter parser.
type Parser struct {
	logger *zap.Logger
}

// New creates a new JavaScript frontend.
func New(logger *zap.Logger) *Parser {
	return &Parser{logger: logger.Named("js_frontend")}
}

func (p *Parser) Language() string { return Language }

func (p *Parser) Extensions() []string { return []string{".js", ".mjs", ".cjs", ".jsx"} }

// Parse lowers src. When tree-sitter had to recover from syntax errors the
// partially lowered unit is returned together with a *frontend.SyntaxError.
func (p *Parser) Parse(ctx context.Context, path string, src []byte) (*uast.CompileUnit, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter failed to parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	l := &lowerer{src: &frontend.Source{Path: path, Text: src}}
	unit := &uast.CompileUnit{Base: l.base(root), URI: path, Language: Language}
	for _, c := range frontend.NamedChildren(root) {
		unit.Body = append(unit.Body, l.statement(c)...)
	}

	if bad, ok := frontend.FirstError(root); ok {
		loc := l.src.Loc(bad)
		p.logger.Warn("Tree-sitter detected syntax errors; lowering may be incomplete",
			zap.String("file", path), zap.Int("line", loc.StartLine))
		return unit, &frontend.SyntaxError{Path: path, Line: loc.StartLine, Column: loc.StartCol}
	}
	p.logger.Debug("Lowered JavaScript file", zap.String("file", path), zap.Int("statements", len(unit.Body)))
	return unit, nil
}

type lowerer struct {
	src *frontend.Source
}

func (l *lowerer) base(n *sitter.Node) uast.Base {
	return uast.Base{Location: l.src.Loc(n)}
}

func (l *lowerer) ident(n *sitter.Node) *uast.Identifier {
	if n == nil {
		return nil
	}
	return &uast.Identifier{Base: l.base(n), Name: l.src.Content(n)}
}

func (l *lowerer) identNamed(n *sitter.Node, name string) *uast.Identifier {
	return &uast.Identifier{Base: l.base(n), Name: name}
}

func (l *lowerer) str(n *sitter.Node, s string) *uast.Literal {
	return &uast.Literal{Base: l.base(n), Value: s, LiteralKind: uast.LiteralString}
}

// single lowers n as exactly one statement.
func (l *lowerer) single(n *sitter.Node) uast.Node {
	if n == nil {
		return nil
	}
	stmts := l.statement(n)
	switch len(stmts) {
	case 0:
		return nil
	case 1:
		return stmts[0]
	}
	return &uast.ScopedStatement{Base: l.base(n), Body: stmts}
}

func (l *lowerer) block(n *sitter.Node) []uast.Node {
	var out []uast.Node
	for _, c := range frontend.NamedChildren(n) {
		out = append(out, l.statement(c)...)
	}
	return out
}

func (l *lowerer) statement(n *sitter.Node) []uast.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "expression_statement":
		children := frontend.NamedChildren(n)
		if len(children) == 0 {
			return nil
		}
		return []uast.Node{&uast.ExpressionStatement{Base: l.base(n), Expression: l.expr(children[0])}}

	case "lexical_declaration", "variable_declaration":
		return l.declarations(n)

	case "function_declaration", "generator_function_declaration":
		return []uast.Node{l.function(n)}

	case "class_declaration":
		return []uast.Node{l.class(n)}

	case "statement_block":
		return []uast.Node{&uast.ScopedStatement{Base: l.base(n), Body: l.block(n)}}

	case "if_statement":
		stmt := &uast.IfStatement{
			Base:       l.base(n),
			Test:       l.expr(n.ChildByFieldName("condition")),
			Consequent: l.single(n.ChildByFieldName("consequence")),
		}
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			if alt.Type() == "else_clause" {
				if children := frontend.NamedChildren(alt); len(children) > 0 {
					stmt.Alternative = l.single(children[0])
				}
			} else {
				stmt.Alternative = l.single(alt)
			}
		}
		return []uast.Node{stmt}

	case "for_statement":
		return []uast.Node{&uast.LoopStatement{
			Base:     l.base(n),
			LoopKind: uast.LoopFor,
			Init:     l.forClause(n.ChildByFieldName("initializer"), true),
			Test:     l.forClause(n.ChildByFieldName("condition"), false),
			Update:   l.forClause(n.ChildByFieldName("increment"), false),
			Body:     l.single(n.ChildByFieldName("body")),
		}}

	case "for_in_statement":
		kind := uast.LoopForIn
		if frontend.HasToken(n, "of") {
			kind = uast.LoopForOf
		}
		leftNode := n.ChildByFieldName("left")
		var left uast.Node = l.pattern(leftNode)
		if decl := n.ChildByFieldName("kind"); decl != nil {
			left = &uast.VariableDeclaration{
				Base:      l.base(leftNode),
				ID:        left,
				Modifiers: []string{l.src.Content(decl)},
			}
		}
		return []uast.Node{&uast.LoopStatement{
			Base:     l.base(n),
			LoopKind: kind,
			Left:     left,
			Right:    l.expr(n.ChildByFieldName("right")),
			Body:     l.single(n.ChildByFieldName("body")),
		}}

	case "while_statement":
		return []uast.Node{&uast.LoopStatement{
			Base:     l.base(n),
			LoopKind: uast.LoopWhile,
			Test:     l.expr(n.ChildByFieldName("condition")),
			Body:     l.single(n.ChildByFieldName("body")),
		}}

	case "do_statement":
		return []uast.Node{&uast.LoopStatement{
			Base:     l.base(n),
			LoopKind: uast.LoopDoWhile,
			Test:     l.expr(n.ChildByFieldName("condition")),
			Body:     l.single(n.ChildByFieldName("body")),
		}}

	case "switch_statement":
		return []uast.Node{l.switchStatement(n)}

	case "try_statement":
		return []uast.Node{l.tryStatement(n)}

	case "throw_statement":
		stmt := &uast.ThrowStatement{Base: l.base(n)}
		if children := frontend.NamedChildren(n); len(children) > 0 {
			stmt.Argument = l.expr(children[0])
		}
		return []uast.Node{stmt}

	case "return_statement":
		stmt := &uast.ReturnStatement{Base: l.base(n)}
		if children := frontend.NamedChildren(n); len(children) > 0 {
			stmt.Argument = l.expr(children[0])
		}
		return []uast.Node{stmt}

	case "break_statement":
		return []uast.Node{&uast.BreakStatement{Base: l.base(n)}}

	case "continue_statement":
		return []uast.Node{&uast.ContinueStatement{Base: l.base(n)}}

	case "labeled_statement":
		return l.statement(n.ChildByFieldName("body"))

	case "import_statement":
		return l.importStatement(n)

	case "export_statement":
		return l.exportStatement(n)

	case "empty_statement", "comment", "debugger_statement", "hash_bang_line":
		return nil
	}
	return []uast.Node{&uast.ExpressionStatement{Base: l.base(n), Expression: l.expr(n)}}
}

// forClause lowers the header parts of a C-style for loop, which the grammar
// wraps in statements.
func (l *lowerer) forClause(n *sitter.Node, init bool) uast.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "empty_statement", ";":
		return nil
	case "expression_statement":
		children := frontend.NamedChildren(n)
		if len(children) == 0 {
			return nil
		}
		return l.expr(children[0])
	case "lexical_declaration", "variable_declaration":
		if init {
			return l.single(n)
		}
	}
	return l.expr(n)
}

func (l *lowerer) declarations(n *sitter.Node) []uast.Node {
	var mods []string
	if kind := n.ChildByFieldName("kind"); kind != nil {
		mods = []string{l.src.Content(kind)}
	} else if n.ChildCount() > 0 {
		mods = []string{n.Child(0).Type()}
	}
	var out []uast.Node
	for _, d := range frontend.NamedChildren(n) {
		if d.Type() != "variable_declarator" {
			continue
		}
		decl := &uast.VariableDeclaration{
			Base:      l.base(d),
			ID:        l.pattern(d.ChildByFieldName("name")),
			Modifiers: mods,
		}
		if v := d.ChildByFieldName("value"); v != nil {
			decl.Init = l.expr(v)
		}
		out = append(out, decl)
	}
	return out
}

func (l *lowerer) switchStatement(n *sitter.Node) *uast.SwitchStatement {
	stmt := &uast.SwitchStatement{Base: l.base(n), Discriminant: l.expr(n.ChildByFieldName("value"))}
	for _, c := range frontend.NamedChildren(n.ChildByFieldName("body")) {
		clause := &uast.CaseClause{Base: l.base(c)}
		children := frontend.NamedChildren(c)
		switch c.Type() {
		case "switch_case":
			if len(children) == 0 {
				continue
			}
			clause.Test = l.expr(children[0])
			children = children[1:]
		case "switch_default":
		default:
			continue
		}
		for _, s := range children {
			clause.Body = append(clause.Body, l.statement(s)...)
		}
		stmt.Cases = append(stmt.Cases, clause)
	}
	return stmt
}

func (l *lowerer) tryStatement(n *sitter.Node) *uast.TryStatement {
	stmt := &uast.TryStatement{Base: l.base(n), Body: l.single(n.ChildByFieldName("body"))}
	if h := n.ChildByFieldName("handler"); h != nil {
		clause := &uast.CatchClause{Base: l.base(h), Body: l.single(h.ChildByFieldName("body"))}
		if p := h.ChildByFieldName("parameter"); p != nil {
			clause.Param = l.pattern(p)
		}
		stmt.Handlers = []*uast.CatchClause{clause}
	}
	if f := n.ChildByFieldName("finalizer"); f != nil {
		stmt.Finalizer = l.single(f.ChildByFieldName("body"))
	}
	return stmt
}

// importStatement binds each imported name to an ImportExpression. A bare
// import still loads the module for its side effects.
func (l *lowerer) importStatement(n *sitter.Node) []uast.Node {
	sourceNode := n.ChildByFieldName("source")
	source := frontend.Unquote(l.src.Content(sourceNode))
	bind := func(at *sitter.Node, local *uast.Identifier, imported string) uast.Node {
		return &uast.VariableDeclaration{
			Base: l.base(at),
			ID:   local,
			Init: &uast.ImportExpression{Base: l.base(n), Source: source, Imported: imported},
		}
	}

	var out []uast.Node
	for _, clause := range frontend.NamedChildren(n) {
		if clause.Type() != "import_clause" {
			continue
		}
		for _, c := range frontend.NamedChildren(clause) {
			switch c.Type() {
			case "identifier":
				out = append(out, bind(c, l.ident(c), "default"))
			case "namespace_import":
				if ids := frontend.NamedChildren(c); len(ids) > 0 {
					out = append(out, bind(c, l.ident(ids[0]), "*"))
				}
			case "named_imports":
				for _, spec := range frontend.NamedChildren(c) {
					if spec.Type() != "import_specifier" {
						continue
					}
					name := spec.ChildByFieldName("name")
					local := name
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						local = alias
					}
					out = append(out, bind(spec, l.ident(local), frontend.Unquote(l.src.Content(name))))
				}
			}
		}
	}
	if len(out) == 0 {
		out = append(out, &uast.ExpressionStatement{
			Base:       l.base(n),
			Expression: &uast.ImportExpression{Base: l.base(n), Source: source},
		})
	}
	return out
}

// exportStatement keeps the exported declarations in module scope, where
// importers find them, and binds "default" and renamed exports explicitly.
func (l *lowerer) exportStatement(n *sitter.Node) []uast.Node {
	isDefault := frontend.HasToken(n, "default")
	if n.ChildByFieldName("source") != nil {
		return []uast.Node{frontend.Noop(l.src.Loc(n), "re-export")}
	}
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		out := l.statement(decl)
		if isDefault {
			if name := decl.ChildByFieldName("name"); name != nil {
				out = append(out, &uast.VariableDeclaration{
					Base: l.base(n),
					ID:   l.identNamed(n, "default"),
					Init: l.ident(name),
				})
			}
		}
		return out
	}
	if v := n.ChildByFieldName("value"); v != nil {
		return []uast.Node{&uast.VariableDeclaration{
			Base: l.base(n),
			ID:   l.identNamed(n, "default"),
			Init: l.expr(v),
		}}
	}
	var out []uast.Node
	for _, clause := range frontend.NamedChildren(n) {
		if clause.Type() != "export_clause" {
			continue
		}
		for _, spec := range frontend.NamedChildren(clause) {
			alias := spec.ChildByFieldName("alias")
			name := spec.ChildByFieldName("name")
			if alias == nil || name == nil {
				continue
			}
			out = append(out, &uast.VariableDeclaration{
				Base: l.base(spec),
				ID:   l.identNamed(alias, frontend.Unquote(l.src.Content(alias))),
				Init: l.ident(name),
			})
		}
	}
	return out
}

func (l *lowerer) function(n *sitter.Node) *uast.FunctionDefinition {
	fn := &uast.FunctionDefinition{Base: l.base(n), Async: frontend.HasToken(n, "async")}
	if name := n.ChildByFieldName("name"); name != nil {
		fn.Name = l.ident(name)
	}
	if p := n.ChildByFieldName("parameter"); p != nil {
		// Single unparenthesized arrow parameter.
		fn.Parameters = []*uast.VariableDeclaration{{Base: l.base(p), ID: l.pattern(p)}}
	} else {
		fn.Parameters = l.parameters(n.ChildByFieldName("parameters"))
	}
	body := n.ChildByFieldName("body")
	switch {
	case body == nil:
	case body.Type() == "statement_block":
		fn.Body = &uast.ScopedStatement{Base: l.base(body), Body: l.block(body)}
	default:
		fn.Body = l.expr(body)
		fn.ExpressionFun = true
	}
	return fn
}

func (l *lowerer) parameters(n *sitter.Node) []*uast.VariableDeclaration {
	var out []*uast.VariableDeclaration
	for _, p := range frontend.NamedChildren(n) {
		decl := &uast.VariableDeclaration{Base: l.base(p)}
		switch p.Type() {
		case "assignment_pattern":
			decl.ID = l.pattern(p.ChildByFieldName("left"))
			decl.Init = l.expr(p.ChildByFieldName("right"))
		case "rest_pattern":
			if children := frontend.NamedChildren(p); len(children) > 0 {
				decl.ID = l.pattern(children[0])
			}
			decl.Rest = true
		default:
			decl.ID = l.pattern(p)
		}
		out = append(out, decl)
	}
	return out
}

func (l *lowerer) class(n *sitter.Node) *uast.ClassDefinition {
	class := &uast.ClassDefinition{Base: l.base(n)}
	if name := n.ChildByFieldName("name"); name != nil {
		class.Name = l.ident(name)
	}
	for _, c := range frontend.NamedChildren(n) {
		if c.Type() != "class_heritage" {
			continue
		}
		for _, sup := range frontend.NamedChildren(c) {
			if sup.Type() == "extends_clause" {
				if v := sup.ChildByFieldName("value"); v != nil {
					class.Supers = append(class.Supers, l.expr(v))
				}
				continue
			}
			class.Supers = append(class.Supers, l.expr(sup))
		}
	}
	for _, m := range frontend.NamedChildren(n.ChildByFieldName("body")) {
		var mods []string
		if frontend.HasToken(m, "static") {
			mods = append(mods, "static")
		}
		switch m.Type() {
		case "method_definition":
			fn := l.function(m)
			fn.Modifiers = mods
			if fn.FunctionName() == "constructor" {
				fn.Constructor = true
			}
			class.Body = append(class.Body, fn)
		case "field_definition", "public_field_definition":
			prop := m.ChildByFieldName("property")
			if prop == nil {
				continue
			}
			decl := &uast.VariableDeclaration{Base: l.base(m), ID: l.ident(prop), Modifiers: mods}
			if v := m.ChildByFieldName("value"); v != nil {
				decl.Init = l.expr(v)
			}
			class.Body = append(class.Body, decl)
		}
	}
	return class
}

// pattern lowers a binding or assignment target.
func (l *lowerer) pattern(n *sitter.Node) uast.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern", "shorthand_property_identifier":
		return l.ident(n)
	case "object_pattern", "object":
		obj := &uast.ObjectExpression{Base: l.base(n)}
		for _, p := range frontend.NamedChildren(n) {
			prop := &uast.ObjectProperty{Base: l.base(p)}
			switch p.Type() {
			case "pair_pattern", "pair":
				prop.Key = l.propertyKey(p.ChildByFieldName("key"))
				prop.Value = l.pattern(p.ChildByFieldName("value"))
			case "shorthand_property_identifier_pattern", "shorthand_property_identifier":
				prop.Key = l.ident(p)
			case "object_assignment_pattern":
				left := l.pattern(p.ChildByFieldName("left"))
				prop.Key = left
				prop.Value = &uast.AssignmentExpression{
					Base:     l.base(p),
					Operator: "=",
					Left:     left,
					Right:    l.expr(p.ChildByFieldName("right")),
				}
			case "rest_pattern", "spread_element":
				if children := frontend.NamedChildren(p); len(children) > 0 {
					prop.Value = &uast.SpreadElement{Base: l.base(p), Argument: l.pattern(children[0])}
				}
			default:
				continue
			}
			obj.Properties = append(obj.Properties, prop)
		}
		return obj
	case "array_pattern", "array":
		tuple := &uast.TupleExpression{Base: l.base(n)}
		for _, e := range frontend.NamedChildren(n) {
			if e.Type() == "rest_pattern" || e.Type() == "spread_element" {
				if children := frontend.NamedChildren(e); len(children) > 0 {
					tuple.Elements = append(tuple.Elements, &uast.SpreadElement{Base: l.base(e), Argument: l.pattern(children[0])})
				}
				continue
			}
			tuple.Elements = append(tuple.Elements, l.pattern(e))
		}
		return tuple
	case "assignment_pattern":
		return &uast.AssignmentExpression{
			Base:     l.base(n),
			Operator: "=",
			Left:     l.pattern(n.ChildByFieldName("left")),
			Right:    l.expr(n.ChildByFieldName("right")),
		}
	case "parenthesized_expression":
		if children := frontend.NamedChildren(n); len(children) > 0 {
			return l.pattern(children[0])
		}
	}
	return l.expr(n)
}

func (l *lowerer) propertyKey(n *sitter.Node) uast.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "property_identifier", "identifier", "private_property_identifier":
		return l.ident(n)
	case "string":
		return l.str(n, frontend.Unquote(l.src.Content(n)))
	case "number":
		return &uast.Literal{Base: l.base(n), Value: l.src.Content(n), LiteralKind: uast.LiteralNumber}
	case "computed_property_name":
		if children := frontend.NamedChildren(n); len(children) > 0 {
			return l.expr(children[0])
		}
	}
	return l.expr(n)
}

func (l *lowerer) expr(n *sitter.Node) uast.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "identifier", "property_identifier", "shorthand_property_identifier",
		"private_property_identifier", "statement_identifier", "undefined":
		return l.ident(n)
	case "this":
		return &uast.ThisExpression{Base: l.base(n)}
	case "super":
		return &uast.SuperExpression{Base: l.base(n)}
	case "number":
		return &uast.Literal{Base: l.base(n), Value: l.src.Content(n), LiteralKind: uast.LiteralNumber}
	case "string":
		return l.str(n, frontend.Unquote(l.src.Content(n)))
	case "regex":
		return l.str(n, l.src.Content(n))
	case "true", "false":
		return &uast.Literal{Base: l.base(n), Value: n.Type(), LiteralKind: uast.LiteralBool}
	case "null":
		return &uast.Literal{Base: l.base(n), Value: "null", LiteralKind: uast.LiteralNull}
	case "template_string":
		return l.template(n)

	case "parenthesized_expression":
		if children := frontend.NamedChildren(n); len(children) > 0 {
			return l.expr(children[len(children)-1])
		}
		return frontend.Noop(l.src.Loc(n), "empty parentheses")

	case "member_expression":
		return &uast.MemberAccess{
			Base:     l.base(n),
			Object:   l.expr(n.ChildByFieldName("object")),
			Property: l.ident(n.ChildByFieldName("property")),
		}
	case "subscript_expression":
		return &uast.MemberAccess{
			Base:     l.base(n),
			Object:   l.expr(n.ChildByFieldName("object")),
			Property: l.expr(n.ChildByFieldName("index")),
			Computed: true,
		}

	case "call_expression":
		return l.call(n)
	case "new_expression":
		return &uast.NewExpression{
			Base:      l.base(n),
			Callee:    l.expr(n.ChildByFieldName("constructor")),
			Arguments: l.arguments(n.ChildByFieldName("arguments")),
		}
	case "spread_element":
		if children := frontend.NamedChildren(n); len(children) > 0 {
			return &uast.SpreadElement{Base: l.base(n), Argument: l.expr(children[0])}
		}

	case "binary_expression":
		return &uast.BinaryExpression{
			Base:     l.base(n),
			Operator: l.src.Content(n.ChildByFieldName("operator")),
			Left:     l.expr(n.ChildByFieldName("left")),
			Right:    l.expr(n.ChildByFieldName("right")),
		}
	case "unary_expression", "update_expression":
		op := n.ChildByFieldName("operator")
		return &uast.UnaryExpression{
			Base:     l.base(n),
			Operator: l.src.Content(op),
			Argument: l.expr(n.ChildByFieldName("argument")),
		}
	case "assignment_expression":
		return &uast.AssignmentExpression{
			Base:     l.base(n),
			Operator: "=",
			Left:     l.pattern(n.ChildByFieldName("left")),
			Right:    l.expr(n.ChildByFieldName("right")),
		}
	case "augmented_assignment_expression":
		return &uast.AssignmentExpression{
			Base:     l.base(n),
			Operator: l.src.Content(n.ChildByFieldName("operator")),
			Left:     l.pattern(n.ChildByFieldName("left")),
			Right:    l.expr(n.ChildByFieldName("right")),
		}
	case "ternary_expression":
		return &uast.ConditionalExpression{
			Base:        l.base(n),
			Test:        l.expr(n.ChildByFieldName("condition")),
			Consequent:  l.expr(n.ChildByFieldName("consequence")),
			Alternative: l.expr(n.ChildByFieldName("alternative")),
		}
	case "sequence_expression":
		children := frontend.NamedChildren(n)
		if len(children) == 0 {
			break
		}
		var out uast.Node = l.expr(children[0])
		for _, c := range children[1:] {
			out = &uast.BinaryExpression{Base: l.base(n), Operator: ",", Left: out, Right: l.expr(c)}
		}
		return out
	case "await_expression":
		if children := frontend.NamedChildren(n); len(children) > 0 {
			return &uast.AwaitExpression{Base: l.base(n), Argument: l.expr(children[0])}
		}
	case "yield_expression":
		if children := frontend.NamedChildren(n); len(children) > 0 {
			return l.expr(children[0])
		}

	case "object":
		return l.object(n)
	case "array":
		tuple := &uast.TupleExpression{Base: l.base(n)}
		for _, e := range frontend.NamedChildren(n) {
			tuple.Elements = append(tuple.Elements, l.expr(e))
		}
		return tuple

	case "function", "function_expression", "arrow_function", "generator_function":
		return l.function(n)
	case "class":
		return l.class(n)
	}
	return frontend.Noop(l.src.Loc(n), n.Type())
}

// call lowers a call; require("x") and import("x") become module imports.
func (l *lowerer) call(n *sitter.Node) uast.Node {
	callee := n.ChildByFieldName("function")
	argsNode := n.ChildByFieldName("arguments")
	if callee != nil && (callee.Type() == "import" || callee.Type() == "identifier" && l.src.Content(callee) == "require") {
		if args := frontend.NamedChildren(argsNode); len(args) == 1 && args[0].Type() == "string" {
			return &uast.ImportExpression{Base: l.base(n), Source: frontend.Unquote(l.src.Content(args[0]))}
		}
	}
	var args []uast.Node
	if argsNode != nil && argsNode.Type() == "template_string" {
		// Tagged template.
		args = []uast.Node{l.template(argsNode)}
	} else {
		args = l.arguments(argsNode)
	}
	return &uast.CallExpression{Base: l.base(n), Callee: l.expr(callee), Arguments: args}
}

func (l *lowerer) arguments(n *sitter.Node) []uast.Node {
	var out []uast.Node
	for _, a := range frontend.NamedChildren(n) {
		out = append(out, l.expr(a))
	}
	return out
}

// template lowers a template literal to a concatenation of its text and
// substitutions.
func (l *lowerer) template(n *sitter.Node) uast.Node {
	var out uast.Node = l.str(n, frontend.Unquote(l.src.Content(n)))
	for _, c := range frontend.NamedChildren(n) {
		if c.Type() != "template_substitution" {
			continue
		}
		children := frontend.NamedChildren(c)
		if len(children) == 0 {
			continue
		}
		out = &uast.BinaryExpression{Base: l.base(n), Operator: "+", Left: out, Right: l.expr(children[0])}
	}
	return out
}

func (l *lowerer) object(n *sitter.Node) *uast.ObjectExpression {
	obj := &uast.ObjectExpression{Base: l.base(n)}
	for _, p := range frontend.NamedChildren(n) {
		prop := &uast.ObjectProperty{Base: l.base(p)}
		switch p.Type() {
		case "pair":
			prop.Key = l.propertyKey(p.ChildByFieldName("key"))
			prop.Value = l.expr(p.ChildByFieldName("value"))
		case "shorthand_property_identifier":
			prop.Key = l.ident(p)
			prop.Value = l.ident(p)
		case "method_definition":
			fn := l.function(p)
			if fn.Name == nil {
				continue
			}
			prop.Key = fn.Name
			prop.Value = fn
		case "spread_element":
			prop.Value = l.expr(p)
		default:
			continue
		}
		obj.Properties = append(obj.Properties, prop)
	}
	return obj
}

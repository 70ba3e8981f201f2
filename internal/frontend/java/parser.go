// Package java lowers tree-sitter Java parse trees into the unified syntax tree.
package java

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Language is recorded on every compile unit this frontend produces.
const Language = "java"

// Parser is the Java frontend. It is safe for concurrent use.
type Parser struct {
	logger *zap.Logger
}

// New creates a new Java frontend.
func New(logger *zap.Logger) *Parser {
	return &Parser{logger: logger.Named("java_frontend")}
}

func (p *Parser) Language() string { return Language }

func (p *Parser) Extensions() []string { return []string{".java"} }

// Parse lowers src. A tree with syntax errors is still lowered; the error is
// reported as a *frontend.SyntaxError next to the partial unit.
func (p *Parser) Parse(ctx context.Context, path string, src []byte) (*uast.CompileUnit, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(java.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter failed to parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	l := &lowerer{src: &frontend.Source{Path: path, Text: src}}
	unit := &uast.CompileUnit{Base: l.base(root), URI: path, Language: Language}
	for _, c := range frontend.NamedChildren(root) {
		unit.Body = append(unit.Body, l.topLevel(c)...)
	}

	if bad, ok := frontend.FirstError(root); ok {
		loc := l.src.Loc(bad)
		p.logger.Warn("Tree-sitter detected syntax errors; lowering may be incomplete",
			zap.String("file", path), zap.Int("line", loc.StartLine))
		return unit, &frontend.SyntaxError{Path: path, Line: loc.StartLine, Column: loc.StartCol}
	}
	p.logger.Debug("Lowered Java file", zap.String("file", path), zap.Int("declarations", len(unit.Body)))
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

// typeName renders a type without generic arguments: "List<String>" -> "List".
func (l *lowerer) typeName(n *sitter.Node) string {
	s := l.src.Content(n)
	if i := strings.IndexByte(s, '<'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// modifiers returns the keyword modifiers of a declaration; annotations are dropped.
func (l *lowerer) modifiers(n *sitter.Node) []string {
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c == nil || c.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(c.ChildCount()); j++ {
			m := c.Child(j)
			if m != nil && !m.IsNamed() {
				out = append(out, m.Type())
			}
		}
	}
	return out
}

func (l *lowerer) topLevel(n *sitter.Node) []uast.Node {
	switch n.Type() {
	case "package_declaration":
		return nil
	case "import_declaration":
		return l.importDeclaration(n)
	}
	return l.statement(n)
}

// importDeclaration binds the simple name of a single-type import. Wildcard
// and static imports bind nothing the interpreter can use.
func (l *lowerer) importDeclaration(n *sitter.Node) []uast.Node {
	if frontend.HasToken(n, "static") {
		return nil
	}
	var path *sitter.Node
	wildcard := false
	for _, c := range frontend.NamedChildren(n) {
		switch c.Type() {
		case "scoped_identifier", "identifier":
			path = c
		case "asterisk":
			wildcard = true
		}
	}
	if path == nil || wildcard {
		return nil
	}
	source := l.src.Content(path)
	simple := source
	if i := strings.LastIndexByte(source, '.'); i >= 0 {
		simple = source[i+1:]
	}
	return []uast.Node{&uast.VariableDeclaration{
		Base: l.base(n),
		ID:   &uast.Identifier{Base: l.base(path), Name: simple},
		Init: &uast.ImportExpression{Base: l.base(n), Source: source, Imported: simple},
	}}
}

func (l *lowerer) class(n *sitter.Node) *uast.ClassDefinition {
	class := &uast.ClassDefinition{Base: l.base(n), Modifiers: l.modifiers(n)}
	if name := n.ChildByFieldName("name"); name != nil {
		class.Name = l.ident(name)
	}
	if sup := n.ChildByFieldName("superclass"); sup != nil {
		for _, t := range frontend.NamedChildren(sup) {
			class.Supers = append(class.Supers, l.typeRef(t))
		}
	}
	if ifaces := n.ChildByFieldName("interfaces"); ifaces != nil {
		for _, list := range frontend.NamedChildren(ifaces) {
			for _, t := range frontend.NamedChildren(list) {
				class.Supers = append(class.Supers, l.typeRef(t))
			}
		}
	}
	class.Body = l.classBody(n.ChildByFieldName("body"))
	return class
}

// typeRef lowers a type used as a value, such as a superclass.
func (l *lowerer) typeRef(n *sitter.Node) uast.Node {
	name := l.typeName(n)
	parts := strings.Split(name, ".")
	var out uast.Node = &uast.Identifier{Base: l.base(n), Name: parts[0]}
	for _, p := range parts[1:] {
		out = &uast.MemberAccess{Base: l.base(n), Object: out, Property: &uast.Identifier{Base: l.base(n), Name: p}}
	}
	return out
}

func (l *lowerer) classBody(body *sitter.Node) []uast.Node {
	var out []uast.Node
	for _, m := range frontend.NamedChildren(body) {
		switch m.Type() {
		case "field_declaration", "constant_declaration":
			out = append(out, l.localDeclaration(m, l.modifiers(m))...)
		case "method_declaration":
			out = append(out, l.method(m, false))
		case "constructor_declaration", "compact_constructor_declaration":
			out = append(out, l.method(m, true))
		case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
			out = append(out, l.class(m))
		case "static_initializer", "block":
			out = append(out, l.statement(m)...)
		case "enum_constant":
			out = append(out, &uast.VariableDeclaration{
				Base:      l.base(m),
				ID:        l.ident(m.ChildByFieldName("name")),
				Init:      &uast.NewExpression{Base: l.base(m), Callee: &uast.Identifier{Base: l.base(m), Name: "<enum>"}, Arguments: l.arguments(m.ChildByFieldName("arguments"))},
				Modifiers: []string{"static", "final"},
			})
		case "enum_body_declarations":
			out = append(out, l.classBody(m)...)
		}
	}
	return out
}

func (l *lowerer) method(n *sitter.Node, ctor bool) *uast.FunctionDefinition {
	fn := &uast.FunctionDefinition{
		Base:        l.base(n),
		Name:        l.ident(n.ChildByFieldName("name")),
		Parameters:  l.parameters(n.ChildByFieldName("parameters")),
		Modifiers:   l.modifiers(n),
		Constructor: ctor,
	}
	if t := n.ChildByFieldName("type"); t != nil {
		fn.ReturnType = l.typeName(t)
	}
	if body := n.ChildByFieldName("body"); body != nil {
		fn.Body = &uast.ScopedStatement{Base: l.base(body), Body: l.block(body)}
	}
	return fn
}

func (l *lowerer) parameters(n *sitter.Node) []*uast.VariableDeclaration {
	var out []*uast.VariableDeclaration
	for _, p := range frontend.NamedChildren(n) {
		switch p.Type() {
		case "formal_parameter":
			out = append(out, &uast.VariableDeclaration{
				Base:      l.base(p),
				ID:        l.ident(p.ChildByFieldName("name")),
				VarType:   l.typeName(p.ChildByFieldName("type")),
				Modifiers: l.modifiers(p),
			})
		case "spread_parameter":
			decl := &uast.VariableDeclaration{Base: l.base(p), Rest: true}
			for _, c := range frontend.NamedChildren(p) {
				switch c.Type() {
				case "variable_declarator":
					decl.ID = l.ident(c.ChildByFieldName("name"))
				case "modifiers":
				default:
					if decl.VarType == "" {
						decl.VarType = l.typeName(c)
					}
				}
			}
			out = append(out, decl)
		case "identifier":
			// Inferred lambda parameter.
			out = append(out, &uast.VariableDeclaration{Base: l.base(p), ID: l.ident(p)})
		}
	}
	return out
}

func (l *lowerer) block(n *sitter.Node) []uast.Node {
	var out []uast.Node
	for _, c := range frontend.NamedChildren(n) {
		out = append(out, l.statement(c)...)
	}
	return out
}

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

// localDeclaration lowers one declaration with possibly several declarators.
func (l *lowerer) localDeclaration(n *sitter.Node, mods []string) []uast.Node {
	typ := l.typeName(n.ChildByFieldName("type"))
	var out []uast.Node
	for _, d := range frontend.NamedChildren(n) {
		if d.Type() != "variable_declarator" {
			continue
		}
		decl := &uast.VariableDeclaration{
			Base:      l.base(d),
			ID:        l.ident(d.ChildByFieldName("name")),
			VarType:   typ,
			Modifiers: mods,
		}
		if v := d.ChildByFieldName("value"); v != nil {
			decl.Init = l.expr(v)
		}
		out = append(out, decl)
	}
	return out
}

func (l *lowerer) statement(n *sitter.Node) []uast.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
		return []uast.Node{l.class(n)}
	case "local_class_declaration":
		if children := frontend.NamedChildren(n); len(children) > 0 {
			return []uast.Node{l.class(children[0])}
		}
		return nil

	case "local_variable_declaration":
		return l.localDeclaration(n, l.modifiers(n))

	case "expression_statement":
		children := frontend.NamedChildren(n)
		if len(children) == 0 {
			return nil
		}
		return []uast.Node{&uast.ExpressionStatement{Base: l.base(n), Expression: l.expr(children[0])}}

	case "block", "static_initializer", "constructor_body", "synchronized_statement":
		body := n
		if n.Type() != "block" && n.Type() != "constructor_body" {
			body = lastNamed(n)
		}
		return []uast.Node{&uast.ScopedStatement{Base: l.base(n), Body: l.block(body)}}

	case "if_statement":
		return []uast.Node{&uast.IfStatement{
			Base:        l.base(n),
			Test:        l.expr(n.ChildByFieldName("condition")),
			Consequent:  l.single(n.ChildByFieldName("consequence")),
			Alternative: l.single(n.ChildByFieldName("alternative")),
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

	case "for_statement":
		loop := &uast.LoopStatement{
			Base:     l.base(n),
			LoopKind: uast.LoopFor,
			Test:     l.expr(n.ChildByFieldName("condition")),
			Update:   l.expr(n.ChildByFieldName("update")),
			Body:     l.single(n.ChildByFieldName("body")),
		}
		if init := n.ChildByFieldName("init"); init != nil {
			if init.Type() == "local_variable_declaration" {
				loop.Init = l.single(init)
			} else {
				loop.Init = l.expr(init)
			}
		}
		return []uast.Node{loop}

	case "enhanced_for_statement":
		name := n.ChildByFieldName("name")
		return []uast.Node{&uast.LoopStatement{
			Base:     l.base(n),
			LoopKind: uast.LoopForOf,
			Left: &uast.VariableDeclaration{
				Base:    l.base(name),
				ID:      l.ident(name),
				VarType: l.typeName(n.ChildByFieldName("type")),
			},
			Right: l.expr(n.ChildByFieldName("value")),
			Body:  l.single(n.ChildByFieldName("body")),
		}}

	case "switch_expression", "switch_statement":
		return []uast.Node{l.switchStatement(n)}

	case "try_statement", "try_with_resources_statement":
		return []uast.Node{l.tryStatement(n)}

	case "throw_statement":
		stmt := &uast.ThrowStatement{Base: l.base(n)}
		if children := frontend.NamedChildren(n); len(children) > 0 {
			stmt.Argument = l.expr(children[0])
		}
		return []uast.Node{stmt}

	case "return_statement", "yield_statement":
		stmt := &uast.ReturnStatement{Base: l.base(n)}
		if children := frontend.NamedChildren(n); len(children) > 0 {
			stmt.Argument = l.expr(children[0])
		}
		if n.Type() == "yield_statement" {
			return []uast.Node{&uast.ExpressionStatement{Base: l.base(n), Expression: stmt.Argument}}
		}
		return []uast.Node{stmt}

	case "break_statement":
		return []uast.Node{&uast.BreakStatement{Base: l.base(n)}}
	case "continue_statement":
		return []uast.Node{&uast.ContinueStatement{Base: l.base(n)}}

	case "labeled_statement":
		return l.statement(lastNamed(n))

	case "explicit_constructor_invocation":
		var callee uast.Node
		if c := n.ChildByFieldName("constructor"); c != nil && c.Type() == "this" {
			callee = &uast.ThisExpression{Base: l.base(c)}
		} else {
			callee = &uast.SuperExpression{Base: l.base(n)}
		}
		return []uast.Node{&uast.ExpressionStatement{
			Base: l.base(n),
			Expression: &uast.CallExpression{
				Base:      l.base(n),
				Callee:    callee,
				Arguments: l.arguments(n.ChildByFieldName("arguments")),
			},
		}}

	case "assert_statement", "empty_statement", "line_comment", "block_comment", ";":
		return nil
	}
	return []uast.Node{&uast.ExpressionStatement{Base: l.base(n), Expression: l.expr(n)}}
}

func lastNamed(n *sitter.Node) *sitter.Node {
	children := frontend.NamedChildren(n)
	if len(children) == 0 {
		return nil
	}
	return children[len(children)-1]
}

func (l *lowerer) switchStatement(n *sitter.Node) *uast.SwitchStatement {
	stmt := &uast.SwitchStatement{Base: l.base(n), Discriminant: l.expr(n.ChildByFieldName("condition"))}
	for _, group := range frontend.NamedChildren(n.ChildByFieldName("body")) {
		if group.Type() != "switch_block_statement_group" && group.Type() != "switch_rule" {
			continue
		}
		clause := &uast.CaseClause{Base: l.base(group)}
		for _, c := range frontend.NamedChildren(group) {
			if c.Type() == "switch_label" {
				if labels := frontend.NamedChildren(c); len(labels) > 0 {
					clause.Test = l.expr(labels[0])
				}
				continue
			}
			clause.Body = append(clause.Body, l.statement(c)...)
		}
		stmt.Cases = append(stmt.Cases, clause)
	}
	return stmt
}

func (l *lowerer) tryStatement(n *sitter.Node) *uast.TryStatement {
	body := &uast.ScopedStatement{Base: l.base(n)}
	if res := n.ChildByFieldName("resources"); res != nil {
		for _, r := range frontend.NamedChildren(res) {
			if name := r.ChildByFieldName("name"); name != nil {
				body.Body = append(body.Body, &uast.VariableDeclaration{
					Base:    l.base(r),
					ID:      l.ident(name),
					Init:    l.expr(r.ChildByFieldName("value")),
					VarType: l.typeName(r.ChildByFieldName("type")),
				})
			}
		}
	}
	if b := n.ChildByFieldName("body"); b != nil {
		body.Body = append(body.Body, l.block(b)...)
	}
	stmt := &uast.TryStatement{Base: l.base(n), Body: body}
	for _, c := range frontend.NamedChildren(n) {
		switch c.Type() {
		case "catch_clause":
			clause := &uast.CatchClause{Base: l.base(c), Body: l.single(c.ChildByFieldName("body"))}
			for _, p := range frontend.NamedChildren(c) {
				if p.Type() != "catch_formal_parameter" {
					continue
				}
				decl := &uast.VariableDeclaration{Base: l.base(p), ID: l.ident(p.ChildByFieldName("name"))}
				for _, t := range frontend.NamedChildren(p) {
					if t.Type() == "catch_type" {
						decl.VarType = l.typeName(t)
					}
				}
				clause.Param = decl
			}
			stmt.Handlers = append(stmt.Handlers, clause)
		case "finally_clause":
			stmt.Finalizer = l.single(lastNamed(c))
		}
	}
	return stmt
}

func (l *lowerer) arguments(n *sitter.Node) []uast.Node {
	var out []uast.Node
	for _, a := range frontend.NamedChildren(n) {
		out = append(out, l.expr(a))
	}
	return out
}

func (l *lowerer) number(n *sitter.Node) uast.Node {
	return &uast.Literal{Base: l.base(n), Value: l.src.Content(n), LiteralKind: uast.LiteralNumber}
}

func (l *lowerer) expr(n *sitter.Node) uast.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "identifier", "type_identifier":
		return l.ident(n)
	case "this":
		return &uast.ThisExpression{Base: l.base(n)}
	case "super":
		return &uast.SuperExpression{Base: l.base(n)}
	case "decimal_integer_literal", "hex_integer_literal", "octal_integer_literal",
		"binary_integer_literal", "decimal_floating_point_literal", "hex_floating_point_literal":
		return l.number(n)
	case "string_literal", "character_literal":
		s := l.src.Content(n)
		if strings.HasPrefix(s, `"""`) && strings.HasSuffix(s, `"""`) && len(s) >= 6 {
			s = s[3 : len(s)-3]
		} else {
			s = frontend.Unquote(s)
		}
		return &uast.Literal{Base: l.base(n), Value: s, LiteralKind: uast.LiteralString}
	case "true", "false":
		return &uast.Literal{Base: l.base(n), Value: n.Type(), LiteralKind: uast.LiteralBool}
	case "null_literal":
		return &uast.Literal{Base: l.base(n), Value: "null", LiteralKind: uast.LiteralNull}
	case "class_literal":
		return &uast.Literal{Base: l.base(n), Value: l.src.Content(n), LiteralKind: uast.LiteralString}

	case "parenthesized_expression":
		return l.expr(lastNamed(n))
	case "cast_expression":
		return l.expr(n.ChildByFieldName("value"))

	case "field_access":
		return &uast.MemberAccess{
			Base:     l.base(n),
			Object:   l.expr(n.ChildByFieldName("object")),
			Property: l.ident(n.ChildByFieldName("field")),
		}
	case "scoped_identifier":
		return &uast.MemberAccess{
			Base:     l.base(n),
			Object:   l.expr(n.ChildByFieldName("scope")),
			Property: l.ident(n.ChildByFieldName("name")),
		}
	case "array_access":
		return &uast.MemberAccess{
			Base:     l.base(n),
			Object:   l.expr(n.ChildByFieldName("array")),
			Property: l.expr(n.ChildByFieldName("index")),
			Computed: true,
		}

	case "method_invocation":
		name := l.ident(n.ChildByFieldName("name"))
		var callee uast.Node = name
		if obj := n.ChildByFieldName("object"); obj != nil {
			callee = &uast.MemberAccess{Base: l.base(n), Object: l.expr(obj), Property: name}
		}
		return &uast.CallExpression{Base: l.base(n), Callee: callee, Arguments: l.arguments(n.ChildByFieldName("arguments"))}

	case "object_creation_expression":
		typ := n.ChildByFieldName("type")
		var callee = l.typeRef(typ)
		for _, c := range frontend.NamedChildren(n) {
			if c.Type() == "class_body" {
				// Anonymous class: a nameless subclass of the instantiated type.
				callee = &uast.ClassDefinition{Base: l.base(c), Supers: []uast.Node{callee}, Body: l.classBody(c)}
			}
		}
		return &uast.NewExpression{Base: l.base(n), Callee: callee, Arguments: l.arguments(n.ChildByFieldName("arguments"))}

	case "assignment_expression":
		return &uast.AssignmentExpression{
			Base:     l.base(n),
			Operator: l.src.Content(n.ChildByFieldName("operator")),
			Left:     l.expr(n.ChildByFieldName("left")),
			Right:    l.expr(n.ChildByFieldName("right")),
		}
	case "binary_expression":
		return &uast.BinaryExpression{
			Base:     l.base(n),
			Operator: l.src.Content(n.ChildByFieldName("operator")),
			Left:     l.expr(n.ChildByFieldName("left")),
			Right:    l.expr(n.ChildByFieldName("right")),
		}
	case "instanceof_expression":
		return &uast.BinaryExpression{
			Base:     l.base(n),
			Operator: "instanceof",
			Left:     l.expr(n.ChildByFieldName("left")),
			Right:    l.typeRef(n.ChildByFieldName("right")),
		}
	case "unary_expression":
		return &uast.UnaryExpression{
			Base:     l.base(n),
			Operator: l.src.Content(n.ChildByFieldName("operator")),
			Argument: l.expr(n.ChildByFieldName("operand")),
		}
	case "update_expression":
		op := "++"
		if frontend.HasToken(n, "--") {
			op = "--"
		}
		return &uast.UnaryExpression{Base: l.base(n), Operator: op, Argument: l.expr(lastNamed(n))}
	case "ternary_expression":
		return &uast.ConditionalExpression{
			Base:        l.base(n),
			Test:        l.expr(n.ChildByFieldName("condition")),
			Consequent:  l.expr(n.ChildByFieldName("consequence")),
			Alternative: l.expr(n.ChildByFieldName("alternative")),
		}

	case "lambda_expression":
		return l.lambda(n)
	case "method_reference":
		children := frontend.NamedChildren(n)
		if len(children) == 0 {
			break
		}
		prop := &uast.Identifier{Base: l.base(n), Name: "new"}
		if len(children) > 1 {
			prop = l.ident(children[len(children)-1])
		}
		return &uast.MemberAccess{Base: l.base(n), Object: l.expr(children[0]), Property: prop}

	case "array_creation_expression":
		if v := n.ChildByFieldName("value"); v != nil {
			return l.expr(v)
		}
		return &uast.TupleExpression{Base: l.base(n)}
	case "array_initializer":
		tuple := &uast.TupleExpression{Base: l.base(n)}
		for _, e := range frontend.NamedChildren(n) {
			tuple.Elements = append(tuple.Elements, l.expr(e))
		}
		return tuple

	case "generic_type", "scoped_type_identifier":
		return l.typeRef(n)
	}
	return frontend.Noop(l.src.Loc(n), n.Type())
}

func (l *lowerer) lambda(n *sitter.Node) *uast.FunctionDefinition {
	fn := &uast.FunctionDefinition{Base: l.base(n)}
	if p := n.ChildByFieldName("parameters"); p != nil {
		if p.Type() == "identifier" {
			fn.Parameters = []*uast.VariableDeclaration{{Base: l.base(p), ID: l.ident(p)}}
		} else {
			fn.Parameters = l.parameters(p)
		}
	}
	body := n.ChildByFieldName("body")
	switch {
	case body == nil:
	case body.Type() == "block":
		fn.Body = &uast.ScopedStatement{Base: l.base(body), Body: l.block(body)}
	default:
		fn.Body = l.expr(body)
		fn.ExpressionFun = true
	}
	return fn
}

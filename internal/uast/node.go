// File: internal/uast/node.go
// Package uast defines the language-neutral syntax tree consumed by the interpreter.
// Frontends lower their concrete parse trees into this closed set of node types.
package uast

import "fmt"

// Kind discriminates the node variants.
type Kind int

const (
	KindNoop Kind = iota
	KindCompileUnit
	KindIdentifier
	KindLiteral
	KindMemberAccess
	KindCall
	KindNew
	KindNamedArgument
	KindSpread
	KindBinary
	KindUnary
	KindAssignment
	KindConditional
	KindObject
	KindObjectProperty
	KindTuple
	KindFunction
	KindClass
	KindVariableDeclaration
	KindScopedStatement
	KindExpressionStatement
	KindIf
	KindLoop
	KindSwitch
	KindCaseClause
	KindTry
	KindCatchClause
	KindThrow
	KindReturn
	KindBreak
	KindContinue
	KindImport
	KindThis
	KindSuper
	KindAwait
)

var kindNames = map[Kind]string{
	KindNoop:                "Noop",
	KindCompileUnit:         "CompileUnit",
	KindIdentifier:          "Identifier",
	KindLiteral:             "Literal",
	KindMemberAccess:        "MemberAccess",
	KindCall:                "CallExpression",
	KindNew:                 "NewExpression",
	KindNamedArgument:       "NamedArgument",
	KindSpread:              "SpreadElement",
	KindBinary:              "BinaryExpression",
	KindUnary:               "UnaryExpression",
	KindAssignment:          "AssignmentExpression",
	KindConditional:         "ConditionalExpression",
	KindObject:              "ObjectExpression",
	KindObjectProperty:      "ObjectProperty",
	KindTuple:               "TupleExpression",
	KindFunction:            "FunctionDefinition",
	KindClass:               "ClassDefinition",
	KindVariableDeclaration: "VariableDeclaration",
	KindScopedStatement:     "ScopedStatement",
	KindExpressionStatement: "ExpressionStatement",
	KindIf:                  "IfStatement",
	KindLoop:                "LoopStatement",
	KindSwitch:              "SwitchStatement",
	KindCaseClause:          "CaseClause",
	KindTry:                 "TryStatement",
	KindCatchClause:         "CatchClause",
	KindThrow:               "ThrowStatement",
	KindReturn:              "ReturnStatement",
	KindBreak:               "BreakStatement",
	KindContinue:            "ContinueStatement",
	KindImport:              "ImportExpression",
	KindThis:                "ThisExpression",
	KindSuper:               "SuperExpression",
	KindAwait:               "AwaitExpression",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ConstructorName is the member name every frontend uses for constructors.
const ConstructorName = "<init>"

// Location pins a node to its source text.
type Location struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
	Snippet   string `json:"snippet,omitempty"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.StartLine, l.StartCol)
}

// IsZero reports whether the location carries no position.
func (l Location) IsZero() bool {
	return l.File == "" && l.StartLine == 0
}

// Loop kinds carried by LoopStatement.LoopKind.
const (
	LoopFor     = "for"
	LoopWhile   = "while"
	LoopDoWhile = "do"
	LoopForIn   = "for-in"
	LoopForOf   = "for-of"
)

// Node is implemented by every syntax node. The unexported method closes the set.
type Node interface {
	Kind() Kind
	Loc() Location
	node()
}

// Base carries the location shared by all nodes.
type Base struct {
	Location Location
}

func (b *Base) Loc() Location { return b.Location }
func (b *Base) node()         {}

// LiteralKind classifies literal payloads.
type LiteralKind int

const (
	LiteralNull LiteralKind = iota
	LiteralNumber
	LiteralString
	LiteralBool
)

func (k LiteralKind) String() string {
	switch k {
	case LiteralNumber:
		return "number"
	case LiteralString:
		return "string"
	case LiteralBool:
		return "bool"
	default:
		return "null"
	}
}

type (
	// CompileUnit is the root of one source file.
	CompileUnit struct {
		Base
		URI      string
		Language string
		Body     []Node
	}

	Identifier struct {
		Base
		Name string
	}

	// Literal values keep their source spelling; numbers are not parsed.
	Literal struct {
		Base
		Value       string
		LiteralKind LiteralKind
	}

	MemberAccess struct {
		Base
		Object   Node
		Property Node
		Computed bool
	}

	CallExpression struct {
		Base
		Callee    Node
		Arguments []Node
	}

	NewExpression struct {
		Base
		Callee    Node
		Arguments []Node
	}

	// NamedArgument is a keyword argument at a call site.
	NamedArgument struct {
		Base
		Name  string
		Value Node
	}

	SpreadElement struct {
		Base
		Argument Node
	}

	BinaryExpression struct {
		Base
		Operator string
		Left     Node
		Right    Node
	}

	UnaryExpression struct {
		Base
		Operator string
		Argument Node
	}

	// AssignmentExpression covers "=" and compound operators such as "+=".
	AssignmentExpression struct {
		Base
		Operator string
		Left     Node
		Right    Node
	}

	ConditionalExpression struct {
		Base
		Test        Node
		Consequent  Node
		Alternative Node
	}

	ObjectExpression struct {
		Base
		Properties []*ObjectProperty
	}

	ObjectProperty struct {
		Base
		Key   Node
		Value Node
	}

	// TupleExpression is an array literal or a destructuring pattern.
	TupleExpression struct {
		Base
		Elements []Node
	}

	FunctionDefinition struct {
		Base
		Name          *Identifier
		Parameters    []*VariableDeclaration
		Body          Node
		Modifiers     []string
		Constructor   bool
		ReturnType    string
		Async         bool
		ExpressionFun bool
	}

	ClassDefinition struct {
		Base
		Name      *Identifier
		Supers    []Node
		Body      []Node
		Modifiers []string
	}

	// VariableDeclaration also describes function parameters and class fields.
	VariableDeclaration struct {
		Base
		ID        Node
		Init      Node
		VarType   string
		Rest      bool
		Modifiers []string
	}

	ScopedStatement struct {
		Base
		Body []Node
	}

	ExpressionStatement struct {
		Base
		Expression Node
	}

	IfStatement struct {
		Base
		Test        Node
		Consequent  Node
		Alternative Node
	}

	// LoopStatement models for, while, do-while and for-each. For-each loops bind
	// Left to each element of Right.
	LoopStatement struct {
		Base
		LoopKind string
		Init     Node
		Test     Node
		Update   Node
		Left     Node
		Right    Node
		Body     Node
	}

	SwitchStatement struct {
		Base
		Discriminant Node
		Cases        []*CaseClause
	}

	CaseClause struct {
		Base
		Test Node
		Body []Node
	}

	TryStatement struct {
		Base
		Body      Node
		Handlers  []*CatchClause
		Finalizer Node
	}

	CatchClause struct {
		Base
		Param Node
		Body  Node
	}

	ThrowStatement struct {
		Base
		Argument Node
	}

	ReturnStatement struct {
		Base
		Argument Node
	}

	BreakStatement struct{ Base }

	ContinueStatement struct{ Base }

	// ImportExpression binds Imported (or the whole module when empty) from Source.
	ImportExpression struct {
		Base
		Source   string
		Imported string
	}

	ThisExpression struct{ Base }

	SuperExpression struct{ Base }

	AwaitExpression struct {
		Base
		Argument Node
	}

	Noop struct {
		Base
		Reason string
	}
)

func (*CompileUnit) Kind() Kind           { return KindCompileUnit }
func (*Identifier) Kind() Kind            { return KindIdentifier }
func (*Literal) Kind() Kind               { return KindLiteral }
func (*MemberAccess) Kind() Kind          { return KindMemberAccess }
func (*CallExpression) Kind() Kind        { return KindCall }
func (*NewExpression) Kind() Kind         { return KindNew }
func (*NamedArgument) Kind() Kind         { return KindNamedArgument }
func (*SpreadElement) Kind() Kind         { return KindSpread }
func (*BinaryExpression) Kind() Kind      { return KindBinary }
func (*UnaryExpression) Kind() Kind       { return KindUnary }
func (*AssignmentExpression) Kind() Kind  { return KindAssignment }
func (*ConditionalExpression) Kind() Kind { return KindConditional }
func (*ObjectExpression) Kind() Kind      { return KindObject }
func (*ObjectProperty) Kind() Kind        { return KindObjectProperty }
func (*TupleExpression) Kind() Kind       { return KindTuple }
func (*FunctionDefinition) Kind() Kind    { return KindFunction }
func (*ClassDefinition) Kind() Kind       { return KindClass }
func (*VariableDeclaration) Kind() Kind   { return KindVariableDeclaration }
func (*ScopedStatement) Kind() Kind       { return KindScopedStatement }
func (*ExpressionStatement) Kind() Kind   { return KindExpressionStatement }
func (*IfStatement) Kind() Kind           { return KindIf }
func (*LoopStatement) Kind() Kind         { return KindLoop }
func (*SwitchStatement) Kind() Kind       { return KindSwitch }
func (*CaseClause) Kind() Kind            { return KindCaseClause }
func (*TryStatement) Kind() Kind          { return KindTry }
func (*CatchClause) Kind() Kind           { return KindCatchClause }
func (*ThrowStatement) Kind() Kind        { return KindThrow }
func (*ReturnStatement) Kind() Kind       { return KindReturn }
func (*BreakStatement) Kind() Kind        { return KindBreak }
func (*ContinueStatement) Kind() Kind     { return KindContinue }
func (*ImportExpression) Kind() Kind      { return KindImport }
func (*ThisExpression) Kind() Kind        { return KindThis }
func (*SuperExpression) Kind() Kind       { return KindSuper }
func (*AwaitExpression) Kind() Kind       { return KindAwait }
func (*Noop) Kind() Kind                  { return KindNoop }

// FunctionName returns the declared name or "" for anonymous functions.
func (f *FunctionDefinition) FunctionName() string {
	if f == nil || f.Name == nil {
		return ""
	}
	return f.Name.Name
}

// ClassName returns the declared name or "" for anonymous classes.
func (c *ClassDefinition) ClassName() string {
	if c == nil || c.Name == nil {
		return ""
	}
	return c.Name.Name
}

// ParamName returns the bound identifier of a simple declaration.
func (v *VariableDeclaration) ParamName() string {
	if id, ok := v.ID.(*Identifier); ok {
		return id.Name
	}
	return ""
}

// HasModifier reports whether mods contains m.
func HasModifier(mods []string, m string) bool {
	for _, x := range mods {
		if x == m {
			return true
		}
	}
	return false
}

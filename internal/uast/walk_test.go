package uast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ident(name string) *Identifier { return &Identifier{Name: name} }

func TestWalk_PreOrder(t *testing.T) {
	unit := &CompileUnit{Body: []Node{
		&VariableDeclaration{ID: ident("x"), Init: &Literal{Value: "1", LiteralKind: LiteralNumber}},
		&ExpressionStatement{Expression: &CallExpression{
			Callee:    &MemberAccess{Object: ident("console"), Property: ident("log")},
			Arguments: []Node{ident("x")},
		}},
	}}

	var kinds []Kind
	Walk(unit, func(n Node) bool {
		kinds = append(kinds, n.Kind())
		return true
	})

	assert.Equal(t, []Kind{
		KindCompileUnit,
		KindVariableDeclaration, KindIdentifier, KindLiteral,
		KindExpressionStatement, KindCall, KindMemberAccess, KindIdentifier, KindIdentifier, KindIdentifier,
	}, kinds)
}

func TestWalk_SkipSubtreeAndNilChildren(t *testing.T) {
	fn := &FunctionDefinition{
		Name: nil,
		Body: &ScopedStatement{Body: []Node{&ReturnStatement{Argument: ident("secret")}}},
	}
	unit := &CompileUnit{Body: []Node{fn, &IfStatement{Test: ident("c"), Consequent: &ScopedStatement{}}}}

	ids := Find(unit, func(n Node) bool { return n.Kind() == KindIdentifier })
	assert.Len(t, ids, 2)

	var visited int
	Walk(unit, func(n Node) bool {
		visited++
		return n.Kind() != KindFunction
	})
	// unit, fn (skipped children), if, test ident, consequent block
	assert.Equal(t, 5, visited)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "MemberAccess", KindMemberAccess.String())
	assert.Equal(t, "Kind(999)", Kind(999).String())
	assert.Equal(t, "string", LiteralString.String())
}

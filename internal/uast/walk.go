package uast

// Children returns the direct child nodes of n in source order. Nil children are omitted.
func Children(n Node) []Node {
	var out []Node
	add := func(ns ...Node) {
		for _, c := range ns {
			if c != nil && !isNilNode(c) {
				out = append(out, c)
			}
		}
	}

	switch t := n.(type) {
	case *CompileUnit:
		add(t.Body...)
	case *MemberAccess:
		add(t.Object, t.Property)
	case *CallExpression:
		add(t.Callee)
		add(t.Arguments...)
	case *NewExpression:
		add(t.Callee)
		add(t.Arguments...)
	case *NamedArgument:
		add(t.Value)
	case *SpreadElement:
		add(t.Argument)
	case *BinaryExpression:
		add(t.Left, t.Right)
	case *UnaryExpression:
		add(t.Argument)
	case *AssignmentExpression:
		add(t.Left, t.Right)
	case *ConditionalExpression:
		add(t.Test, t.Consequent, t.Alternative)
	case *ObjectExpression:
		for _, p := range t.Properties {
			add(p)
		}
	case *ObjectProperty:
		add(t.Key, t.Value)
	case *TupleExpression:
		add(t.Elements...)
	case *FunctionDefinition:
		if t.Name != nil {
			add(t.Name)
		}
		for _, p := range t.Parameters {
			add(p)
		}
		add(t.Body)
	case *ClassDefinition:
		if t.Name != nil {
			add(t.Name)
		}
		add(t.Supers...)
		add(t.Body...)
	case *VariableDeclaration:
		add(t.ID, t.Init)
	case *ScopedStatement:
		add(t.Body...)
	case *ExpressionStatement:
		add(t.Expression)
	case *IfStatement:
		add(t.Test, t.Consequent, t.Alternative)
	case *LoopStatement:
		add(t.Init, t.Test, t.Update, t.Left, t.Right, t.Body)
	case *SwitchStatement:
		add(t.Discriminant)
		for _, c := range t.Cases {
			add(c)
		}
	case *CaseClause:
		add(t.Test)
		add(t.Body...)
	case *TryStatement:
		add(t.Body)
		for _, h := range t.Handlers {
			add(h)
		}
		add(t.Finalizer)
	case *CatchClause:
		add(t.Param, t.Body)
	case *ThrowStatement:
		add(t.Argument)
	case *ReturnStatement:
		add(t.Argument)
	case *AwaitExpression:
		add(t.Argument)
	}
	return out
}

// Walk visits n depth-first in pre-order. Returning false from visit skips the subtree.
func Walk(n Node, visit func(Node) bool) {
	if n == nil || isNilNode(n) {
		return
	}
	if !visit(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, visit)
	}
}

// Find returns every node in the tree satisfying pred.
func Find(root Node, pred func(Node) bool) []Node {
	var out []Node
	Walk(root, func(n Node) bool {
		if pred(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// isNilNode catches typed nil pointers stored in the interface.
func isNilNode(n Node) bool {
	switch t := n.(type) {
	case *Identifier:
		return t == nil
	case *FunctionDefinition:
		return t == nil
	case *ClassDefinition:
		return t == nil
	case *VariableDeclaration:
		return t == nil
	case *ObjectProperty:
		return t == nil
	case *CaseClause:
		return t == nil
	case *CatchClause:
		return t == nil
	case *ScopedStatement:
		return t == nil
	case *CompileUnit:
		return t == nil
	}
	return false
}

// Package frontend defines the parser contract every language frontend
// implements and the helpers they share for lowering tree-sitter trees.
package frontend

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Parser turns source text into a unified syntax tree.
type Parser interface {
	// Language is the name recorded on produced compile units.
	Language() string
	// Extensions lists the file extensions handled, with the leading dot.
	Extensions() []string
	Parse(ctx context.Context, path string, src []byte) (*uast.CompileUnit, error)
}

// Registry maps file extensions to parsers.
type Registry struct {
	byExt map[string]Parser
}

// NewRegistry indexes parsers by extension. Later parsers win on conflicts.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{byExt: make(map[string]Parser)}
	for _, p := range parsers {
		for _, ext := range p.Extensions() {
			r.byExt[strings.ToLower(ext)] = p
		}
	}
	return r
}

// ForPath returns the parser responsible for path.
func (r *Registry) ForPath(path string) (Parser, bool) {
	p, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return p, ok
}

// Extensions returns every registered extension, sorted.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// SyntaxError reports a tree that tree-sitter could only recover partially.
type SyntaxError struct {
	Path   string
	Line   int
	Column int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error in %s at %d:%d", e.Path, e.Line, e.Column)
}

// FirstError returns the position of the first ERROR or MISSING node under root.
func FirstError(root *sitter.Node) (*sitter.Node, bool) {
	if root == nil || !root.HasError() {
		return nil, false
	}
	var walk func(n *sitter.Node) *sitter.Node
	walk = func(n *sitter.Node) *sitter.Node {
		if n.Type() == "ERROR" || n.IsMissing() {
			return n
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			c := n.Child(i)
			if c == nil || !c.HasError() && !c.IsMissing() {
				continue
			}
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	found := walk(root)
	return found, found != nil
}

// Source bundles the text being lowered with its path.
type Source struct {
	Path string
	Text []byte
}

// Content extracts the text of node.
func (s *Source) Content(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return node.Content(s.Text)
}

// Loc converts a tree-sitter node position to a 1-based location with the
// trimmed source line as snippet.
func (s *Source) Loc(node *sitter.Node) uast.Location {
	if node == nil {
		return uast.Location{File: s.Path}
	}
	start, end := node.StartPoint(), node.EndPoint()
	return uast.Location{
		File:      s.Path,
		StartLine: int(start.Row) + 1,
		StartCol:  int(start.Column) + 1,
		EndLine:   int(end.Row) + 1,
		EndCol:    int(end.Column) + 1,
		Snippet:   s.lineAt(int(node.StartByte())),
	}
}

func (s *Source) lineAt(idx int) string {
	if idx < 0 || idx > len(s.Text) {
		return ""
	}
	start := idx
	for start > 0 && s.Text[start-1] != '\n' {
		start--
	}
	end := idx
	for end < len(s.Text) && s.Text[end] != '\n' {
		end++
	}
	return strings.TrimSpace(string(s.Text[start:end]))
}

// NamedChildren returns the named children of node, skipping comments.
func NamedChildren(node *sitter.Node) []*sitter.Node {
	if node == nil {
		return nil
	}
	n := int(node.NamedChildCount())
	out := make([]*sitter.Node, 0, n)
	for i := 0; i < n; i++ {
		c := node.NamedChild(i)
		if c == nil || c.Type() == "comment" || c.Type() == "line_comment" || c.Type() == "block_comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// HasToken reports whether node has an anonymous child spelled tok.
func HasToken(node *sitter.Node, tok string) bool {
	if node == nil {
		return false
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		c := node.Child(i)
		if c != nil && !c.IsNamed() && c.Type() == tok {
			return true
		}
	}
	return false
}

// Unquote strips one layer of matching quotes from a string literal.
func Unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'' || first == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Noop returns a placeholder for a construct the frontend does not lower.
func Noop(loc uast.Location, reason string) *uast.Noop {
	return &uast.Noop{Base: uast.Base{Location: loc}, Reason: reason}
}

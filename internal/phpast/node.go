package phpast

import tree_sitter "github.com/tree-sitter/go-tree-sitter"

// DirectChildOfKind finds a direct named child of the given kind
// (non-recursive).
func DirectChildOfKind(node *tree_sitter.Node, kind string) *tree_sitter.Node {
	if node == nil {
		return nil
	}
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child != nil && child.Kind() == kind {
			return child
		}
	}
	return nil
}

// FirstOfKind finds the first node of the given kind in document order,
// searching the whole subtree.
func FirstOfKind(node *tree_sitter.Node, kind string) *tree_sitter.Node {
	if node == nil {
		return nil
	}

	stack := []*tree_sitter.Node{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.Kind() == kind {
			return n
		}

		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			child := n.NamedChild(uint(i))
			if child != nil {
				stack = append(stack, child)
			}
		}
	}

	return nil
}

// NamedChildren returns all direct named children.
func NamedChildren(node *tree_sitter.Node) []*tree_sitter.Node {
	if node == nil {
		return nil
	}
	out := make([]*tree_sitter.Node, 0, node.NamedChildCount())
	for i := uint(0); i < node.NamedChildCount(); i++ {
		if child := node.NamedChild(i); child != nil {
			out = append(out, child)
		}
	}
	return out
}

// Line returns the 1-based start line of a node.
func Line(node *tree_sitter.Node) int {
	return int(node.Range().StartPoint.Row) + 1
}

// Column returns the 1-based start column of a node.
func Column(node *tree_sitter.Node) int {
	return int(node.Range().StartPoint.Column) + 1
}

// EndLine returns the 1-based end line of a node.
func EndLine(node *tree_sitter.Node) int {
	return int(node.Range().EndPoint.Row) + 1
}

// EndColumn returns the 1-based end column of a node.
func EndColumn(node *tree_sitter.Node) int {
	return int(node.Range().EndPoint.Column) + 1
}

// HasModifier reports whether a declaration carries the given modifier text
// among its direct children (e.g. "static", "final", "abstract", "readonly",
// "public", "protected", "private").
func HasModifier(node *tree_sitter.Node, content []byte, modifier string) bool {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "visibility_modifier", "static_modifier", "final_modifier",
			"abstract_modifier", "readonly_modifier", "var_modifier":
			if string(child.Utf8Text(content)) == modifier {
				return true
			}
		}
	}
	return false
}

// DocCommentFor returns the text of the docblock immediately preceding the
// declaration, or "" when there is none.
func DocCommentFor(node *tree_sitter.Node, content []byte) string {
	prev := node.PrevNamedSibling()
	if prev == nil || prev.Kind() != "comment" {
		return ""
	}
	text := string(prev.Utf8Text(content))
	if len(text) < 3 || text[:3] != "/**" {
		return ""
	}
	return text
}

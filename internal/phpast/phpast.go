// Package phpast wraps the tree-sitter PHP grammar: parser construction,
// per-file parse results with namespace and use-statement context, node
// helpers and the conversion of native type hints into the type algebra.
// Everything downstream works on these parse results; no other package
// touches tree-sitter directly.
package phpast

import (
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_php "github.com/tree-sitter/tree-sitter-php/bindings/go"
)

// NewParser returns a parser configured for PHP. Parsers are not safe for
// concurrent use; create one per goroutine.
func NewParser() (*tree_sitter.Parser, error) {
	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(tree_sitter.NewLanguage(tree_sitter_php.LanguagePHP())); err != nil {
		parser.Close()
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	return parser, nil
}

// File is one parsed PHP file together with the namespace context needed to
// resolve short class names. Close releases the underlying tree.
type File struct {
	Path    string
	Content []byte
	Tree    *tree_sitter.Tree

	Namespace string
	// Uses maps imported short names to FQCNs, Aliases maps `use X as Y`
	// alias names to FQCNs.
	Uses    map[string]string
	Aliases map[string]string
}

// ParseFile parses content with the given parser and extracts the namespace
// and use-statement context from the top level of the file.
func ParseFile(parser *tree_sitter.Parser, path string, content []byte) (*File, error) {
	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse %s", path)
	}

	f := &File{
		Path:    path,
		Content: content,
		Tree:    tree,
		Uses:    make(map[string]string),
		Aliases: make(map[string]string),
	}
	f.collectTopLevel()
	return f, nil
}

// Root returns the root node of the parse tree.
func (f *File) Root() *tree_sitter.Node {
	return f.Tree.RootNode()
}

// Close releases the parse tree.
func (f *File) Close() {
	f.Tree.Close()
}

// Text returns the source text of a node.
func (f *File) Text(node *tree_sitter.Node) string {
	return string(node.Utf8Text(f.Content))
}

// Resolver returns a name resolver for this file's namespace context.
func (f *File) Resolver() *NameResolver {
	return NewNameResolver(f.Namespace, f.Uses, f.Aliases)
}

// collectTopLevel walks the direct children of the program node for
// namespace and use declarations. PHP permits them only at the top level
// (and inside namespace blocks, which are walked too).
func (f *File) collectTopLevel() {
	var walk func(node *tree_sitter.Node)
	walk = func(node *tree_sitter.Node) {
		for i := uint(0); i < node.NamedChildCount(); i++ {
			child := node.NamedChild(i)
			if child == nil {
				continue
			}
			switch child.Kind() {
			case "namespace_definition":
				if nameNode := DirectChildOfKind(child, "namespace_name"); nameNode != nil {
					f.Namespace = f.Text(nameNode)
				}
				// Braced namespace blocks nest their declarations.
				if body := DirectChildOfKind(child, "compound_statement"); body != nil {
					walk(body)
				}
			case "namespace_use_declaration":
				f.collectUseDeclaration(child)
			}
		}
	}
	walk(f.Root())
}

func (f *File) collectUseDeclaration(node *tree_sitter.Node) {
	prefixNode := DirectChildOfKind(node, "namespace_name")
	groupNode := DirectChildOfKind(node, "namespace_use_group")

	if prefixNode != nil && groupNode != nil {
		// Group use: use Symfony\Component\{HttpFoundation\Request, Routing\Router as R};
		prefix := f.Text(prefixNode)
		for i := uint(0); i < groupNode.NamedChildCount(); i++ {
			clause := groupNode.NamedChild(i)
			if clause == nil || clause.Kind() != "namespace_use_clause" {
				continue
			}
			f.collectUseClause(clause, prefix)
		}
		return
	}

	for i := uint(0); i < node.NamedChildCount(); i++ {
		clause := node.NamedChild(i)
		if clause != nil && clause.Kind() == "namespace_use_clause" {
			f.collectUseClause(clause, "")
		}
	}
}

func (f *File) collectUseClause(clause *tree_sitter.Node, prefix string) {
	var fullPath, shortName string

	if qualified := DirectChildOfKind(clause, "qualified_name"); qualified != nil {
		fullPath = f.Text(qualified)
		if last := qualified.NamedChild(qualified.NamedChildCount() - 1); last != nil && last.Kind() == "name" {
			shortName = f.Text(last)
		}
	} else if nameNode := DirectChildOfKind(clause, "name"); nameNode != nil {
		// use Foo; a global symbol without namespace separators.
		shortName = f.Text(nameNode)
		fullPath = shortName
	} else {
		return
	}
	if prefix != "" {
		fullPath = prefix + "\\" + fullPath
	}

	// use Foo\Bar as Baz; the alias sits in an aliasing clause.
	if aliasing := DirectChildOfKind(clause, "namespace_aliasing_clause"); aliasing != nil {
		if aliasNode := DirectChildOfKind(aliasing, "name"); aliasNode != nil {
			f.Aliases[f.Text(aliasNode)] = fullPath
			return
		}
	}

	if shortName != "" {
		f.Uses[shortName] = fullPath
	}
}

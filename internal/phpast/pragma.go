package phpast

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/phpmago/analyzer/internal/diagnostic"
)

// Pragmas scans every comment of the file for @mago-expect and @mago-ignore
// markers. A pragma anchors to the last line of its comment, so a docblock
// pragma applies to the declaration that follows it.
func (f *File) Pragmas() []diagnostic.Pragma {
	var pragmas []diagnostic.Pragma

	var visit func(node *tree_sitter.Node)
	visit = func(node *tree_sitter.Node) {
		if node.Kind() == "comment" {
			pragmas = append(pragmas, f.commentPragmas(node)...)
			return
		}
		for i := uint(0); i < node.NamedChildCount(); i++ {
			if child := node.NamedChild(i); child != nil {
				visit(child)
			}
		}
	}
	visit(f.Root())

	return pragmas
}

func (f *File) commentPragmas(node *tree_sitter.Node) []diagnostic.Pragma {
	var out []diagnostic.Pragma
	text := f.Text(node)
	anchor := EndLine(node)

	for _, line := range strings.Split(text, "\n") {
		idx := strings.Index(line, "@mago-")
		if idx < 0 {
			continue
		}
		rest := line[idx:]
		var kind diagnostic.PragmaKind
		switch {
		case strings.HasPrefix(rest, "@mago-expect"):
			kind = diagnostic.PragmaExpect
			rest = rest[len("@mago-expect"):]
		case strings.HasPrefix(rest, "@mago-ignore"):
			kind = diagnostic.PragmaIgnore
			rest = rest[len("@mago-ignore"):]
		default:
			continue
		}

		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		// Codes may be comma-separated: @mago-expect a,b
		for _, code := range strings.Split(fields[0], ",") {
			code = strings.TrimSpace(code)
			if code == "" {
				continue
			}
			out = append(out, diagnostic.Pragma{
				Kind: kind,
				Code: code,
				File: f.Path,
				Line: anchor,
			})
		}
	}
	return out
}

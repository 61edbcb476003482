package phpast

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/phpmago/analyzer/internal/typing"
)

// NativeType converts a native type hint node (the `type` field of a
// parameter, property or function declaration) into the type algebra.
// A nil node means no hint and yields mixed.
func NativeType(node *tree_sitter.Node, content []byte, resolver *NameResolver) typing.Type {
	if node == nil {
		return typing.Mixed()
	}

	switch node.Kind() {
	case "optional_type":
		// ?T
		for i := uint(0); i < node.NamedChildCount(); i++ {
			if child := node.NamedChild(i); child != nil {
				return typing.Nullable(NativeType(child, content, resolver))
			}
		}
		return typing.Mixed()

	case "union_type", "disjunctive_normal_form_type":
		members := make([]typing.Type, 0, node.NamedChildCount())
		for i := uint(0); i < node.NamedChildCount(); i++ {
			if child := node.NamedChild(i); child != nil {
				members = append(members, NativeType(child, content, resolver))
			}
		}
		return typing.NewUnion(members...)

	case "intersection_type":
		members := make([]typing.Type, 0, node.NamedChildCount())
		for i := uint(0); i < node.NamedChildCount(); i++ {
			if child := node.NamedChild(i); child != nil {
				members = append(members, NativeType(child, content, resolver))
			}
		}
		return typing.NewIntersection(members...)

	case "primitive_type":
		return primitiveType(string(node.Utf8Text(content)))

	case "named_type":
		name := string(node.Utf8Text(content))
		return namedType(name, resolver)

	case "name", "qualified_name":
		return namedType(string(node.Utf8Text(content)), resolver)
	}

	return typing.Mixed()
}

func primitiveType(text string) typing.Type {
	switch strings.ToLower(text) {
	case "int":
		return typing.Int()
	case "float":
		return typing.Float()
	case "string":
		return typing.String()
	case "bool":
		return typing.Bool()
	case "null":
		return typing.Null()
	case "void":
		return typing.Void()
	case "mixed":
		return typing.Mixed()
	case "never":
		return typing.Never()
	case "true":
		return typing.BoolLiteral{Value: true}
	case "false":
		return typing.BoolLiteral{Value: false}
	case "array":
		return typing.Shape{}
	case "iterable":
		return typing.NewUnion(
			typing.Shape{ExtraKey: typing.ArrayKey(), ExtraValue: typing.Mixed()},
			typing.Object{Name: "Traversable", TypeArgs: []typing.Type{typing.Mixed(), typing.Mixed()}},
		)
	case "callable":
		return typing.Callable{Return: typing.Mixed()}
	case "object":
		return typing.Object{Name: "object"}
	}
	return typing.Mixed()
}

func namedType(name string, resolver *NameResolver) typing.Type {
	if resolver != nil {
		name = resolver.Resolve(name)
	} else {
		name = strings.TrimPrefix(name, "\\")
	}
	// Native hints can still spell primitives as names in edge positions.
	if t := primitiveType(name); !typing.IsMixed(t) {
		return t
	}
	if strings.EqualFold(name, "mixed") {
		return typing.Mixed()
	}
	return typing.Object{Name: name}
}

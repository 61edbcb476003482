package phpast

import "strings"

// NameResolver resolves short PHP type names to fully qualified class names
// using the file's namespace, use statements and aliases.
type NameResolver struct {
	aliases          map[string]string
	useStatements    map[string]string
	currentNamespace string
}

// NewNameResolver creates a resolver for the given namespace context.
func NewNameResolver(namespace string, useStatements, aliases map[string]string) *NameResolver {
	return &NameResolver{
		aliases:          aliases,
		useStatements:    useStatements,
		currentNamespace: namespace,
	}
}

// Resolve resolves a type name to its FQCN, without a leading backslash.
// Primitive and special names pass through untouched; fully qualified names
// only lose their leading backslash.
func (r *NameResolver) Resolve(typeName string) string {
	if isPrimitiveType(typeName) || isSpecialType(typeName) {
		return typeName
	}

	if strings.HasPrefix(typeName, "\\") {
		return typeName[1:]
	}
	if strings.Contains(typeName, "\\") {
		// Relative qualified names resolve their first segment against the
		// use statements, then fall back to the current namespace.
		head, rest, _ := strings.Cut(typeName, "\\")
		if fqcn, ok := r.aliases[head]; ok {
			return fqcn + "\\" + rest
		}
		if fqcn, ok := r.useStatements[head]; ok {
			return fqcn + "\\" + rest
		}
		if r.currentNamespace != "" {
			return r.currentNamespace + "\\" + typeName
		}
		return typeName
	}

	if fqcn, ok := r.aliases[typeName]; ok {
		return fqcn
	}
	if fqcn, ok := r.useStatements[typeName]; ok {
		return fqcn
	}

	if r.currentNamespace != "" {
		return r.currentNamespace + "\\" + typeName
	}
	return typeName
}

func isPrimitiveType(typeName string) bool {
	switch strings.ToLower(typeName) {
	case "string", "int", "integer", "float", "double", "bool", "boolean",
		"array", "object", "callable", "iterable", "void", "null",
		"mixed", "never", "resource", "false", "true":
		return true
	default:
		return false
	}
}

func isSpecialType(typeName string) bool {
	switch typeName {
	case "self", "static", "parent", "$this":
		return true
	default:
		return false
	}
}

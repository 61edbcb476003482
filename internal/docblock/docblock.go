// Package docblock parses the annotation vocabulary the engine consumes:
// base type tags (@param/@return/@var), generics (@template/@extends/
// @implements/@use), custom narrowing assertions (@psalm-assert and
// friends), named type aliases (@psalm-type/@phpstan-type/@type and their
// import-type counterparts) and @inheritDoc. Type expressions inside the
// tags are handed to the typing package; there is no shadow type hierarchy.
package docblock

import (
	"strings"

	"github.com/phpmago/analyzer/internal/typing"
)

// TemplateDecl is one @template declaration before bound resolution.
type TemplateDecl struct {
	Name     string
	Variance typing.Variance
	Bound    typing.Type
}

// TypeImport is one @psalm-import-type clause; the collector resolves the
// source symbol once the whole project is known.
type TypeImport struct {
	Alias string
	Name  string
	From  string
}

// Doc is the parsed content of one docblock.
type Doc struct {
	Params     map[string]typing.Type
	Return     typing.Type
	HasReturn  bool
	Var        typing.Type
	HasVar     bool
	// VarName is the $name following an inline @var annotation, if any.
	VarName string
	Templates  []TemplateDecl
	Extends    []typing.Type
	Implements []typing.Type
	Uses       []typing.Type
	Assertions []typing.Assertion
	Aliases    map[string]typing.Type
	Imports    []TypeImport
	InheritDoc bool

	// Errors collects malformed type expressions; the caller reports them
	// as analysis:invalid-type and continues with mixed.
	Errors []error
}

// Parse parses raw docblock text (including the comment delimiters) into a
// Doc. Parsing never fails outright: unknown tags are skipped and malformed
// types are recorded and degraded to mixed.
func Parse(text string, opts typing.ParseOptions) *Doc {
	doc := &Doc{
		Params:  make(map[string]typing.Type),
		Aliases: make(map[string]typing.Type),
	}

	// Template parameters declared in this block are in scope for every
	// other tag of the same block, so collect them first.
	lines := docLines(text)
	for _, line := range lines {
		tag, payload := splitTag(line)
		switch tag {
		case "@template", "@psalm-template", "@phpstan-template":
			doc.parseTemplate(payload, typing.Invariant, opts)
		case "@template-covariant", "@psalm-template-covariant", "@phpstan-template-covariant":
			doc.parseTemplate(payload, typing.Covariant, opts)
		case "@template-contravariant", "@psalm-template-contravariant", "@phpstan-template-contravariant":
			doc.parseTemplate(payload, typing.Contravariant, opts)
		}
	}
	if len(doc.Templates) > 0 {
		scoped := make(map[string]typing.TemplateParam, len(doc.Templates))
		for k, v := range opts.Templates {
			scoped[k] = v
		}
		for _, t := range doc.Templates {
			scoped[t.Name] = typing.TemplateParam{Name: t.Name, Bound: t.Bound}
		}
		opts.Templates = scoped
	}

	// Named aliases may be referenced by later tags in the same block.
	for _, line := range lines {
		tag, payload := splitTag(line)
		switch tag {
		case "@psalm-type", "@phpstan-type", "@type":
			doc.parseTypeAlias(payload, opts)
		case "@psalm-import-type", "@phpstan-import-type", "@import-type":
			doc.parseTypeImport(payload)
		}
	}
	if len(doc.Aliases) > 0 {
		merged := make(map[string]typing.Type, len(doc.Aliases))
		for k, v := range opts.Aliases {
			merged[k] = v
		}
		for k, v := range doc.Aliases {
			merged[k] = v
		}
		opts.Aliases = merged
	}

	for _, line := range lines {
		tag, payload := splitTag(line)
		switch tag {
		case "@param", "@psalm-param", "@phpstan-param":
			doc.parseParam(payload, opts)
		case "@return", "@psalm-return", "@phpstan-return":
			doc.parseReturn(payload, opts)
		case "@var", "@psalm-var", "@phpstan-var":
			doc.parseVar(payload, opts)
		case "@extends", "@template-extends", "@psalm-extends", "@phpstan-extends":
			doc.parseSuper(payload, opts, &doc.Extends)
		case "@implements", "@template-implements", "@psalm-implements", "@phpstan-implements":
			doc.parseSuper(payload, opts, &doc.Implements)
		case "@use", "@template-use", "@psalm-use", "@phpstan-use":
			doc.parseSuper(payload, opts, &doc.Uses)
		case "@assert", "@psalm-assert", "@phpstan-assert":
			doc.parseAssertion(payload, typing.AssertAlways, opts)
		case "@assert-if-true", "@psalm-assert-if-true", "@phpstan-assert-if-true":
			doc.parseAssertion(payload, typing.AssertIfTrue, opts)
		case "@assert-if-false", "@psalm-assert-if-false", "@phpstan-assert-if-false":
			doc.parseAssertion(payload, typing.AssertIfFalse, opts)
		case "@inheritdoc", "{@inheritdoc}":
			doc.InheritDoc = true
		}
	}
	if strings.Contains(strings.ToLower(text), "{@inheritdoc}") {
		doc.InheritDoc = true
	}
	return doc
}

func (d *Doc) parseType(src string, opts typing.ParseOptions) (typing.Type, bool) {
	t, err := typing.Parse(src, opts)
	if err != nil {
		d.Errors = append(d.Errors, err)
		return typing.Mixed(), false
	}
	return t, true
}

func (d *Doc) parseParam(payload string, opts typing.ParseOptions) {
	typeExpr, rest := splitTypeExpr(payload)
	if typeExpr == "" {
		return
	}
	name := firstVariable(rest)
	if name == "" {
		return
	}
	t, _ := d.parseType(typeExpr, opts)
	d.Params[name] = t
}

func (d *Doc) parseReturn(payload string, opts typing.ParseOptions) {
	typeExpr, _ := splitTypeExpr(payload)
	if typeExpr == "" {
		return
	}
	d.Return, _ = d.parseType(typeExpr, opts)
	d.HasReturn = true
}

func (d *Doc) parseVar(payload string, opts typing.ParseOptions) {
	typeExpr, rest := splitTypeExpr(payload)
	if typeExpr == "" {
		return
	}
	d.Var, _ = d.parseType(typeExpr, opts)
	d.HasVar = true
	d.VarName = firstVariable(rest)
}

func (d *Doc) parseTemplate(payload string, variance typing.Variance, opts typing.ParseOptions) {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return
	}
	decl := TemplateDecl{Name: fields[0], Variance: variance}
	if len(fields) >= 3 && (fields[1] == "of" || fields[1] == "as") {
		bound, _ := d.parseType(strings.Join(fields[2:], " "), opts)
		decl.Bound = bound
	}
	d.Templates = append(d.Templates, decl)
}

func (d *Doc) parseSuper(payload string, opts typing.ParseOptions, into *[]typing.Type) {
	typeExpr, _ := splitTypeExpr(payload)
	if typeExpr == "" {
		return
	}
	t, ok := d.parseType(typeExpr, opts)
	if !ok {
		return
	}
	if _, isObject := t.(typing.Object); isObject {
		*into = append(*into, t)
	}
}

func (d *Doc) parseAssertion(payload string, when typing.AssertionWhen, opts typing.ParseOptions) {
	negated := false
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "!") {
		negated = true
		payload = payload[1:]
	}
	typeExpr, rest := splitTypeExpr(payload)
	if typeExpr == "" {
		return
	}
	name := firstVariable(rest)
	if name == "" {
		return
	}
	t, ok := d.parseType(typeExpr, opts)
	if !ok {
		return
	}
	d.Assertions = append(d.Assertions, typing.Assertion{Param: name, Type: t, When: when, Negated: negated})
}

func (d *Doc) parseTypeAlias(payload string, opts typing.ParseOptions) {
	fields := strings.SplitN(strings.TrimSpace(payload), " ", 2)
	if len(fields) != 2 {
		return
	}
	name := fields[0]
	expr := strings.TrimSpace(fields[1])
	expr = strings.TrimPrefix(expr, "=")
	expr = strings.TrimSpace(expr)
	typeExpr, _ := splitTypeExpr(expr)
	if typeExpr == "" {
		return
	}
	t, ok := d.parseType(typeExpr, opts)
	if !ok {
		return
	}
	d.Aliases[name] = t
}

func (d *Doc) parseTypeImport(payload string) {
	// @psalm-import-type Name from \Some\Class [as Alias]
	fields := strings.Fields(payload)
	if len(fields) < 3 || fields[1] != "from" {
		return
	}
	imp := TypeImport{Name: fields[0], Alias: fields[0], From: strings.TrimPrefix(fields[2], "\\")}
	if len(fields) >= 5 && fields[3] == "as" {
		imp.Alias = fields[4]
	}
	d.Imports = append(d.Imports, imp)
}

// docLines strips the comment delimiters and leading asterisks, yielding
// one logical line per physical line.
func docLines(text string) []string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "/**")
	text = strings.TrimPrefix(text, "/*")
	text = strings.TrimSuffix(text, "*/")
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// splitTag splits a docblock line into its lowercased tag and payload.
func splitTag(line string) (string, string) {
	if !strings.HasPrefix(line, "@") && !strings.HasPrefix(line, "{@") {
		return "", ""
	}
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return strings.ToLower(strings.TrimSuffix(line, "}")), ""
	}
	return strings.ToLower(line[:idx]), strings.TrimSpace(line[idx+1:])
}

// splitTypeExpr takes the longest prefix that forms one type expression:
// whitespace splits only at bracket depth zero, so `array{name: string}`
// stays together.
func splitTypeExpr(payload string) (string, string) {
	payload = strings.TrimSpace(payload)
	depth := 0
	for i := 0; i < len(payload); i++ {
		switch payload[i] {
		case '<', '{', '(', '[':
			depth++
		case '>', '}', ')', ']':
			depth--
		case ' ', '\t':
			if depth == 0 {
				return payload[:i], strings.TrimSpace(payload[i:])
			}
		case ',':
			// A comma at depth zero ends the expression (shape entries keep
			// their commas at depth one).
			if depth == 0 {
				return payload[:i], strings.TrimSpace(payload[i:])
			}
		}
	}
	return payload, ""
}

// firstVariable returns the first $name token of the payload, without the
// dollar prefix.
func firstVariable(payload string) string {
	idx := strings.IndexByte(payload, '$')
	if idx < 0 {
		return ""
	}
	end := idx + 1
	for end < len(payload) {
		ch := payload[end]
		if ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			end++
			continue
		}
		break
	}
	if end == idx+1 {
		return ""
	}
	return payload[idx+1 : end]
}

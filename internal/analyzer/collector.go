package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/phpmago/analyzer/internal/diagnostic"
	"github.com/phpmago/analyzer/internal/docblock"
	"github.com/phpmago/analyzer/internal/phpast"
	"github.com/phpmago/analyzer/internal/symbol"
	"github.com/phpmago/analyzer/internal/typing"
)

// AliasRegistry collects the named types declared on class docblocks so that
// @psalm-import-type clauses can be resolved across files. Imports resolve
// against the registry as filled by collection, so AliasesFor is only
// meaningful once every file has been collected.
type AliasRegistry struct {
	mu      sync.Mutex
	aliases map[string]map[string]typing.Type
	imports map[string][]docblock.TypeImport
}

// NewAliasRegistry returns an empty registry.
func NewAliasRegistry() *AliasRegistry {
	return &AliasRegistry{
		aliases: make(map[string]map[string]typing.Type),
		imports: make(map[string][]docblock.TypeImport),
	}
}

func (r *AliasRegistry) record(class string, aliases map[string]typing.Type, imports []docblock.TypeImport) {
	if len(aliases) == 0 && len(imports) == 0 {
		return
	}
	key := strings.ToLower(class)
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := r.aliases[key]
	if merged == nil && len(aliases) > 0 {
		merged = make(map[string]typing.Type, len(aliases))
		r.aliases[key] = merged
	}
	for k, v := range aliases {
		merged[k] = v
	}
	r.imports[key] = append(r.imports[key], imports...)
}

// AliasesFor returns the alias scope of one class-like: its own named types
// plus everything it imports. Unresolvable imports degrade to mixed.
func (r *AliasRegistry) AliasesFor(class string) map[string]typing.Type {
	key := strings.ToLower(strings.TrimPrefix(class, "\\"))
	r.mu.Lock()
	defer r.mu.Unlock()
	own := r.aliases[key]
	imports := r.imports[key]
	if len(own) == 0 && len(imports) == 0 {
		return nil
	}
	out := make(map[string]typing.Type, len(own)+len(imports))
	for k, v := range own {
		out[k] = v
	}
	for _, imp := range imports {
		t, ok := r.aliases[strings.ToLower(imp.From)][imp.Name]
		if !ok {
			t = typing.Mixed()
		}
		out[imp.Alias] = t
	}
	return out
}

// resolveImportedAliases rewrites collected signatures that reference an
// imported named type, once every file's aliases are in the registry. At
// collection time an imported alias is indistinguishable from a class name
// and lands as a bare object type; this pass swaps those objects for the
// imported definition. Must run before the table freezes.
func resolveImportedAliases(table *symbol.Table, registry *AliasRegistry) {
	registry.mu.Lock()
	importers := make([]string, 0, len(registry.imports))
	for key := range registry.imports {
		importers = append(importers, key)
	}
	registry.mu.Unlock()
	sort.Strings(importers)

	for _, key := range importers {
		c := table.Class(key)
		if c == nil {
			continue
		}
		repl := registry.importReplacements(c.Name)
		if len(repl) == 0 {
			continue
		}
		for i := range c.Methods {
			m := &c.Methods[i]
			for j := range m.Params {
				m.Params[j].Type = rewriteAliasRefs(m.Params[j].Type, repl)
			}
			m.Return = rewriteAliasRefs(m.Return, repl)
		}
		for i := range c.Properties {
			c.Properties[i].Type = rewriteAliasRefs(c.Properties[i].Type, repl)
		}
		for i := range c.Constants {
			c.Constants[i].Type = rewriteAliasRefs(c.Constants[i].Type, repl)
		}
	}
}

// importReplacements maps the object names an imported alias may have been
// resolved to (bare and namespace-qualified) onto the imported definitions.
// Unresolvable imports degrade to mixed, matching AliasesFor.
func (r *AliasRegistry) importReplacements(class string) map[string]typing.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	imports := r.imports[strings.ToLower(class)]
	if len(imports) == 0 {
		return nil
	}
	ns := ""
	if i := strings.LastIndex(class, "\\"); i >= 0 {
		ns = class[:i]
	}
	repl := make(map[string]typing.Type, 2*len(imports))
	for _, imp := range imports {
		target, ok := r.aliases[strings.ToLower(imp.From)][imp.Name]
		if !ok {
			target = typing.Mixed()
		}
		repl[strings.ToLower(imp.Alias)] = target
		if ns != "" {
			repl[strings.ToLower(ns+"\\"+imp.Alias)] = target
		}
	}
	return repl
}

// rewriteAliasRefs replaces bare object references whose name matches an
// imported alias, walking every composite shape.
func rewriteAliasRefs(t typing.Type, repl map[string]typing.Type) typing.Type {
	if t == nil {
		return nil
	}
	switch v := t.(type) {
	case typing.Object:
		if len(v.TypeArgs) == 0 {
			if target, ok := repl[strings.ToLower(strings.TrimPrefix(v.Name, "\\"))]; ok {
				return target
			}
			return v
		}
		args := make([]typing.Type, 0, len(v.TypeArgs))
		for _, a := range v.TypeArgs {
			args = append(args, rewriteAliasRefs(a, repl))
		}
		return typing.Object{Name: v.Name, TypeArgs: args}
	case typing.Union:
		members := make([]typing.Type, 0, len(v.Members))
		for _, m := range v.Members {
			members = append(members, rewriteAliasRefs(m, repl))
		}
		return typing.NewUnion(members...)
	case typing.Intersection:
		members := make([]typing.Type, 0, len(v.Members))
		for _, m := range v.Members {
			members = append(members, rewriteAliasRefs(m, repl))
		}
		return typing.NewIntersection(members...)
	case typing.Shape:
		keys := make([]typing.ShapeKey, 0, len(v.Keys))
		for _, k := range v.Keys {
			keys = append(keys, typing.ShapeKey{Name: k.Name, Value: rewriteAliasRefs(k.Value, repl), Optional: k.Optional})
		}
		out := typing.Shape{Keys: keys, Sealed: v.Sealed}
		if v.ExtraKey != nil {
			out.ExtraKey = rewriteAliasRefs(v.ExtraKey, repl)
		}
		if v.ExtraValue != nil {
			out.ExtraValue = rewriteAliasRefs(v.ExtraValue, repl)
		}
		return out
	case typing.List:
		return typing.List{Element: rewriteAliasRefs(v.Element, repl)}
	case typing.Callable:
		params := make([]typing.CallableParam, 0, len(v.Params))
		for _, p := range v.Params {
			params = append(params, typing.CallableParam{Type: rewriteAliasRefs(p.Type, repl), Optional: p.Optional, Variadic: p.Variadic})
		}
		out := typing.Callable{Params: params}
		if v.Return != nil {
			out.Return = rewriteAliasRefs(v.Return, repl)
		}
		return out
	case typing.Conditional:
		return typing.Conditional{
			Subject: v.Subject,
			Is:      rewriteAliasRefs(v.Is, repl),
			Then:    rewriteAliasRefs(v.Then, repl),
			Else:    rewriteAliasRefs(v.Else, repl),
		}
	}
	return t
}

// Collector builds the symbol table from parsed files. Safe for concurrent
// use; the table and registry do their own locking.
type Collector struct {
	Table    *symbol.Table
	Registry *AliasRegistry
}

// CollectFile registers every class-like and function declared in the file.
func (c *Collector) CollectFile(file *phpast.File, col *diagnostic.Collector) {
	fc := &fileCollector{
		table:    c.Table,
		registry: c.Registry,
		file:     file,
		col:      col,
		resolver: file.Resolver(),
	}
	fc.walk(file.Root())
}

type fileCollector struct {
	table    *symbol.Table
	registry *AliasRegistry
	file     *phpast.File
	col      *diagnostic.Collector
	resolver *phpast.NameResolver
}

func (fc *fileCollector) walk(node *tree_sitter.Node) {
	for _, child := range phpast.NamedChildren(node) {
		switch child.Kind() {
		case "class_declaration":
			fc.collectClassLike(child, symbol.KindClass)
		case "interface_declaration":
			fc.collectClassLike(child, symbol.KindInterface)
		case "trait_declaration":
			fc.collectClassLike(child, symbol.KindTrait)
		case "enum_declaration":
			fc.collectClassLike(child, symbol.KindEnum)
		case "function_definition":
			fc.collectFunction(child)
			// Conditionally declared nested functions still register.
			fc.walk(child)
		default:
			fc.walk(child)
		}
	}
}

func (fc *fileCollector) text(node *tree_sitter.Node) string {
	return fc.file.Text(node)
}

func (fc *fileCollector) qualify(name string) string {
	if fc.file.Namespace != "" {
		return fc.file.Namespace + "\\" + name
	}
	return name
}

func (fc *fileCollector) hasModifier(node *tree_sitter.Node, modifier string) bool {
	return phpast.HasModifier(node, fc.file.Content, modifier)
}

func (fc *fileCollector) visibility(node *tree_sitter.Node) symbol.Visibility {
	switch {
	case fc.hasModifier(node, "private"):
		return symbol.Private
	case fc.hasModifier(node, "protected"):
		return symbol.Protected
	}
	return symbol.Public
}

// parseDoc parses the docblock preceding node and reports its malformed
// type expressions. A missing docblock yields an empty Doc.
func (fc *fileCollector) parseDoc(node *tree_sitter.Node, opts typing.ParseOptions) *docblock.Doc {
	doc := docblock.Parse(phpast.DocCommentFor(node, fc.file.Content), opts)
	for _, err := range doc.Errors {
		fc.col.Report(diagnostic.Diagnostic{
			Code:     diagnostic.CodeInvalidType,
			Severity: diagnostic.SeverityError,
			File:     fc.file.Path,
			Line:     phpast.Line(node),
			Column:   phpast.Column(node),
			Message:  fmt.Sprintf("invalid type in docblock: %v", err),
		})
	}
	return doc
}

func (fc *fileCollector) collectClassLike(node *tree_sitter.Node, kind symbol.Kind) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		// Anonymous classes have no collectable symbol.
		return
	}
	name := fc.qualify(fc.text(nameNode))

	doc := fc.parseDoc(node, typing.ParseOptions{ResolveName: fc.resolver.Resolve})
	fc.registry.record(name, doc.Aliases, doc.Imports)

	c := &symbol.ClassLike{
		Name:     name,
		Kind:     kind,
		File:     fc.file.Path,
		Line:     phpast.Line(node),
		Final:    fc.hasModifier(node, "final"),
		Abstract: fc.hasModifier(node, "abstract"),
		Readonly: fc.hasModifier(node, "readonly"),
	}
	for _, t := range doc.Templates {
		c.Templates = append(c.Templates, symbol.TemplateParam{Name: t.Name, Variance: t.Variance, Bound: t.Bound})
	}

	if base := phpast.DirectChildOfKind(node, "base_clause"); base != nil {
		fc.collectSupers(c, base, symbol.SuperExtends)
	}
	if impl := phpast.DirectChildOfKind(node, "class_interface_clause"); impl != nil {
		fc.collectSupers(c, impl, symbol.SuperImplements)
	}

	if kind == symbol.KindEnum {
		if backing := phpast.DirectChildOfKind(node, "primitive_type"); backing != nil {
			switch fc.text(backing) {
			case "string":
				c.BackingType = typing.String()
			case "int":
				c.BackingType = typing.Int()
			}
		}
	}

	memberOpts := typing.ParseOptions{
		ResolveName: fc.resolver.Resolve,
		Aliases:     doc.Aliases,
		Templates:   templateScope(c),
	}

	promoted := make(map[string]bool)
	var ctorNode *tree_sitter.Node
	body := node.ChildByFieldName("body")
	for _, member := range phpast.NamedChildren(body) {
		switch member.Kind() {
		case "method_declaration":
			m, props := fc.collectMethod(member, memberOpts)
			if m.Name == "" {
				continue
			}
			c.Methods = append(c.Methods, m)
			c.Properties = append(c.Properties, props...)
			for _, p := range props {
				promoted[p.Name] = true
			}
			if strings.EqualFold(m.Name, "__construct") {
				ctorNode = member
			}
		case "property_declaration":
			c.Properties = append(c.Properties, fc.collectProperties(member, memberOpts)...)
		case "const_declaration":
			c.Constants = append(c.Constants, fc.collectConstants(member, memberOpts)...)
		case "use_declaration":
			fc.collectTraitUses(c, member)
		case "enum_case":
			c.Cases = append(c.Cases, fc.collectEnumCase(member))
		}
	}

	applySuperArgs(c.Supers, doc.Extends, symbol.SuperExtends)
	applySuperArgs(c.Supers, doc.Implements, symbol.SuperImplements)
	applySuperArgs(c.Supers, doc.Uses, symbol.SuperUse)

	fc.checkUninitialized(c, ctorNode, promoted)
	fc.table.AddClass(c)
}

// collectSupers reads the extends/implements clause entries. On interfaces
// the base clause lists every extended interface.
func (fc *fileCollector) collectSupers(c *symbol.ClassLike, clause *tree_sitter.Node, kind symbol.SuperKind) {
	for _, child := range phpast.NamedChildren(clause) {
		if child.Kind() != "name" && child.Kind() != "qualified_name" {
			continue
		}
		c.Supers = append(c.Supers, symbol.SuperRef{
			Name: fc.resolver.Resolve(fc.text(child)),
			Kind: kind,
			Line: phpast.Line(child),
		})
	}
}

func (fc *fileCollector) collectTraitUses(c *symbol.ClassLike, node *tree_sitter.Node) {
	for _, child := range phpast.NamedChildren(node) {
		if child.Kind() != "name" && child.Kind() != "qualified_name" {
			continue
		}
		c.Supers = append(c.Supers, symbol.SuperRef{
			Name: fc.resolver.Resolve(fc.text(child)),
			Kind: symbol.SuperUse,
			Line: phpast.Line(child),
		})
	}
}

// applySuperArgs copies template arguments from @extends/@implements/@use
// docblock tags onto the matching native clause entry.
func applySuperArgs(supers []symbol.SuperRef, docTypes []typing.Type, kind symbol.SuperKind) {
	for _, dt := range docTypes {
		obj, ok := dt.(typing.Object)
		if !ok {
			continue
		}
		for i := range supers {
			if supers[i].Kind != kind {
				continue
			}
			if strings.EqualFold(strings.TrimPrefix(supers[i].Name, "\\"), strings.TrimPrefix(obj.Name, "\\")) {
				supers[i].Args = obj.TypeArgs
				break
			}
		}
	}
}

// collectMethod builds the method symbol plus any constructor-promoted
// properties.
func (fc *fileCollector) collectMethod(node *tree_sitter.Node, opts typing.ParseOptions) (symbol.Method, []symbol.Property) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return symbol.Method{}, nil
	}
	doc := fc.parseDoc(node, opts)

	m := symbol.Method{
		Name:       fc.text(nameNode),
		Visibility: fc.visibility(node),
		Static:     fc.hasModifier(node, "static"),
		Abstract:   fc.hasModifier(node, "abstract"),
		Final:      fc.hasModifier(node, "final"),
		Line:       phpast.Line(node),
		Assertions: doc.Assertions,
	}

	var promoted []symbol.Property
	m.Params, promoted = fc.collectParams(node.ChildByFieldName("parameters"), doc)

	if rt := node.ChildByFieldName("return_type"); rt != nil {
		m.Return = phpast.NativeType(rt, fc.file.Content, fc.resolver)
	}
	if doc.HasReturn {
		m.Return = doc.Return
	}
	// A docblock that only defers to the parent inherits its types after
	// the hierarchy is resolved; explicit tags win over the deferral.
	m.InheritDoc = doc.InheritDoc && len(doc.Params) == 0 && !doc.HasReturn
	return m, promoted
}

func (fc *fileCollector) collectFunction(node *tree_sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	doc := fc.parseDoc(node, typing.ParseOptions{ResolveName: fc.resolver.Resolve})

	f := &symbol.Function{
		Name:       fc.qualify(fc.text(nameNode)),
		File:       fc.file.Path,
		Line:       phpast.Line(node),
		Assertions: doc.Assertions,
	}
	for _, t := range doc.Templates {
		f.Templates = append(f.Templates, symbol.TemplateParam{Name: t.Name, Variance: t.Variance, Bound: t.Bound})
	}
	f.Params, _ = fc.collectParams(node.ChildByFieldName("parameters"), doc)
	if rt := node.ChildByFieldName("return_type"); rt != nil {
		f.Return = phpast.NativeType(rt, fc.file.Content, fc.resolver)
	}
	if doc.HasReturn {
		f.Return = doc.Return
	}
	fc.table.AddFunction(f)
}

// collectParams reads a formal_parameters list. @param docblock types win
// over native hints; promoted constructor parameters come back as properties
// as well.
func (fc *fileCollector) collectParams(list *tree_sitter.Node, doc *docblock.Doc) ([]symbol.Parameter, []symbol.Property) {
	if list == nil {
		return nil, nil
	}
	var params []symbol.Parameter
	var promoted []symbol.Property
	for _, param := range phpast.NamedChildren(list) {
		kind := param.Kind()
		if kind != "simple_parameter" && kind != "variadic_parameter" && kind != "property_promotion_parameter" {
			continue
		}
		nameNode := param.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := strings.TrimPrefix(fc.text(nameNode), "$")

		var t typing.Type
		if tn := param.ChildByFieldName("type"); tn != nil {
			t = phpast.NativeType(tn, fc.file.Content, fc.resolver)
		}
		if dt, ok := doc.Params[name]; ok {
			t = dt
		}
		def := param.ChildByFieldName("default_value")

		params = append(params, symbol.Parameter{
			Name:     name,
			Type:     t,
			Optional: def != nil,
			Variadic: kind == "variadic_parameter",
			ByRef:    phpast.DirectChildOfKind(param, "reference_modifier") != nil,
		})

		if kind == "property_promotion_parameter" {
			prop := symbol.Property{
				Name:       name,
				Type:       t,
				Visibility: fc.visibility(param),
				Readonly:   fc.hasModifier(param, "readonly"),
				Line:       phpast.Line(param),
			}
			if def != nil {
				prop.HasDefault = true
				prop.Default = fc.text(def)
			}
			promoted = append(promoted, prop)
		}
	}
	return params, promoted
}

func (fc *fileCollector) collectProperties(node *tree_sitter.Node, opts typing.ParseOptions) []symbol.Property {
	doc := fc.parseDoc(node, opts)

	var declared typing.Type
	if tn := node.ChildByFieldName("type"); tn != nil {
		declared = phpast.NativeType(tn, fc.file.Content, fc.resolver)
	}
	if doc.HasVar {
		declared = doc.Var
	}
	vis := fc.visibility(node)
	static := fc.hasModifier(node, "static")
	readonly := fc.hasModifier(node, "readonly")

	var out []symbol.Property
	for _, elem := range phpast.NamedChildren(node) {
		if elem.Kind() != "property_element" {
			continue
		}
		v := phpast.DirectChildOfKind(elem, "variable_name")
		if v == nil {
			continue
		}
		p := symbol.Property{
			Name:       strings.TrimPrefix(fc.text(v), "$"),
			Type:       declared,
			Visibility: vis,
			Static:     static,
			Readonly:   readonly,
			Line:       phpast.Line(elem),
		}
		if children := phpast.NamedChildren(elem); len(children) > 1 {
			p.HasDefault = true
			p.Default = fc.text(children[len(children)-1])
		}
		out = append(out, p)
	}
	return out
}

func (fc *fileCollector) collectConstants(node *tree_sitter.Node, opts typing.ParseOptions) []symbol.Constant {
	doc := fc.parseDoc(node, opts)

	var declared typing.Type
	if tn := node.ChildByFieldName("type"); tn != nil {
		declared = phpast.NativeType(tn, fc.file.Content, fc.resolver)
	}
	if doc.HasVar {
		declared = doc.Var
	}
	vis := fc.visibility(node)
	final := fc.hasModifier(node, "final")

	var out []symbol.Constant
	for _, elem := range phpast.NamedChildren(node) {
		if elem.Kind() != "const_element" {
			continue
		}
		children := phpast.NamedChildren(elem)
		if len(children) == 0 {
			continue
		}
		c := symbol.Constant{
			Name:       fc.text(children[0]),
			Type:       declared,
			Visibility: vis,
			Final:      final,
			Line:       phpast.Line(elem),
		}
		if len(children) > 1 {
			value := children[len(children)-1]
			c.Value = fc.text(value)
			if c.Type == nil {
				c.Type = fc.literalConstType(value)
			}
		}
		out = append(out, c)
	}
	return out
}

// literalConstType infers a constant's type from a literal initializer.
// Non-literal initializers stay untyped.
func (fc *fileCollector) literalConstType(value *tree_sitter.Node) typing.Type {
	switch value.Kind() {
	case "integer":
		return typing.Int()
	case "float":
		return typing.Float()
	case "string", "encapsed_string":
		return typing.String()
	case "boolean":
		return typing.Bool()
	case "null":
		return typing.Null()
	case "array_creation_expression":
		return typing.Shape{ExtraKey: typing.ArrayKey(), ExtraValue: typing.Mixed()}
	}
	return nil
}

func (fc *fileCollector) collectEnumCase(node *tree_sitter.Node) symbol.EnumCase {
	ec := symbol.EnumCase{Line: phpast.Line(node)}
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ec
	}
	ec.Name = fc.text(nameNode)
	children := phpast.NamedChildren(node)
	if last := children[len(children)-1]; last.Kind() == "string" || last.Kind() == "integer" {
		ec.Value = fc.text(last)
	}
	return ec
}

// checkUninitialized reports typed, non-nullable instance properties that
// have no default and are never assigned in the constructor. Abstract
// classes are skipped; their constructors are commonly completed downstream.
func (fc *fileCollector) checkUninitialized(c *symbol.ClassLike, ctorNode *tree_sitter.Node, promoted map[string]bool) {
	if c.Kind != symbol.KindClass || c.Abstract {
		return
	}
	assigned := promoted
	if ctorNode != nil {
		fc.collectThisAssignments(ctorNode.ChildByFieldName("body"), assigned)
	}
	for _, p := range c.Properties {
		if p.Static || p.HasDefault || assigned[p.Name] {
			continue
		}
		if p.Type == nil || typing.IsMixed(p.Type) || admitsNull(p.Type) {
			continue
		}
		fc.col.Report(diagnostic.Diagnostic{
			Code:     diagnostic.CodeUninitializedProperty,
			Severity: diagnostic.SeverityWarning,
			File:     fc.file.Path,
			Line:     p.Line,
			Column:   1,
			Message:  fmt.Sprintf("property `$%s` of `%s` has no default value and is not assigned in the constructor", p.Name, c.Name),
		})
	}
}

func admitsNull(t typing.Type) bool {
	for _, m := range typing.UnionMembers(t) {
		if typing.IsNull(m) {
			return true
		}
	}
	return false
}

// collectThisAssignments records the property names assigned through $this
// anywhere in the subtree.
func (fc *fileCollector) collectThisAssignments(node *tree_sitter.Node, into map[string]bool) {
	if node == nil {
		return
	}
	if node.Kind() == "assignment_expression" {
		if left := node.ChildByFieldName("left"); left != nil && left.Kind() == "member_access_expression" {
			obj := left.ChildByFieldName("object")
			name := left.ChildByFieldName("name")
			if obj != nil && name != nil && obj.Kind() == "variable_name" && fc.text(obj) == "$this" {
				into[fc.text(name)] = true
			}
		}
	}
	for _, child := range phpast.NamedChildren(node) {
		fc.collectThisAssignments(child, into)
	}
}

// templateScope exposes a class-like's template parameters to member
// docblock parsing.
func templateScope(c *symbol.ClassLike) map[string]typing.TemplateParam {
	if len(c.Templates) == 0 {
		return nil
	}
	out := make(map[string]typing.TemplateParam, len(c.Templates))
	for _, t := range c.Templates {
		out[t.Name] = t.AsType(c.Name)
	}
	return out
}

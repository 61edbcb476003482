package infer

import (
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/phpmago/analyzer/internal/diagnostic"
	"github.com/phpmago/analyzer/internal/phpast"
	"github.com/phpmago/analyzer/internal/symbol"
	"github.com/phpmago/analyzer/internal/typing"
)

// builtinReturns covers the runtime functions whose return types the engine
// knows without stubs. Array functions that depend on their argument are
// handled in builtinCall.
var builtinReturns = map[string]func() typing.Type{
	"count":          typing.Int,
	"sizeof":         typing.Int,
	"strlen":         typing.Int,
	"strpos":         func() typing.Type { return typing.NewUnion(typing.Int(), typing.BoolLiteral{Value: false}) },
	"intval":         typing.Int,
	"floatval":       typing.Float,
	"doubleval":      typing.Float,
	"strval":         typing.String,
	"boolval":        typing.Bool,
	"sprintf":        typing.String,
	"vsprintf":       typing.String,
	"implode":        typing.String,
	"join":           typing.String,
	"trim":           typing.String,
	"ltrim":          typing.String,
	"rtrim":          typing.String,
	"strtolower":     typing.String,
	"strtoupper":     typing.String,
	"ucfirst":        typing.String,
	"lcfirst":        typing.String,
	"substr":         typing.String,
	"str_replace":    func() typing.Type { return typing.NewUnion(typing.String(), typing.Shape{ExtraKey: typing.ArrayKey(), ExtraValue: typing.String()}) },
	"str_repeat":     typing.String,
	"json_encode":    func() typing.Type { return typing.NewUnion(typing.String(), typing.BoolLiteral{Value: false}) },
	"json_decode":    typing.Mixed,
	"get_class":      typing.String,
	"gettype":        typing.String,
	"array_key_first": func() typing.Type { return typing.NewUnion(typing.ArrayKey(), typing.Null()) },
	"array_key_last":  func() typing.Type { return typing.NewUnion(typing.ArrayKey(), typing.Null()) },
	"array_sum":      func() typing.Type { return typing.NewUnion(typing.Int(), typing.Float()) },
	"abs":            func() typing.Type { return typing.NewUnion(typing.Int(), typing.Float()) },
	"floor":          typing.Float,
	"ceil":           typing.Float,
	"round":          typing.Float,
	"random_int":     typing.Int,
	"mt_rand":        typing.Int,
	"explode":        func() typing.Type { return typing.List{Element: typing.String()} },
	"str_split":      func() typing.Type { return typing.List{Element: typing.String()} },
	"preg_match":     func() typing.Type { return typing.NewUnion(typing.Int(), typing.BoolLiteral{Value: false}) },
	"preg_replace":   func() typing.Type { return typing.NewUnion(typing.String(), typing.Null()) },
}

var builtinBools = map[string]bool{
	"in_array": true, "array_key_exists": true, "key_exists": true,
	"str_contains": true, "str_starts_with": true, "str_ends_with": true,
	"is_int": true, "is_integer": true, "is_long": true, "is_float": true,
	"is_double": true, "is_string": true, "is_bool": true, "is_array": true,
	"is_object": true, "is_null": true, "is_callable": true, "is_numeric": true,
	"is_iterable": true, "is_countable": true, "is_scalar": true,
	"isset": true, "empty": true, "property_exists": true, "method_exists": true,
	"function_exists": true, "class_exists": true, "interface_exists": true,
	"enum_exists": true, "is_a": true, "is_subclass_of": true,
}

// functionCall types name(...) calls: builtins first, then user functions
// from the symbol table.
func (r *run) functionCall(node *tree_sitter.Node, env Env) typing.Type {
	callee := node.ChildByFieldName("function")
	if callee == nil {
		return typing.Mixed()
	}

	if callee.Kind() == "name" {
		switch strings.ToLower(r.scope.File.Text(callee)) {
		case "isset", "empty":
			// Probing constructs must not report on their own argument.
			save := r.emit
			r.emit = false
			r.arguments(node, env)
			r.emit = save
			return typing.Bool()
		}
	}

	argTypes, argNodes := r.arguments(node, env)

	// Calling a closure value.
	if callee.Kind() != "name" && callee.Kind() != "qualified_name" {
		t := r.expr(callee, env)
		if c, ok := t.(typing.Callable); ok && c.Return != nil {
			return c.Return
		}
		return typing.Mixed()
	}

	raw := r.scope.File.Text(callee)
	base := strings.ToLower(raw[strings.LastIndex(raw, "\\")+1:])

	if builtinBools[base] {
		return typing.Bool()
	}
	if t := r.builtinCall(base, argTypes); t != nil {
		return t
	}

	name := r.scope.File.Resolver().Resolve(raw)
	fn := r.e.Table.Function(name)
	if fn == nil {
		// Unqualified calls fall back to the global namespace.
		fn = r.e.Table.Function(base)
	}
	if fn == nil {
		r.report(node, diagnostic.CodeNonExistentFunction, diagnostic.SeverityError,
			fmt.Sprintf("call to unknown function %s()", raw))
		return typing.Mixed()
	}

	bindings := r.unifyCall(fn.Templates, fn.Name, fn.Params, argTypes)
	r.checkArguments(node, fn.Name+"()", fn.Params, argTypes, argNodes, bindings)
	r.applyAssertions(fn.Assertions, typing.AssertAlways, fn.Params, argNodes, env)

	ret := typing.Substitute(fn.Return, bindings)
	return r.resolveConditional(ret, fn.Params, argTypes)
}

// builtinCall handles the builtins whose result depends on the argument.
func (r *run) builtinCall(name string, args []typing.Type) typing.Type {
	if f, ok := builtinReturns[name]; ok {
		return f()
	}
	switch name {
	case "array_keys":
		if len(args) > 0 {
			k, _ := r.elementTypes(args[0])
			return typing.List{Element: k}
		}
		return typing.List{Element: typing.ArrayKey()}
	case "array_values":
		if len(args) > 0 {
			_, v := r.elementTypes(args[0])
			return typing.List{Element: v}
		}
		return typing.List{Element: typing.Mixed()}
	case "array_map":
		if len(args) > 0 {
			if c, ok := args[0].(typing.Callable); ok && c.Return != nil {
				return typing.List{Element: c.Return}
			}
		}
		return typing.List{Element: typing.Mixed()}
	case "array_filter":
		if len(args) > 0 {
			return args[0]
		}
		return typing.Shape{}
	case "array_merge", "array_combine", "array_flip":
		return typing.Shape{}
	case "array_reverse", "array_slice":
		if len(args) > 0 {
			return typing.Widen(args[0])
		}
		return typing.Shape{}
	case "iterator_to_array":
		if len(args) > 0 {
			k, v := r.elementTypes(args[0])
			return typing.Shape{ExtraKey: k, ExtraValue: v}
		}
		return typing.Shape{}
	}
	return nil
}

// methodCall types $obj->m(...) and $obj?->m(...).
func (r *run) methodCall(node *tree_sitter.Node, env Env) typing.Type {
	object := node.ChildByFieldName("object")
	nameNode := node.ChildByFieldName("name")
	recv := r.expr(object, env)
	argTypes, argNodes := r.arguments(node, env)

	nullsafe := node.Kind() == "nullsafe_member_call_expression"
	recv, wasNullable := r.stripNull(node, recv, nullsafe)

	if nameNode == nil || nameNode.Kind() != "name" {
		return typing.Mixed()
	}
	method := r.scope.File.Text(nameNode)

	var results []typing.Type
	for _, member := range typing.UnionMembers(recv) {
		obj, ok := member.(typing.Object)
		if !ok {
			continue
		}
		m, lookup, found := r.e.Table.MethodOn(obj, method)
		if !found {
			if r.e.Table.Class(obj.Name) != nil {
				r.report(node, diagnostic.CodeNonExistentMethod, diagnostic.SeverityError,
					fmt.Sprintf("method %s::%s() does not exist", obj.Name, method))
			}
			continue
		}
		r.checkArguments(node, obj.Name+"::"+method+"()", m.Params, argTypes, argNodes, lookup.Bindings)
		r.applyAssertions(m.Assertions, typing.AssertAlways, m.Params, argNodes, env)

		ret := typing.Substitute(m.Return, lookup.Bindings)
		ret = r.resolveConditional(ret, m.Params, argTypes)
		if ret == nil {
			ret = typing.Mixed()
		}
		results = append(results, ret)
	}

	result := typing.Type(typing.Mixed())
	if len(results) > 0 {
		result = typing.NewUnion(results...)
	}
	if nullsafe && wasNullable {
		result = typing.NewUnion(result, typing.Null())
	}
	return result
}

// memberAccess types $obj->prop reads.
func (r *run) memberAccess(node *tree_sitter.Node, env Env) typing.Type {
	object := node.ChildByFieldName("object")
	nameNode := node.ChildByFieldName("name")
	recv := r.expr(object, env)

	nullsafe := node.Kind() == "nullsafe_member_access_expression"
	recv, wasNullable := r.stripNull(node, recv, nullsafe)

	if nameNode == nil || nameNode.Kind() != "name" {
		return typing.Mixed()
	}
	prop := r.scope.File.Text(nameNode)

	var results []typing.Type
	for _, member := range typing.UnionMembers(recv) {
		obj, ok := member.(typing.Object)
		if !ok {
			continue
		}
		p, lookup, found := r.e.Table.PropertyOn(obj, prop)
		if !found {
			if r.e.Table.Class(obj.Name) != nil {
				r.report(node, diagnostic.CodeNonExistentProperty, diagnostic.SeverityError,
					fmt.Sprintf("property %s::$%s does not exist", obj.Name, prop))
			}
			continue
		}
		t := typing.Substitute(p.Type, lookup.Bindings)
		if t == nil {
			t = typing.Mixed()
		}
		results = append(results, t)
	}

	result := typing.Type(typing.Mixed())
	if len(results) > 0 {
		result = typing.NewUnion(results...)
	}
	if nullsafe && wasNullable {
		result = typing.NewUnion(result, typing.Null())
	}
	return result
}

// assignProperty handles $obj->prop = v. Property types are declared, so the
// write only checks compatibility.
func (r *run) assignProperty(node *tree_sitter.Node, t typing.Type, env Env) {
	object := node.ChildByFieldName("object")
	nameNode := node.ChildByFieldName("name")
	recv := r.expr(object, env)
	if nameNode == nil || nameNode.Kind() != "name" {
		return
	}
	prop := r.scope.File.Text(nameNode)

	for _, member := range typing.UnionMembers(recv) {
		obj, ok := member.(typing.Object)
		if !ok {
			continue
		}
		p, lookup, found := r.e.Table.PropertyOn(obj, prop)
		if !found {
			continue
		}
		declared := typing.Substitute(p.Type, lookup.Bindings)
		if declared == nil || typing.IsMixed(declared) || typing.IsMixed(t) {
			continue
		}
		if !r.e.Checker.IsSubtype(t, declared) {
			r.report(node, diagnostic.CodeIncompatiblePropertyType, diagnostic.SeverityError,
				fmt.Sprintf("cannot assign %s to property %s::$%s of type %s", t, obj.Name, prop, declared))
		}
	}
}

// stripNull reports null receivers and removes null from the union. Nullsafe
// operators suppress the report.
func (r *run) stripNull(node *tree_sitter.Node, recv typing.Type, nullsafe bool) (typing.Type, bool) {
	nullable := false
	for _, member := range typing.UnionMembers(recv) {
		if typing.IsNull(member) {
			nullable = true
		}
	}
	if !nullable {
		return recv, false
	}
	if !nullsafe {
		r.report(node, diagnostic.CodeNullAccess, diagnostic.SeverityError,
			fmt.Sprintf("possibly accessing member on null (%s)", recv))
	}
	return r.e.Checker.Subtract(recv, typing.Null()), true
}

// scopedCall types self::, static::, parent:: and Name:: method calls.
func (r *run) scopedCall(node *tree_sitter.Node, env Env) typing.Type {
	scopeNode := node.ChildByFieldName("scope")
	nameNode := node.ChildByFieldName("name")
	argTypes, argNodes := r.arguments(node, env)

	recv, ok := r.scopedReceiver(scopeNode, env)
	if !ok || nameNode == nil {
		return typing.Mixed()
	}
	method := r.scope.File.Text(nameNode)

	m, lookup, found := r.e.Table.MethodOn(recv, method)
	if !found {
		if r.e.Table.Class(recv.Name) != nil {
			r.report(node, diagnostic.CodeNonExistentMethod, diagnostic.SeverityError,
				fmt.Sprintf("method %s::%s() does not exist", recv.Name, method))
		}
		return typing.Mixed()
	}
	r.checkArguments(node, recv.Name+"::"+method+"()", m.Params, argTypes, argNodes, lookup.Bindings)
	r.applyAssertions(m.Assertions, typing.AssertAlways, m.Params, argNodes, env)

	ret := typing.Substitute(m.Return, lookup.Bindings)
	ret = r.resolveConditional(ret, m.Params, argTypes)
	if ret == nil {
		return typing.Mixed()
	}
	return ret
}

// scopedReceiver resolves the left side of a :: access to an object type.
func (r *run) scopedReceiver(scopeNode *tree_sitter.Node, env Env) (typing.Object, bool) {
	if scopeNode == nil {
		return typing.Object{}, false
	}
	switch scopeNode.Kind() {
	case "relative_scope":
		text := strings.ToLower(r.scope.File.Text(scopeNode))
		if r.scope.Self == nil {
			return typing.Object{}, false
		}
		if text == "parent" {
			for _, super := range r.scope.Self.Supers {
				if super.Kind == symbol.SuperExtends {
					return typing.Object{Name: super.Name, TypeArgs: super.Args}, true
				}
			}
			return typing.Object{}, false
		}
		return typing.Object{Name: r.scope.Self.Name, TypeArgs: r.scope.Self.TemplateTypes()}, true
	case "name", "qualified_name":
		name := r.scope.File.Resolver().Resolve(r.scope.File.Text(scopeNode))
		return typing.Object{Name: name}, true
	case "variable_name":
		t := r.expr(scopeNode, env)
		if obj, ok := t.(typing.Object); ok {
			return obj, true
		}
	}
	return typing.Object{}, false
}

// classConstant types Name::CONST, Name::class and Enum::Case.
func (r *run) classConstant(node *tree_sitter.Node, env Env) typing.Type {
	children := phpast.NamedChildren(node)
	if len(children) < 2 {
		return typing.Mixed()
	}
	recv, ok := r.scopedReceiver(children[0], env)
	if !ok {
		return typing.Mixed()
	}
	constName := r.scope.File.Text(children[1])

	if strings.EqualFold(constName, "class") {
		return typing.StringLiteral{Value: recv.Name}
	}

	c := r.e.Table.Class(recv.Name)
	if c != nil && c.Kind == symbol.KindEnum && c.Case(constName) != nil {
		return typing.Object{Name: c.Name}
	}

	constant, lookup, found := r.e.Table.ConstantOn(recv, constName)
	if !found {
		return typing.Mixed()
	}
	t := typing.Substitute(constant.Type, lookup.Bindings)
	if t == nil {
		return typing.Mixed()
	}
	return t
}

// newObject types `new Name(...)`, inferring template arguments from the
// constructor when the class is generic.
func (r *run) newObject(node *tree_sitter.Node, env Env) typing.Type {
	var designator *tree_sitter.Node
	var argsNode *tree_sitter.Node
	for _, child := range phpast.NamedChildren(node) {
		switch child.Kind() {
		case "arguments":
			argsNode = child
		case "name", "qualified_name", "variable_name":
			designator = child
		}
	}

	argTypes, argNodes := r.argumentsOf(argsNode, env)

	if designator == nil {
		return typing.Object{Name: "object"}
	}
	if designator.Kind() == "variable_name" {
		r.expr(designator, env)
		return typing.Object{Name: "object"}
	}

	name := r.scope.File.Resolver().Resolve(r.scope.File.Text(designator))
	c := r.e.Table.Class(name)
	if c == nil {
		r.report(node, diagnostic.CodeNonExistentClassLike, diagnostic.SeverityError,
			fmt.Sprintf("class %s does not exist", name))
		return typing.Object{Name: name}
	}

	recv := typing.Object{Name: c.Name}
	ctor, lookup, found := r.e.Table.MethodOn(recv, "__construct")
	if !found {
		if len(argTypes) > 0 {
			r.report(node, diagnostic.CodeInvalidArgument, diagnostic.SeverityError,
				fmt.Sprintf("%s has no constructor but %d arguments were given", c.Name, len(argTypes)))
		}
		return recv
	}

	bindings := r.unifyCall(c.Templates, c.Name, ctor.Params, argTypes)
	bindings = append(bindings, lookup.Bindings...)
	r.checkArguments(node, c.Name+"::__construct()", ctor.Params, argTypes, argNodes, bindings)

	if len(c.Templates) > 0 {
		args := make([]typing.Type, 0, len(c.Templates))
		for _, tp := range c.Templates {
			args = append(args, typing.Substitute(tp.AsType(c.Name), bindings))
		}
		recv.TypeArgs = args
	}
	return recv
}

// arguments evaluates the call's argument list.
func (r *run) arguments(call *tree_sitter.Node, env Env) ([]typing.Type, []*tree_sitter.Node) {
	return r.argumentsOf(call.ChildByFieldName("arguments"), env)
}

func (r *run) argumentsOf(argsNode *tree_sitter.Node, env Env) ([]typing.Type, []*tree_sitter.Node) {
	if argsNode == nil {
		return nil, nil
	}
	var types []typing.Type
	var nodes []*tree_sitter.Node
	for _, arg := range phpast.NamedChildren(argsNode) {
		if arg.Kind() != "argument" {
			continue
		}
		inner := phpast.NamedChildren(arg)
		if len(inner) == 0 {
			continue
		}
		value := inner[len(inner)-1]
		if value.Kind() == "variadic_unpacking" {
			if spread := firstExpr(value); spread != nil {
				r.expr(spread, env)
			}
			// Spread arity is unknowable; disable further checks.
			types = append(types, typing.Mixed())
			nodes = append(nodes, nil)
			continue
		}
		types = append(types, r.expr(value, env))
		nodes = append(nodes, value)
	}
	return types, nodes
}

// checkArguments reports arity and per-argument type violations.
func (r *run) checkArguments(call *tree_sitter.Node, label string, params []symbol.Parameter, argTypes []typing.Type, argNodes []*tree_sitter.Node, bindings []typing.TemplateBinding) {
	required := 0
	variadic := false
	for _, p := range params {
		if p.Variadic {
			variadic = true
		} else if !p.Optional {
			required++
		}
	}
	spread := false
	for _, n := range argNodes {
		if n == nil {
			spread = true
		}
	}

	if len(argTypes) < required && !spread {
		r.report(call, diagnostic.CodeInvalidArgument, diagnostic.SeverityError,
			fmt.Sprintf("too few arguments to %s: %d given, %d required", label, len(argTypes), required))
	}
	if len(argTypes) > len(params) && !variadic {
		r.report(call, diagnostic.CodeInvalidArgument, diagnostic.SeverityError,
			fmt.Sprintf("too many arguments to %s: %d given, %d accepted", label, len(argTypes), len(params)))
	}

	for i, argType := range argTypes {
		if argNodes[i] == nil || argType == nil || typing.IsMixed(argType) {
			continue
		}
		var param *symbol.Parameter
		if i < len(params) {
			param = &params[i]
		} else if variadic {
			param = &params[len(params)-1]
		} else {
			break
		}
		declared := typing.Substitute(param.Type, bindings)
		if declared == nil || typing.IsMixed(declared) || typing.ContainsTemplate(declared) {
			continue
		}
		if !r.e.Checker.IsSubtype(argType, declared) {
			r.report(argNodes[i], diagnostic.CodeInvalidArgument, diagnostic.SeverityError,
				fmt.Sprintf("argument %d of %s expects %s, %s given", i+1, label, declared, argType))
		}
	}
}

// unifyCall infers bindings for the callee's template parameters from the
// argument types.
func (r *run) unifyCall(templates []symbol.TemplateParam, owner string, params []symbol.Parameter, argTypes []typing.Type) []typing.TemplateBinding {
	if len(templates) == 0 {
		return nil
	}
	inferred := make(map[string]typing.Type)
	for i, p := range params {
		if i >= len(argTypes) || argTypes[i] == nil {
			break
		}
		unify(p.Type, argTypes[i], owner, inferred)
	}

	bindings := make([]typing.TemplateBinding, 0, len(templates))
	for _, tp := range templates {
		to, ok := inferred[tp.Name]
		if !ok {
			to = tp.Bound
			if to == nil {
				to = typing.Mixed()
			}
		}
		bindings = append(bindings, typing.TemplateBinding{Param: tp.AsType(owner), To: to})
	}
	return bindings
}

// unify matches a declared parameter type against an argument type
// structurally, collecting template placeholder assignments. Repeat matches
// union, so f(T, T) called with (int, string) infers int|string.
func unify(param, arg typing.Type, owner string, inferred map[string]typing.Type) {
	if param == nil || arg == nil {
		return
	}
	switch p := param.(type) {
	case typing.TemplateParam:
		if p.Owner != "" && p.Owner != owner {
			return
		}
		if prev, ok := inferred[p.Name]; ok {
			inferred[p.Name] = typing.NewUnion(prev, arg)
		} else {
			inferred[p.Name] = arg
		}
	case typing.Union:
		for _, member := range p.Members {
			unify(member, arg, owner, inferred)
		}
	case typing.List:
		switch a := arg.(type) {
		case typing.List:
			unify(p.Element, a.Element, owner, inferred)
		case typing.Shape:
			for _, k := range a.Keys {
				unify(p.Element, k.Value, owner, inferred)
			}
			if a.ExtraValue != nil {
				unify(p.Element, a.ExtraValue, owner, inferred)
			}
		}
	case typing.Shape:
		if a, ok := arg.(typing.Shape); ok {
			for _, pk := range p.Keys {
				if ak, found := a.Key(pk.Name); found {
					unify(pk.Value, ak.Value, owner, inferred)
				}
			}
			if p.ExtraValue != nil && a.ExtraValue != nil {
				unify(p.ExtraValue, a.ExtraValue, owner, inferred)
			}
		}
	case typing.Object:
		if a, ok := arg.(typing.Object); ok && strings.EqualFold(p.Name, a.Name) {
			for i := range p.TypeArgs {
				if i < len(a.TypeArgs) {
					unify(p.TypeArgs[i], a.TypeArgs[i], owner, inferred)
				}
			}
		}
	case typing.Callable:
		if a, ok := arg.(typing.Callable); ok {
			unify(p.Return, a.Return, owner, inferred)
		}
	}
}

// resolveConditional evaluates conditional return types against the actual
// argument types.
func (r *run) resolveConditional(ret typing.Type, params []symbol.Parameter, argTypes []typing.Type) typing.Type {
	cond, ok := ret.(typing.Conditional)
	if !ok {
		if ret == nil {
			return typing.Mixed()
		}
		return ret
	}

	var subject typing.Type
	for i, p := range params {
		if p.Name == cond.Subject && i < len(argTypes) {
			subject = argTypes[i]
		}
	}
	if subject == nil {
		return typing.NewUnion(
			r.resolveConditional(cond.Then, params, argTypes),
			r.resolveConditional(cond.Else, params, argTypes))
	}
	if r.e.Checker.IsSubtype(subject, cond.Is) {
		return r.resolveConditional(cond.Then, params, argTypes)
	}
	if typing.IsNever(r.e.Checker.Intersect(subject, cond.Is)) {
		return r.resolveConditional(cond.Else, params, argTypes)
	}
	return typing.NewUnion(
		r.resolveConditional(cond.Then, params, argTypes),
		r.resolveConditional(cond.Else, params, argTypes))
}

// applyAssertions narrows argument variables per the callee's declared
// assertions for the given outcome. An assertion names a parameter; it only
// narrows when the argument in that position is a plain variable.
func (r *run) applyAssertions(assertions []typing.Assertion, when typing.AssertionWhen, params []symbol.Parameter, argNodes []*tree_sitter.Node, env Env) {
	for _, a := range assertions {
		if a.When != when {
			continue
		}
		idx := -1
		for i, p := range params {
			if p.Name == a.Param {
				idx = i
				break
			}
		}
		if idx < 0 || idx >= len(argNodes) {
			continue
		}
		argNode := argNodes[idx]
		if argNode == nil || argNode.Kind() != "variable_name" {
			continue
		}
		name := varName(r.scope.File.Text(argNode))
		if name == "" {
			continue
		}
		b, ok := env.Get(name)
		if !ok {
			continue
		}
		var narrowed typing.Type
		if a.Negated {
			narrowed = r.e.Checker.Subtract(b.Type, a.Type)
		} else {
			narrowed = r.e.Checker.Intersect(b.Type, a.Type)
		}
		env.Set(name, narrowed)
	}
}

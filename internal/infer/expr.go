package infer

import (
	"fmt"
	"strconv"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/phpmago/analyzer/internal/diagnostic"
	"github.com/phpmago/analyzer/internal/phpast"
	"github.com/phpmago/analyzer/internal/typing"
)

var superglobals = map[string]bool{
	"GLOBALS": true, "_GET": true, "_POST": true, "_REQUEST": true,
	"_SERVER": true, "_SESSION": true, "_COOKIE": true, "_FILES": true,
	"_ENV": true,
}

// expr infers the type of an expression, mutating env in place for
// assignments and reporting diagnostics on the final sweep.
func (r *run) expr(node *tree_sitter.Node, env Env) typing.Type {
	if node == nil {
		return typing.Mixed()
	}

	switch node.Kind() {
	case "parenthesized_expression":
		return r.expr(firstExpr(node), env)

	case "integer":
		return intLiteral(r.scope.File.Text(node))

	case "float":
		if v, err := strconv.ParseFloat(r.scope.File.Text(node), 64); err == nil {
			return typing.FloatLiteral{Value: v}
		}
		return typing.Float()

	case "string":
		if content := phpast.FirstOfKind(node, "string_content"); content != nil {
			return typing.StringLiteral{Value: r.scope.File.Text(content)}
		}
		return typing.StringLiteral{Value: ""}

	case "encapsed_string", "heredoc", "nowdoc", "shell_command_expression":
		r.exprChildren(node, env)
		return typing.String()

	case "boolean":
		return typing.BoolLiteral{Value: strings.EqualFold(r.scope.File.Text(node), "true")}

	case "null":
		return typing.Null()

	case "variable_name":
		return r.readVariable(node, env)

	case "dynamic_variable_name":
		return typing.Mixed()

	case "array_creation_expression":
		return r.arrayLiteral(node, env)

	case "list_literal":
		return typing.Shape{}

	case "subscript_expression":
		return r.subscript(node, env)

	case "assignment_expression":
		right := r.expr(node.ChildByFieldName("right"), env)
		r.assign(node.ChildByFieldName("left"), right, env)
		return right

	case "augmented_assignment_expression":
		left := node.ChildByFieldName("left")
		op := strings.TrimSuffix(operatorText(node, r.scope.File.Content), "=")
		leftType := r.lvalueType(left, env)
		rightType := r.expr(node.ChildByFieldName("right"), env)
		result := binaryResult(op, leftType, rightType)
		r.assign(left, result, env)
		return result

	case "reference_assignment_expression":
		right := r.expr(node.ChildByFieldName("right"), env)
		r.assign(node.ChildByFieldName("left"), right, env)
		return right

	case "binary_expression":
		return r.binary(node, env)

	case "unary_op_expression":
		return r.unary(node, env)

	case "update_expression":
		if v := phpast.FirstOfKind(node, "variable_name"); v != nil {
			t := r.readVariable(v, env)
			widened := typing.Widen(t)
			if name := varName(r.scope.File.Text(v)); name != "" {
				env.Set(name, widened)
			}
			return widened
		}
		return typing.Int()

	case "cast_expression":
		r.expr(node.ChildByFieldName("value"), env)
		return castType(r.scope.File.Text(node.ChildByFieldName("type")))

	case "conditional_expression":
		return r.ternary(node, env)

	case "match_expression":
		return r.match(node, env)

	case "clone_expression":
		return r.expr(firstExpr(node), env)

	case "throw_expression":
		r.expr(firstExpr(node), env)
		return typing.Never()

	case "yield_expression":
		return r.yield(node, env)

	case "function_call_expression":
		return r.functionCall(node, env)

	case "member_call_expression", "nullsafe_member_call_expression":
		return r.methodCall(node, env)

	case "member_access_expression", "nullsafe_member_access_expression":
		return r.memberAccess(node, env)

	case "scoped_call_expression":
		return r.scopedCall(node, env)

	case "scoped_property_access_expression":
		return typing.Mixed()

	case "class_constant_access_expression":
		return r.classConstant(node, env)

	case "object_creation_expression":
		return r.newObject(node, env)

	case "anonymous_function_creation_expression", "arrow_function":
		return r.closure(node, env)

	case "print_intrinsic":
		r.exprChildren(node, env)
		return typing.IntLiteral{Value: 1}

	case "sequence_expression":
		var last typing.Type = typing.Mixed()
		for _, child := range phpast.NamedChildren(node) {
			last = r.expr(child, env)
		}
		return last

	case "name", "qualified_name":
		// Bare constant reference; constants outside class scope are not
		// tracked.
		return typing.Mixed()
	}

	r.exprChildren(node, env)
	return typing.Mixed()
}

// exprChildren evaluates every named child for effects.
func (r *run) exprChildren(node *tree_sitter.Node, env Env) {
	for _, child := range phpast.NamedChildren(node) {
		r.expr(child, env)
	}
}

func firstExpr(node *tree_sitter.Node) *tree_sitter.Node {
	for _, child := range phpast.NamedChildren(node) {
		if child.Kind() != "comment" {
			return child
		}
	}
	return nil
}

func operatorText(node *tree_sitter.Node, content []byte) string {
	if op := node.ChildByFieldName("operator"); op != nil {
		return string(op.Utf8Text(content))
	}
	return ""
}

func intLiteral(text string) typing.Type {
	text = strings.ReplaceAll(text, "_", "")
	if v, err := strconv.ParseInt(text, 0, 64); err == nil {
		return typing.IntLiteral{Value: v}
	}
	return typing.Int()
}

func castType(text string) typing.Type {
	switch strings.ToLower(strings.Trim(text, "() ")) {
	case "int", "integer":
		return typing.Int()
	case "float", "double":
		return typing.Float()
	case "string", "binary":
		return typing.String()
	case "bool", "boolean":
		return typing.Bool()
	case "array":
		return typing.Shape{}
	case "object":
		return typing.Object{Name: "object"}
	}
	return typing.Mixed()
}

// readVariable reads a variable, reporting undefined and possibly-undefined
// uses.
func (r *run) readVariable(node *tree_sitter.Node, env Env) typing.Type {
	name := varName(r.scope.File.Text(node))
	if name == "" {
		return typing.Mixed()
	}
	if superglobals[name] {
		return typing.Shape{ExtraKey: typing.String(), ExtraValue: typing.Mixed()}
	}

	b, ok := env.Get(name)
	if !ok {
		r.report(node, diagnostic.CodeUndefinedVariable, diagnostic.SeverityError,
			fmt.Sprintf("undefined variable $%s", name))
		return typing.Mixed()
	}
	if b.MaybeUndef {
		r.report(node, diagnostic.CodePossiblyUndefinedVariable, diagnostic.SeverityWarning,
			fmt.Sprintf("variable $%s is not defined on all paths", name))
	}
	return b.Type
}

// lvalueType reads the current type of an assignment target without
// reporting undefined-variable diagnostics.
func (r *run) lvalueType(node *tree_sitter.Node, env Env) typing.Type {
	if node != nil && node.Kind() == "variable_name" {
		if b, ok := env.Get(varName(r.scope.File.Text(node))); ok {
			return b.Type
		}
		return typing.Mixed()
	}
	return r.expr(node, env)
}

// assign writes to an assignment target.
func (r *run) assign(left *tree_sitter.Node, t typing.Type, env Env) {
	if left == nil {
		return
	}
	switch left.Kind() {
	case "variable_name":
		if name := varName(r.scope.File.Text(left)); name != "" {
			env.Set(name, t)
		}

	case "subscript_expression":
		r.assignSubscript(left, t, env)

	case "member_access_expression":
		r.assignProperty(left, t, env)

	case "list_literal", "array_creation_expression":
		r.bindListLiteral(env, left, destructuredValue(t))

	case "parenthesized_expression":
		r.assign(firstExpr(left), t, env)
	}
}

// destructuredValue is the per-element type when destructuring t.
func destructuredValue(t typing.Type) typing.Type {
	switch v := t.(type) {
	case typing.List:
		return v.Element
	case typing.Shape:
		var values []typing.Type
		for _, k := range v.Keys {
			values = append(values, k.Value)
		}
		if v.ExtraValue != nil {
			values = append(values, v.ExtraValue)
		}
		if len(values) == 0 {
			return typing.Mixed()
		}
		return typing.NewUnion(values...)
	}
	return typing.Mixed()
}

// bindListLiteral binds every variable inside a destructuring pattern.
func (r *run) bindListLiteral(env Env, pattern *tree_sitter.Node, value typing.Type) Env {
	for _, child := range phpast.NamedChildren(pattern) {
		switch child.Kind() {
		case "variable_name":
			if name := varName(r.scope.File.Text(child)); name != "" {
				env.Set(name, value)
			}
		case "array_element_initializer":
			inner := phpast.NamedChildren(child)
			if len(inner) > 0 {
				target := inner[len(inner)-1]
				if target.Kind() == "variable_name" {
					if name := varName(r.scope.File.Text(target)); name != "" {
						env.Set(name, value)
					}
				}
			}
		case "list_literal":
			r.bindListLiteral(env, child, typing.Mixed())
		}
	}
	return env
}

// assignSubscript handles $arr[...] = v and $arr[] = v, refining the array
// binding when the base is a plain variable.
func (r *run) assignSubscript(left *tree_sitter.Node, t typing.Type, env Env) {
	children := phpast.NamedChildren(left)
	if len(children) == 0 {
		return
	}
	base := children[0]
	var index *tree_sitter.Node
	if len(children) > 1 {
		index = children[1]
	}

	if index != nil {
		r.expr(index, env)
	}
	if base.Kind() != "variable_name" {
		r.expr(base, env)
		return
	}
	name := varName(r.scope.File.Text(base))
	if name == "" {
		return
	}

	current, _ := env.Get(name)
	key := literalKey(index, r.scope.File)

	switch v := current.Type.(type) {
	case typing.Shape:
		if key != "" {
			env.Set(name, shapeWithKey(v, key, t))
			return
		}
		// Append or computed key: the shape loses its seal.
		extraKey, extraValue := v.ExtraKey, v.ExtraValue
		if extraKey == nil {
			extraKey = typing.Int()
		}
		if index != nil {
			extraKey = typing.NewUnion(extraKey, typing.ArrayKey())
		}
		extraValue = typing.NewUnion(extraValue, t)
		env.Set(name, typing.Shape{Keys: v.Keys, Sealed: false, ExtraKey: extraKey, ExtraValue: extraValue})

	case typing.List:
		if index == nil {
			env.Set(name, typing.List{Element: typing.NewUnion(v.Element, t)})
			return
		}
		env.Set(name, typing.Shape{ExtraKey: typing.Int(), ExtraValue: typing.NewUnion(v.Element, t)})

	default:
		if current.Type == nil {
			// First write creates the array.
			if key != "" {
				env.Set(name, shapeWithKey(typing.Shape{Sealed: true}, key, t))
			} else {
				env.Set(name, typing.List{Element: t})
			}
		}
	}
}

func shapeWithKey(s typing.Shape, key string, value typing.Type) typing.Shape {
	keys := make([]typing.ShapeKey, 0, len(s.Keys)+1)
	replaced := false
	for _, k := range s.Keys {
		if k.Name == key {
			keys = append(keys, typing.ShapeKey{Name: key, Value: value})
			replaced = true
			continue
		}
		keys = append(keys, k)
	}
	if !replaced {
		keys = append(keys, typing.ShapeKey{Name: key, Value: value})
	}
	return typing.Shape{Keys: keys, Sealed: s.Sealed, ExtraKey: s.ExtraKey, ExtraValue: s.ExtraValue}
}

// literalKey renders an index expression as a shape key when it is a string
// or int literal.
func literalKey(index *tree_sitter.Node, file *phpast.File) string {
	if index == nil {
		return ""
	}
	switch index.Kind() {
	case "string":
		if content := phpast.FirstOfKind(index, "string_content"); content != nil {
			return file.Text(content)
		}
		return ""
	case "integer":
		text := strings.ReplaceAll(file.Text(index), "_", "")
		if v, err := strconv.ParseInt(text, 0, 64); err == nil {
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}

// subscript types $arr[index] reads, reporting undefined and possibly
// undefined index accesses.
func (r *run) subscript(node *tree_sitter.Node, env Env) typing.Type {
	children := phpast.NamedChildren(node)
	if len(children) == 0 {
		return typing.Mixed()
	}
	base := r.expr(children[0], env)
	var index *tree_sitter.Node
	if len(children) > 1 {
		index = children[1]
		r.expr(index, env)
	}
	key := literalKey(index, r.scope.File)

	var results []typing.Type
	for _, member := range typing.UnionMembers(base) {
		switch v := member.(type) {
		case typing.Shape:
			results = append(results, r.shapeRead(node, v, key))
		case typing.List:
			results = append(results, v.Element)
		case typing.StringLiteral:
			results = append(results, typing.String())
		case typing.Scalar:
			switch v.Kind {
			case typing.StringKind:
				results = append(results, typing.String())
			case typing.NullKind:
				results = append(results, typing.Null())
			default:
				results = append(results, typing.Mixed())
			}
		default:
			results = append(results, typing.Mixed())
		}
	}
	return typing.NewUnion(results...)
}

func (r *run) shapeRead(node *tree_sitter.Node, s typing.Shape, key string) typing.Type {
	if key == "" {
		var values []typing.Type
		for _, k := range s.Keys {
			values = append(values, k.Value)
		}
		if s.ExtraValue != nil {
			values = append(values, s.ExtraValue)
		}
		if len(values) == 0 {
			return typing.Mixed()
		}
		return typing.NewUnion(values...)
	}

	if k, ok := s.Key(key); ok {
		if k.Optional {
			r.report(node, diagnostic.CodePossiblyUndefinedIndex, diagnostic.SeverityWarning,
				fmt.Sprintf("index '%s' may not be set", key))
		}
		return k.Value
	}
	if s.Sealed {
		r.report(node, diagnostic.CodeUndefinedIndex, diagnostic.SeverityError,
			fmt.Sprintf("index '%s' does not exist on %s", key, s))
		return typing.Mixed()
	}
	if s.ExtraValue != nil {
		r.report(node, diagnostic.CodePossiblyUndefinedIndex, diagnostic.SeverityWarning,
			fmt.Sprintf("index '%s' may not be set", key))
		return s.ExtraValue
	}
	return typing.Mixed()
}

// arrayLiteral types array literals: literal keys become shape entries,
// purely positional entries become a numeric shape.
func (r *run) arrayLiteral(node *tree_sitter.Node, env Env) typing.Type {
	shape := typing.Shape{Sealed: true}
	position := 0
	for _, child := range phpast.NamedChildren(node) {
		if child.Kind() != "array_element_initializer" {
			continue
		}
		inner := phpast.NamedChildren(child)
		switch len(inner) {
		case 1:
			if spread := phpast.FirstOfKind(child, "variadic_unpacking"); spread != nil {
				// ...$rest erases key knowledge.
				r.expr(inner[0], env)
				shape.Sealed = false
				shape.ExtraKey = typing.ArrayKey()
				shape.ExtraValue = typing.Mixed()
				continue
			}
			value := r.expr(inner[0], env)
			shape.Keys = append(shape.Keys, typing.ShapeKey{Name: strconv.Itoa(position), Value: value})
			position++
		case 2:
			key := literalKey(inner[0], r.scope.File)
			r.expr(inner[0], env)
			value := r.expr(inner[1], env)
			if key == "" {
				shape.Sealed = false
				shape.ExtraKey = typing.ArrayKey()
				shape.ExtraValue = typing.NewUnion(shape.ExtraValue, value)
				continue
			}
			shape.Keys = append(shape.Keys, typing.ShapeKey{Name: key, Value: value})
		}
	}
	return shape
}

func (r *run) binary(node *tree_sitter.Node, env Env) typing.Type {
	op := operatorText(node, r.scope.File.Content)
	left := r.expr(node.ChildByFieldName("left"), env)

	if op == "instanceof" {
		return typing.Bool()
	}

	right := r.expr(node.ChildByFieldName("right"), env)

	if op == "??" {
		return typing.NewUnion(r.e.Checker.Subtract(left, typing.Null()), right)
	}
	return binaryResult(op, left, right)
}

func binaryResult(op string, left, right typing.Type) typing.Type {
	switch op {
	case ".":
		return typing.String()
	case "+", "-", "*", "**":
		return arithmetic(left, right)
	case "/":
		return typing.NewUnion(typing.Int(), typing.Float())
	case "%", "|", "&", "^", "<<", ">>":
		return typing.Int()
	case "<=>":
		return typing.Int()
	case "==", "!=", "===", "!==", "<", ">", "<=", ">=",
		"&&", "||", "and", "or", "xor":
		return typing.Bool()
	}
	return typing.Mixed()
}

func arithmetic(left, right typing.Type) typing.Type {
	if isFloatish(left) || isFloatish(right) {
		return typing.Float()
	}
	if isIntish(left) && isIntish(right) {
		return typing.Int()
	}
	return typing.NewUnion(typing.Int(), typing.Float())
}

func isIntish(t typing.Type) bool {
	for _, member := range typing.UnionMembers(t) {
		switch v := member.(type) {
		case typing.IntLiteral, typing.IntMask:
		case typing.Scalar:
			if v.Kind != typing.IntKind {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func isFloatish(t typing.Type) bool {
	for _, member := range typing.UnionMembers(t) {
		switch v := member.(type) {
		case typing.FloatLiteral:
		case typing.Scalar:
			if v.Kind != typing.FloatKind {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (r *run) unary(node *tree_sitter.Node, env Env) typing.Type {
	operand := firstExpr(node)
	t := r.expr(operand, env)
	text := r.scope.File.Text(node)
	if len(text) == 0 {
		return typing.Mixed()
	}
	switch text[0] {
	case '!':
		return typing.Bool()
	case '~':
		return typing.Int()
	case '-', '+':
		if isFloatish(t) {
			return typing.Float()
		}
		if isIntish(t) {
			return typing.Int()
		}
		return typing.NewUnion(typing.Int(), typing.Float())
	}
	return typing.Mixed()
}

// ternary types $c ? $a : $b and the short form $c ?: $b, narrowing the
// condition into each arm.
func (r *run) ternary(node *tree_sitter.Node, env Env) typing.Type {
	cond := node.ChildByFieldName("condition")
	condType := r.expr(cond, env)

	trueEnv := r.narrow(env, cond, true)
	falseEnv := r.narrow(env, cond, false)

	var thenType typing.Type
	if body := node.ChildByFieldName("body"); body != nil {
		thenType = r.expr(body, trueEnv)
	} else {
		// Short ternary keeps the truthy condition value.
		thenType = r.e.Checker.Subtract(r.e.Checker.Subtract(condType, typing.Null()), typing.BoolLiteral{Value: false})
	}
	elseType := r.expr(node.ChildByFieldName("alternative"), falseEnv)

	merged := Merge(trueEnv, falseEnv)
	for k := range env {
		delete(env, k)
	}
	for k, v := range merged {
		env[k] = v
	}
	return typing.NewUnion(thenType, elseType)
}

func (r *run) match(node *tree_sitter.Node, env Env) typing.Type {
	r.expr(node.ChildByFieldName("condition"), env)

	var results []typing.Type
	body := node.ChildByFieldName("body")
	if body == nil {
		return typing.Mixed()
	}
	for _, arm := range phpast.NamedChildren(body) {
		switch arm.Kind() {
		case "match_conditional_expression", "match_default_expression":
			children := phpast.NamedChildren(arm)
			if len(children) == 0 {
				continue
			}
			for _, child := range children[:len(children)-1] {
				r.expr(child, env)
			}
			results = append(results, r.expr(children[len(children)-1], env))
		}
	}
	if len(results) == 0 {
		return typing.Mixed()
	}
	return typing.NewUnion(results...)
}

// yield accumulates the generator tuple.
func (r *run) yield(node *tree_sitter.Node, env Env) typing.Type {
	text := r.scope.File.Text(node)
	children := phpast.NamedChildren(node)

	if strings.HasPrefix(text, "yield from") {
		if len(children) > 0 {
			inner := r.expr(children[0], env)
			k, v := r.elementTypes(inner)
			r.yieldKey = typing.NewUnion(r.yieldKey, k)
			r.yieldValue = typing.NewUnion(r.yieldValue, v)
		}
		return typing.Mixed()
	}

	switch len(children) {
	case 0:
		r.yieldKey = typing.NewUnion(r.yieldKey, typing.Int())
		r.yieldValue = typing.NewUnion(r.yieldValue, typing.Null())
	case 1:
		if children[0].Kind() == "array_element_initializer" {
			pair := phpast.NamedChildren(children[0])
			if len(pair) == 2 {
				r.yieldKey = typing.NewUnion(r.yieldKey, r.expr(pair[0], env))
				r.yieldValue = typing.NewUnion(r.yieldValue, r.expr(pair[1], env))
			}
			break
		}
		r.yieldKey = typing.NewUnion(r.yieldKey, typing.Int())
		r.yieldValue = typing.NewUnion(r.yieldValue, r.expr(children[0], env))
	case 2:
		r.yieldKey = typing.NewUnion(r.yieldKey, r.expr(children[0], env))
		r.yieldValue = typing.NewUnion(r.yieldValue, r.expr(children[1], env))
	}

	// The value sent back through the generator is unknowable locally.
	return typing.Mixed()
}

// closure types anonymous functions and arrow functions from their
// signature; arrow function bodies are inferred to fill a missing return
// hint.
func (r *run) closure(node *tree_sitter.Node, env Env) typing.Type {
	resolver := r.scope.File.Resolver()
	var params []typing.CallableParam

	if formal := node.ChildByFieldName("parameters"); formal != nil {
		for _, param := range phpast.NamedChildren(formal) {
			if param.Kind() != "simple_parameter" && param.Kind() != "variadic_parameter" {
				continue
			}
			t := phpast.NativeType(param.ChildByFieldName("type"), r.scope.File.Content, resolver)
			params = append(params, typing.CallableParam{
				Type:     t,
				Optional: param.ChildByFieldName("default_value") != nil,
				Variadic: param.Kind() == "variadic_parameter",
			})
		}
	}

	ret := typing.Type(typing.Mixed())
	if hint := node.ChildByFieldName("return_type"); hint != nil {
		ret = phpast.NativeType(hint, r.scope.File.Content, resolver)
	} else if node.Kind() == "arrow_function" {
		if body := node.ChildByFieldName("body"); body != nil {
			inner := env.Clone()
			if formal := node.ChildByFieldName("parameters"); formal != nil {
				for _, param := range phpast.NamedChildren(formal) {
					if v := phpast.FirstOfKind(param, "variable_name"); v != nil {
						t := phpast.NativeType(param.ChildByFieldName("type"), r.scope.File.Content, resolver)
						if name := varName(r.scope.File.Text(v)); name != "" {
							inner.Set(name, t)
						}
					}
				}
			}
			save := r.emit
			r.emit = false
			ret = r.expr(body, inner)
			r.emit = save
		}
	}
	return typing.Callable{Params: params, Return: ret}
}

func shapeKeyType(name string) typing.Type {
	if v, err := strconv.ParseInt(name, 10, 64); err == nil {
		return typing.IntLiteral{Value: v}
	}
	return typing.StringLiteral{Value: name}
}

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

// narrow returns a copy of env refined under the assumption that cond
// evaluated to the given truth value.
func (r *run) narrow(env Env, cond *tree_sitter.Node, assume bool) Env {
	out := env.Clone()
	if cond != nil {
		r.applyNarrow(out, cond, assume)
	}
	return out
}

// narrowCase refines env under the assumption that the switch subject
// matched the case value.
func (r *run) narrowCase(env Env, subject, value *tree_sitter.Node) Env {
	out := env.Clone()
	if subject == nil || value == nil || subject.Kind() != "variable_name" {
		return out
	}
	target := literalType(value, r.scope.File, true)
	if target == nil {
		return out
	}
	name := varName(r.scope.File.Text(subject))
	if name == "" {
		return out
	}
	// Case dispatch narrows silently; hitting only one of many cases is not
	// a redundancy signal.
	r.narrowVar(out, value, name, target, true, false)
	return out
}

func (r *run) applyNarrow(env Env, cond *tree_sitter.Node, assume bool) {
	switch cond.Kind() {
	case "parenthesized_expression":
		if inner := firstExpr(cond); inner != nil {
			r.applyNarrow(env, inner, assume)
		}

	case "unary_op_expression":
		text := r.scope.File.Text(cond)
		if strings.HasPrefix(text, "!") {
			if inner := firstExpr(cond); inner != nil {
				r.applyNarrow(env, inner, !assume)
			}
		}

	case "binary_expression":
		r.narrowBinary(env, cond, assume)

	case "function_call_expression":
		r.narrowCall(env, cond, assume)

	case "variable_name":
		r.narrowTruthy(env, cond, assume)

	case "assignment_expression":
		// if ($x = f()) narrows the assigned variable's truthiness.
		if left := cond.ChildByFieldName("left"); left != nil && left.Kind() == "variable_name" {
			r.narrowTruthy(env, left, assume)
		}
	}
}

func (r *run) narrowBinary(env Env, cond *tree_sitter.Node, assume bool) {
	op := operatorText(cond, r.scope.File.Content)
	left := cond.ChildByFieldName("left")
	right := cond.ChildByFieldName("right")

	switch op {
	case "&&", "and":
		if assume {
			r.applyNarrow(env, left, true)
			r.applyNarrow(env, right, true)
		}

	case "||", "or":
		if !assume {
			r.applyNarrow(env, left, false)
			r.applyNarrow(env, right, false)
		}

	case "instanceof":
		if left == nil || right == nil || left.Kind() != "variable_name" {
			return
		}
		if right.Kind() != "name" && right.Kind() != "qualified_name" {
			return
		}
		name := varName(r.scope.File.Text(left))
		class := r.scope.File.Resolver().Resolve(r.scope.File.Text(right))
		if name == "" {
			return
		}
		r.narrowVar(env, cond, name, typing.Object{Name: class}, assume, true)

	case "===", "!==", "==", "!=":
		positive := assume
		if op == "!==" || op == "!=" {
			positive = !positive
		}
		strict := op == "===" || op == "!=="

		variable, literal := left, right
		if variable == nil || variable.Kind() != "variable_name" {
			variable, literal = right, left
		}
		if variable == nil || literal == nil || variable.Kind() != "variable_name" {
			return
		}
		target := literalType(literal, r.scope.File, strict)
		if target == nil {
			return
		}
		name := varName(r.scope.File.Text(variable))
		if name == "" {
			return
		}
		r.narrowVar(env, cond, name, target, positive, true)
	}
}

// narrowCall narrows through isset, the is_* family, array_key_exists and
// user functions carrying conditional assertions.
func (r *run) narrowCall(env Env, cond *tree_sitter.Node, assume bool) {
	callee := cond.ChildByFieldName("function")
	if callee == nil || (callee.Kind() != "name" && callee.Kind() != "qualified_name") {
		return
	}
	raw := r.scope.File.Text(callee)
	base := strings.ToLower(raw[strings.LastIndex(raw, "\\")+1:])
	args := argumentValueNodes(cond)

	switch base {
	case "isset":
		for _, arg := range args {
			r.narrowIsset(env, arg, assume)
		}
		return
	case "empty":
		if len(args) == 1 && args[0].Kind() == "variable_name" {
			r.narrowTruthy(env, args[0], !assume)
		}
		return
	case "array_key_exists", "key_exists":
		if len(args) == 2 {
			r.narrowKeyExists(env, args[0], args[1], assume)
		}
		return
	}

	if target := typeCheckTarget(base); target != nil {
		if len(args) == 1 && args[0].Kind() == "variable_name" {
			name := varName(r.scope.File.Text(args[0]))
			if name != "" {
				r.narrowVar(env, cond, name, target, assume, true)
			}
		}
		return
	}

	name := r.scope.File.Resolver().Resolve(raw)
	fn := r.e.Table.Function(name)
	if fn == nil {
		fn = r.e.Table.Function(base)
	}
	if fn == nil {
		return
	}
	when := typing.AssertIfTrue
	if !assume {
		when = typing.AssertIfFalse
	}
	r.applyAssertions(fn.Assertions, when, fn.Params, args, env)
}

// typeCheckTarget maps an is_* runtime check to the type it proves.
func typeCheckTarget(name string) typing.Type {
	switch name {
	case "is_int", "is_integer", "is_long":
		return typing.Int()
	case "is_float", "is_double":
		return typing.Float()
	case "is_string":
		return typing.String()
	case "is_bool":
		return typing.Bool()
	case "is_null":
		return typing.Null()
	case "is_array":
		return typing.Shape{ExtraKey: typing.ArrayKey(), ExtraValue: typing.Mixed()}
	case "is_object":
		return typing.Object{Name: "object"}
	case "is_callable":
		return typing.Callable{Return: typing.Mixed()}
	case "is_numeric":
		return typing.NewUnion(typing.Int(), typing.Float(), typing.String())
	case "is_scalar":
		return typing.NewUnion(typing.Int(), typing.Float(), typing.String(), typing.Bool())
	case "is_iterable":
		return typing.NewUnion(
			typing.Shape{ExtraKey: typing.ArrayKey(), ExtraValue: typing.Mixed()},
			typing.Object{Name: "Traversable"})
	}
	return nil
}

// narrowIsset handles isset($x) and isset($x['key']).
func (r *run) narrowIsset(env Env, arg *tree_sitter.Node, assume bool) {
	switch arg.Kind() {
	case "variable_name":
		name := varName(r.scope.File.Text(arg))
		if name == "" {
			return
		}
		b, ok := env.Get(name)
		if assume {
			if !ok {
				env.Set(name, typing.Mixed())
				return
			}
			env.Set(name, r.e.Checker.Subtract(b.Type, typing.Null()))
			return
		}
		if !ok {
			return
		}
		// The variable is unset or null on this path.
		inter := r.e.Checker.Intersect(b.Type, typing.Null())
		if typing.IsNever(inter) {
			env[name] = Binding{Type: b.Type, MaybeUndef: true}
			return
		}
		env[name] = Binding{Type: typing.Null(), MaybeUndef: true}

	case "subscript_expression":
		if !assume {
			return
		}
		children := phpast.NamedChildren(arg)
		if len(children) != 2 || children[0].Kind() != "variable_name" {
			return
		}
		key := literalKey(children[1], r.scope.File)
		if key == "" {
			return
		}
		name := varName(r.scope.File.Text(children[0]))
		b, ok := env.Get(name)
		if !ok {
			return
		}
		if s, isShape := b.Type.(typing.Shape); isShape {
			env.Set(name, requireKey(s, key))
		}
	}
}

func (r *run) narrowKeyExists(env Env, keyArg, arrayArg *tree_sitter.Node, assume bool) {
	if arrayArg.Kind() != "variable_name" {
		return
	}
	key := literalKey(keyArg, r.scope.File)
	if key == "" {
		return
	}
	name := varName(r.scope.File.Text(arrayArg))
	b, ok := env.Get(name)
	if !ok {
		return
	}
	s, isShape := b.Type.(typing.Shape)
	if !isShape {
		return
	}
	if assume {
		env.Set(name, requireKey(s, key))
		return
	}
	// The key is absent: drop it from the shape.
	keys := make([]typing.ShapeKey, 0, len(s.Keys))
	for _, k := range s.Keys {
		if k.Name != key {
			keys = append(keys, k)
		}
	}
	env.Set(name, typing.Shape{Keys: keys, Sealed: s.Sealed, ExtraKey: s.ExtraKey, ExtraValue: s.ExtraValue})
}

// requireKey marks a shape key as definitely present.
func requireKey(s typing.Shape, key string) typing.Shape {
	keys := make([]typing.ShapeKey, 0, len(s.Keys)+1)
	found := false
	for _, k := range s.Keys {
		if k.Name == key {
			keys = append(keys, typing.ShapeKey{Name: key, Value: k.Value})
			found = true
			continue
		}
		keys = append(keys, k)
	}
	if !found {
		value := s.ExtraValue
		if value == nil {
			value = typing.Mixed()
		}
		keys = append(keys, typing.ShapeKey{Name: key, Value: value})
	}
	return typing.Shape{Keys: keys, Sealed: s.Sealed, ExtraKey: s.ExtraKey, ExtraValue: s.ExtraValue}
}

// narrowTruthy refines a variable known to be truthy; the falsy direction
// proves nothing about scalars beyond what literals would.
func (r *run) narrowTruthy(env Env, variable *tree_sitter.Node, assume bool) {
	name := varName(r.scope.File.Text(variable))
	if name == "" {
		return
	}
	b, ok := env.Get(name)
	if !ok {
		return
	}
	if assume {
		t := r.e.Checker.Subtract(b.Type, typing.Null())
		t = r.e.Checker.Subtract(t, typing.BoolLiteral{Value: false})
		env.Set(name, t)
	}
}

// narrowVar applies one positive or negative refinement and reports
// conditions that are statically redundant or impossible.
func (r *run) narrowVar(env Env, at *tree_sitter.Node, name string, target typing.Type, positive, report bool) {
	b, ok := env.Get(name)
	if !ok {
		return
	}

	if positive {
		result := r.e.Checker.Intersect(b.Type, target)
		if report && r.emit {
			if typing.IsNever(result) && !typing.IsNever(b.Type) {
				r.report(at, diagnostic.CodeImpossibleCondition, diagnostic.SeverityWarning,
					fmt.Sprintf("$%s is %s, which can never be %s", name, b.Type, target))
			} else if r.e.Checker.IsSubtype(b.Type, target) && !typing.IsMixed(b.Type) {
				r.report(at, diagnostic.CodeRedundantCondition, diagnostic.SeverityWarning,
					fmt.Sprintf("$%s is always %s", name, target))
			}
		}
		env.Set(name, result)
		return
	}
	env.Set(name, r.e.Checker.Subtract(b.Type, target))
}

// literalType converts a literal node into its literal type. Loose equality
// only trusts null and booleans.
func literalType(node *tree_sitter.Node, file *phpast.File, strict bool) typing.Type {
	switch node.Kind() {
	case "null":
		return typing.Null()
	case "boolean":
		return typing.BoolLiteral{Value: strings.EqualFold(file.Text(node), "true")}
	case "integer":
		if !strict {
			return nil
		}
		text := strings.ReplaceAll(file.Text(node), "_", "")
		if v, err := strconv.ParseInt(text, 0, 64); err == nil {
			return typing.IntLiteral{Value: v}
		}
	case "string":
		if !strict {
			return nil
		}
		if content := phpast.FirstOfKind(node, "string_content"); content != nil {
			return typing.StringLiteral{Value: file.Text(content)}
		}
		return typing.StringLiteral{Value: ""}
	}
	return nil
}

// argumentValueNodes returns the expression node of each call argument
// without evaluating anything.
func argumentValueNodes(call *tree_sitter.Node) []*tree_sitter.Node {
	argsNode := call.ChildByFieldName("arguments")
	if argsNode == nil {
		return nil
	}
	var out []*tree_sitter.Node
	for _, arg := range phpast.NamedChildren(argsNode) {
		if arg.Kind() != "argument" {
			continue
		}
		inner := phpast.NamedChildren(arg)
		if len(inner) > 0 {
			out = append(out, inner[len(inner)-1])
		}
	}
	return out
}

package infer

import (
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/phpmago/analyzer/internal/diagnostic"
	"github.com/phpmago/analyzer/internal/docblock"
	"github.com/phpmago/analyzer/internal/flow"
	"github.com/phpmago/analyzer/internal/phpast"
	"github.com/phpmago/analyzer/internal/typing"
)

// execStmt runs one statement over env and returns the updated environment.
func (r *run) execStmt(stmt *tree_sitter.Node, env Env) Env {
	switch stmt.Kind() {
	case "expression_statement":
		r.expr(firstExpr(stmt), env)
		env = r.applyVarDoc(stmt, env)

	case "return_statement":
		r.execReturn(stmt, env)

	case "echo_statement":
		r.exprChildren(stmt, env)

	case "unset_statement":
		for _, arg := range phpast.NamedChildren(stmt) {
			if arg.Kind() == "variable_name" {
				delete(env, varName(r.scope.File.Text(arg)))
			}
		}

	case "global_declaration":
		for _, v := range phpast.NamedChildren(stmt) {
			if v.Kind() == "variable_name" {
				if name := varName(r.scope.File.Text(v)); name != "" {
					env.Set(name, typing.Mixed())
				}
			}
		}

	case "function_static_declaration":
		for _, decl := range phpast.NamedChildren(stmt) {
			if decl.Kind() != "static_variable_declaration" {
				continue
			}
			v := phpast.FirstOfKind(decl, "variable_name")
			if v == nil {
				continue
			}
			t := typing.Type(typing.Mixed())
			if value := decl.ChildByFieldName("value"); value != nil {
				t = r.expr(value, env)
			}
			if name := varName(r.scope.File.Text(v)); name != "" {
				env.Set(name, t)
			}
		}

	case "function_definition", "class_declaration", "interface_declaration",
		"trait_declaration", "enum_declaration":
		// Nested declarations get their own analysis pass.

	case "goto_statement", "named_label_statement", "declare_statement",
		"const_declaration", "comment":

	default:
		// Unknown statement kinds still get their expressions typed.
		r.exprChildren(stmt, env)
	}
	return env
}

// applyVarDoc applies an inline /** @var T $x */ annotation preceding the
// statement, pinning the variable to the documented type. The scope's
// template parameters and named aliases (including imported ones) are in
// scope for the type expression.
func (r *run) applyVarDoc(stmt *tree_sitter.Node, env Env) Env {
	text := phpast.DocCommentFor(stmt, r.scope.File.Content)
	if text == "" {
		return env
	}
	doc := docblock.Parse(text, typing.ParseOptions{
		ResolveName: r.scope.File.Resolver().Resolve,
		Aliases:     r.scope.Aliases,
		Templates:   r.scope.Templates,
	})
	for _, err := range doc.Errors {
		r.report(stmt, diagnostic.CodeInvalidType, diagnostic.SeverityError,
			fmt.Sprintf("invalid type in docblock: %v", err))
	}
	if !doc.HasVar {
		return env
	}
	name := doc.VarName
	if name == "" {
		name = assignedVar(r.scope.File, stmt)
	}
	if name != "" {
		env.Set(name, doc.Var)
	}
	return env
}

// assignedVar returns the variable a plain assignment statement writes to.
func assignedVar(file *phpast.File, stmt *tree_sitter.Node) string {
	expr := firstExpr(stmt)
	if expr == nil || expr.Kind() != "assignment_expression" {
		return ""
	}
	left := expr.ChildByFieldName("left")
	if left == nil || left.Kind() != "variable_name" {
		return ""
	}
	return varName(file.Text(left))
}

// execReturn accumulates the returned type and checks it against the
// declared return type.
func (r *run) execReturn(stmt *tree_sitter.Node, env Env) {
	valueNode := firstExpr(stmt)
	actual := typing.Type(typing.Void())
	if valueNode != nil {
		actual = r.expr(valueNode, env)
	}

	if !r.scope.HasReturn || r.isGenerator {
		return
	}
	declared := r.scope.Return
	if declared == nil || typing.IsMixed(declared) || typing.ContainsTemplate(declared) {
		return
	}

	if typing.IsVoid(declared) {
		if valueNode != nil {
			r.report(stmt, diagnostic.CodeInvalidReturnStatement, diagnostic.SeverityError,
				fmt.Sprintf("%s is declared void but returns a value", r.scope.Name))
		}
		return
	}
	if valueNode == nil {
		r.report(stmt, diagnostic.CodeInvalidReturnStatement, diagnostic.SeverityError,
			fmt.Sprintf("%s must return %s, empty return found", r.scope.Name, declared))
		return
	}
	if typing.IsMixed(actual) {
		return
	}
	if !r.e.Checker.IsSubtype(actual, declared) {
		r.report(valueNode, diagnostic.CodeInvalidReturnStatement, diagnostic.SeverityError,
			fmt.Sprintf("%s must return %s, %s returned", r.scope.Name, declared, actual))
	}
}

// checkGenerator compares the yielded key and value types against a
// generator's declared return type.
func (r *run) checkGenerator() {
	if !r.isGenerator || !r.scope.HasReturn {
		return
	}
	obj, ok := r.scope.Return.(typing.Object)
	if !ok || len(obj.TypeArgs) < 2 {
		return
	}
	switch obj.Name {
	case "Generator", "Iterator", "Traversable", "IteratorAggregate":
	default:
		return
	}
	declaredKey, declaredValue := obj.TypeArgs[0], obj.TypeArgs[1]

	for _, check := range []struct {
		label    string
		yielded  typing.Type
		declared typing.Type
	}{
		{"key", r.yieldKey, declaredKey},
		{"value", r.yieldValue, declaredValue},
	} {
		if check.yielded == nil || typing.IsMixed(check.yielded) ||
			typing.IsMixed(check.declared) || typing.ContainsTemplate(check.declared) {
			continue
		}
		if !r.e.Checker.IsSubtype(check.yielded, check.declared) {
			r.col.Report(diagnostic.Diagnostic{
				Code:     diagnostic.CodeInvalidReturnStatement,
				Severity: diagnostic.SeverityError,
				File:     r.scope.File.Path,
				Line:     r.scope.Line,
				Column:   1,
				Message:  fmt.Sprintf("%s yields %s %s, %s declares %s", r.scope.Name, check.label, check.yielded, r.scope.Return, check.declared),
			})
		}
	}
}

// checkCompletion reports bodies that can fall off the end despite a
// declared non-void return type.
func (r *run) checkCompletion(graph *flow.Graph) {
	if !r.scope.HasReturn || r.isGenerator || !graph.CompletesNormally {
		return
	}
	declared := r.scope.Return
	if declared == nil || typing.IsMixed(declared) || typing.IsVoid(declared) ||
		typing.IsNever(declared) || typing.IsNull(declared) || typing.ContainsTemplate(declared) {
		return
	}
	r.col.Report(diagnostic.Diagnostic{
		Code:     diagnostic.CodeMissingReturnStatement,
		Severity: diagnostic.SeverityError,
		File:     r.scope.File.Path,
		Line:     r.scope.Line,
		Column:   1,
		Message:  fmt.Sprintf("%s is declared to return %s but can complete without returning", r.scope.Name, declared),
	})
}

package infer

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/phpmago/analyzer/internal/diagnostic"
	"github.com/phpmago/analyzer/internal/flow"
	"github.com/phpmago/analyzer/internal/phpast"
	"github.com/phpmago/analyzer/internal/symbol"
	"github.com/phpmago/analyzer/internal/typing"
)

// DefaultLoopPasses bounds the loop fixed-point iteration. Two passes are
// enough for back-edge narrowing to stabilize on real code; past the cap the
// engine widens literal refinements and takes one last pass.
const DefaultLoopPasses = 2

// Engine drives inference over function and method bodies. It is safe for
// concurrent use once the symbol table is frozen; all per-body state lives
// in the run.
type Engine struct {
	Table      *symbol.Table
	Checker    *typing.Checker
	LoopPasses int
}

// New returns an engine over a frozen symbol table.
func New(table *symbol.Table) *Engine {
	return &Engine{
		Table:      table,
		Checker:    typing.NewChecker(table),
		LoopPasses: DefaultLoopPasses,
	}
}

// Scope is the declaration context of one body under analysis.
type Scope struct {
	File *phpast.File
	// Name is the function or Class::method label used in messages.
	Name string
	Line int

	Params     []symbol.Parameter
	Return     typing.Type
	HasReturn  bool
	Assertions []typing.Assertion

	// Self is the enclosing class-like for methods.
	Self   *symbol.ClassLike
	Static bool

	Templates map[string]typing.TemplateParam
	Aliases   map[string]typing.Type
}

// run is the mutable state of one body analysis.
type run struct {
	e     *Engine
	scope Scope
	col   *diagnostic.Collector
	// emit is false during the convergence sweeps and true on the final
	// reporting sweep, so diagnostics are reported exactly once.
	emit bool

	isGenerator bool
	yieldKey    typing.Type
	yieldValue  typing.Type
}

// AnalyzeBody runs flow-sensitive inference over body and reports
// diagnostics to col. A nil body (abstract or interface method) only gets
// its signature-level checks elsewhere.
func (e *Engine) AnalyzeBody(scope Scope, body *tree_sitter.Node, col *diagnostic.Collector) {
	if body == nil {
		return
	}

	r := &run{e: e, scope: scope, col: col}
	r.isGenerator = phpast.FirstOfKind(body, "yield_expression") != nil

	graph := flow.Build(body)
	initial := r.initialEnv()

	outs := make([]Env, len(graph.Nodes))
	passes := e.LoopPasses
	if passes < 1 {
		passes = 1
	}

	// Convergence sweeps without reporting, then one reporting sweep.
	stable := false
	for pass := 0; pass < passes && !stable; pass++ {
		stable = r.sweep(graph, initial, outs)
	}
	if !stable {
		// The cap was hit: widen every computed environment so the final
		// sweep works with stable loop-invariant types.
		for i, env := range outs {
			if env != nil {
				outs[i] = env.Widen()
			}
		}
	}
	r.emit = true
	r.sweep(graph, initial, outs)

	r.checkCompletion(graph)
	r.checkGenerator()
}

// sweep runs one pass over the graph in node order, returning true when no
// node's outgoing environment changed.
func (r *run) sweep(graph *flow.Graph, initial Env, outs []Env) bool {
	stable := true
	for _, node := range graph.Nodes {
		if !node.Reachable {
			continue
		}

		var in Env
		if node == graph.Entry {
			in = initial.Clone()
		} else {
			for _, pred := range node.Preds {
				if !pred.Reachable || outs[pred.ID] == nil {
					continue
				}
				edge := edgeBetween(pred, node)
				in = Merge(in, r.edgeEnv(outs[pred.ID], edge))
			}
			if in == nil {
				// Only back-edges reach this node so far; start from the
				// entry environment to make progress.
				in = initial.Clone()
			}
		}

		out := r.execNode(node, in)
		if outs[node.ID] == nil || !outs[node.ID].Equal(out) {
			stable = false
		}
		outs[node.ID] = out
	}
	return stable
}

// edgeBetween finds the first edge from pred to node. Parallel edges between
// the same pair only occur for degenerate branches where both assumptions
// lead to the same join, in which case no narrowing applies anyway.
func edgeBetween(pred, node *flow.Node) flow.Edge {
	for _, e := range pred.Succs {
		if e.To == node {
			return e
		}
	}
	return flow.Edge{To: node}
}

// edgeEnv applies the edge's assumption to the predecessor's outgoing
// environment.
func (r *run) edgeEnv(out Env, edge flow.Edge) Env {
	switch edge.Assume {
	case flow.AssumeTrue:
		if edge.Cond != nil && edge.Cond.Kind() == "foreach_statement" {
			return r.bindForeach(out.Clone(), edge.Cond)
		}
		return r.narrow(out, edge.Cond, true)
	case flow.AssumeFalse:
		if edge.Cond != nil && edge.Cond.Kind() == "foreach_statement" {
			return out.Clone()
		}
		return r.narrow(out, edge.Cond, false)
	case flow.AssumeCase:
		return r.narrowCase(out, edge.Cond, edge.Value)
	}
	return out.Clone()
}

// execNode runs the node's bindings and statements over the incoming
// environment.
func (r *run) execNode(node *flow.Node, in Env) Env {
	env := in.Clone()

	if node.Kind == flow.KindCatch {
		env = r.bindCatch(env, node)
	}

	for _, stmt := range node.Stmts {
		env = r.execStmt(stmt, env)
	}

	// Conditions are evaluated once here, so assignments inside them take
	// effect and their diagnostics fire once; edges only narrow.
	if node.Cond != nil && node.Cond.Kind() != "foreach_statement" {
		r.expr(node.Cond, env)
	}
	return env
}

// initialEnv binds the declared parameters and, for methods, $this.
func (r *run) initialEnv() Env {
	env := NewEnv()
	for _, p := range r.scope.Params {
		t := p.Type
		if t == nil {
			t = typing.Mixed()
		}
		env.Set(p.Name, t)
	}
	if r.scope.Self != nil && !r.scope.Static {
		env.Set("this", typing.Object{Name: r.scope.Self.Name, TypeArgs: r.scope.Self.TemplateTypes()})
	}
	return env
}

// bindCatch binds the caught exception variable to the union of the caught
// class types.
func (r *run) bindCatch(env Env, node *flow.Node) Env {
	if node.CatchTypes == nil {
		return env
	}
	var members []typing.Type
	resolver := r.scope.File.Resolver()
	for _, child := range phpast.NamedChildren(node.CatchTypes) {
		members = append(members, phpast.NativeType(child, r.scope.File.Content, resolver))
	}
	caught := typing.NewUnion(members...)
	if typing.IsNever(caught) {
		caught = typing.Object{Name: "Throwable"}
	}
	if node.CatchVar != nil {
		name := varName(r.scope.File.Text(node.CatchVar))
		if name != "" {
			env.Set(name, caught)
		}
	}
	return env
}

// bindForeach binds the key/value loop variables from the iterated subject.
func (r *run) bindForeach(env Env, stmt *tree_sitter.Node) Env {
	children := phpast.NamedChildren(stmt)
	if len(children) == 0 {
		return env
	}
	subject := children[0]
	subjectType := r.expr(subject, env)
	keyType, valueType := r.elementTypes(subjectType)

	body := stmt.ChildByFieldName("body")
	for _, child := range children[1:] {
		if child == body {
			continue
		}
		switch child.Kind() {
		case "pair":
			pair := phpast.NamedChildren(child)
			if len(pair) == 2 {
				if name := varName(r.scope.File.Text(pair[0])); name != "" {
					env.Set(name, keyType)
				}
				if name := varName(r.scope.File.Text(pair[1])); name != "" {
					env.Set(name, valueType)
				}
			}
		case "variable_name":
			if name := varName(r.scope.File.Text(child)); name != "" {
				env.Set(name, valueType)
			}
		case "by_ref":
			if v := phpast.FirstOfKind(child, "variable_name"); v != nil {
				if name := varName(r.scope.File.Text(v)); name != "" {
					env.Set(name, valueType)
				}
			}
		case "list_literal":
			env = r.bindListLiteral(env, child, valueType)
		}
	}
	return env
}

// elementTypes returns the key and value types yielded by iterating t.
func (r *run) elementTypes(t typing.Type) (typing.Type, typing.Type) {
	var keys, values []typing.Type
	for _, member := range typing.UnionMembers(t) {
		switch v := member.(type) {
		case typing.Shape:
			for _, k := range v.Keys {
				keys = append(keys, shapeKeyType(k.Name))
				values = append(values, k.Value)
			}
			if v.ExtraKey != nil {
				keys = append(keys, v.ExtraKey)
			}
			if v.ExtraValue != nil {
				values = append(values, v.ExtraValue)
			}
			if len(v.Keys) == 0 && v.ExtraValue == nil {
				keys = append(keys, typing.ArrayKey())
				values = append(values, typing.Mixed())
			}
		case typing.List:
			keys = append(keys, typing.Int())
			values = append(values, v.Element)
		case typing.Object:
			k, val, ok := r.iteratorTypes(v)
			if !ok {
				k, val = typing.Mixed(), typing.Mixed()
			}
			keys = append(keys, k)
			values = append(values, val)
		default:
			keys = append(keys, typing.Mixed())
			values = append(values, typing.Mixed())
		}
	}
	return typing.NewUnion(keys...), typing.NewUnion(values...)
}

// iteratorTypes extracts key/value types from a Traversable implementation.
func (r *run) iteratorTypes(obj typing.Object) (typing.Type, typing.Type, bool) {
	for _, iface := range []string{"Generator", "Iterator", "IteratorAggregate", "Traversable"} {
		inst, ok := r.e.Table.AncestorInstantiation(obj, iface)
		if !ok {
			continue
		}
		if len(inst.TypeArgs) >= 2 {
			return inst.TypeArgs[0], inst.TypeArgs[1], true
		}
	}
	return nil, nil, false
}

// report emits a diagnostic for a node, only on the reporting sweep.
func (r *run) report(node *tree_sitter.Node, code string, severity diagnostic.Severity, message string) {
	if !r.emit {
		return
	}
	r.col.Report(diagnostic.Diagnostic{
		Code:     code,
		Severity: severity,
		File:     r.scope.File.Path,
		Line:     phpast.Line(node),
		Column:   phpast.Column(node),
		EndLine:  phpast.EndLine(node),
		EndCol:   phpast.EndColumn(node),
		Message:  message,
	})
}

// varName strips the $ prefix of a variable token.
func varName(text string) string {
	if len(text) > 1 && text[0] == '$' {
		return text[1:]
	}
	return ""
}

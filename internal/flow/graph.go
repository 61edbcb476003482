// Package flow builds control-flow graphs over tree-sitter function and
// method bodies. Nodes carry the statements executed in order; edges carry
// the condition under which they are taken, so the inference pass can narrow
// along branch edges and iterate loop back-edges to a fixed point.
package flow

import tree_sitter "github.com/tree-sitter/go-tree-sitter"

// Kind of a flow node.
type Kind int

const (
	// KindEntry is the function entry.
	KindEntry Kind = iota
	// KindBlock is a straight-line run of statements.
	KindBlock
	// KindBranch evaluates a condition and splits into assumed edges.
	KindBranch
	// KindLoopHead re-evaluates a loop condition; its incoming back-edges
	// drive the fixed-point pass.
	KindLoopHead
	// KindSwitch dispatches on a subject over case edges.
	KindSwitch
	// KindTry opens a protected region.
	KindTry
	// KindCatch is a catch handler entry.
	KindCatch
	// KindFinally merges all paths out of a protected region.
	KindFinally
	// KindExit is the single function exit.
	KindExit
)

func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindBlock:
		return "block"
	case KindBranch:
		return "branch"
	case KindLoopHead:
		return "loop"
	case KindSwitch:
		return "switch"
	case KindTry:
		return "try"
	case KindCatch:
		return "catch"
	case KindFinally:
		return "finally"
	case KindExit:
		return "exit"
	}
	return "unknown"
}

// Assume says what an edge asserts about its condition.
type Assume int

const (
	// AssumeNone is an unconditional edge.
	AssumeNone Assume = iota
	// AssumeTrue is taken when the condition is truthy.
	AssumeTrue
	// AssumeFalse is taken when the condition is falsy.
	AssumeFalse
	// AssumeCase is taken when the switch subject matches Edge.Value.
	AssumeCase
)

// Edge is one outgoing edge of a node.
type Edge struct {
	To *Node
	// Cond is the condition expression the edge assumes, nil for
	// unconditional edges.
	Cond   *tree_sitter.Node
	Assume Assume
	// Value is the case expression for AssumeCase edges.
	Value *tree_sitter.Node
	// Back marks a loop back-edge.
	Back bool
}

// Node is one node of the flow graph.
type Node struct {
	ID   int
	Kind Kind

	// Stmts are executed in order when the node is entered.
	Stmts []*tree_sitter.Node

	// Cond is the branch/loop condition or switch subject. For foreach
	// loops it is the whole foreach statement; the inference pass extracts
	// the subject and value bindings from it.
	Cond *tree_sitter.Node

	// CatchTypes holds the type_list node of a catch clause.
	CatchTypes *tree_sitter.Node
	// CatchVar holds the variable_name node of a catch clause, if any.
	CatchVar *tree_sitter.Node

	Succs []Edge
	Preds []*Node

	// Reachable is false for nodes only reachable through dead code, such
	// as statements after an unconditional return.
	Reachable bool
}

// Graph is the flow graph of one function or method body.
type Graph struct {
	Entry *Node
	Exit  *Node
	Nodes []*Node

	// CompletesNormally reports whether a reachable path falls off the end
	// of the body without an explicit return or throw.
	CompletesNormally bool
}

// Returns lists every reachable return statement in the graph.
func (g *Graph) Returns() []*tree_sitter.Node {
	var out []*tree_sitter.Node
	for _, n := range g.Nodes {
		if !n.Reachable {
			continue
		}
		for _, stmt := range n.Stmts {
			if stmt.Kind() == "return_statement" {
				out = append(out, stmt)
			}
		}
	}
	return out
}

func (g *Graph) newNode(kind Kind, reachable bool) *Node {
	n := &Node{ID: len(g.Nodes), Kind: kind, Reachable: reachable}
	g.Nodes = append(g.Nodes, n)
	return n
}

// connect adds an edge and propagates reachability.
func (g *Graph) connect(from *Node, e Edge) {
	e.To.Preds = append(e.To.Preds, from)
	from.Succs = append(from.Succs, e)
	if from.Reachable && !e.To.Reachable {
		g.markReachable(e.To)
	}
}

func (g *Graph) markReachable(n *Node) {
	if n.Reachable {
		return
	}
	n.Reachable = true
	for _, e := range n.Succs {
		g.markReachable(e.To)
	}
}

package flow

import tree_sitter "github.com/tree-sitter/go-tree-sitter"

// Build constructs the flow graph for a function or method body (a
// compound_statement node). A nil body yields a graph whose entry falls
// straight through to the exit, which is what an abstract method gets.
func Build(body *tree_sitter.Node) *Graph {
	g := &Graph{}
	g.Entry = g.newNode(KindEntry, true)
	g.Exit = g.newNode(KindExit, false)

	b := &builder{g: g}
	first := g.newNode(KindBlock, false)
	g.connect(g.Entry, Edge{To: first})
	b.cur = first

	if body != nil {
		b.stmts(body)
	}

	if b.cur.Reachable {
		g.CompletesNormally = true
	}
	g.connect(b.cur, Edge{To: g.Exit})
	return g
}

type builder struct {
	g   *Graph
	cur *Node

	breakTargets    []*Node
	continueTargets []*Node
}

// connectCur adds an edge from the current node and is a no-op target for
// dead code after a terminator (the dead node stays unreachable, so the
// edge contributes nothing).
func (b *builder) connectCur(e Edge) {
	b.g.connect(b.cur, e)
}

// deadBlock starts a fresh unreachable node for statements following a
// return, throw, break or continue.
func (b *builder) deadBlock() {
	b.cur = b.g.newNode(KindBlock, false)
}

func (b *builder) stmts(node *tree_sitter.Node) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		if child := node.NamedChild(i); child != nil {
			b.stmt(child)
		}
	}
}

func (b *builder) stmt(s *tree_sitter.Node) {
	switch s.Kind() {
	case "compound_statement", "colon_block":
		b.stmts(s)

	case "if_statement":
		b.ifStmt(s)

	case "while_statement":
		b.whileStmt(s)

	case "do_statement":
		b.doStmt(s)

	case "for_statement":
		b.forStmt(s)

	case "foreach_statement":
		b.foreachStmt(s)

	case "switch_statement":
		b.switchStmt(s)

	case "try_statement":
		b.tryStmt(s)

	case "return_statement":
		b.cur.Stmts = append(b.cur.Stmts, s)
		b.connectCur(Edge{To: b.g.Exit})
		b.deadBlock()

	case "break_statement":
		if target := b.innermost(b.breakTargets); target != nil {
			b.connectCur(Edge{To: target})
		} else {
			b.connectCur(Edge{To: b.g.Exit})
		}
		b.deadBlock()

	case "continue_statement":
		if target := b.innermost(b.continueTargets); target != nil {
			b.connectCur(Edge{To: target, Back: target.Kind == KindLoopHead})
		} else {
			b.connectCur(Edge{To: b.g.Exit})
		}
		b.deadBlock()

	case "expression_statement":
		b.cur.Stmts = append(b.cur.Stmts, s)
		if isThrow(s) {
			b.connectCur(Edge{To: b.g.Exit})
			b.deadBlock()
		}

	default:
		b.cur.Stmts = append(b.cur.Stmts, s)
	}
}

func isThrow(s *tree_sitter.Node) bool {
	for i := uint(0); i < s.NamedChildCount(); i++ {
		child := s.NamedChild(i)
		if child != nil && child.Kind() == "throw_expression" {
			return true
		}
	}
	return false
}

func (b *builder) innermost(stack []*Node) *Node {
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

func (b *builder) ifStmt(s *tree_sitter.Node) {
	branch := b.g.newNode(KindBranch, false)
	branch.Cond = s.ChildByFieldName("condition")
	b.connectCur(Edge{To: branch})

	join := b.g.newNode(KindBlock, false)

	thenEntry := b.g.newNode(KindBlock, false)
	b.g.connect(branch, Edge{To: thenEntry, Cond: branch.Cond, Assume: AssumeTrue})
	b.cur = thenEntry
	if body := s.ChildByFieldName("body"); body != nil {
		b.stmt(body)
	}
	b.connectCur(Edge{To: join})

	// Falsy control threads through the elseif chain.
	falsySource, falsyCond := branch, branch.Cond
	for i := uint(0); i < s.NamedChildCount(); i++ {
		alt := s.NamedChild(i)
		if alt == nil {
			continue
		}
		switch alt.Kind() {
		case "else_if_clause":
			elif := b.g.newNode(KindBranch, false)
			elif.Cond = alt.ChildByFieldName("condition")
			b.g.connect(falsySource, Edge{To: elif, Cond: falsyCond, Assume: AssumeFalse})

			entry := b.g.newNode(KindBlock, false)
			b.g.connect(elif, Edge{To: entry, Cond: elif.Cond, Assume: AssumeTrue})
			b.cur = entry
			if body := alt.ChildByFieldName("body"); body != nil {
				b.stmt(body)
			}
			b.connectCur(Edge{To: join})
			falsySource, falsyCond = elif, elif.Cond

		case "else_clause":
			entry := b.g.newNode(KindBlock, false)
			b.g.connect(falsySource, Edge{To: entry, Cond: falsyCond, Assume: AssumeFalse})
			b.cur = entry
			if body := alt.ChildByFieldName("body"); body != nil {
				b.stmt(body)
			}
			b.connectCur(Edge{To: join})
			falsySource = nil
		}
	}
	if falsySource != nil {
		b.g.connect(falsySource, Edge{To: join, Cond: falsyCond, Assume: AssumeFalse})
	}
	b.cur = join
}

func (b *builder) whileStmt(s *tree_sitter.Node) {
	head := b.g.newNode(KindLoopHead, false)
	head.Cond = s.ChildByFieldName("condition")
	b.connectCur(Edge{To: head})

	bodyEntry := b.g.newNode(KindBlock, false)
	after := b.g.newNode(KindBlock, false)
	b.g.connect(head, Edge{To: bodyEntry, Cond: head.Cond, Assume: AssumeTrue})
	b.g.connect(head, Edge{To: after, Cond: head.Cond, Assume: AssumeFalse})

	b.pushLoop(after, head)
	b.cur = bodyEntry
	if body := s.ChildByFieldName("body"); body != nil {
		b.stmt(body)
	}
	b.connectCur(Edge{To: head, Back: true})
	b.popLoop()

	b.cur = after
}

func (b *builder) doStmt(s *tree_sitter.Node) {
	bodyEntry := b.g.newNode(KindBlock, false)
	b.connectCur(Edge{To: bodyEntry})

	head := b.g.newNode(KindLoopHead, false)
	head.Cond = s.ChildByFieldName("condition")
	after := b.g.newNode(KindBlock, false)

	b.pushLoop(after, head)
	b.cur = bodyEntry
	if body := s.ChildByFieldName("body"); body != nil {
		b.stmt(body)
	}
	b.connectCur(Edge{To: head})
	b.popLoop()

	b.g.connect(head, Edge{To: bodyEntry, Cond: head.Cond, Assume: AssumeTrue, Back: true})
	b.g.connect(head, Edge{To: after, Cond: head.Cond, Assume: AssumeFalse})
	b.cur = after
}

func (b *builder) forStmt(s *tree_sitter.Node) {
	if init := s.ChildByFieldName("initialize"); init != nil {
		b.cur.Stmts = append(b.cur.Stmts, init)
	}

	head := b.g.newNode(KindLoopHead, false)
	head.Cond = s.ChildByFieldName("condition")
	b.connectCur(Edge{To: head})

	bodyEntry := b.g.newNode(KindBlock, false)
	after := b.g.newNode(KindBlock, false)
	if head.Cond != nil {
		b.g.connect(head, Edge{To: bodyEntry, Cond: head.Cond, Assume: AssumeTrue})
		b.g.connect(head, Edge{To: after, Cond: head.Cond, Assume: AssumeFalse})
	} else {
		// for (;;) only leaves through break.
		b.g.connect(head, Edge{To: bodyEntry})
	}

	update := b.g.newNode(KindBlock, false)
	if upd := s.ChildByFieldName("update"); upd != nil {
		update.Stmts = append(update.Stmts, upd)
	}
	b.g.connect(update, Edge{To: head, Back: true})

	b.pushLoop(after, update)
	b.cur = bodyEntry
	if body := s.ChildByFieldName("body"); body != nil {
		b.stmt(body)
	}
	b.connectCur(Edge{To: update})
	b.popLoop()

	b.cur = after
}

func (b *builder) foreachStmt(s *tree_sitter.Node) {
	head := b.g.newNode(KindLoopHead, false)
	// The whole foreach statement is the condition: the inference pass
	// extracts the iterated subject and the key/value bindings from it.
	head.Cond = s
	b.connectCur(Edge{To: head})

	bodyEntry := b.g.newNode(KindBlock, false)
	after := b.g.newNode(KindBlock, false)
	b.g.connect(head, Edge{To: bodyEntry, Cond: s, Assume: AssumeTrue})
	b.g.connect(head, Edge{To: after, Cond: s, Assume: AssumeFalse})

	b.pushLoop(after, head)
	b.cur = bodyEntry
	if body := s.ChildByFieldName("body"); body != nil {
		b.stmt(body)
	}
	b.connectCur(Edge{To: head, Back: true})
	b.popLoop()

	b.cur = after
}

func (b *builder) switchStmt(s *tree_sitter.Node) {
	sw := b.g.newNode(KindSwitch, false)
	sw.Cond = s.ChildByFieldName("condition")
	b.connectCur(Edge{To: sw})

	after := b.g.newNode(KindBlock, false)
	// PHP treats switch as a looping construct for break and continue.
	b.pushLoop(after, after)

	var fallthroughFrom *Node
	hasDefault := false

	body := s.ChildByFieldName("body")
	if body != nil {
		for i := uint(0); i < body.NamedChildCount(); i++ {
			clause := body.NamedChild(i)
			if clause == nil {
				continue
			}
			kind := clause.Kind()
			if kind != "case_statement" && kind != "default_statement" {
				continue
			}

			entry := b.g.newNode(KindBlock, false)
			var value *tree_sitter.Node
			if kind == "case_statement" {
				value = clause.ChildByFieldName("value")
				b.g.connect(sw, Edge{To: entry, Cond: sw.Cond, Assume: AssumeCase, Value: value})
			} else {
				hasDefault = true
				b.g.connect(sw, Edge{To: entry})
			}
			if fallthroughFrom != nil {
				b.g.connect(fallthroughFrom, Edge{To: entry})
			}

			b.cur = entry
			for j := uint(0); j < clause.NamedChildCount(); j++ {
				child := clause.NamedChild(j)
				if child == nil || child == value {
					continue
				}
				b.stmt(child)
			}
			fallthroughFrom = b.cur
		}
	}
	b.popLoop()

	if fallthroughFrom != nil {
		b.g.connect(fallthroughFrom, Edge{To: after})
	}
	if !hasDefault {
		// No case may match at all.
		b.g.connect(sw, Edge{To: after})
	}
	b.cur = after
}

func (b *builder) tryStmt(s *tree_sitter.Node) {
	tryNode := b.g.newNode(KindTry, false)
	b.connectCur(Edge{To: tryNode})

	// Catches assume the environment at try entry, since any statement of
	// the protected region may throw before completing.
	var catches []*Node
	for i := uint(0); i < s.NamedChildCount(); i++ {
		clause := s.NamedChild(i)
		if clause == nil || clause.Kind() != "catch_clause" {
			continue
		}
		catchNode := b.g.newNode(KindCatch, false)
		catchNode.CatchTypes = clause.ChildByFieldName("type")
		catchNode.CatchVar = clause.ChildByFieldName("name")
		b.g.connect(tryNode, Edge{To: catchNode})
		catches = append(catches, catchNode)
	}

	var finallyClause *tree_sitter.Node
	for i := uint(0); i < s.NamedChildCount(); i++ {
		clause := s.NamedChild(i)
		if clause != nil && clause.Kind() == "finally_clause" {
			finallyClause = clause
		}
	}

	merge := b.g.newNode(KindBlock, false)
	if finallyClause != nil {
		merge.Kind = KindFinally
	}

	bodyEntry := b.g.newNode(KindBlock, false)
	b.g.connect(tryNode, Edge{To: bodyEntry})
	b.cur = bodyEntry
	if body := s.ChildByFieldName("body"); body != nil {
		b.stmt(body)
	}
	b.connectCur(Edge{To: merge})

	catchIdx := 0
	for i := uint(0); i < s.NamedChildCount(); i++ {
		clause := s.NamedChild(i)
		if clause == nil || clause.Kind() != "catch_clause" {
			continue
		}
		b.cur = catches[catchIdx]
		catchIdx++
		if body := clause.ChildByFieldName("body"); body != nil {
			b.stmt(body)
		}
		b.connectCur(Edge{To: merge})
	}

	b.cur = merge
	if finallyClause != nil {
		if body := finallyClause.ChildByFieldName("body"); body != nil {
			b.stmt(body)
		}
	}
}

func (b *builder) pushLoop(breakTarget, continueTarget *Node) {
	b.breakTargets = append(b.breakTargets, breakTarget)
	b.continueTargets = append(b.continueTargets, continueTarget)
}

func (b *builder) popLoop() {
	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.continueTargets = b.continueTargets[:len(b.continueTargets)-1]
}

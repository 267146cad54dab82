// Package processmodel defines the process-tree artifact that models write
// as YAML, along with its parser, validator and extraction function.
package processmodel

import (
	"fmt"
	"strings"
)

// Kind is the operator (or leaf type) of a node.
type Kind string

const (
	KindActivity Kind = "activity"
	KindSkip     Kind = "skip"
	KindSequence Kind = "sequence"
	KindChoice   Kind = "choice"
	KindParallel Kind = "parallel"
	KindLoop     Kind = "loop"
)

// MaxDepth bounds nesting so malformed replies cannot blow the stack.
const MaxDepth = 64

// Node is one element of a process tree.
type Node struct {
	Kind  Kind
	Label string
	// Children holds the operands of sequence, choice and parallel.
	Children []*Node
	// Do and Redo are the body and optional redo part of a loop.
	Do   *Node
	Redo *Node
	// Copy is non-zero for the n-th repeat of an activity label accepted
	// in tolerant mode.
	Copy int
}

func (n *Node) isLeaf() bool {
	return n.Kind == KindActivity || n.Kind == KindSkip
}

func (n *Node) operands() []*Node {
	if n.Kind == KindLoop {
		ops := []*Node{n.Do}
		if n.Redo != nil {
			ops = append(ops, n.Redo)
		}
		return ops
	}
	return n.Children
}

// Model is a parsed process tree.
type Model struct {
	Root *Node
}

// Stats summarises a model.
type Stats struct {
	Activities int `json:"activities"`
	Distinct   int `json:"distinct"`
	Copies     int `json:"copies"`
	Operators  int `json:"operators"`
	Depth      int `json:"depth"`
}

// Activities returns activity labels in document order, repeats included.
func (m *Model) Activities() []string {
	var out []string
	walk(m.Root, 1, func(n *Node, _ int) {
		if n.Kind == KindActivity {
			out = append(out, n.Label)
		}
	})
	return out
}

// Stats counts the nodes of m.
func (m *Model) Stats() Stats {
	var s Stats
	seen := make(map[string]bool)
	walk(m.Root, 1, func(n *Node, depth int) {
		if depth > s.Depth {
			s.Depth = depth
		}
		switch {
		case n.Kind == KindActivity:
			s.Activities++
			if n.Copy > 0 {
				s.Copies++
			}
			seen[n.Label] = true
		case !n.isLeaf():
			s.Operators++
		}
	})
	s.Distinct = len(seen)
	return s
}

// String renders the tree one node per line, indented by depth.
func (m *Model) String() string {
	var b strings.Builder
	walk(m.Root, 0, func(n *Node, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		switch n.Kind {
		case KindActivity:
			b.WriteString(n.Label)
			if n.Copy > 0 {
				fmt.Fprintf(&b, " (copy %d)", n.Copy)
			}
		case KindSkip:
			b.WriteString("τ")
		default:
			b.WriteString(string(n.Kind))
		}
		b.WriteByte('\n')
	})
	return b.String()
}

func walk(n *Node, depth int, fn func(*Node, int)) {
	if n == nil {
		return
	}
	fn(n, depth)
	for _, c := range n.operands() {
		walk(c, depth+1, fn)
	}
}

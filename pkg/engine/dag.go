package engine

import (
	"fmt"
	"strings"
)

// ExecutionGraph is the levelled DAG of a flow.
type ExecutionGraph struct {
	Nodes map[string]*GraphNode
	// Edges lists the ordering constraints, predecessor first.
	Edges []GraphEdge
	// Roots are the tasks with no predecessors.
	Roots []string
	// Levels holds task names by execution level. Tasks in one level may
	// run concurrently; within a level they keep flow insertion order.
	Levels [][]string
	Depth  int
}

// GraphNode is a task in the execution graph.
type GraphNode struct {
	ID           string
	Level        int
	Dependencies []string
	Dependents   []string
}

// GraphEdge is an ordering constraint between two tasks.
type GraphEdge struct {
	From string
	To   string
}

// DAGBuilder levels a flow with Kahn's algorithm. A builder keeps the last
// flow it built so ToDOT can render it.
type DAGBuilder struct {
	order      []*node
	byName     map[string]*node
	dependents map[string][]string
	levels     [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{}
}

// BuildGraph checks that every dependency exists and that the flow has no
// cycle, then assigns each task the level after its latest dependency.
func (b *DAGBuilder) BuildGraph(flow *Flow) (*ExecutionGraph, error) {
	if flow == nil {
		return nil, NewPermanentError("flow is nil", nil).WithCode(ErrCodeValidation)
	}
	if err := flow.Err(); err != nil {
		return nil, err
	}

	b.order = flow.nodes
	b.byName = make(map[string]*node, len(flow.nodes))
	b.dependents = make(map[string][]string, len(flow.nodes))
	b.levels = nil
	for _, n := range flow.nodes {
		b.byName[n.task.Name()] = n
	}
	for _, n := range flow.nodes {
		name := n.task.Name()
		for _, dep := range n.requires {
			if _, ok := b.byName[dep]; !ok {
				return nil, NewPermanentError(
					fmt.Sprintf("task %s depends on non-existent task %s", name, dep), nil,
				).WithCode(ErrCodeValidation).WithResource(flow.name)
			}
			b.dependents[dep] = append(b.dependents[dep], name)
		}
	}

	if err := b.level(); err != nil {
		return nil, err
	}
	return b.graph(), nil
}

func (b *DAGBuilder) level() error {
	pending := make(map[string]int, len(b.order))
	var current []string
	for _, n := range b.order {
		pending[n.task.Name()] = len(n.requires)
		if len(n.requires) == 0 {
			current = append(current, n.task.Name())
		}
	}

	placed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		placed += len(current)

		ready := make(map[string]bool)
		for _, name := range current {
			for _, d := range b.dependents[name] {
				if pending[d]--; pending[d] == 0 {
					ready[d] = true
				}
			}
		}
		current = nil
		for _, n := range b.order {
			if ready[n.task.Name()] {
				current = append(current, n.task.Name())
			}
		}
	}

	if placed == len(b.order) {
		return nil
	}
	return NewPermanentError(
		fmt.Sprintf("circular dependency detected: %s", strings.Join(b.cycle(pending), " -> ")), nil,
	).WithCode(ErrCodeValidation)
}

// cycle walks dependencies from an unplaced task until a task repeats.
// Every unplaced task has at least one unplaced dependency.
func (b *DAGBuilder) cycle(pending map[string]int) []string {
	var start string
	for _, n := range b.order {
		if pending[n.task.Name()] > 0 {
			start = n.task.Name()
			break
		}
	}

	seen := map[string]int{}
	var path []string
	for name := start; ; {
		if i, ok := seen[name]; ok {
			return append(path[i:], name)
		}
		seen[name] = len(path)
		path = append(path, name)
		for _, dep := range b.byName[name].requires {
			if pending[dep] > 0 {
				name = dep
				break
			}
		}
	}
}

func (b *DAGBuilder) graph() *ExecutionGraph {
	g := &ExecutionGraph{
		Nodes:  make(map[string]*GraphNode, len(b.order)),
		Edges:  []GraphEdge{},
		Roots:  []string{},
		Levels: b.levels,
		Depth:  len(b.levels),
	}
	for level, names := range b.levels {
		for _, name := range names {
			g.Nodes[name] = &GraphNode{
				ID:           name,
				Level:        level,
				Dependencies: b.byName[name].requires,
				Dependents:   b.dependents[name],
			}
		}
	}
	if len(b.levels) > 0 {
		g.Roots = append(g.Roots, b.levels[0]...)
	}
	for _, n := range b.order {
		for _, dep := range n.requires {
			g.Edges = append(g.Edges, GraphEdge{From: dep, To: n.task.Name()})
		}
	}
	return g
}

// ToDOT renders the last built flow in Graphviz format, one cluster per
// level. Tasks with retries are drawn yellow.
func (b *DAGBuilder) ToDOT(flowName string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "digraph %q {\n  rankdir=TB;\n  node [shape=box, style=rounded];\n\n", flowName)
	for level, names := range b.levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n    label=\"Level %d\";\n    style=dashed;\n", level, level)
		for _, name := range names {
			color := "lightblue"
			if b.byName[name].retries > 0 {
				color = "lightyellow"
			}
			fmt.Fprintf(&sb, "    %q [fillcolor=%q, style=\"filled,rounded\"];\n", name, color)
		}
		sb.WriteString("  }\n\n")
	}
	for _, n := range b.order {
		for _, dep := range n.requires {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, n.task.Name())
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// ValidateGraph checks that graph is consistent with the last built flow.
func (b *DAGBuilder) ValidateGraph(graph *ExecutionGraph) error {
	if len(graph.Nodes) != len(b.order) {
		return NewPermanentError("graph node count mismatch", nil).WithCode(ErrCodeInternal)
	}
	for _, e := range graph.Edges {
		for _, end := range []string{e.From, e.To} {
			if _, ok := graph.Nodes[end]; !ok {
				return NewPermanentError("edge references non-existent node: "+end, nil).WithCode(ErrCodeInternal)
			}
		}
	}
	for _, root := range graph.Roots {
		if len(graph.Nodes[root].Dependencies) > 0 {
			return NewPermanentError(fmt.Sprintf("root node %s has dependencies", root), nil).WithCode(ErrCodeInternal)
		}
	}
	return nil
}

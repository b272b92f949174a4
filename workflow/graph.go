package workflow

import (
	"sort"

	"netops-flow/shared"
)

// Graph is a read-only view over one workflow version.
// It does not guarantee acyclicity; callers validate referential integrity before use.
type Graph struct {
	nodes    []shared.Node
	edges    []shared.Edge
	byRef    map[string]int
	outgoing map[string][]shared.Edge
	dupes    []string
}

// NewGraph indexes the workflow's nodes and edges.
// Nodes are ordered by order_index, then by declaration order.
func NewGraph(wf *shared.Workflow) *Graph {
	nodes := make([]shared.Node, len(wf.Nodes))
	copy(nodes, wf.Nodes)
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].OrderIndex < nodes[j].OrderIndex
	})

	g := &Graph{
		nodes:    nodes,
		edges:    append([]shared.Edge(nil), wf.Edges...),
		byRef:    make(map[string]int, len(nodes)),
		outgoing: make(map[string][]shared.Edge),
	}
	for i, n := range nodes {
		if _, dup := g.byRef[n.Ref]; dup {
			g.dupes = append(g.dupes, n.Ref)
			continue
		}
		g.byRef[n.Ref] = i
	}
	for _, e := range g.edges {
		g.outgoing[e.SourceRef] = append(g.outgoing[e.SourceRef], e)
	}
	return g
}

// Nodes returns the nodes in scheduling order
func (g *Graph) Nodes() []shared.Node { return g.nodes }

// Edges returns the edges in declaration order
func (g *Graph) Edges() []shared.Edge { return g.edges }

// Outgoing returns the edges leaving ref, in declaration order
func (g *Graph) Outgoing(ref string) []shared.Edge { return g.outgoing[ref] }

// Node looks up a node by ref
func (g *Graph) Node(ref string) (shared.Node, bool) {
	i, ok := g.byRef[ref]
	if !ok {
		return shared.Node{}, false
	}
	return g.nodes[i], true
}

// Validate checks that node refs are unique and every edge endpoint names a node of this graph
func (g *Graph) Validate() error {
	if len(g.dupes) > 0 {
		return &GraphIntegrityError{EdgeIndex: -1, Duplicate: g.dupes[0]}
	}
	for i, e := range g.edges {
		if _, ok := g.byRef[e.SourceRef]; !ok {
			return &GraphIntegrityError{EdgeIndex: i, SourceRef: e.SourceRef, TargetRef: e.TargetRef, Missing: e.SourceRef}
		}
		if _, ok := g.byRef[e.TargetRef]; !ok {
			return &GraphIntegrityError{EdgeIndex: i, SourceRef: e.SourceRef, TargetRef: e.TargetRef, Missing: e.TargetRef}
		}
	}
	return nil
}

// Indegrees counts incoming edges per node. Parallel edges from the same
// source each count, so a node with two edges from one predecessor needs
// both traversed before it becomes ready.
func (g *Graph) Indegrees() map[string]int {
	in := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		in[n.Ref] = 0
	}
	for _, e := range g.edges {
		if _, ok := in[e.TargetRef]; ok {
			in[e.TargetRef]++
		}
	}
	return in
}

// EntryPoints returns the refs of nodes with no incoming edges, in scheduling order
func (g *Graph) EntryPoints() []string {
	in := g.Indegrees()
	var refs []string
	for _, n := range g.nodes {
		if in[n.Ref] == 0 {
			refs = append(refs, n.Ref)
		}
	}
	return refs
}

// FindCycle returns the refs along one directed cycle, or nil if the graph is acyclic
func (g *Graph) FindCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(ref string) bool
	visit = func(ref string) bool {
		color[ref] = grey
		stack = append(stack, ref)
		for _, e := range g.outgoing[ref] {
			if _, ok := g.byRef[e.TargetRef]; !ok {
				continue
			}
			switch color[e.TargetRef] {
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == e.TargetRef {
						cycle = append([]string(nil), stack[i:]...)
						break
					}
				}
				return true
			case white:
				if visit(e.TargetRef) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[ref] = black
		return false
	}

	for _, n := range g.nodes {
		if color[n.Ref] == white && visit(n.Ref) {
			return cycle
		}
	}
	return nil
}

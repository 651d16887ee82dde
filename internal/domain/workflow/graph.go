// Package workflow defines static workflow graphs: named nodes connected by
// directed edges with optional compiled guards. Graphs are immutable once built.
package workflow

import (
	"fmt"
)

// NodeType is the closed set of node kinds.
type NodeType string

const (
	NodeStart     NodeType = "start"
	NodeAgent     NodeType = "agent"
	NodeTool      NodeType = "tool"
	NodeCondition NodeType = "condition"
	NodeEnd       NodeType = "end"
)

// Node is a named workflow step with type-specific configuration.
type Node struct {
	Name   string         `yaml:"name" json:"name"`
	Type   NodeType       `yaml:"type" json:"type"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Edge is a directed connection between two nodes. Edges are evaluated in
// declaration order; the first edge whose guard passes is taken, and an edge
// without a guard always matches.
type Edge struct {
	From  string `yaml:"from" json:"from"`
	To    string `yaml:"to" json:"to"`
	Guard *Guard `yaml:"guard,omitempty" json:"guard,omitempty"`

	predicate Predicate // compiled at build time
}

// Matches evaluates the edge's guard against the state map.
func (e *Edge) Matches(state map[string]any) bool {
	if e.predicate == nil {
		return true
	}
	return e.predicate(state)
}

// Graph is an immutable workflow definition.
type Graph struct {
	Name  string `yaml:"name" json:"name"`
	Nodes []Node `yaml:"nodes" json:"nodes"`
	Edges []Edge `yaml:"edges" json:"edges"`

	byName map[string]*Node
	starts []string
}

// Build validates the graph, compiles all edge guards, and freezes lookup
// structures. It must be called exactly once before execution.
func (g *Graph) Build() error {
	if g.Name == "" {
		return fmt.Errorf("graph: missing name")
	}
	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph %s: no nodes", g.Name)
	}

	g.byName = make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Name == "" {
			return fmt.Errorf("graph %s: node %d has no name", g.Name, i)
		}
		switch n.Type {
		case NodeStart, NodeAgent, NodeTool, NodeCondition, NodeEnd:
		default:
			return fmt.Errorf("graph %s: node %s has unknown type %q", g.Name, n.Name, n.Type)
		}
		if _, dup := g.byName[n.Name]; dup {
			return fmt.Errorf("graph %s: duplicate node %s", g.Name, n.Name)
		}
		g.byName[n.Name] = n
		if n.Type == NodeStart {
			g.starts = append(g.starts, n.Name)
		}
	}

	if len(g.starts) == 0 {
		return fmt.Errorf("graph %s: no start node", g.Name)
	}

	for i := range g.Edges {
		e := &g.Edges[i]
		if _, ok := g.byName[e.From]; !ok {
			return fmt.Errorf("graph %s: edge from unknown node %s", g.Name, e.From)
		}
		if _, ok := g.byName[e.To]; !ok {
			return fmt.Errorf("graph %s: edge to unknown node %s", g.Name, e.To)
		}
		if e.Guard != nil {
			pred, err := e.Guard.Compile()
			if err != nil {
				return fmt.Errorf("graph %s: edge %s->%s: %w", g.Name, e.From, e.To, err)
			}
			e.predicate = pred
		}
	}

	return nil
}

// Start returns the name of the start node. When multiple start nodes are
// declared the first one wins; the caller decides whether to warn.
func (g *Graph) Start() string {
	return g.starts[0]
}

// StartCount returns how many start nodes the graph declares.
func (g *Graph) StartCount() int {
	return len(g.starts)
}

// Node returns the named node, or nil if absent.
func (g *Graph) Node(name string) *Node {
	return g.byName[name]
}

// EdgesFrom returns the edges leaving the named node in declaration order.
func (g *Graph) EdgesFrom(name string) []*Edge {
	var out []*Edge
	for i := range g.Edges {
		if g.Edges[i].From == name {
			out = append(out, &g.Edges[i])
		}
	}
	return out
}

// Package workflow models approval workflow graphs and implements the
// traversal engine that advances a case through them. Graphs are read-only
// to this package; they are authored elsewhere and loaded per workflow id.
package workflow

import (
	"sort"
	"strings"

	"github.com/meghanandan/caseflow/internal/apperrors"
)

// NodeKind classifies a workflow node.
type NodeKind string

const (
	KindStart    NodeKind = "start"
	KindAction   NodeKind = "action"
	KindDecision NodeKind = "decision"
	KindParallel NodeKind = "parallel"
	KindEnd      NodeKind = "end"
)

// Routing selects how an action node's assignees are resolved. The set is
// closed; ParseRouting rejects anything else.
type Routing string

const (
	RouteUser         Routing = "user"
	RouteRole         Routing = "role"
	RouteHierarchy    Routing = "hierarchy"
	RouteSmartRouting Routing = "smartrouting"
)

// ParseRouting validates a stored routing string.
func ParseRouting(s string) (Routing, error) {
	switch r := Routing(strings.ToLower(strings.TrimSpace(s))); r {
	case RouteUser, RouteRole, RouteHierarchy, RouteSmartRouting:
		return r, nil
	default:
		return "", apperrors.Newf(apperrors.CodeWorkflowMisconfigured, "unknown routing type %q", s)
	}
}

// Node is one step in a workflow graph.
type Node struct {
	ID             string
	Kind           NodeKind
	SequenceNumber int
	// Routing and RoutingTarget are meaningful on action nodes only.
	// RoutingTarget holds a user id, role id, hierarchy level or
	// attribute value depending on Routing.
	Routing       Routing
	RoutingTarget string
	Label         string
}

// Edge is a labeled transition between two nodes. Direction is a free-text
// label ("yes", "no", "forward" or a custom string) matched against the
// normalized decision.
type Edge struct {
	SourceID      string
	DestinationID string
	Direction     string
}

// Graph is the immutable node/edge set for one workflow id.
type Graph struct {
	WorkflowID string
	Nodes      []Node
	Edges      []Edge

	byID map[string]int
	out  map[string][]Edge
}

// NewGraph indexes the node and edge sets. Edge order is preserved: when
// more than one edge from a node matches a decision, the first defined
// wins.
func NewGraph(workflowID string, nodes []Node, edges []Edge) *Graph {
	g := &Graph{
		WorkflowID: workflowID,
		Nodes:      nodes,
		Edges:      edges,
		byID:       make(map[string]int, len(nodes)),
		out:        make(map[string][]Edge, len(nodes)),
	}
	for i, n := range nodes {
		g.byID[n.ID] = i
	}
	for _, e := range edges {
		g.out[e.SourceID] = append(g.out[e.SourceID], e)
	}
	return g
}

// NodeByID returns the node with the given id.
func (g *Graph) NodeByID(id string) (Node, bool) {
	i, ok := g.byID[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// StartNode returns the graph's start node.
func (g *Graph) StartNode() (Node, bool) {
	for _, n := range g.Nodes {
		if n.Kind == KindStart {
			return n, true
		}
	}
	return Node{}, false
}

// EdgesFrom returns the outgoing edges of a node in definition order.
func (g *Graph) EdgesFrom(id string) []Edge {
	return g.out[id]
}

// ActionNodesInOrder returns the action nodes ordered by sequence number,
// keeping definition order for ties or missing sequence numbers.
func (g *Graph) ActionNodesInOrder() []Node {
	var actions []Node
	for _, n := range g.Nodes {
		if n.Kind == KindAction {
			actions = append(actions, n)
		}
	}
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].SequenceNumber != actions[j].SequenceNumber {
			return actions[i].SequenceNumber < actions[j].SequenceNumber
		}
		return false
	})
	return actions
}

// rejectionDirections are the edge labels that count as a rejection path.
var rejectionDirections = map[string]bool{
	"no":       true,
	"reject":   true,
	"rejected": true,
	"denied":   true,
	"return":   true,
	"back":     true,
}

// HasRejectEdge reports whether any edge in the graph models a rejection
// path. Workflows without one do not support reject decisions at all.
func (g *Graph) HasRejectEdge() bool {
	for _, e := range g.Edges {
		if rejectionDirections[strings.ToLower(e.Direction)] {
			return true
		}
	}
	return false
}

// HasRejectEdgeFrom reports whether the given node has a rejection edge.
func (g *Graph) HasRejectEdgeFrom(nodeID string) bool {
	for _, e := range g.EdgesFrom(nodeID) {
		if rejectionDirections[strings.ToLower(e.Direction)] {
			return true
		}
	}
	return false
}

// Directions returns the distinct outgoing edge labels of a node, in
// definition order. Used to build actionable NoMatchingEdge errors.
func (g *Graph) Directions(nodeID string) []string {
	var dirs []string
	seen := map[string]bool{}
	for _, e := range g.EdgesFrom(nodeID) {
		d := strings.ToLower(e.Direction)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}

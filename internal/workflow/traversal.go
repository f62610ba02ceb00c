package workflow

import (
	"strings"

	"github.com/meghanandan/caseflow/internal/apperrors"
)

const directionForward = "forward"

// decisionSynonyms collapses the free-text decisions operators actually
// type into the canonical edge directions workflows are authored with.
var decisionSynonyms = map[string]string{
	"approved": "yes",
	"approve":  "yes",
	"accept":   "yes",
	"yes":      "yes",
	"rejected": "no",
	"reject":   "no",
	"deny":     "no",
	"no":       "no",
	"forward":  directionForward,
}

// NormalizeDecision lowercases a decision and collapses known synonyms.
// Unknown values pass through lowercased so custom edge labels still match.
func NormalizeDecision(decision string) string {
	d := strings.ToLower(strings.TrimSpace(decision))
	if canonical, ok := decisionSynonyms[d]; ok {
		return canonical
	}
	return d
}

// IsRejection reports whether a normalized decision is a rejection.
func IsRejection(normalized string) bool {
	return normalized == "no"
}

// TraceStep records one node visited during traversal and the decision
// value used to leave it (empty when traversal halted there).
type TraceStep struct {
	Node     Node
	Decision string
}

// Trace is the finite execution trace of one Advance call. Advance is
// pure, so re-running it restarts the identical sequence.
type Trace []TraceStep

// Advance computes the next node for a case.
//
// With fromNodeID empty, traversal starts at the start node and runs
// through automatically resolved decision and parallel nodes until the
// first action node, or the end node when the workflow has none (a
// degraded configuration surfaced through the trace, not an error).
//
// With fromNodeID set, the decision is normalized and the matching edge is
// followed out of that node; intermediate decision nodes are deterministic
// pass-throughs driven by the same carried decision. Traversal halts at
// the next action node, at an end node, or at a decision node whose edges
// cannot resolve the decision (the caller turns that into a
// WorkflowMisconfigured failure naming the expected labels).
func Advance(g *Graph, fromNodeID, decision string) (Node, Trace, error) {
	norm := NormalizeDecision(decision)

	var current Node
	var trace Trace
	resuming := fromNodeID != ""

	if resuming {
		n, ok := g.NodeByID(fromNodeID)
		if !ok {
			return Node{}, nil, apperrors.Newf(apperrors.CodeWorkflowMisconfigured,
				"node %q does not exist in workflow %s", fromNodeID, g.WorkflowID)
		}
		current = n
	} else {
		start, ok := g.StartNode()
		if !ok {
			return Node{}, nil, apperrors.Newf(apperrors.CodeWorkflowMisconfigured,
				"workflow %s has no start node", g.WorkflowID)
		}
		current = start
	}

	// One hop per node plus one is enough for any acyclic graph; anything
	// longer means the graph loops without reaching a terminal node.
	maxHops := len(g.Nodes) + 1
	actedOnOrigin := false

	for hop := 0; ; hop++ {
		if hop > maxHops {
			return Node{}, trace, apperrors.Newf(apperrors.CodeWorkflowCycleSuspected,
				"workflow %s exceeded %d hops from node %q with decision %q",
				g.WorkflowID, maxHops, fromNodeID, norm)
		}

		switch current.Kind {
		case KindEnd:
			trace = append(trace, TraceStep{Node: current})
			return current, trace, nil

		case KindAction:
			if !resuming || actedOnOrigin || current.ID != fromNodeID {
				// A human has to act here.
				trace = append(trace, TraceStep{Node: current})
				return current, trace, nil
			}
			// This is the node the decision was made on; traverse out of it.
			actedOnOrigin = true
		}

		want := norm
		if current.Kind == KindStart || current.Kind == KindParallel {
			// Structural nodes always flow forward regardless of decision.
			want = ""
		}

		next, used, ok := pickEdge(g, current.ID, want)
		if !ok {
			switch current.Kind {
			case KindStart:
				return Node{}, trace, apperrors.Newf(apperrors.CodeWorkflowMisconfigured,
					"workflow %s start node %q has no outgoing edges", g.WorkflowID, current.ID)
			case KindDecision:
				// Leave the decision node unresolved; the coordinator
				// reports the missing edge labels to the operator.
				trace = append(trace, TraceStep{Node: current})
				return current, trace, nil
			default:
				return Node{}, trace, apperrors.Newf(apperrors.CodeNoMatchingEdge,
					"no edge from node %q matches decision %q (valid directions: %s)",
					current.ID, norm, strings.Join(g.Directions(current.ID), ", "))
			}
		}

		target, exists := g.NodeByID(next.DestinationID)
		if !exists {
			return Node{}, trace, apperrors.Newf(apperrors.CodeWorkflowMisconfigured,
				"edge from %q points at missing node %q", current.ID, next.DestinationID)
		}

		trace = append(trace, TraceStep{Node: current, Decision: used})
		current = target
	}
}

// pickEdge selects the outgoing edge for a node: an exact direction match
// on the wanted decision first, then the forward edge, then, only when no
// particular decision is wanted, the first defined edge. A rejection may
// follow forward only into a decision node, where the workflow's "no" edge
// is allowed to live; it never escalates to the next reviewer by default,
// so a node without a rejection path reports no match and the caller
// surfaces the missing edge to the operator.
func pickEdge(g *Graph, nodeID, want string) (Edge, string, bool) {
	edges := g.EdgesFrom(nodeID)
	if len(edges) == 0 {
		return Edge{}, "", false
	}
	if want != "" {
		for _, e := range edges {
			if strings.ToLower(e.Direction) == want {
				return e, want, true
			}
		}
	}
	for _, e := range edges {
		if strings.ToLower(e.Direction) != directionForward {
			continue
		}
		if IsRejection(want) {
			if target, ok := g.NodeByID(e.DestinationID); !ok || target.Kind != KindDecision {
				continue
			}
		}
		return e, directionForward, true
	}
	if want == "" {
		return edges[0], strings.ToLower(edges[0].Direction), true
	}
	return Edge{}, "", false
}

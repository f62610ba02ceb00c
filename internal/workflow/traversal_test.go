package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghanandan/caseflow/internal/apperrors"
)

func TestNormalizeDecision(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"approved", "yes"},
		{"Approve", "yes"},
		{"ACCEPT", "yes"},
		{"yes", "yes"},
		{"rejected", "no"},
		{"Reject", "no"},
		{"deny", "no"},
		{"no", "no"},
		{"forward", "forward"},
		{"  Forward  ", "forward"},
		{"escalate", "escalate"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDecision(tt.in), "input %q", tt.in)
	}
}

// linearGraph models: start -> action(A) --yes--> end, with a "no" edge
// when withReject is set.
func linearGraph(withReject bool) *Graph {
	nodes := []Node{
		{ID: "n1", Kind: KindStart},
		{ID: "n2", Kind: KindAction, SequenceNumber: 1, Routing: RouteUser, RoutingTarget: "E1", Label: "Manager Review"},
		{ID: "n3", Kind: KindEnd},
	}
	edges := []Edge{
		{SourceID: "n1", DestinationID: "n2", Direction: "forward"},
		{SourceID: "n2", DestinationID: "n3", Direction: "yes"},
	}
	if withReject {
		edges = append(edges, Edge{SourceID: "n2", DestinationID: "n3", Direction: "no"})
	}
	return NewGraph("wf-1", nodes, edges)
}

func TestAdvanceFromStartHaltsAtFirstAction(t *testing.T) {
	g := linearGraph(false)

	next, trace, err := Advance(g, "", "")
	require.NoError(t, err)
	assert.Equal(t, "n2", next.ID)
	assert.Equal(t, KindAction, next.Kind)
	require.Len(t, trace, 2)
	assert.Equal(t, "n1", trace[0].Node.ID)
	assert.Equal(t, "forward", trace[0].Decision)
}

func TestAdvanceApprovalReachesEnd(t *testing.T) {
	g := linearGraph(false)

	next, _, err := Advance(g, "n2", "approved")
	require.NoError(t, err)
	assert.Equal(t, KindEnd, next.Kind)
}

func TestAdvanceNoMatchingEdge(t *testing.T) {
	g := linearGraph(false)

	_, _, err := Advance(g, "n2", "rejected")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNoMatchingEdge, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), `"n2"`)
	assert.Contains(t, err.Error(), `"no"`)
	assert.Contains(t, err.Error(), "yes")
}

func TestAdvanceRejectionNeverFollowsForwardEdge(t *testing.T) {
	// Node a escalates forward but has no rejection path of its own; the
	// workflow's only "no" edge hangs off b. A rejection at a must fail
	// loudly instead of escalating the case to b.
	g := NewGraph("wf-10", []Node{
		{ID: "a", Kind: KindAction, SequenceNumber: 1},
		{ID: "b", Kind: KindAction, SequenceNumber: 2},
		{ID: "e", Kind: KindEnd},
	}, []Edge{
		{SourceID: "a", DestinationID: "b", Direction: "forward"},
		{SourceID: "b", DestinationID: "e", Direction: "yes"},
		{SourceID: "b", DestinationID: "a", Direction: "no"},
	})

	_, _, err := Advance(g, "a", "rejected")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNoMatchingEdge, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), `"a"`)

	// Approvals still use the forward edge as the structural fallback.
	next, _, err := Advance(g, "a", "approved")
	require.NoError(t, err)
	assert.Equal(t, "b", next.ID)
}

func TestAdvanceThroughDecisionNode(t *testing.T) {
	// start -> action(A) --forward--> decision --yes--> action(B)
	//                                           --no--> end
	g := NewGraph("wf-2", []Node{
		{ID: "s", Kind: KindStart},
		{ID: "a", Kind: KindAction, SequenceNumber: 1},
		{ID: "d", Kind: KindDecision},
		{ID: "b", Kind: KindAction, SequenceNumber: 2},
		{ID: "e", Kind: KindEnd},
	}, []Edge{
		{SourceID: "s", DestinationID: "a", Direction: "forward"},
		{SourceID: "a", DestinationID: "d", Direction: "forward"},
		{SourceID: "d", DestinationID: "b", Direction: "yes"},
		{SourceID: "d", DestinationID: "e", Direction: "no"},
	})

	next, trace, err := Advance(g, "a", "approved")
	require.NoError(t, err)
	assert.Equal(t, "b", next.ID)
	// a(forward) -> d(yes) -> halt at b
	require.Len(t, trace, 3)
	assert.Equal(t, "forward", trace[0].Decision)
	assert.Equal(t, "yes", trace[1].Decision)

	next, _, err = Advance(g, "a", "rejected")
	require.NoError(t, err)
	assert.Equal(t, "e", next.ID)
}

func TestAdvanceHaltsAtUnresolvableDecisionNode(t *testing.T) {
	// The decision node has only a custom-labelled edge, so neither the
	// carried decision nor forward can resolve it. Advance must hand it
	// back instead of guessing.
	g := NewGraph("wf-3", []Node{
		{ID: "a", Kind: KindAction},
		{ID: "d", Kind: KindDecision},
		{ID: "e", Kind: KindEnd},
	}, []Edge{
		{SourceID: "a", DestinationID: "d", Direction: "forward"},
		{SourceID: "d", DestinationID: "e", Direction: "escalate"},
	})

	next, _, err := Advance(g, "a", "approved")
	require.NoError(t, err)
	assert.Equal(t, KindDecision, next.Kind)
	assert.Equal(t, "d", next.ID)
}

func TestAdvanceFirstDefinedEdgeWins(t *testing.T) {
	g := NewGraph("wf-4", []Node{
		{ID: "a", Kind: KindAction},
		{ID: "b", Kind: KindAction},
		{ID: "c", Kind: KindAction},
	}, []Edge{
		{SourceID: "a", DestinationID: "b", Direction: "yes"},
		{SourceID: "a", DestinationID: "c", Direction: "yes"},
	})

	next, _, err := Advance(g, "a", "yes")
	require.NoError(t, err)
	assert.Equal(t, "b", next.ID)
}

func TestAdvanceCycleSuspected(t *testing.T) {
	g := NewGraph("wf-5", []Node{
		{ID: "a", Kind: KindAction},
		{ID: "d1", Kind: KindDecision},
		{ID: "d2", Kind: KindDecision},
	}, []Edge{
		{SourceID: "a", DestinationID: "d1", Direction: "forward"},
		{SourceID: "d1", DestinationID: "d2", Direction: "forward"},
		{SourceID: "d2", DestinationID: "d1", Direction: "forward"},
	})

	_, _, err := Advance(g, "a", "approved")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeWorkflowCycleSuspected, apperrors.CodeOf(err))
}

func TestAdvanceDeterminism(t *testing.T) {
	g := linearGraph(true)
	first, _, err := Advance(g, "n2", "approved")
	require.NoError(t, err)
	for range 5 {
		again, _, err := Advance(g, "n2", "approved")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestAdvanceMissingStartNode(t *testing.T) {
	g := NewGraph("wf-6", []Node{{ID: "a", Kind: KindAction}}, nil)
	_, _, err := Advance(g, "", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeWorkflowMisconfigured, apperrors.CodeOf(err))
}

func TestAdvanceDisconnectedStartNode(t *testing.T) {
	g := NewGraph("wf-7", []Node{
		{ID: "s", Kind: KindStart},
		{ID: "a", Kind: KindAction},
	}, nil)
	_, _, err := Advance(g, "", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeWorkflowMisconfigured, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "no outgoing edges")
}

func TestAdvanceNoActionNodesReachesEnd(t *testing.T) {
	g := NewGraph("wf-8", []Node{
		{ID: "s", Kind: KindStart},
		{ID: "e", Kind: KindEnd},
	}, []Edge{
		{SourceID: "s", DestinationID: "e", Direction: "forward"},
	})

	next, _, err := Advance(g, "", "")
	require.NoError(t, err)
	assert.Equal(t, KindEnd, next.Kind)
}

func TestActionNodesInOrder(t *testing.T) {
	g := NewGraph("wf-9", []Node{
		{ID: "a3", Kind: KindAction, SequenceNumber: 3},
		{ID: "a1", Kind: KindAction, SequenceNumber: 1},
		{ID: "s", Kind: KindStart},
		{ID: "a2", Kind: KindAction, SequenceNumber: 2},
		{ID: "e", Kind: KindEnd},
	}, nil)

	got := g.ActionNodesInOrder()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a1", "a2", "a3"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestHasRejectEdge(t *testing.T) {
	assert.False(t, linearGraph(false).HasRejectEdge())
	g := linearGraph(true)
	assert.True(t, g.HasRejectEdge())
	assert.True(t, g.HasRejectEdgeFrom("n2"))
	assert.False(t, g.HasRejectEdgeFrom("n1"))
}

func TestParseRouting(t *testing.T) {
	for _, valid := range []string{"user", "Role", " hierarchy ", "SMARTROUTING"} {
		_, err := ParseRouting(valid)
		assert.NoError(t, err, valid)
	}
	_, err := ParseRouting("round_robin")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeWorkflowMisconfigured, apperrors.CodeOf(err))
}

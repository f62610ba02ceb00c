package routing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meghanandan/caseflow/internal/workflow"
)

// SkipKind classifies the outcome of a shortcut analysis.
type SkipKind string

const (
	SkipNone         SkipKind = "none"
	SkipCreatorLevel SkipKind = "creator_level_skip"
	SkipAutoResolve  SkipKind = "auto_resolve"
	SkipManagerStart SkipKind = "manager_level_start"
	SkipHierarchy    SkipKind = "hierarchy_based"
)

// Placement is the result of the self-approval shortcut analysis run when
// a case is created. Reason is always populated when Skip is true; it is
// persisted verbatim to the history trail.
type Placement struct {
	Skip bool
	Kind SkipKind
	// StartNode is the action node traversal should begin at. Nil when
	// Kind is SkipAutoResolve (the case resolves immediately) or when no
	// skip applies.
	StartNode *workflow.Node
	// AutoApprovedNode is the creator's own action node, resolved without
	// a human decision. Set for SkipCreatorLevel and SkipAutoResolve.
	AutoApprovedNode *workflow.Node
	// SkippedLevels counts the action-node positions bypassed.
	SkippedLevels int
	Reason        string
}

// ShortcutDetector decides whether a case creator's own approval steps
// should be auto-resolved rather than assigned back to them.
type ShortcutDetector struct {
	dir      Directory
	maxDepth int
	log      zerolog.Logger
}

// NewShortcutDetector creates a detector. maxDepth bounds how far up the
// reporting chain a configured ancestor is searched for; values below 1
// fall back to 3.
func NewShortcutDetector(dir Directory, maxDepth int, log zerolog.Logger) *ShortcutDetector {
	if maxDepth < 1 {
		maxDepth = 3
	}
	return &ShortcutDetector{dir: dir, maxDepth: maxDepth, log: log}
}

// Plan inspects the ordered action nodes of a workflow against the
// creator's position in the org.
//
// If the creator is the configured assignee of action node k, that node is
// auto-approved and traversal resumes at k+1 (or the case resolves when k
// is last). If instead the creator's manager, or an ancestor within
// maxDepth hops, is configured at some node, traversal starts there.
// Otherwise traversal proceeds unmodified.
func (d *ShortcutDetector) Plan(ctx context.Context, orgCode, creatorID string, g *workflow.Graph) (Placement, error) {
	actions := g.ActionNodesInOrder()
	if len(actions) == 0 {
		return Placement{Kind: SkipNone, Reason: "workflow has no action nodes"}, nil
	}

	// Creator configured directly at some step.
	if k := nodeConfiguredFor(actions, creatorID); k >= 0 {
		auto := actions[k]
		if k == len(actions)-1 {
			return Placement{
				Skip:             true,
				Kind:             SkipAutoResolve,
				AutoApprovedNode: &auto,
				SkippedLevels:    len(actions),
				Reason: fmt.Sprintf(
					"creator %s is the configured assignee of the final approval step %s; auto-approving and resolving the case",
					creatorID, auto.ID),
			}, nil
		}
		next := actions[k+1]
		return Placement{
			Skip:             true,
			Kind:             SkipCreatorLevel,
			StartNode:        &next,
			AutoApprovedNode: &auto,
			SkippedLevels:    k + 1,
			Reason: fmt.Sprintf(
				"creator %s is the configured assignee of approval step %s; auto-approving their level and continuing at %s",
				creatorID, auto.ID, next.ID),
		}, nil
	}

	// Creator's manager, or an ancestor within maxDepth hops.
	creator, err := d.dir.EmployeeByID(ctx, orgCode, creatorID)
	if err != nil {
		return Placement{}, err
	}
	if creator == nil || creator.ReportsTo == "" {
		return Placement{Kind: SkipNone, Reason: "creator has no position in the workflow or its hierarchy"}, nil
	}

	ancestorID := creator.ReportsTo
	for depth := 1; depth <= d.maxDepth && ancestorID != ""; depth++ {
		if k := nodeConfiguredFor(actions, ancestorID); k >= 0 {
			node := actions[k]
			kind := SkipManagerStart
			reason := fmt.Sprintf(
				"creator %s reports to %s who is the configured assignee of step %s; starting at the manager's level",
				creatorID, ancestorID, node.ID)
			if depth > 1 {
				kind = SkipHierarchy
				reason = fmt.Sprintf(
					"creator %s reports through %d levels to %s who is the configured assignee of step %s; starting there",
					creatorID, depth, ancestorID, node.ID)
			}
			if k == 0 {
				// Starting at the first step is the normal flow anyway.
				return Placement{Kind: SkipNone, Reason: "configured ancestor already holds the first approval step"}, nil
			}
			return Placement{
				Skip:          true,
				Kind:          kind,
				StartNode:     &node,
				SkippedLevels: k,
				Reason:        reason,
			}, nil
		}

		ancestor, err := d.dir.EmployeeByID(ctx, orgCode, ancestorID)
		if err != nil {
			return Placement{}, err
		}
		if ancestor == nil {
			break
		}
		ancestorID = ancestor.ReportsTo
	}

	return Placement{Kind: SkipNone, Reason: "creator not found in workflow hierarchy"}, nil
}

// nodeConfiguredFor returns the position of the first action node whose
// fixed-user routing targets the employee, or -1.
func nodeConfiguredFor(actions []workflow.Node, empID string) int {
	if empID == "" {
		return -1
	}
	for i, n := range actions {
		if n.Routing == workflow.RouteUser && n.RoutingTarget == empID {
			return i
		}
	}
	return -1
}

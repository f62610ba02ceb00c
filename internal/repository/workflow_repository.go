package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/meghanandan/caseflow/internal/apperrors"
	"github.com/meghanandan/caseflow/internal/workflow"
)

// WorkflowRepository loads workflow graph definitions. Definitions are
// authored elsewhere; this service only reads them.
type WorkflowRepository struct {
	db *DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// LoadGraph reads a workflow's nodes and edges and assembles the graph.
// Edge rows are read in definition order, which the traversal relies on
// for deterministic tie-breaks.
func (r *WorkflowRepository) LoadGraph(ctx context.Context, workflowID string) (*workflow.Graph, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`SELECT id FROM work_flows WHERE id = $1 AND is_active = TRUE`,
		workflowID,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("workflow", workflowID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load workflow")
	}

	nodes, err := r.loadNodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	edges, err := r.loadEdges(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return workflow.NewGraph(workflowID, nodes, edges), nil
}

func (r *WorkflowRepository) loadNodes(ctx context.Context, workflowID string) ([]workflow.Node, error) {
	query := `
		SELECT node_id, node_type, sequence_number,
		       COALESCE(routing_type, ''), COALESCE(routing_target, ''),
		       COALESCE(label, '')
		FROM work_flow_nodes
		WHERE work_flow_id = $1
		ORDER BY sequence_number ASC, node_id ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load workflow nodes")
	}
	defer rows.Close()

	var nodes []workflow.Node
	for rows.Next() {
		var (
			n       workflow.Node
			kind    string
			routing string
		)
		if err := rows.Scan(&n.ID, &kind, &n.SequenceNumber, &routing, &n.RoutingTarget, &n.Label); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan workflow node")
		}
		n.Kind = workflow.NodeKind(kind)
		if routing != "" {
			n.Routing, err = workflow.ParseRouting(routing)
			if err != nil {
				return nil, err
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (r *WorkflowRepository) loadEdges(ctx context.Context, workflowID string) ([]workflow.Edge, error) {
	query := `
		SELECT source_node_id, destination_node_id, COALESCE(direction, '')
		FROM work_flow_edges
		WHERE work_flow_id = $1
		ORDER BY id ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load workflow edges")
	}
	defer rows.Close()

	var edges []workflow.Edge
	for rows.Next() {
		var e workflow.Edge
		if err := rows.Scan(&e.SourceID, &e.DestinationID, &e.Direction); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan workflow edge")
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

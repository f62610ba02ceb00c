package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/meghanandan/caseflow/internal/apperrors"
)

// AssignmentRepository handles open-work rows. An assignment is open
// while closed_at is NULL.
type AssignmentRepository struct {
	db *DB
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Open creates an open assignment and fills in the generated id.
func (r *AssignmentRepository) Open(ctx context.Context, a *Assignment) error {
	query := `
		INSERT INTO case_assignments
		    (case_id, node_id, assignee_id, stage, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, opened_at
	`

	err := r.db.QueryRow(ctx, query,
		a.CaseID, a.NodeID, a.AssigneeID, a.Stage, a.CreatedBy,
	).Scan(&a.ID, &a.OpenedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to open assignment")
	}
	return nil
}

// CloseOpen closes every open assignment on a case and returns the rows
// that were closed, so a history entry can be written per assignee.
func (r *AssignmentRepository) CloseOpen(ctx context.Context, caseID, closedBy string) ([]*Assignment, error) {
	query := `
		UPDATE case_assignments
		SET closed_at = NOW(),
		    closed_by = $2
		WHERE case_id = $1
		  AND closed_at IS NULL
		RETURNING id, case_id, node_id, assignee_id, stage,
		          opened_at, closed_at, closed_by, created_by
	`

	rows, err := r.db.Query(ctx, query, caseID, closedBy)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to close assignments")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// OpenForCase returns the open assignments on a case in opened order.
func (r *AssignmentRepository) OpenForCase(ctx context.Context, caseID string) ([]*Assignment, error) {
	query := `
		SELECT id, case_id, node_id, assignee_id, stage,
		       opened_at, closed_at, closed_by, created_by
		FROM case_assignments
		WHERE case_id = $1
		  AND closed_at IS NULL
		ORDER BY opened_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get open assignments")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// PendingForUser returns the open work queue for one employee across an
// org, oldest first.
func (r *AssignmentRepository) PendingForUser(ctx context.Context, orgCode, employeeID string) ([]*PendingAssignment, error) {
	query := `
		SELECT a.id, a.case_id, a.node_id, a.assignee_id, a.stage,
		       a.opened_at, a.closed_at, a.closed_by, a.created_by,
		       c.org_code, c.kind, c.title, c.stage
		FROM case_assignments a
		JOIN cases c ON c.id = a.case_id
		WHERE c.org_code = $1
		  AND a.assignee_id = $2
		  AND a.closed_at IS NULL
		ORDER BY a.opened_at ASC
	`

	rows, err := r.db.Query(ctx, query, orgCode, employeeID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get pending assignments")
	}
	defer rows.Close()

	var pending []*PendingAssignment
	for rows.Next() {
		p := &PendingAssignment{}
		err := rows.Scan(
			&p.ID,
			&p.CaseID,
			&p.NodeID,
			&p.AssigneeID,
			&p.Stage,
			&p.OpenedAt,
			&p.ClosedAt,
			&p.ClosedBy,
			&p.CreatedBy,
			&p.OrgCode,
			&p.CaseKind,
			&p.CaseTitle,
			&p.CaseStage,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan pending assignment")
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func (r *AssignmentRepository) scanRows(rows pgx.Rows) ([]*Assignment, error) {
	var assignments []*Assignment
	for rows.Next() {
		a := &Assignment{}
		err := rows.Scan(
			&a.ID,
			&a.CaseID,
			&a.NodeID,
			&a.AssigneeID,
			&a.Stage,
			&a.OpenedAt,
			&a.ClosedAt,
			&a.ClosedBy,
			&a.CreatedBy,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan assignment")
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

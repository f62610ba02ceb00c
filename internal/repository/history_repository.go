package repository

import (
	"context"

	"github.com/meghanandan/caseflow/internal/apperrors"
)

// HistoryRepository appends to the immutable case history trail. Rows
// are never updated or deleted.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append writes one history entry and fills in the generated id.
func (r *HistoryRepository) Append(ctx context.Context, e *HistoryEntry) error {
	query := `
		INSERT INTO case_history
		    (case_id, sequence_version, node_id, actor_id, assignee_id,
		     action, decision_value, comments, stage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		e.CaseID, e.SequenceVersion, e.NodeID, e.ActorID, e.AssigneeID,
		e.Action, e.DecisionValue, e.Comments, e.Stage,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to append case history")
	}
	return nil
}

// ForCase returns a case's full trail in insertion order, every
// resubmission round included.
func (r *HistoryRepository) ForCase(ctx context.Context, caseID string) ([]*HistoryEntry, error) {
	query := `
		SELECT id, case_id, sequence_version, node_id, actor_id, assignee_id,
		       action, decision_value, comments, stage, created_at
		FROM case_history
		WHERE case_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get case history")
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e := &HistoryEntry{}
		err := rows.Scan(
			&e.ID,
			&e.CaseID,
			&e.SequenceVersion,
			&e.NodeID,
			&e.ActorID,
			&e.AssigneeID,
			&e.Action,
			&e.DecisionValue,
			&e.Comments,
			&e.Stage,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan history entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

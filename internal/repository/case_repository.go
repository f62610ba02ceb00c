package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/meghanandan/caseflow/internal/apperrors"
)

// CaseRepository handles case rows. The coordinator serializes all case
// mutations through GetForUpdate inside a transaction.
type CaseRepository struct {
	db *DB
}

// NewCaseRepository creates a new CaseRepository.
func NewCaseRepository(db *DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// Create inserts a new case and fills in the generated id and timestamps.
func (r *CaseRepository) Create(ctx context.Context, c *Case) error {
	query := `
		INSERT INTO cases
		    (org_code, workflow_id, kind, title, stage,
		     current_node_id, sequence_version, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		c.OrgCode, c.WorkflowID, c.Kind, c.Title, c.Stage,
		c.CurrentNodeID, c.SequenceVersion, c.CreatedBy,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create case")
	}
	return nil
}

// Get returns a case by id.
func (r *CaseRepository) Get(ctx context.Context, id string) (*Case, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate returns a case by id with a row lock held for the rest of
// the enclosing transaction. Concurrent decisions on the same case
// serialize behind this lock.
func (r *CaseRepository) GetForUpdate(ctx context.Context, id string) (*Case, error) {
	return r.get(ctx, id, true)
}

func (r *CaseRepository) get(ctx context.Context, id string, forUpdate bool) (*Case, error) {
	query := `
		SELECT id, org_code, workflow_id, kind, title, stage,
		       current_node_id, sequence_version,
		       created_by, created_at, updated_at, updated_by
		FROM cases
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	c := &Case{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.OrgCode,
		&c.WorkflowID,
		&c.Kind,
		&c.Title,
		&c.Stage,
		&c.CurrentNodeID,
		&c.SequenceVersion,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.UpdatedBy,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("case", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get case")
	}
	return c, nil
}

// SetStage moves a case to a stage and node. A nil node clears the
// pointer, which marks the case terminal.
func (r *CaseRepository) SetStage(ctx context.Context, id, stage string, currentNodeID *string, updatedBy string) error {
	query := `
		UPDATE cases
		SET stage           = $2,
		    current_node_id = $3,
		    updated_by      = $4,
		    updated_at      = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, stage, currentNodeID, updatedBy).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("case", id)
	}
	return err
}

// BumpSequenceVersion increments the resubmission counter and returns the
// new value.
func (r *CaseRepository) BumpSequenceVersion(ctx context.Context, id, updatedBy string) (int, error) {
	query := `
		UPDATE cases
		SET sequence_version = sequence_version + 1,
		    updated_by       = $2,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING sequence_version
	`

	var version int
	err := r.db.QueryRow(ctx, query, id, updatedBy).Scan(&version)
	if err == pgx.ErrNoRows {
		return 0, apperrors.NotFound("case", id)
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to bump sequence version")
	}
	return version, nil
}

package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/meghanandan/caseflow/internal/apperrors"
)

// AuditRepository appends and reads immutable audit log entries. The
// table has a delete-prevention trigger so Append is the only mutation
// exposed.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry.
func (r *AuditRepository) Append(ctx context.Context, rec *AuditRecord) error {
	beforeJSON, err := marshalState(rec.Before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalState(rec.After)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log
		    (org_code, object_type, object_id, action, actor,
		     state_before, state_after, remarks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		rec.OrgCode,
		rec.ObjectType,
		rec.ObjectID,
		rec.Action,
		rec.Actor,
		beforeJSON,
		afterJSON,
		rec.Remarks,
	).Scan(&rec.ID, &rec.CreatedAt)
}

// ForObject returns the audit trail for one object ordered oldest-first.
func (r *AuditRepository) ForObject(ctx context.Context, orgCode, objectType, objectID string) ([]*AuditRecord, error) {
	query := `
		SELECT id, org_code, object_type, object_id, action, actor,
		       state_before, state_after, remarks, created_at
		FROM audit_log
		WHERE org_code = $1 AND object_type = $2 AND object_id = $3
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, orgCode, objectType, objectID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func marshalState(state map[string]any) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	out, err := json.Marshal(state)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal audit state")
	}
	return out, nil
}

func (r *AuditRepository) scanRows(rows pgx.Rows) ([]*AuditRecord, error) {
	var records []*AuditRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type auditScanner interface {
	Scan(dest ...any) error
}

func (r *AuditRepository) scanRecord(sc auditScanner) (*AuditRecord, error) {
	rec := &AuditRecord{}
	var beforeJSON, afterJSON []byte

	err := sc.Scan(
		&rec.ID,
		&rec.OrgCode,
		&rec.ObjectType,
		&rec.ObjectID,
		&rec.Action,
		&rec.Actor,
		&beforeJSON,
		&afterJSON,
		&rec.Remarks,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan audit record")
	}

	if beforeJSON != nil {
		if err := json.Unmarshal(beforeJSON, &rec.Before); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal audit state")
		}
	}
	if afterJSON != nil {
		if err := json.Unmarshal(afterJSON, &rec.After); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal audit state")
		}
	}
	return rec, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meghanandan/caseflow/internal/apperrors"
)

// FormatLicenceNumber renders the canonical slot number for a type.
func FormatLicenceNumber(licenceType string, n int) string {
	return fmt.Sprintf("LIC-%s-%04d", licenceType, n)
}

// LicenceRepository handles the per-org licence masters and the numbered
// slot pool. Allocation invariants (one active licence per employee,
// lowest free slot first) live in the allocator service; this layer
// provides the atomic claim and release primitives.
type LicenceRepository struct {
	db *DB
}

// NewLicenceRepository creates a new LicenceRepository.
func NewLicenceRepository(db *DB) *LicenceRepository {
	return &LicenceRepository{db: db}
}

// ActiveType returns the licence master for a type when today falls
// inside its validity window extended by the grace period, or nil when
// the type is unknown or out of window.
func (r *LicenceRepository) ActiveType(ctx context.Context, orgCode, licenceType string) (*LicenceTypeInfo, error) {
	query := `
		SELECT org_code, licence_type, purchased, from_date, to_date, grace_days
		FROM licence_types
		WHERE org_code = $1
		  AND licence_type = $2
		  AND from_date <= CURRENT_DATE
		  AND (to_date + make_interval(days => grace_days)) >= CURRENT_DATE
	`

	t := &LicenceTypeInfo{}
	err := r.db.QueryRow(ctx, query, orgCode, licenceType).Scan(
		&t.OrgCode, &t.LicenceType, &t.Purchased, &t.FromDate, &t.ToDate, &t.GraceDays,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get licence type")
	}
	return t, nil
}

// UpsertType inserts or refreshes a licence master row.
func (r *LicenceRepository) UpsertType(ctx context.Context, t *LicenceTypeInfo) error {
	query := `
		INSERT INTO licence_types
		    (org_code, licence_type, purchased, from_date, to_date, grace_days)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (org_code, licence_type)
		DO UPDATE SET purchased  = EXCLUDED.purchased,
		              from_date  = EXCLUDED.from_date,
		              to_date    = EXCLUDED.to_date,
		              grace_days = EXCLUDED.grace_days
	`

	_, err := r.db.Exec(ctx, query,
		t.OrgCode, t.LicenceType, t.Purchased, t.FromDate, t.ToDate, t.GraceDays,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to upsert licence type")
	}
	return nil
}

// ActiveEntryFor returns the slot currently held by an employee for one
// type, or nil when they hold none.
func (r *LicenceRepository) ActiveEntryFor(ctx context.Context, orgCode, empID, licenceType string) (*LicencePoolEntry, error) {
	query := `
		SELECT org_code, licence_type, licence_number,
		       assignee_id, active, from_date, assigned_by
		FROM licence_pool
		WHERE org_code = $1
		  AND licence_type = $2
		  AND assignee_id = $3
		  AND active = TRUE
	`

	e, err := scanLicenceEntry(r.db.QueryRow(ctx, query, orgCode, licenceType, empID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get licence entry")
	}
	return e, nil
}

// ClaimLowestFree atomically assigns the lowest-numbered free slot of a
// type to an employee and returns it, or nil when the pool has no free
// slot. SKIP LOCKED keeps concurrent claimants from blocking on the same
// slot; each takes the lowest slot not already being claimed.
func (r *LicenceRepository) ClaimLowestFree(ctx context.Context, orgCode, empID, licenceType, assignedBy string) (*LicencePoolEntry, error) {
	query := `
		UPDATE licence_pool
		SET assignee_id = $3,
		    active      = TRUE,
		    from_date   = NOW(),
		    assigned_by = $4
		WHERE (org_code, licence_type, licence_number) = (
		    SELECT org_code, licence_type, licence_number
		    FROM licence_pool
		    WHERE org_code = $1
		      AND licence_type = $2
		      AND assignee_id IS NULL
		    ORDER BY licence_number ASC
		    LIMIT 1
		    FOR UPDATE SKIP LOCKED
		)
		RETURNING org_code, licence_type, licence_number,
		          assignee_id, active, from_date, assigned_by
	`

	e, err := scanLicenceEntry(r.db.QueryRow(ctx, query, orgCode, licenceType, empID, assignedBy))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to claim licence slot")
	}
	return e, nil
}

// Release frees the slot an employee holds for one type. Returns false
// when they held none.
func (r *LicenceRepository) Release(ctx context.Context, orgCode, empID, licenceType string) (bool, error) {
	query := `
		UPDATE licence_pool
		SET assignee_id = NULL,
		    active      = FALSE,
		    from_date   = NULL,
		    assigned_by = NULL
		WHERE org_code = $1
		  AND licence_type = $2
		  AND assignee_id = $3
	`

	tag, err := r.db.Exec(ctx, query, orgCode, licenceType, empID)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeInternal, "failed to release licence")
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseOtherTypes frees every slot an employee holds in types other
// than keepType, enforcing the one-licence-per-employee invariant before
// a cross-type assignment. Returns how many slots were freed.
func (r *LicenceRepository) ReleaseOtherTypes(ctx context.Context, orgCode, empID, keepType string) (int, error) {
	query := `
		UPDATE licence_pool
		SET assignee_id = NULL,
		    active      = FALSE,
		    from_date   = NULL,
		    assigned_by = NULL
		WHERE org_code = $1
		  AND assignee_id = $2
		  AND licence_type <> $3
	`

	tag, err := r.db.Exec(ctx, query, orgCode, empID, keepType)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to release other licence types")
	}
	return int(tag.RowsAffected()), nil
}

// CountEntries returns the total and assigned slot counts for a type.
func (r *LicenceRepository) CountEntries(ctx context.Context, orgCode, licenceType string) (total, assigned int, err error) {
	query := `
		SELECT COUNT(*), COUNT(assignee_id)
		FROM licence_pool
		WHERE org_code = $1 AND licence_type = $2
	`

	err = r.db.QueryRow(ctx, query, orgCode, licenceType).Scan(&total, &assigned)
	if err != nil {
		return 0, 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to count licence entries")
	}
	return total, assigned, nil
}

// HighestNumber returns the numeric suffix of the highest slot currently
// in the pool for a type, 0 when none exist. Growth continues numbering
// from here.
func (r *LicenceRepository) HighestNumber(ctx context.Context, orgCode, licenceType string) (int, error) {
	query := `
		SELECT COALESCE(MAX(substring(licence_number FROM '([0-9]+)$')::int), 0)
		FROM licence_pool
		WHERE org_code = $1 AND licence_type = $2
	`

	var high int
	err := r.db.QueryRow(ctx, query, orgCode, licenceType).Scan(&high)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get highest licence number")
	}
	return high, nil
}

// InsertEntries adds free slots with the given numbers to a type's pool.
func (r *LicenceRepository) InsertEntries(ctx context.Context, orgCode, licenceType string, numbers []string) error {
	query := `
		INSERT INTO licence_pool (org_code, licence_type, licence_number, active)
		SELECT $1, $2, unnest($3::text[]), FALSE
	`

	_, err := r.db.Exec(ctx, query, orgCode, licenceType, numbers)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to insert licence entries")
	}
	return nil
}

// DeleteUnassignedFromTop removes up to count free slots starting from
// the highest numbers and returns how many were removed. Assigned slots
// are never touched.
func (r *LicenceRepository) DeleteUnassignedFromTop(ctx context.Context, orgCode, licenceType string, count int) (int, error) {
	query := `
		DELETE FROM licence_pool
		WHERE (org_code, licence_type, licence_number) IN (
		    SELECT org_code, licence_type, licence_number
		    FROM licence_pool
		    WHERE org_code = $1
		      AND licence_type = $2
		      AND assignee_id IS NULL
		    ORDER BY substring(licence_number FROM '([0-9]+)$')::int DESC
		    LIMIT $3
		    FOR UPDATE SKIP LOCKED
		)
	`

	tag, err := r.db.Exec(ctx, query, orgCode, licenceType, count)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to shrink licence pool")
	}
	return int(tag.RowsAffected()), nil
}

// Usage returns the per-type remaining-licences report for an org,
// including types whose pool is empty.
func (r *LicenceRepository) Usage(ctx context.Context, orgCode string) ([]*LicenceUsage, error) {
	query := `
		SELECT t.licence_type,
		       COUNT(p.licence_number),
		       COUNT(p.assignee_id),
		       t.from_date, t.to_date
		FROM licence_types t
		LEFT JOIN licence_pool p
		       ON p.org_code = t.org_code AND p.licence_type = t.licence_type
		WHERE t.org_code = $1
		GROUP BY t.licence_type, t.from_date, t.to_date
		ORDER BY t.licence_type ASC
	`

	rows, err := r.db.Query(ctx, query, orgCode)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get licence usage")
	}
	defer rows.Close()

	var usage []*LicenceUsage
	for rows.Next() {
		u := &LicenceUsage{}
		if err := rows.Scan(&u.LicenceType, &u.Total, &u.Used, &u.FromDate, &u.ToDate); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan licence usage")
		}
		u.Available = u.Total - u.Used
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

type licenceScanner interface {
	Scan(dest ...any) error
}

func scanLicenceEntry(row licenceScanner) (*LicencePoolEntry, error) {
	e := &LicencePoolEntry{}
	err := row.Scan(
		&e.OrgCode,
		&e.LicenceType,
		&e.LicenceNumber,
		&e.AssigneeID,
		&e.Active,
		&e.FromDate,
		&e.AssignedBy,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

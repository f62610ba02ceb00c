package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/meghanandan/caseflow/internal/apperrors"
	"github.com/meghanandan/caseflow/internal/routing"
)

// DirectoryRepository reads the employee directory. It implements
// routing.Directory for the resolver and hierarchy walker.
type DirectoryRepository struct {
	db *DB
}

var _ routing.Directory = (*DirectoryRepository)(nil)

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

const employeeColumns = `
	employee_id, org_code,
	COALESCE(role, ''), COALESCE(region, ''), COALESCE(sub_region, ''),
	COALESCE(department, ''), COALESCE(reports_to, '')
`

// EmployeeByID returns one active employee, or nil when absent.
func (r *DirectoryRepository) EmployeeByID(ctx context.Context, orgCode, empID string) (*routing.Employee, error) {
	query := `
		SELECT ` + employeeColumns + `
		FROM employees
		WHERE org_code = $1 AND employee_id = $2 AND is_active = TRUE
	`

	e := routing.Employee{}
	err := scanEmployee(r.db.QueryRow(ctx, query, orgCode, empID), &e)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get employee")
	}
	return &e, nil
}

// EmployeesByRole returns active employees holding a role, ordered by id
// for deterministic assignment.
func (r *DirectoryRepository) EmployeesByRole(ctx context.Context, orgCode, role string) ([]routing.Employee, error) {
	query := `
		SELECT ` + employeeColumns + `
		FROM employees
		WHERE org_code = $1 AND LOWER(role) = LOWER($2) AND is_active = TRUE
		ORDER BY employee_id ASC
	`

	rows, err := r.db.Query(ctx, query, orgCode, role)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get employees by role")
	}
	defer rows.Close()

	return scanEmployees(rows)
}

// EmployeesByAttribute returns active employees whose attribute matches
// the value, ordered by id.
func (r *DirectoryRepository) EmployeesByAttribute(ctx context.Context, orgCode string, attr routing.Attribute, value string) ([]routing.Employee, error) {
	column, ok := attributeColumns[attr]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown directory attribute %q", attr)
	}

	query := `
		SELECT ` + employeeColumns + `
		FROM employees
		WHERE org_code = $1 AND LOWER(` + column + `) = LOWER($2) AND is_active = TRUE
		ORDER BY employee_id ASC
	`

	rows, err := r.db.Query(ctx, query, orgCode, value)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get employees by attribute")
	}
	defer rows.Close()

	return scanEmployees(rows)
}

// TopLevelEmployees returns active employees with no manager, ordered by id.
func (r *DirectoryRepository) TopLevelEmployees(ctx context.Context, orgCode string) ([]routing.Employee, error) {
	query := `
		SELECT ` + employeeColumns + `
		FROM employees
		WHERE org_code = $1 AND reports_to IS NULL AND is_active = TRUE
		ORDER BY employee_id ASC
	`

	rows, err := r.db.Query(ctx, query, orgCode)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get top-level employees")
	}
	defer rows.Close()

	return scanEmployees(rows)
}

// attributeColumns is a closed allowlist: attribute names come from
// workflow definitions and must never reach SQL unchecked.
var attributeColumns = map[routing.Attribute]string{
	routing.AttrRegion:     "region",
	routing.AttrDepartment: "department",
	routing.AttrSubRegion:  "sub_region",
	routing.AttrRole:       "role",
}

type employeeScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row employeeScanner, e *routing.Employee) error {
	return row.Scan(
		&e.ID,
		&e.OrgCode,
		&e.Role,
		&e.Region,
		&e.SubRegion,
		&e.Department,
		&e.ReportsTo,
	)
}

func scanEmployees(rows pgx.Rows) ([]routing.Employee, error) {
	var employees []routing.Employee
	for rows.Next() {
		var e routing.Employee
		if err := scanEmployee(rows, &e); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan employee")
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// Package routing resolves which employees a case step is assigned to.
// It covers the four routing strategies (fixed user, role membership,
// hierarchy walking, attribute-based smart routing) and the self-approval
// shortcut analysis applied when a case is created.
package routing

import "context"

// Attribute names an employee attribute smart routing can match on.
type Attribute string

const (
	AttrRegion     Attribute = "region"
	AttrDepartment Attribute = "department"
	AttrSubRegion  Attribute = "sub_region"
	AttrRole       Attribute = "role"
)

// Employee is the directory view of one active employee.
type Employee struct {
	ID         string
	OrgCode    string
	Role       string
	Region     string
	SubRegion  string
	Department string
	// ReportsTo is the manager's employee id, empty for top-level staff.
	ReportsTo string
}

// Directory is the employee lookup collaborator. All queries are scoped by
// org code and return active employees only; they are read-only and may
// run outside any case lock.
type Directory interface {
	// EmployeeByID returns an employee, or nil when none matches.
	EmployeeByID(ctx context.Context, orgCode, empID string) (*Employee, error)
	// EmployeesByRole returns all employees holding the given role.
	EmployeesByRole(ctx context.Context, orgCode, role string) ([]Employee, error)
	// EmployeesByAttribute returns all employees whose attribute equals value.
	EmployeesByAttribute(ctx context.Context, orgCode string, attr Attribute, value string) ([]Employee, error)
	// TopLevelEmployees returns the org's employees with no manager.
	TopLevelEmployees(ctx context.Context, orgCode string) ([]Employee, error)
}

func employeeIDs(emps []Employee) []string {
	ids := make([]string, 0, len(emps))
	for _, e := range emps {
		ids = append(ids, e.ID)
	}
	return ids
}

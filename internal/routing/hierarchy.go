package routing

import (
	"context"
	"strconv"
	"strings"

	"github.com/meghanandan/caseflow/internal/apperrors"
)

// adminLevel is the sentinel routing target meaning "everyone at the top
// of the org", rather than a numeric distance up the chain.
const adminLevel = "admin"

// Walker resolves hierarchy-routed targets by walking the reporting chain.
// It is side-effect-free: each call reads the latest reporting edges and
// never mutates anything.
type Walker struct {
	dir Directory
}

// NewWalker creates a Walker over the given directory.
func NewWalker(dir Directory) *Walker {
	return &Walker{dir: dir}
}

// WalkToLevel resolves a hierarchy level anchored at an employee.
//
// Level 1 is the anchor itself. Level N walks N-1 reports-to hops. The
// "Admin" sentinel returns every employee with no manager. When the chain
// runs out before the requested depth the last reachable employee is
// returned as a degraded match; when the anchor itself has no manager the
// org's top-level employees are returned instead.
func (w *Walker) WalkToLevel(ctx context.Context, orgCode, anchorID, level string) ([]string, error) {
	lvl := strings.TrimSpace(level)
	if strings.EqualFold(lvl, adminLevel) {
		tops, err := w.dir.TopLevelEmployees(ctx, orgCode)
		if err != nil {
			return nil, err
		}
		return employeeIDs(tops), nil
	}

	depth, err := strconv.Atoi(lvl)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeInvalidHierarchyLevel,
			"hierarchy level %q is neither a positive integer nor \"Admin\"", level)
	}
	if depth < 1 {
		return nil, apperrors.Newf(apperrors.CodeInvalidHierarchyLevel,
			"hierarchy level must be >= 1, got %d", depth)
	}

	if depth == 1 {
		return []string{anchorID}, nil
	}

	anchor, err := w.dir.EmployeeByID(ctx, orgCode, anchorID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, apperrors.NotFound("employee", anchorID)
	}

	current := anchor
	hops := 0
	for hops < depth-1 {
		if current.ReportsTo == "" {
			break
		}
		manager, err := w.dir.EmployeeByID(ctx, orgCode, current.ReportsTo)
		if err != nil {
			return nil, err
		}
		if manager == nil {
			break
		}
		current = manager
		hops++
	}

	if hops == 0 {
		// The anchor has no manager at all; route to the org's top level.
		tops, err := w.dir.TopLevelEmployees(ctx, orgCode)
		if err != nil {
			return nil, err
		}
		return employeeIDs(tops), nil
	}

	// Either the exact level or the deepest reachable manager.
	return []string{current.ID}, nil
}

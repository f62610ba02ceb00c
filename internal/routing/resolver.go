package routing

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/meghanandan/caseflow/internal/apperrors"
	"github.com/meghanandan/caseflow/internal/workflow"
)

// smartLookupOrder is the attribute fallback chain for smart routing. The
// first attribute yielding a non-empty match wins; the order is a fixed,
// documented property of the engine, not an accident of nesting.
var smartLookupOrder = []Attribute{AttrRegion, AttrDepartment, AttrSubRegion, AttrRole}

// Resolver turns an action node's routing configuration into a set of
// assignee employee ids.
type Resolver struct {
	dir    Directory
	walker *Walker
	log    zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(dir Directory, log zerolog.Logger) *Resolver {
	return &Resolver{dir: dir, walker: NewWalker(dir), log: log}
}

// Walker exposes the underlying hierarchy walker for callers that need
// raw level resolution.
func (r *Resolver) Walker() *Walker { return r.walker }

// Resolve returns the assignees for a routing strategy and target. An
// empty result is not an error; callers choose between falling back to
// the case creator and failing with NoAssigneeResolved.
func (r *Resolver) Resolve(
	ctx context.Context,
	orgCode string,
	routing workflow.Routing,
	target, actingUser, originalCreator string,
) ([]string, error) {
	switch routing {
	case workflow.RouteUser:
		if strings.TrimSpace(target) == "" {
			return nil, apperrors.InvalidInput("routing target", "user routing requires an employee id")
		}
		return []string{target}, nil

	case workflow.RouteRole:
		emps, err := r.dir.EmployeesByRole(ctx, orgCode, target)
		if err != nil {
			return nil, err
		}
		return employeeIDs(emps), nil

	case workflow.RouteHierarchy:
		anchor := originalCreator
		if anchor == "" {
			anchor = actingUser
		}
		return r.walker.WalkToLevel(ctx, orgCode, anchor, target)

	case workflow.RouteSmartRouting:
		return r.resolveSmart(ctx, orgCode, target)

	default:
		// ParseRouting keeps this unreachable for stored graphs.
		return nil, apperrors.Newf(apperrors.CodeWorkflowMisconfigured, "unknown routing type %q", routing)
	}
}

// resolveSmart tries each attribute in smartLookupOrder and falls back to
// the org's top-level employees when nothing matches.
func (r *Resolver) resolveSmart(ctx context.Context, orgCode, target string) ([]string, error) {
	value := strings.TrimSpace(target)
	if value == "" {
		return nil, apperrors.InvalidInput("routing target",
			"smart routing requires a region, department, sub-region or role value")
	}

	for _, attr := range smartLookupOrder {
		emps, err := r.dir.EmployeesByAttribute(ctx, orgCode, attr, value)
		if err != nil {
			return nil, err
		}
		if len(emps) > 0 {
			r.log.Debug().
				Str("org_code", orgCode).
				Str("attribute", string(attr)).
				Str("value", value).
				Int("matches", len(emps)).
				Msg("smart routing matched")
			return employeeIDs(emps), nil
		}
	}

	r.log.Warn().
		Str("org_code", orgCode).
		Str("value", value).
		Msg("smart routing matched no attribute; falling back to top-level employees")

	tops, err := r.dir.TopLevelEmployees(ctx, orgCode)
	if err != nil {
		return nil, err
	}
	return employeeIDs(tops), nil
}

package repository

import "time"

// ── Case stages ───────────────────────────────────────────────────────────────

const (
	StageNew        = "new"
	StageInProgress = "in_progress"
	StageResolved   = "resolved"
	StageRejected   = "rejected"
	StageReturned   = "returned"
	StageVerified   = "verified"
)

// CaseKindDispute and CaseKindQuota are the two case families routed
// through the engine. Quota cases support the secondary verified sign-off.
const (
	CaseKindDispute = "dispute"
	CaseKindQuota   = "quota"
)

// ── Domain types ──────────────────────────────────────────────────────────────

// Case is a dispute or quota submission progressing through a workflow.
// Mutated only by the case coordinator.
type Case struct {
	ID         string
	OrgCode    string
	WorkflowID string
	Kind       string // dispute | quota
	Title      string
	Stage      string
	// CurrentNodeID is nil once the case reaches a terminal stage.
	CurrentNodeID *string
	// SequenceVersion increments on each resubmission; history rows carry
	// the version they were written under.
	SequenceVersion int
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	UpdatedBy       *string
}

// Assignment is one case+node+assignee row. Open while ClosedAt is nil;
// closed when the assignee acts or the node is superseded.
type Assignment struct {
	ID         string
	CaseID     string
	NodeID     string
	AssigneeID string
	Stage      string
	OpenedAt   time.Time
	ClosedAt   *time.Time
	ClosedBy   *string
	CreatedBy  string
}

// HistoryEntry is one immutable row in a case's history trail.
type HistoryEntry struct {
	ID              string
	CaseID          string
	SequenceVersion int
	NodeID          string
	ActorID         string
	AssigneeID      string
	Action          string
	DecisionValue   *string
	Comments        *string
	Stage           string
	CreatedAt       time.Time
}

// History action labels. Transition kinds distinguish forward escalation
// from a return to an earlier step.
const (
	HistoryActionCreated         = "created"
	HistoryActionResubmitted     = "resubmitted"
	HistoryActionAutoApproved    = "auto_approved"
	HistoryActionSmartPositioned = "smart_positioned"
	HistoryActionFallback        = "assigned_fallback"
	HistoryActionEscalated       = "escalated_after_approval"
	HistoryActionReturned        = "returned_after_rejection"
	HistoryActionReturnedForWork = "returned_for_completion"
	HistoryActionTransition      = "transition"
	HistoryActionResolved        = "resolved"
	HistoryActionRejected        = "rejected"
	HistoryActionVerified        = "verified"
)

// PendingAssignment is the open-work view for one employee.
type PendingAssignment struct {
	Assignment
	OrgCode   string
	CaseKind  string
	CaseTitle string
	CaseStage string
}

// ── Licence pool types ────────────────────────────────────────────────────────

// LicenceTypeInfo is a purchased licence type for an org (the master row).
type LicenceTypeInfo struct {
	OrgCode     string
	LicenceType string
	Purchased   int
	FromDate    time.Time
	ToDate      time.Time
	GraceDays   int
}

// LicencePoolEntry is one numbered slot of a licence type. At most one
// slot per org is active for a given assignee across all types.
type LicencePoolEntry struct {
	OrgCode       string
	LicenceType   string
	LicenceNumber string
	AssigneeID    *string
	Active        bool
	FromDate      *time.Time
	AssignedBy    *string
}

// LicenceUsage is the per-type remaining-licences report row.
type LicenceUsage struct {
	LicenceType string
	Total       int
	Used        int
	Available   int
	FromDate    time.Time
	ToDate      time.Time
}

// ── Audit ─────────────────────────────────────────────────────────────────────

// AuditRecord is one structured audit row emitted for every state-changing
// operation. Writes are best-effort: failures are logged, never fatal.
type AuditRecord struct {
	ID         string
	OrgCode    string
	ObjectType string
	ObjectID   string
	Action     string
	Actor      string
	Before     map[string]any
	After      map[string]any
	Remarks    string
	CreatedAt  time.Time
}

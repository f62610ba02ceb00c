package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/meghanandan/caseflow/internal/apperrors"
	"github.com/meghanandan/caseflow/internal/repository"
	"github.com/meghanandan/caseflow/internal/routing"
	"github.com/meghanandan/caseflow/internal/workflow"
)

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// GraphStore loads workflow graph definitions.
type GraphStore interface {
	LoadGraph(ctx context.Context, workflowID string) (*workflow.Graph, error)
}

// CaseStore persists case rows.
type CaseStore interface {
	Create(ctx context.Context, c *repository.Case) error
	Get(ctx context.Context, id string) (*repository.Case, error)
	GetForUpdate(ctx context.Context, id string) (*repository.Case, error)
	SetStage(ctx context.Context, id, stage string, currentNodeID *string, updatedBy string) error
	BumpSequenceVersion(ctx context.Context, id, updatedBy string) (int, error)
}

// AssignmentStore persists open-work rows.
type AssignmentStore interface {
	Open(ctx context.Context, a *repository.Assignment) error
	CloseOpen(ctx context.Context, caseID, closedBy string) ([]*repository.Assignment, error)
	OpenForCase(ctx context.Context, caseID string) ([]*repository.Assignment, error)
	PendingForUser(ctx context.Context, orgCode, employeeID string) ([]*repository.PendingAssignment, error)
}

// HistoryStore appends to and reads the immutable history trail.
type HistoryStore interface {
	Append(ctx context.Context, e *repository.HistoryEntry) error
	ForCase(ctx context.Context, caseID string) ([]*repository.HistoryEntry, error)
}

// AuditStore appends audit records. Writes are best-effort.
type AuditStore interface {
	Append(ctx context.Context, rec *repository.AuditRecord) error
}

// Notifier publishes case events to interested parties. Implementations
// must be non-fatal: failures are logged, never returned.
type Notifier interface {
	PublishCaseEvent(ctx context.Context, eventType, caseID, orgCode, actorID string, recipients []string, payload map[string]any)
}

// Coordinator serializes all mutations of a case: creation, decisions,
// resubmission and verification. Every mutation runs in one transaction
// holding the case row lock, so concurrent decisions on the same case
// execute one at a time against fresh state.
type Coordinator struct {
	db          TxRunner
	graphs      GraphStore
	cases       CaseStore
	assignments AssignmentStore
	history     HistoryStore
	audit       AuditStore
	notifier    Notifier
	resolver    *routing.Resolver
	shortcuts   *routing.ShortcutDetector
	log         zerolog.Logger
}

// NewCoordinator creates a Coordinator. notifier may be nil when the
// message bus is not configured.
func NewCoordinator(
	db TxRunner,
	graphs GraphStore,
	cases CaseStore,
	assignments AssignmentStore,
	history HistoryStore,
	audit AuditStore,
	notifier Notifier,
	resolver *routing.Resolver,
	shortcuts *routing.ShortcutDetector,
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		db:          db,
		graphs:      graphs,
		cases:       cases,
		assignments: assignments,
		history:     history,
		audit:       audit,
		notifier:    notifier,
		resolver:    resolver,
		shortcuts:   shortcuts,
		log:         log,
	}
}

// ── Creation ──────────────────────────────────────────────────────────────────

// CreateCaseParams describes a new dispute or quota case.
type CreateCaseParams struct {
	OrgCode    string
	WorkflowID string
	Kind       string
	Title      string
	CreatedBy  string
	Comments   *string
}

// CaseResult is the outcome of an operation that moved a case.
type CaseResult struct {
	Case      *repository.Case
	Assignees []string
	Completed bool
}

// CreateCase creates a case, runs the self-approval shortcut analysis,
// walks the workflow to the first actionable node and opens assignments.
func (s *Coordinator) CreateCase(ctx context.Context, p CreateCaseParams) (*CaseResult, error) {
	if err := validateCreateParams(p); err != nil {
		return nil, err
	}

	g, err := s.graphs.LoadGraph(ctx, p.WorkflowID)
	if err != nil {
		return nil, err
	}

	placement, err := s.shortcuts.Plan(ctx, p.OrgCode, p.CreatedBy, g)
	if err != nil {
		return nil, err
	}

	result := &CaseResult{}
	err = s.db.InTransaction(ctx, func(ctx context.Context) error {
		c := &repository.Case{
			OrgCode:         p.OrgCode,
			WorkflowID:      p.WorkflowID,
			Kind:            p.Kind,
			Title:           p.Title,
			Stage:           repository.StageNew,
			SequenceVersion: 1,
			CreatedBy:       p.CreatedBy,
		}
		if err := s.cases.Create(ctx, c); err != nil {
			return err
		}
		result.Case = c

		if placement.Kind == routing.SkipAutoResolve {
			return s.autoResolveOnCreate(ctx, c, placement, result)
		}

		node, err := s.entryNode(ctx, g, placement)
		if err != nil {
			return err
		}

		if placement.Skip {
			if err := s.recordPlacement(ctx, c, placement); err != nil {
				return err
			}
		}

		if node.Kind == workflow.KindEnd {
			// A workflow with no approval steps resolves on submission.
			s.log.Warn().
				Str("case_id", c.ID).
				Str("workflow_id", p.WorkflowID).
				Msg("Workflow reaches end without action nodes; resolving case on creation")
			return s.finishCase(ctx, c, node.ID, p.CreatedBy, repository.StageResolved,
				repository.HistoryActionResolved, nil, result)
		}

		return s.openNode(ctx, c, node, p.CreatedBy, repository.HistoryActionCreated, p.Comments, result)
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, result.Case, p.CreatedBy, "case_created", nil, map[string]any{
		"stage": result.Case.Stage,
		"node":  nodeOrEmpty(result.Case.CurrentNodeID),
	})
	s.notify(ctx, "case_created", result, p.CreatedBy)

	s.log.Info().
		Str("case_id", result.Case.ID).
		Str("workflow_id", p.WorkflowID).
		Str("stage", result.Case.Stage).
		Strs("assignees", result.Assignees).
		Msg("Case created")
	return result, nil
}

func validateCreateParams(p CreateCaseParams) error {
	switch {
	case strings.TrimSpace(p.OrgCode) == "":
		return apperrors.InvalidInput("org_code", "must not be empty")
	case strings.TrimSpace(p.WorkflowID) == "":
		return apperrors.InvalidInput("workflow_id", "must not be empty")
	case strings.TrimSpace(p.Title) == "":
		return apperrors.InvalidInput("title", "must not be empty")
	case strings.TrimSpace(p.CreatedBy) == "":
		return apperrors.InvalidInput("created_by", "must not be empty")
	}
	if p.Kind != repository.CaseKindDispute && p.Kind != repository.CaseKindQuota {
		return apperrors.InvalidInput("kind", "must be dispute or quota")
	}
	return nil
}

// entryNode returns the action node a fresh case starts at, honoring a
// shortcut placement when one applies.
func (s *Coordinator) entryNode(ctx context.Context, g *workflow.Graph, placement routing.Placement) (workflow.Node, error) {
	if placement.Skip && placement.StartNode != nil {
		return *placement.StartNode, nil
	}

	node, _, err := workflow.Advance(g, "", "")
	if err == nil {
		return node, nil
	}
	if !apperrors.HasCode(err, apperrors.CodeWorkflowMisconfigured) {
		return workflow.Node{}, err
	}

	// A start node with no outgoing edges still allows routing when the
	// workflow defines action nodes; fall back to the first one.
	actions := g.ActionNodesInOrder()
	if len(actions) == 0 {
		return workflow.Node{}, err
	}
	s.log.Warn().
		Str("workflow_id", g.WorkflowID).
		Str("node_id", actions[0].ID).
		Msg("Start node is disconnected; falling back to first action node")
	return actions[0], nil
}

// autoResolveOnCreate closes the case immediately when the creator holds
// the final approval step.
func (s *Coordinator) autoResolveOnCreate(ctx context.Context, c *repository.Case, placement routing.Placement, result *CaseResult) error {
	reason := placement.Reason
	entry := &repository.HistoryEntry{
		CaseID:          c.ID,
		SequenceVersion: c.SequenceVersion,
		NodeID:          placement.AutoApprovedNode.ID,
		ActorID:         c.CreatedBy,
		AssigneeID:      c.CreatedBy,
		Action:          repository.HistoryActionAutoApproved,
		Comments:        &reason,
		Stage:           repository.StageResolved,
	}
	if err := s.history.Append(ctx, entry); err != nil {
		return err
	}
	return s.finishCase(ctx, c, placement.AutoApprovedNode.ID, c.CreatedBy,
		repository.StageResolved, repository.HistoryActionResolved, nil, result)
}

// recordPlacement writes the shortcut outcome to the history trail: the
// auto-approved creator level when there is one, then the repositioning.
func (s *Coordinator) recordPlacement(ctx context.Context, c *repository.Case, placement routing.Placement) error {
	reason := placement.Reason

	if placement.AutoApprovedNode != nil {
		entry := &repository.HistoryEntry{
			CaseID:          c.ID,
			SequenceVersion: c.SequenceVersion,
			NodeID:          placement.AutoApprovedNode.ID,
			ActorID:         c.CreatedBy,
			AssigneeID:      c.CreatedBy,
			Action:          repository.HistoryActionAutoApproved,
			Comments:        &reason,
			Stage:           repository.StageNew,
		}
		if err := s.history.Append(ctx, entry); err != nil {
			return err
		}
	}

	entry := &repository.HistoryEntry{
		CaseID:          c.ID,
		SequenceVersion: c.SequenceVersion,
		NodeID:          placement.StartNode.ID,
		ActorID:         c.CreatedBy,
		AssigneeID:      c.CreatedBy,
		Action:          repository.HistoryActionSmartPositioned,
		Comments:        &reason,
		Stage:           repository.StageNew,
	}
	return s.history.Append(ctx, entry)
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// DecideParams describes one decision on a case.
type DecideParams struct {
	CaseID   string
	ActorID  string
	Decision string
	Comments *string
}

// Decide applies a decision to a case: closes the open assignments,
// advances the workflow and either opens the next node's assignments or
// finishes the case.
func (s *Coordinator) Decide(ctx context.Context, p DecideParams) (*CaseResult, error) {
	if strings.TrimSpace(p.Decision) == "" {
		return nil, apperrors.InvalidInput("decision", "must not be empty")
	}
	if strings.TrimSpace(p.ActorID) == "" {
		return nil, apperrors.InvalidInput("actor_id", "must not be empty")
	}

	result := &CaseResult{}
	var fromNode string
	err := s.db.InTransaction(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetForUpdate(ctx, p.CaseID)
		if err != nil {
			return err
		}
		result.Case = c

		if c.CurrentNodeID == nil {
			return apperrors.Newf(apperrors.CodeCaseNotActionable,
				"case %s is %s and cannot accept decisions", c.ID, c.Stage)
		}
		fromNode = *c.CurrentNodeID

		g, err := s.graphs.LoadGraph(ctx, c.WorkflowID)
		if err != nil {
			return err
		}

		norm := workflow.NormalizeDecision(p.Decision)
		if workflow.IsRejection(norm) && !g.HasRejectEdge() {
			return apperrors.Newf(apperrors.CodeRejectionNotSupported,
				"workflow %s defines no rejection path", c.WorkflowID)
		}

		closed, err := s.assignments.CloseOpen(ctx, c.ID, p.ActorID)
		if err != nil {
			return err
		}
		if err := s.recordDecision(ctx, c, closed, p, norm); err != nil {
			return err
		}

		next, _, err := workflow.Advance(g, *c.CurrentNodeID, p.Decision)
		if err != nil {
			return err
		}

		switch next.Kind {
		case workflow.KindEnd:
			stage := repository.StageResolved
			action := repository.HistoryActionResolved
			if workflow.IsRejection(norm) {
				stage = repository.StageRejected
				action = repository.HistoryActionRejected
			}
			return s.finishCase(ctx, c, next.ID, p.ActorID, stage, action, p.Comments, result)

		case workflow.KindDecision:
			return apperrors.Newf(apperrors.CodeWorkflowMisconfigured,
				"decision node %q cannot resolve decision %q; defined directions: %s",
				next.ID, norm, strings.Join(g.Directions(next.ID), ", "))

		default:
			action := transitionAction(g, *c.CurrentNodeID, next.ID, workflow.IsRejection(norm))
			return s.openNode(ctx, c, next, p.ActorID, action, p.Comments, result)
		}
	})
	if err != nil {
		return nil, err
	}

	event := "case_advanced"
	if result.Completed {
		event = "case_" + result.Case.Stage
	}
	s.appendAudit(ctx, result.Case, p.ActorID, "decision_"+workflow.NormalizeDecision(p.Decision),
		map[string]any{"node": fromNode},
		map[string]any{"stage": result.Case.Stage, "node": nodeOrEmpty(result.Case.CurrentNodeID)})
	s.notify(ctx, event, result, p.ActorID)

	s.log.Info().
		Str("case_id", result.Case.ID).
		Str("decision", workflow.NormalizeDecision(p.Decision)).
		Str("stage", result.Case.Stage).
		Strs("assignees", result.Assignees).
		Msg("Decision applied")
	return result, nil
}

// recordDecision appends one history row per assignee whose open
// assignment the decision closed.
func (s *Coordinator) recordDecision(ctx context.Context, c *repository.Case, closed []*repository.Assignment, p DecideParams, norm string) error {
	action := "approved"
	if workflow.IsRejection(norm) {
		action = "rejected"
	}
	decision := p.Decision

	for _, a := range closed {
		entry := &repository.HistoryEntry{
			CaseID:          c.ID,
			SequenceVersion: c.SequenceVersion,
			NodeID:          a.NodeID,
			ActorID:         p.ActorID,
			AssigneeID:      a.AssigneeID,
			Action:          action,
			DecisionValue:   &decision,
			Comments:        p.Comments,
			Stage:           c.Stage,
		}
		if err := s.history.Append(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// transitionAction classifies the hop between two action nodes by their
// positions in the workflow's step order.
func transitionAction(g *workflow.Graph, fromID, toID string, rejection bool) string {
	from, to := -1, -1
	for i, n := range g.ActionNodesInOrder() {
		if n.ID == fromID {
			from = i
		}
		if n.ID == toID {
			to = i
		}
	}
	switch {
	case from < 0 || to < 0 || from == to:
		return repository.HistoryActionTransition
	case to > from:
		return repository.HistoryActionEscalated
	case rejection:
		return repository.HistoryActionReturned
	default:
		return repository.HistoryActionReturnedForWork
	}
}

// ── Resubmission ──────────────────────────────────────────────────────────────

// Resubmit restarts a returned case through its workflow under a new
// sequence version. Shortcut analysis is deliberately not re-applied: a
// case sent back for rework always gets a full re-review.
func (s *Coordinator) Resubmit(ctx context.Context, caseID, actorID string, comments *string) (*CaseResult, error) {
	result := &CaseResult{}
	err := s.db.InTransaction(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetForUpdate(ctx, caseID)
		if err != nil {
			return err
		}
		result.Case = c

		if c.Stage != repository.StageReturned {
			return apperrors.Newf(apperrors.CodeConflict,
				"case %s is %s; only returned cases can be resubmitted", c.ID, c.Stage)
		}

		version, err := s.cases.BumpSequenceVersion(ctx, c.ID, actorID)
		if err != nil {
			return err
		}
		c.SequenceVersion = version

		if _, err := s.assignments.CloseOpen(ctx, c.ID, actorID); err != nil {
			return err
		}

		entry := &repository.HistoryEntry{
			CaseID:          c.ID,
			SequenceVersion: version,
			NodeID:          nodeOrEmpty(c.CurrentNodeID),
			ActorID:         actorID,
			AssigneeID:      actorID,
			Action:          repository.HistoryActionResubmitted,
			Comments:        comments,
			Stage:           repository.StageNew,
		}
		if err := s.history.Append(ctx, entry); err != nil {
			return err
		}

		g, err := s.graphs.LoadGraph(ctx, c.WorkflowID)
		if err != nil {
			return err
		}
		node, err := s.entryNode(ctx, g, routing.Placement{})
		if err != nil {
			return err
		}
		if node.Kind == workflow.KindEnd {
			return s.finishCase(ctx, c, node.ID, actorID, repository.StageResolved,
				repository.HistoryActionResolved, nil, result)
		}
		return s.openNode(ctx, c, node, actorID, repository.HistoryActionCreated, comments, result)
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, result.Case, actorID, "case_resubmitted", nil, map[string]any{
		"stage":            result.Case.Stage,
		"sequence_version": result.Case.SequenceVersion,
	})
	s.notify(ctx, "case_resubmitted", result, actorID)

	s.log.Info().
		Str("case_id", result.Case.ID).
		Int("sequence_version", result.Case.SequenceVersion).
		Strs("assignees", result.Assignees).
		Msg("Case resubmitted")
	return result, nil
}

// ── Verification ──────────────────────────────────────────────────────────────

// Verify applies the secondary sign-off available on resolved quota cases.
func (s *Coordinator) Verify(ctx context.Context, caseID, actorID string, comments *string) (*CaseResult, error) {
	result := &CaseResult{}
	err := s.db.InTransaction(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetForUpdate(ctx, caseID)
		if err != nil {
			return err
		}
		result.Case = c

		if c.Kind != repository.CaseKindQuota {
			return apperrors.InvalidInput("case_id", "only quota cases can be verified")
		}
		if c.Stage != repository.StageResolved {
			return apperrors.Newf(apperrors.CodeConflict,
				"case %s is %s; only resolved cases can be verified", c.ID, c.Stage)
		}

		if err := s.cases.SetStage(ctx, c.ID, repository.StageVerified, nil, actorID); err != nil {
			return err
		}
		c.Stage = repository.StageVerified
		c.CurrentNodeID = nil
		result.Completed = true

		entry := &repository.HistoryEntry{
			CaseID:          c.ID,
			SequenceVersion: c.SequenceVersion,
			ActorID:         actorID,
			AssigneeID:      actorID,
			Action:          repository.HistoryActionVerified,
			Comments:        comments,
			Stage:           repository.StageVerified,
		}
		return s.history.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, result.Case, actorID, "case_verified", nil, map[string]any{
		"stage": repository.StageVerified,
	})
	s.notify(ctx, "case_verified", result, actorID)
	return result, nil
}

// ── Read models ───────────────────────────────────────────────────────────────

// History returns a case's full history trail oldest-first.
func (s *Coordinator) History(ctx context.Context, caseID string) ([]*repository.HistoryEntry, error) {
	if _, err := s.cases.Get(ctx, caseID); err != nil {
		return nil, err
	}
	return s.history.ForCase(ctx, caseID)
}

// PendingForUser returns the open work queue for one employee.
func (s *Coordinator) PendingForUser(ctx context.Context, orgCode, employeeID string) ([]*repository.PendingAssignment, error) {
	return s.assignments.PendingForUser(ctx, orgCode, employeeID)
}

// GetCase returns a case by id.
func (s *Coordinator) GetCase(ctx context.Context, caseID string) (*repository.Case, error) {
	return s.cases.Get(ctx, caseID)
}

// ── Shared movement helpers ───────────────────────────────────────────────────

// openNode resolves assignees for an action node, opens their
// assignments, writes history and parks the case there.
func (s *Coordinator) openNode(ctx context.Context, c *repository.Case, node workflow.Node, actorID, action string, comments *string, result *CaseResult) error {
	assignees, fellBack, err := s.resolveForNode(ctx, c, node, actorID)
	if err != nil {
		return err
	}

	stage := repository.StageInProgress
	if action == repository.HistoryActionReturned && contains(assignees, c.CreatedBy) {
		// Rejection routed back to the creator: they rework and resubmit.
		stage = repository.StageReturned
	}

	historyAction := action
	if fellBack {
		historyAction = repository.HistoryActionFallback
	}

	for _, assignee := range assignees {
		a := &repository.Assignment{
			CaseID:     c.ID,
			NodeID:     node.ID,
			AssigneeID: assignee,
			Stage:      stage,
			CreatedBy:  actorID,
		}
		if err := s.assignments.Open(ctx, a); err != nil {
			return err
		}
		entry := &repository.HistoryEntry{
			CaseID:          c.ID,
			SequenceVersion: c.SequenceVersion,
			NodeID:          node.ID,
			ActorID:         actorID,
			AssigneeID:      assignee,
			Action:          historyAction,
			Comments:        comments,
			Stage:           stage,
		}
		if err := s.history.Append(ctx, entry); err != nil {
			return err
		}
	}

	if err := s.cases.SetStage(ctx, c.ID, stage, &node.ID, actorID); err != nil {
		return err
	}
	c.Stage = stage
	c.CurrentNodeID = &node.ID

	result.Assignees = assignees
	return nil
}

// finishCase parks a case in a terminal stage.
func (s *Coordinator) finishCase(ctx context.Context, c *repository.Case, nodeID, actorID, stage, action string, comments *string, result *CaseResult) error {
	if err := s.cases.SetStage(ctx, c.ID, stage, nil, actorID); err != nil {
		return err
	}
	c.Stage = stage
	c.CurrentNodeID = nil
	result.Completed = true

	entry := &repository.HistoryEntry{
		CaseID:          c.ID,
		SequenceVersion: c.SequenceVersion,
		NodeID:          nodeID,
		ActorID:         actorID,
		AssigneeID:      actorID,
		Action:          action,
		Comments:        comments,
		Stage:           stage,
	}
	return s.history.Append(ctx, entry)
}

// resolveForNode resolves an action node's assignees, falling back to
// the case creator when the strategy yields nobody.
func (s *Coordinator) resolveForNode(ctx context.Context, c *repository.Case, node workflow.Node, actorID string) (assignees []string, fellBack bool, err error) {
	if node.Routing != "" {
		assignees, err = s.resolver.Resolve(ctx, c.OrgCode, node.Routing, node.RoutingTarget, actorID, c.CreatedBy)
		if err != nil {
			return nil, false, err
		}
	}

	assignees = dedupe(assignees)
	if len(assignees) > 0 {
		return assignees, false, nil
	}

	s.log.Warn().
		Str("case_id", c.ID).
		Str("node_id", node.ID).
		Str("routing", string(node.Routing)).
		Str("fallback", c.CreatedBy).
		Msg("No assignee resolved for node; falling back to case creator")
	return []string{c.CreatedBy}, true, nil
}

func (s *Coordinator) appendAudit(ctx context.Context, c *repository.Case, actor, action string, before, after map[string]any) {
	rec := &repository.AuditRecord{
		OrgCode:    c.OrgCode,
		ObjectType: "case",
		ObjectID:   c.ID,
		Action:     action,
		Actor:      actor,
		Before:     before,
		After:      after,
	}
	if err := s.audit.Append(ctx, rec); err != nil {
		s.log.Warn().Err(err).
			Str("case_id", c.ID).
			Str("action", action).
			Msg("Failed to write audit log entry")
	}
}

func (s *Coordinator) notify(ctx context.Context, eventType string, result *CaseResult, actorID string) {
	if s.notifier == nil {
		return
	}
	recipients := result.Assignees
	if len(recipients) == 0 {
		recipients = []string{result.Case.CreatedBy}
	}
	s.notifier.PublishCaseEvent(ctx, eventType, result.Case.ID, result.Case.OrgCode, actorID, recipients, map[string]any{
		"stage": result.Case.Stage,
		"kind":  result.Case.Kind,
		"title": result.Case.Title,
	})
}

func nodeOrEmpty(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Package handler exposes the case routing engine and licence pool over
// HTTP. Handlers are thin adapters: decode, call the service, map the
// error code to a status.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/meghanandan/caseflow/internal/apperrors"
	"github.com/meghanandan/caseflow/internal/repository"
	"github.com/meghanandan/caseflow/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	coordinator *service.Coordinator
	licences    *service.LicenceAllocator
	log         zerolog.Logger
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(coordinator *service.Coordinator, licences *service.LicenceAllocator, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{coordinator: coordinator, licences: licences, log: log}
}

// Router builds the service's route tree.
func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cases", func(r chi.Router) {
			r.Post("/", h.CreateCase)
			r.Get("/{caseID}", h.GetCase)
			r.Post("/{caseID}/decision", h.Decide)
			r.Post("/{caseID}/resubmit", h.Resubmit)
			r.Post("/{caseID}/verify", h.Verify)
			r.Get("/{caseID}/history", h.History)
		})
		r.Get("/assignments/pending", h.PendingForUser)

		r.Route("/licences", func(r chi.Router) {
			r.Post("/assign", h.AssignLicence)
			r.Post("/release", h.ReleaseLicence)
			r.Put("/pool", h.EnsurePool)
			r.Get("/remaining", h.RemainingLicences)
		})
	})

	return r
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Cases ─────────────────────────────────────────────────────────────────────

type createCaseRequest struct {
	OrgCode    string  `json:"org_code"`
	WorkflowID string  `json:"workflow_id"`
	Kind       string  `json:"kind"`
	Title      string  `json:"title"`
	CreatedBy  string  `json:"created_by"`
	Comments   *string `json:"comments,omitempty"`
}

// CreateCase creates a case and routes it to its first approvers.
func (h *HTTPHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.coordinator.CreateCase(r.Context(), service.CreateCaseParams{
		OrgCode:    req.OrgCode,
		WorkflowID: req.WorkflowID,
		Kind:       req.Kind,
		Title:      req.Title,
		CreatedBy:  req.CreatedBy,
		Comments:   req.Comments,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, caseResultResponse(result))
}

// GetCase returns one case.
func (h *HTTPHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.coordinator.GetCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

type decisionRequest struct {
	ActorID  string  `json:"actor_id"`
	Decision string  `json:"decision"`
	Comments *string `json:"comments,omitempty"`
}

// Decide applies a decision to a case.
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.coordinator.Decide(r.Context(), service.DecideParams{
		CaseID:   chi.URLParam(r, "caseID"),
		ActorID:  req.ActorID,
		Decision: req.Decision,
		Comments: req.Comments,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, caseResultResponse(result))
}

type resubmitRequest struct {
	ActorID  string  `json:"actor_id"`
	Comments *string `json:"comments,omitempty"`
}

// Resubmit restarts a returned case.
func (h *HTTPHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	var req resubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.coordinator.Resubmit(r.Context(), chi.URLParam(r, "caseID"), req.ActorID, req.Comments)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, caseResultResponse(result))
}

// Verify applies the secondary sign-off on a resolved quota case.
func (h *HTTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req resubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.coordinator.Verify(r.Context(), chi.URLParam(r, "caseID"), req.ActorID, req.Comments)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, caseResultResponse(result))
}

// History returns a case's full history trail.
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.coordinator.History(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// PendingForUser returns the caller's open work queue.
func (h *HTTPHandler) PendingForUser(w http.ResponseWriter, r *http.Request) {
	orgCode := r.URL.Query().Get("org_code")
	employeeID := r.URL.Query().Get("employee_id")
	if orgCode == "" || employeeID == "" {
		h.writeError(w, apperrors.InvalidInput("query", "org_code and employee_id are required"))
		return
	}

	pending, err := h.coordinator.PendingForUser(r.Context(), orgCode, employeeID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// ── Licences ──────────────────────────────────────────────────────────────────

type licenceRequest struct {
	OrgCode     string `json:"org_code"`
	EmployeeID  string `json:"employee_id"`
	LicenceType string `json:"licence_type"`
	ActorID     string `json:"actor_id"`
}

// AssignLicence gives an employee a licence slot.
func (h *HTTPHandler) AssignLicence(w http.ResponseWriter, r *http.Request) {
	var req licenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	entry, err := h.licences.Assign(r.Context(), req.OrgCode, req.EmployeeID, req.LicenceType, req.ActorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// ReleaseLicence frees an employee's licence slot.
func (h *HTTPHandler) ReleaseLicence(w http.ResponseWriter, r *http.Request) {
	var req licenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := h.licences.Release(r.Context(), req.OrgCode, req.EmployeeID, req.LicenceType, req.ActorID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

type ensurePoolRequest struct {
	OrgCode     string    `json:"org_code"`
	LicenceType string    `json:"licence_type"`
	Purchased   int       `json:"purchased"`
	FromDate    time.Time `json:"from_date"`
	ToDate      time.Time `json:"to_date"`
	GraceDays   int       `json:"grace_days"`
}

// EnsurePool reconciles a licence type's pool with its purchased count.
func (h *HTTPHandler) EnsurePool(w http.ResponseWriter, r *http.Request) {
	var req ensurePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	err := h.licences.EnsurePool(r.Context(), &repository.LicenceTypeInfo{
		OrgCode:     req.OrgCode,
		LicenceType: req.LicenceType,
		Purchased:   req.Purchased,
		FromDate:    req.FromDate,
		ToDate:      req.ToDate,
		GraceDays:   req.GraceDays,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reconciled"})
}

// RemainingLicences returns the per-type usage report.
func (h *HTTPHandler) RemainingLicences(w http.ResponseWriter, r *http.Request) {
	orgCode := r.URL.Query().Get("org_code")
	if orgCode == "" {
		h.writeError(w, apperrors.InvalidInput("query", "org_code is required"))
		return
	}

	usage, err := h.licences.Remaining(r.Context(), orgCode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"licences": usage})
}

// ── Response plumbing ─────────────────────────────────────────────────────────

type caseResponse struct {
	Case      *repository.Case `json:"case"`
	Assignees []string         `json:"assignees,omitempty"`
	Completed bool             `json:"completed"`
}

func caseResultResponse(result *service.CaseResult) caseResponse {
	return caseResponse{Case: result.Case, Assignees: result.Assignees, Completed: result.Completed}
}

type errorResponse struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}
	h.writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

func statusForCode(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidInput, apperrors.CodeInvalidHierarchyLevel:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConflict, apperrors.CodeCaseNotActionable,
		apperrors.CodeRejectionNotSupported, apperrors.CodeLicencePoolExhausted,
		apperrors.CodeLicenceTypeInvalidOrExpired:
		return http.StatusConflict
	case apperrors.CodeNoMatchingEdge, apperrors.CodeNoAssigneeResolved:
		return http.StatusUnprocessableEntity
	case apperrors.CodeWorkflowMisconfigured, apperrors.CodeWorkflowCycleSuspected:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

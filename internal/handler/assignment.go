package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/care-assign/internal/model"
	"github.com/sakif/care-assign/internal/repository"
	"github.com/sakif/care-assign/internal/service"
)

// AssignmentService is the part of service.AssignmentService the handler
// uses. Tests substitute a fake.
type AssignmentService interface {
	ManualAssign(ctx context.Context, userID, providerID, notes, actor string) (*model.Assignment, error)
	CancelAssignment(ctx context.Context, id, reason, actor string) (*model.Assignment, error)
	CompleteAssignment(ctx context.Context, id, actor string) (*model.Assignment, error)
	StartService(ctx context.Context, id string) (*model.User, error)
	Reassign(ctx context.Context, userID, providerID, reason, actor string) (*service.ReassignResult, error)
	GetAssignment(ctx context.Context, id string) (*model.Assignment, error)
	ListAssignments(ctx context.Context, filter repository.AssignmentFilter, limit, offset int) ([]model.Assignment, error)
	History(ctx context.Context, id string) ([]model.AssignmentHistory, error)
}

// AssignmentHandler exposes the assignment lifecycle.
//
// ROUTES:
//
//	POST /api/assignments                 → manual assignment
//	GET  /api/assignments                 → list, filtered by userId/providerId/status
//	GET  /api/assignments/{id}            → one assignment
//	GET  /api/assignments/{id}/history    → audit trail
//	POST /api/assignments/{id}/cancel     → cancel, optional {"reason": "..."}
//	POST /api/assignments/{id}/complete   → complete
//	POST /api/assignments/{id}/start      → user enters service
//	POST /api/users/{id}/reassign         → move a user to another provider
type AssignmentHandler struct {
	assignments AssignmentService
	logger      *slog.Logger
}

func NewAssignmentHandler(assignments AssignmentService, logger *slog.Logger) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignments, logger: logger}
}

type manualAssignRequest struct {
	UserID     string `json:"userId"`
	ProviderID string `json:"providerId"`
	Notes      string `json:"notes"`
}

// HandleManualAssign assigns a user to an operator-chosen provider.
//
// HTTP: POST /api/assignments
// REQUEST BODY: {"userId": "u1", "providerId": "p1", "notes": "family request"}
func (h *AssignmentHandler) HandleManualAssign(w http.ResponseWriter, r *http.Request) {
	var req manualAssignRequest
	if err := decodeValidated(w, r, manualAssignSchema, &req, false); err != nil {
		writeError(w, err)
		return
	}

	a, err := h.assignments.ManualAssign(r.Context(), req.UserID, req.ProviderID, req.Notes, actorLogin(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// HandleList returns assignments newest first.
//
// HTTP: GET /api/assignments?userId=&providerId=&status=active&limit=20&offset=0
func (h *AssignmentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	filter := repository.AssignmentFilter{
		UserID:     q.Get("userId"),
		ProviderID: q.Get("providerId"),
		Status:     model.AssignmentStatus(q.Get("status")),
	}

	assignments, err := h.assignments.ListAssignments(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if assignments == nil {
		assignments = []model.Assignment{}
	}
	writeJSON(w, http.StatusOK, assignments)
}

// HTTP: GET /api/assignments/{id}
func (h *AssignmentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.assignments.GetAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HTTP: GET /api/assignments/{id}/history
func (h *AssignmentHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.assignments.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// HandleCancel cancels an active assignment and frees the provider slot.
// Cancelling a finished assignment answers 409.
//
// HTTP: POST /api/assignments/{id}/cancel
func (h *AssignmentHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeValidated(w, r, reasonSchema, &req, true); err != nil {
		writeError(w, err)
		return
	}

	a, err := h.assignments.CancelAssignment(r.Context(), chi.URLParam(r, "id"), req.Reason, actorLogin(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HTTP: POST /api/assignments/{id}/complete
func (h *AssignmentHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	a, err := h.assignments.CompleteAssignment(r.Context(), chi.URLParam(r, "id"), actorLogin(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandleStart moves the assignment's user into service and returns the user.
//
// HTTP: POST /api/assignments/{id}/start
func (h *AssignmentHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	user, err := h.assignments.StartService(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type reassignRequest struct {
	ProviderID string `json:"providerId"`
	Reason     string `json:"reason"`
}

// HandleReassign cancels the user's active assignment, if any, and creates a
// manual one with the new provider in the same transaction.
//
// HTTP: POST /api/users/{id}/reassign
// REQUEST BODY: {"providerId": "p2", "reason": "provider on leave"}
func (h *AssignmentHandler) HandleReassign(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := decodeValidated(w, r, reassignSchema, &req, false); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.assignments.Reassign(r.Context(), chi.URLParam(r, "id"), req.ProviderID, req.Reason, actorLogin(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

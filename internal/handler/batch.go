package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/care-assign/internal/matching"
	"github.com/sakif/care-assign/internal/service"
)

// BatchAssigner is the part of service.BatchService the handler uses.
type BatchAssigner interface {
	BatchAssign(ctx context.Context, req service.BatchRequest) (*service.BatchResult, error)
	DefaultPreferences() matching.Preferences
}

type BatchHandler struct {
	batch  BatchAssigner
	logger *slog.Logger
}

func NewBatchHandler(batch BatchAssigner, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{batch: batch, logger: logger}
}

// batchPreferences uses pointers so a client can override one knob and keep
// the configured defaults for the rest.
type batchPreferences struct {
	MaxDistance       *float64 `json:"maxDistance"`
	ConsiderSpecialty *bool    `json:"considerSpecialty"`
	ConsiderSchedule  *bool    `json:"considerSchedule"`
	BalanceLoad       *bool    `json:"balanceLoad"`
}

type batchRequest struct {
	UserIDs     []string          `json:"userIds"`
	Algorithm   string            `json:"algorithm"`
	Preferences *batchPreferences `json:"preferences"`
}

// HandleBatchAssign auto-assigns a list of users in order.
//
// HTTP: POST /api/assignments/batch
// REQUEST BODY:
//
//	{
//	  "userIds": ["u1", "u2"],
//	  "algorithm": "comprehensive",
//	  "preferences": {"maxDistance": 8000, "considerSchedule": false}
//	}
//
// Per-user failures do not fail the request: the response is 200 with the
// failures listed next to the created assignments.
func (h *BatchHandler) HandleBatchAssign(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeValidated(w, r, batchAssignSchema, &req, false); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.batch.BatchAssign(r.Context(), service.BatchRequest{
		UserIDs:     req.UserIDs,
		Algorithm:   req.Algorithm,
		Preferences: h.preferences(req.Preferences),
		Actor:       actorLogin(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *BatchHandler) preferences(in *batchPreferences) *matching.Preferences {
	if in == nil {
		return nil
	}
	p := h.batch.DefaultPreferences()
	if in.MaxDistance != nil {
		p.MaxDistanceMeters = *in.MaxDistance
	}
	if in.ConsiderSpecialty != nil {
		p.ConsiderSpecialty = *in.ConsiderSpecialty
	}
	if in.ConsiderSchedule != nil {
		p.ConsiderSchedule = *in.ConsiderSchedule
	}
	if in.BalanceLoad != nil {
		p.BalanceLoad = *in.BalanceLoad
	}
	return &p
}

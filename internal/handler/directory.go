package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/care-assign/internal/apperror"
	"github.com/sakif/care-assign/internal/service"
)

// DirectoryHandler registers and reads care recipients and providers.
type DirectoryHandler struct {
	directory *service.DirectoryService
	logger    *slog.Logger
}

func NewDirectoryHandler(directory *service.DirectoryService, logger *slog.Logger) *DirectoryHandler {
	return &DirectoryHandler{directory: directory, logger: logger}
}

// HandleCreateUser registers a care recipient.
//
// HTTP: POST /api/users
// REQUEST BODY: {"name": "...", "location": {"lat": 39.9, "lng": 116.4}, "specialties": ["diabetes_care"]}
func (h *DirectoryHandler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in service.NewUser
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.directory.RegisterUser(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// HandleListUsers returns users ordered by ID.
//
// HTTP: GET /api/users?limit=20&offset=0
func (h *DirectoryHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	users, err := h.directory.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleGetUser returns one user, including its current status and
// assignment ID.
//
// HTTP: GET /api/users/{id}
func (h *DirectoryHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.directory.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleCreateProvider registers a provider.
//
// HTTP: POST /api/providers
func (h *DirectoryHandler) HandleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var in service.NewProvider
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.directory.RegisterProvider(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HTTP: GET /api/providers?limit=20&offset=0
func (h *DirectoryHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	providers, err := h.directory.ListProviders(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

// HTTP: GET /api/providers/{id}
func (h *DirectoryHandler) HandleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := h.directory.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// pageParams reads limit and offset. Missing values are zero and the
// service applies its defaults.
func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, apperror.ValidationFailed("limit", "limit must be an integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, apperror.ValidationFailed("offset", "offset must be an integer")
		}
	}
	return limit, offset, nil
}

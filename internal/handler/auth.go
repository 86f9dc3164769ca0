package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/care-assign/internal/apperror"
	"github.com/sakif/care-assign/internal/auth"
	"github.com/sakif/care-assign/internal/service"
)

// AuthHandler logs operators in and out.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin  → check credentials, issue a JWT as body and HttpOnly cookie
//   - HandleLogout → clear the cookie
//   - HandleMe     → return the caller's identity from the token
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// HandleLogin exchanges a login and password for an access token.
//
// HTTP: POST /auth/login
// REQUEST BODY: {"login": "admin", "password": "..."}
//
// The token is returned in the body for API clients and set as an HttpOnly
// cookie for browsers. Both carry the same expiry.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeValidated(w, r, loginSchema, &req, false); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    res.Token,
		Path:     "/",
		MaxAge:   int(time.Until(res.ExpiresAt).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, res)
}

// HandleLogout clears the token cookie.
//
// HTTP: POST /auth/logout
//
// Tokens are stateless, so an issued token stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the authenticated operator as seen by the token.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          actor.OperatorID,
		"login":       actor.Login,
		"permissions": actor.Permissions,
	})
}

// actorLogin is the name recorded as operator on assignments and history.
func actorLogin(r *http.Request) string {
	if actor, ok := auth.ActorFromContext(r.Context()); ok {
		return actor.Login
	}
	return ""
}

package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is unexported so no other package can read or shadow the actor.
type contextKey string

const actorKey contextKey = "actor"

// CookieName is the HttpOnly cookie the login endpoint sets.
const CookieName = "token"

// ErrorWriter renders an error response. The handler package supplies one
// so auth failures share the API's JSON error shape.
type ErrorWriter func(w http.ResponseWriter, status int, code, message string)

// RequireAuth rejects requests without a valid token with 401 and stores the
// Actor in the request context otherwise.
//
// The token is read from "Authorization: Bearer <jwt>" first and from the
// token cookie second.
func RequireAuth(tokens *TokenService, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := extractActor(r, tokens)
			if err != nil {
				writeErr(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			ctx := WithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission must run after RequireAuth. It answers 403 when the
// actor lacks perm.
func RequirePermission(perm string, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				writeErr(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}
			if !actor.Can(perm) {
				writeErr(w, http.StatusForbidden, "forbidden", "missing permission "+perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the authenticated caller, or false for an
// anonymous request.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok && actor.OperatorID != ""
}

func extractActor(r *http.Request, tokens *TokenService) (Actor, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			raw, ok = strings.CutPrefix(h, "bearer ")
		}
		if ok {
			return tokens.Validate(strings.TrimSpace(raw))
		}
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Actor{}, err
	}
	return tokens.Validate(cookie.Value)
}

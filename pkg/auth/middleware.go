package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/ghuser/entitlements/pkg/httpx"
	"github.com/ghuser/entitlements/pkg/logger"
)

const sessionName = "cp_session"

// Session value keys.
const (
	sessionPrincipalIDKey    = "principal_id"
	sessionPrincipalNameKey  = "principal_name"
	sessionPrincipalAdminKey = "principal_admin"
)

var errNoPrincipalID = errors.New("session carries no principal_id")

// RequireAuth resolves the Principal from the session cookie and stores it
// in the request context, answering 401 when the session is missing or
// malformed.
func RequireAuth(store sessions.Store, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := principalFromSession(store, r)
			if err != nil {
				log.WarnContext(r.Context(), "auth: rejected session", "error", err, "path", r.URL.Path)
				httpx.JSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin answers 403 unless the principal set by RequireAuth is an
// admin. Mount it after RequireAuth.
func RequireAdmin(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := PrincipalFromCtx(r.Context())
			if err != nil {
				httpx.JSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !p.Admin {
				log.WarnContext(r.Context(), "auth: admin access denied", "principal", p.Name, "path", r.URL.Path)
				httpx.JSONError(w, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principalFromSession(store sessions.Store, r *http.Request) (Principal, error) {
	session, err := store.Get(r, sessionName)
	if err != nil {
		return Principal{}, fmt.Errorf("decode session: %w", err)
	}

	raw, _ := session.Values[sessionPrincipalIDKey].(string)
	if raw == "" {
		return Principal{}, errNoPrincipalID
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Principal{}, fmt.Errorf("principal_id %q: %w", raw, err)
	}

	p := Principal{ID: id.String()}
	p.Name, _ = session.Values[sessionPrincipalNameKey].(string)
	if p.Name == "" {
		p.Name = p.ID
	}
	p.Admin, _ = session.Values[sessionPrincipalAdminKey].(bool)
	return p, nil
}

package auth

import (
	"context"
	"errors"
)

// contextKey is an unexported type to prevent key collisions in context.
type contextKey string

const principalKey contextKey = "principal"

// ErrPrincipalNotFound is returned when no Principal exists in the request context.
// Handlers should return 401 when this error occurs.
var ErrPrincipalNotFound = errors.New("principal not found in context")

// Principal is the caller on whose behalf a unit of work runs. Admin
// principals may use the /admin endpoints.
type Principal struct {
	Name  string
	ID    string
	Admin bool
}

// SystemPrincipal performs scheduled jobs and other non-interactive work.
var SystemPrincipal = Principal{Name: "System", ID: "system", Admin: true}

// IsSystem reports whether p is SystemPrincipal.
func (p Principal) IsSystem() bool {
	return p == SystemPrincipal
}

// PrincipalFromCtx extracts the authenticated principal from the context.
// Returns ErrPrincipalNotFound if none is set (unauthenticated request).
func PrincipalFromCtx(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.ID == "" {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

// WithPrincipal returns a new context with p attached.
// Used by authentication middleware after validating the session, and by
// the scheduler with SystemPrincipal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

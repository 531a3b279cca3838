// Package errhttp maps domain sentinel errors to HTTP responses.
package errhttp

import (
	"errors"
	"net/http"
	"time"

	"github.com/ghuser/entitlements/pkg/auth"
	"github.com/ghuser/entitlements/pkg/httpx"
	"github.com/ghuser/entitlements/pkg/scheduler"
	auditdomain "github.com/ghuser/entitlements/services/audit/domain"
	modedomain "github.com/ghuser/entitlements/services/mode/domain"
)

// SuspendRetryAfter is advertised to clients refused while suspended.
const SuspendRetryAfter = 30 * time.Second

// statuses is checked in order; the first sentinel err wraps wins.
var statuses = []struct {
	target error
	status int
}{
	{auth.ErrPrincipalNotFound, http.StatusUnauthorized},
	{scheduler.ErrJobNotFound, http.StatusNotFound},
	{auditdomain.ErrUnitOfWorkFinished, http.StatusConflict},
	{modedomain.ErrInvalidMode, http.StatusUnprocessableEntity},
	{modedomain.ErrSuspended, http.StatusServiceUnavailable},
}

// Status returns the HTTP status for err, 500 when no sentinel matches.
func Status(err error) int {
	for _, s := range statuses {
		if errors.Is(err, s.target) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// WriteError writes err as a JSON error response. Unmapped errors are
// reported as a bare 500 so internals do not leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	switch status := Status(err); status {
	case http.StatusServiceUnavailable:
		httpx.Unavailable(w, SuspendRetryAfter, map[string]string{"error": err.Error()})
	case http.StatusInternalServerError:
		httpx.JSONError(w, status, "internal server error")
	default:
		httpx.JSONError(w, status, err.Error())
	}
}

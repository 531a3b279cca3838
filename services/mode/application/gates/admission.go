// Package gates applies the operating mode to the places work enters the
// server: HTTP requests, scheduled jobs and workflow starts. It also runs
// the broker monitor that suspends the server while the message bus is
// unreachable.
package gates

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ghuser/entitlements/pkg/httpx"
	"github.com/ghuser/entitlements/pkg/logger"
	modedomain "github.com/ghuser/entitlements/services/mode/domain"
	"github.com/ghuser/entitlements/services/mode/domain/models"
)

// ModeReader is the read side of ModeManager.
type ModeReader interface {
	Current(ctx context.Context) models.ModeRecord
}

// retryAfter is the client back-off hint for suspended requests.
const retryAfter = 30 * time.Second

type suspendedResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// SuspendMiddleware rejects requests with 503 while the server is
// suspended. Requests whose path equals an exempt path, or lies below one,
// are always admitted. The default exempt list (SUSPEND_EXEMPT_PATHS) goes
// beyond /status: /health and /metrics stay up for health checks and scrapers,
// and /admin/mode stays up because it is the only way to resume a server
// suspended by an operator.
func SuspendMiddleware(modes ModeReader, exempt []string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(r.URL.Path, exempt) {
				next.ServeHTTP(w, r)
				return
			}
			rec := modes.Current(r.Context())
			if rec.Mode != models.ModeSuspend {
				next.ServeHTTP(w, r)
				return
			}
			log.WarnContext(r.Context(), "request rejected in suspend mode",
				"method", r.Method, "path", r.URL.Path, "reason", rec.Reason)
			httpx.Unavailable(w, retryAfter, suspendedResponse{
				Error:  modedomain.ErrSuspended.Error(),
				Reason: rec.Reason,
			})
		})
	}
}

func isExempt(path string, exempt []string) bool {
	for _, p := range exempt {
		p = strings.TrimSuffix(p, "/")
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

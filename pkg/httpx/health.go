package httpx

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthTimeout = 2 * time.Second

// Probe results reported per dependency.
const (
	ProbeOK          = "ok"
	ProbeUnreachable = "unreachable"
	ProbeDisabled    = "disabled"
)

// HealthChecker is anything with a Ping: the database pool, Redis, the bus
// and the mode stores.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthChecks lists the dependencies probed by HealthHandler. A nil
// checker is reported as disabled and does not degrade the status.
type HealthChecks struct {
	Database HealthChecker
	Redis    HealthChecker
	EventBus HealthChecker
	// Mode reports the operating mode. A suspended server is still healthy.
	Mode func(ctx context.Context) string
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
	EventBus string `json:"event_bus"`
	Mode     string `json:"mode,omitempty"`
}

// HealthHandler pings every checker concurrently and answers 503 with
// status "degraded" when any of them fails.
func HealthHandler(checks HealthChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		var resp healthResponse
		var g errgroup.Group
		g.Go(func() error { resp.Database = probe(ctx, checks.Database); return nil })
		g.Go(func() error { resp.Redis = probe(ctx, checks.Redis); return nil })
		g.Go(func() error { resp.EventBus = probe(ctx, checks.EventBus); return nil })
		_ = g.Wait()

		if checks.Mode != nil {
			resp.Mode = checks.Mode(ctx)
		}

		resp.Status = "ok"
		status := http.StatusOK
		for _, p := range []string{resp.Database, resp.Redis, resp.EventBus} {
			if p == ProbeUnreachable {
				resp.Status, status = "degraded", http.StatusServiceUnavailable
			}
		}
		JSON(w, status, resp)
	}
}

func probe(ctx context.Context, c HealthChecker) string {
	if c == nil {
		return ProbeDisabled
	}
	if err := c.Ping(ctx); err != nil {
		return ProbeUnreachable
	}
	return ProbeOK
}

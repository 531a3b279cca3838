package httpx_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ghuser/entitlements/pkg/httpx"
)

type stubChecker struct{ err error }

func (s *stubChecker) Ping(context.Context) error { return s.err }

var (
	up   = &stubChecker{}
	down = &stubChecker{err: errors.New("connection refused")}
)

func serveHealth(t *testing.T, checks httpx.HealthChecks) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	httpx.HealthHandler(checks).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if ct := rr.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rr.Code, body
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     httpx.HealthChecks
		wantStatus int
		want       map[string]string
	}{
		{
			name:       "all healthy",
			checks:     httpx.HealthChecks{Database: up, Redis: up, EventBus: up},
			wantStatus: http.StatusOK,
			want:       map[string]string{"status": "ok", "database": "ok", "redis": "ok", "event_bus": "ok"},
		},
		{
			name:       "database down",
			checks:     httpx.HealthChecks{Database: down, Redis: up, EventBus: up},
			wantStatus: http.StatusServiceUnavailable,
			want:       map[string]string{"status": "degraded", "database": "unreachable"},
		},
		{
			name:       "redis down",
			checks:     httpx.HealthChecks{Database: up, Redis: down, EventBus: up},
			wantStatus: http.StatusServiceUnavailable,
			want:       map[string]string{"status": "degraded", "redis": "unreachable"},
		},
		{
			name:       "bus down",
			checks:     httpx.HealthChecks{Database: up, Redis: up, EventBus: down},
			wantStatus: http.StatusServiceUnavailable,
			want:       map[string]string{"status": "degraded", "event_bus": "unreachable"},
		},
		{
			name:       "unwired dependencies are disabled",
			checks:     httpx.HealthChecks{Database: up},
			wantStatus: http.StatusOK,
			want:       map[string]string{"status": "ok", "redis": "disabled", "event_bus": "disabled"},
		},
		{
			name: "suspended is still healthy",
			checks: httpx.HealthChecks{
				Database: up,
				Mode:     func(context.Context) string { return "SUSPEND" },
			},
			wantStatus: http.StatusOK,
			want:       map[string]string{"status": "ok", "mode": "SUSPEND"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := serveHealth(t, tt.checks)
			if code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", code, tt.wantStatus)
			}
			for k, v := range tt.want {
				if body[k] != v {
					t.Errorf("%s = %q, want %q (body %v)", k, body[k], v, body)
				}
			}
		})
	}
}

func TestHealthHandler_OmitsModeWithoutProbe(t *testing.T) {
	_, body := serveHealth(t, httpx.HealthChecks{Database: up})
	if _, ok := body["mode"]; ok {
		t.Errorf("mode reported without a probe: %v", body)
	}
}

type slowChecker struct{ delay time.Duration }

func (s slowChecker) Ping(ctx context.Context) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestHealthHandler_ProbesConcurrently(t *testing.T) {
	slow := slowChecker{delay: 300 * time.Millisecond}
	start := time.Now()
	code, _ := serveHealth(t, httpx.HealthChecks{Database: slow, Redis: slow, EventBus: slow})

	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if elapsed := time.Since(start); elapsed > 800*time.Millisecond {
		t.Fatalf("probes ran serially: %s", elapsed)
	}
}

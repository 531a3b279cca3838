package gates

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/services/mode/domain/models"
)

// fakeModes is an in-memory ModeController. debounce makes EnterMode a
// silent no-op, like a change requested too soon after the previous one.
type fakeModes struct {
	mu       sync.Mutex
	rec      models.ModeRecord
	debounce bool
	entered  []models.Mode
}

func newFakeModes(mode models.Mode, reason string) *fakeModes {
	return &fakeModes{rec: models.ModeRecord{Mode: mode, Reason: reason}}
}

func (f *fakeModes) Current(context.Context) models.ModeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec
}

func (f *fakeModes) EnterMode(_ context.Context, mode models.Mode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entered = append(f.entered, mode)
	if f.debounce {
		return nil
	}
	f.rec = models.ModeRecord{Mode: mode, Reason: reason}
	return nil
}

func (f *fakeModes) set(mode models.Mode, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec = models.ModeRecord{Mode: mode, Reason: reason}
}

func (f *fakeModes) transitions() []models.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Mode(nil), f.entered...)
}

func TestSuspendMiddleware(t *testing.T) {
	exempt := []string{"/status", "/health", "/admin/mode"}

	tests := []struct {
		name       string
		mode       models.Mode
		path       string
		wantStatus int
	}{
		{"normal admits", models.ModeNormal, "/api/owners/o1/events", http.StatusOK},
		{"suspend rejects", models.ModeSuspend, "/api/owners/o1/events", http.StatusServiceUnavailable},
		{"suspend admits status", models.ModeSuspend, "/status", http.StatusOK},
		{"suspend admits exempt subpath", models.ModeSuspend, "/health/ready", http.StatusOK},
		{"suspend admits mode admin", models.ModeSuspend, "/admin/mode", http.StatusOK},
		{"prefix is not a path segment", models.ModeSuspend, "/statusx", http.StatusServiceUnavailable},
		{"suspend rejects other admin", models.ModeSuspend, "/admin/queues", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modes := newFakeModes(tt.mode, "maintenance")
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			h := SuspendMiddleware(modes, exempt, logger.Discard())(next)

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestSuspendMiddleware_ResponseBody(t *testing.T) {
	modes := newFakeModes(models.ModeSuspend, "database upgrade")
	h := SuspendMiddleware(modes, nil, logger.Discard())(http.NotFoundHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/consumers", http.NoBody))

	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "server is in suspend mode" || body["reason"] != "database upgrade" {
		t.Fatalf("body = %v", body)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header not set")
	}
}

func TestJobVeto(t *testing.T) {
	modes := newFakeModes(models.ModeNormal, "")
	v := NewJobVeto(modes, logger.Discard())
	ctx := context.Background()

	if v.VetoJobExecution(ctx, "heartbeat") {
		t.Fatal("job vetoed in NORMAL mode")
	}
	modes.set(models.ModeSuspend, "maintenance")
	if !v.VetoJobExecution(ctx, "heartbeat") {
		t.Fatal("job not vetoed in SUSPEND mode")
	}

	// ModeChanged only logs; it must accept both directions.
	v.ModeChanged(ctx, models.ModeNormal, models.ModeRecord{Mode: models.ModeSuspend})
	v.ModeChanged(ctx, models.ModeSuspend, models.ModeRecord{Mode: models.ModeNormal})
}

type stubPinger struct {
	mu  sync.Mutex
	err error
}

func (p *stubPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *stubPinger) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestBrokerMonitor_SuspendsAndResumes(t *testing.T) {
	bus := &stubPinger{}
	modes := newFakeModes(models.ModeNormal, "")
	m := NewBrokerMonitor(bus, modes, time.Second, clock.NewMock(), logger.Discard())
	ctx := context.Background()

	m.Check(ctx)
	if n := len(modes.transitions()); n != 0 {
		t.Fatalf("transitions with a healthy bus: %d", n)
	}

	bus.set(errors.New("connection refused"))
	m.Check(ctx)
	rec := modes.Current(ctx)
	if rec.Mode != models.ModeSuspend || rec.Reason != ReasonBrokerDown {
		t.Fatalf("mode = %+v, want SUSPEND with broker reason", rec)
	}

	// Still down: no repeated transition.
	m.Check(ctx)
	if n := len(modes.transitions()); n != 1 {
		t.Fatalf("transitions = %d, want 1", n)
	}

	bus.set(nil)
	m.Check(ctx)
	if got := modes.Current(ctx).Mode; got != models.ModeNormal {
		t.Fatalf("mode = %s, want NORMAL after recovery", got)
	}
}

func TestBrokerMonitor_LeavesOperatorSuspendAlone(t *testing.T) {
	bus := &stubPinger{}
	modes := newFakeModes(models.ModeSuspend, "maintenance")
	m := NewBrokerMonitor(bus, modes, time.Second, clock.NewMock(), logger.Discard())
	ctx := context.Background()

	bus.set(errors.New("down"))
	m.Check(ctx)
	bus.set(nil)
	m.Check(ctx)

	if n := len(modes.transitions()); n != 0 {
		t.Fatalf("monitor changed an operator suspension: %v", modes.transitions())
	}
	if got := modes.Current(ctx).Reason; got != "maintenance" {
		t.Fatalf("reason = %q", got)
	}
}

func TestBrokerMonitor_RetriesDebouncedResume(t *testing.T) {
	bus := &stubPinger{err: errors.New("down")}
	modes := newFakeModes(models.ModeNormal, "")
	m := NewBrokerMonitor(bus, modes, time.Second, clock.NewMock(), logger.Discard())
	ctx := context.Background()

	m.Check(ctx)
	bus.set(nil)

	modes.debounce = true
	m.Check(ctx)
	if got := modes.Current(ctx).Mode; got != models.ModeSuspend {
		t.Fatalf("mode = %s, want SUSPEND while resume is debounced", got)
	}

	modes.debounce = false
	m.Check(ctx)
	if got := modes.Current(ctx).Mode; got != models.ModeNormal {
		t.Fatalf("mode = %s, want NORMAL on the retry", got)
	}
}

func TestBrokerMonitor_RunStopsOnCancel(t *testing.T) {
	bus := &stubPinger{}
	modes := newFakeModes(models.ModeNormal, "")
	m := NewBrokerMonitor(bus, modes, time.Second, clock.NewMock(), logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

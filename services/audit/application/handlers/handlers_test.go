package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/services/audit/application/sink"
	"github.com/ghuser/entitlements/services/audit/domain/events"
	"github.com/ghuser/entitlements/services/audit/domain/repositories"
)

type stubRepo struct {
	events  []events.Event
	err     error
	gotID   string
	gotOpts repositories.QueryOpts
}

func (r *stubRepo) Save(context.Context, events.Event) error { return nil }

func (r *stubRepo) FindByOwner(_ context.Context, ownerID string, opts repositories.QueryOpts) ([]events.Event, int, error) {
	r.gotID, r.gotOpts = ownerID, opts
	if r.err != nil {
		return nil, 0, r.err
	}
	return r.events, len(r.events), nil
}

func serveOwnerEvents(repo repositories.EventRepository, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/api/owners/{ownerID}/events", NewGetOwnerEventsHandler(repo).Execute)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, http.NoBody))
	return rr
}

func TestGetOwnerEvents(t *testing.T) {
	e, _ := events.New(events.TypeCreated, events.TargetPool, events.SystemPrincipal, "p1", "acme", "pool", nil)
	repo := &stubRepo{events: []events.Event{e}}

	rr := serveOwnerEvents(repo, "/api/owners/acme/events?limit=10&offset=5")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if repo.gotID != "acme" || repo.gotOpts.Limit != 10 || repo.gotOpts.Offset != 5 {
		t.Fatalf("repo called with %q %+v", repo.gotID, repo.gotOpts)
	}
	var body OwnerEventsResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].ID != e.ID || body.Total != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGetOwnerEvents_Defaults(t *testing.T) {
	repo := &stubRepo{}
	rr := serveOwnerEvents(repo, "/api/owners/acme/events")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if repo.gotOpts.Limit != defaultPageSize || repo.gotOpts.Offset != 0 {
		t.Fatalf("opts = %+v", repo.gotOpts)
	}
	var body map[string]any
	_ = json.NewDecoder(rr.Body).Decode(&body)
	if list, ok := body["events"].([]any); !ok || len(list) != 0 {
		t.Fatalf("events = %v, want empty array", body["events"])
	}
}

func TestGetOwnerEvents_BadPaging(t *testing.T) {
	for _, q := range []string{"limit=0", "limit=501", "limit=abc", "offset=-1"} {
		t.Run(q, func(t *testing.T) {
			rr := serveOwnerEvents(&stubRepo{}, "/api/owners/acme/events?"+q)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestGetOwnerEvents_RepositoryError(t *testing.T) {
	rr := serveOwnerEvents(&stubRepo{err: errors.New("db down")}, "/api/owners/acme/events")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

type nopListener struct{}

func (nopListener) Name() string                                { return "nop" }
func (nopListener) OnEvent(context.Context, events.Event) error { return nil }
func (nopListener) Commit(context.Context) error                { return nil }
func (nopListener) Rollback(context.Context) error              { return nil }

func TestGetQueues(t *testing.T) {
	s := sink.NewEventSink(nil, events.NewFactory(sink.AuthPrincipals()), logger.Discard(), nil)
	if err := s.RegisterListener(nopListener{}); err != nil {
		t.Fatal(err)
	}
	_ = s.Do(context.Background(), func(ctx context.Context) error {
		return s.EmitOwnerCreated(ctx, events.Entity{ID: "acme"})
	})

	rr := httptest.NewRecorder()
	NewGetQueuesHandler(s, nil).Execute(rr, httptest.NewRequest(http.MethodGet, "/admin/queues", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body QueuesResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Listeners) != 1 {
		t.Fatalf("listeners = %+v", body.Listeners)
	}
	got := body.Listeners[0]
	if got.Listener != "nop" || got.Received != 1 || got.Committed != 1 {
		t.Fatalf("status = %+v", got)
	}
	if body.BusSessions != nil {
		t.Error("busSessions reported without a pool")
	}
}

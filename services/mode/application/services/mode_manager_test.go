package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/ghuser/entitlements/pkg/logger"
	modedomain "github.com/ghuser/entitlements/services/mode/domain"
	"github.com/ghuser/entitlements/services/mode/domain/models"
)

// memoryStore is an in-memory ModeStore with failure injection.
type memoryStore struct {
	mu       sync.Mutex
	records  []models.ModeRecord
	readErr  error
	writeErr error
	reads    int
}

func (s *memoryStore) Latest(context.Context) (*models.ModeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return nil, s.readErr
	}
	if len(s.records) == 0 {
		return nil, nil
	}
	latest := s.records[0]
	for _, r := range s.records[1:] {
		if r.ChangeTime.After(latest.ChangeTime) {
			latest = r
		}
	}
	return &latest, nil
}

func (s *memoryStore) Append(_ context.Context, r models.ModeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.records = append(s.records, r)
	return nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memoryStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

type changeLog struct {
	mu      sync.Mutex
	changes []models.Mode
}

func (c *changeLog) ModeChanged(_ context.Context, _ models.Mode, current models.ModeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, current.Mode)
}

func (c *changeLog) all() []models.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Mode(nil), c.changes...)
}

func newManager(store *memoryStore) (*ModeManager, *clock.Mock, *changeLog) {
	clk := clock.NewMock()
	m := NewModeManager(store, Options{Clock: clk}, logger.Discard())
	changes := &changeLog{}
	m.RegisterModeChangeListener(changes)
	return m, clk, changes
}

func TestCurrentMode_DefaultsToNormal(t *testing.T) {
	m, _, changes := newManager(&memoryStore{})
	if got := m.CurrentMode(context.Background()); got != models.ModeNormal {
		t.Fatalf("mode = %s, want NORMAL", got)
	}
	if len(changes.all()) != 0 {
		t.Errorf("unexpected notifications: %v", changes.all())
	}
}

func TestEnterMode_DebounceScenario(t *testing.T) {
	store := &memoryStore{}
	m, clk, changes := newManager(store)
	ctx := context.Background()

	if err := m.EnterMode(ctx, models.ModeSuspend, "maintenance"); err != nil {
		t.Fatalf("EnterMode(SUSPEND): %v", err)
	}

	clk.Add(5 * time.Second)
	if err := m.EnterMode(ctx, models.ModeNormal, "done"); err != nil {
		t.Fatalf("EnterMode(NORMAL) at 5s: %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("records = %d, want 1 (second change debounced)", store.count())
	}
	if got := m.CurrentMode(ctx); got != models.ModeSuspend {
		t.Fatalf("mode = %s, want SUSPEND", got)
	}

	clk.Add(10 * time.Second)
	if err := m.EnterMode(ctx, models.ModeNormal, "done"); err != nil {
		t.Fatalf("EnterMode(NORMAL) at 15s: %v", err)
	}
	if got := m.CurrentMode(ctx); got != models.ModeNormal {
		t.Fatalf("mode = %s, want NORMAL", got)
	}

	want := []models.Mode{models.ModeSuspend, models.ModeNormal}
	got := changes.all()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
}

func TestEnterMode_SameModeAppendsWithoutNotifying(t *testing.T) {
	store := &memoryStore{}
	m, clk, changes := newManager(store)
	ctx := context.Background()

	_ = m.EnterMode(ctx, models.ModeSuspend, "first")
	clk.Add(11 * time.Second)
	_ = m.EnterMode(ctx, models.ModeSuspend, "second")

	if store.count() != 2 {
		t.Fatalf("records = %d, want 2", store.count())
	}
	if n := len(changes.all()); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
	if got := m.Current(ctx).Reason; got != "second" {
		t.Errorf("reason = %q, want second", got)
	}
}

func TestCurrentMode_StalenessBound(t *testing.T) {
	store := &memoryStore{}
	m, clk, changes := newManager(store)
	ctx := context.Background()

	if got := m.CurrentMode(ctx); got != models.ModeNormal {
		t.Fatalf("mode = %s", got)
	}

	// Another server suspends the cluster.
	rec, _ := models.NewModeRecord(models.ModeSuspend, "elsewhere", clk.Now())
	_ = store.Append(ctx, rec)

	clk.Add(9 * time.Second)
	if got := m.CurrentMode(ctx); got != models.ModeNormal {
		t.Fatalf("mode before refresh = %s, want cached NORMAL", got)
	}

	clk.Add(time.Second)
	if got := m.CurrentMode(ctx); got != models.ModeSuspend {
		t.Fatalf("mode after refresh = %s, want SUSPEND", got)
	}
	if got := changes.all(); len(got) != 1 || got[0] != models.ModeSuspend {
		t.Fatalf("notifications = %v", got)
	}
}

func TestCurrentMode_CachedBetweenRefreshes(t *testing.T) {
	store := &memoryStore{}
	m, clk, _ := newManager(store)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		m.CurrentMode(ctx)
	}
	clk.Add(3 * time.Second)
	m.CurrentMode(ctx)

	if n := store.readCount(); n != 1 {
		t.Fatalf("store reads = %d, want 1", n)
	}
}

func TestCurrentMode_ReadFailureKeepsCachedMode(t *testing.T) {
	store := &memoryStore{}
	m, clk, changes := newManager(store)
	ctx := context.Background()

	_ = m.EnterMode(ctx, models.ModeSuspend, "maintenance")
	store.readErr = errors.New("connection refused")

	clk.Add(20 * time.Second)
	if got := m.CurrentMode(ctx); got != models.ModeSuspend {
		t.Fatalf("mode = %s, want cached SUSPEND after read failure", got)
	}
	reads := store.readCount()

	// The failed refresh schedules the next attempt one interval later.
	clk.Add(time.Second)
	m.CurrentMode(ctx)
	if store.readCount() != reads {
		t.Fatal("store read again before the refresh interval elapsed")
	}

	store.readErr = nil
	clk.Add(10 * time.Second)
	if got := m.CurrentMode(ctx); got != models.ModeSuspend {
		t.Fatalf("mode = %s", got)
	}
	if n := len(changes.all()); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestEnterMode_WriteFailureSurfaced(t *testing.T) {
	writeErr := errors.New("disk full")
	store := &memoryStore{writeErr: writeErr}
	m, _, changes := newManager(store)

	err := m.EnterMode(context.Background(), models.ModeSuspend, "maintenance")
	if !errors.Is(err, writeErr) {
		t.Fatalf("err = %v, want %v", err, writeErr)
	}
	if got := m.CurrentMode(context.Background()); got != models.ModeNormal {
		t.Errorf("mode = %s, want NORMAL after failed write", got)
	}
	if len(changes.all()) != 0 {
		t.Errorf("listeners fired for a failed write")
	}
}

func TestEnterMode_InvalidMode(t *testing.T) {
	m, _, _ := newManager(&memoryStore{})
	err := m.EnterMode(context.Background(), "PAUSED", "")
	if !errors.Is(err, modedomain.ErrInvalidMode) {
		t.Fatalf("err = %v, want ErrInvalidMode", err)
	}
}

func TestErrIfSuspended(t *testing.T) {
	m, _, _ := newManager(&memoryStore{})
	ctx := context.Background()
	if err := m.ErrIfSuspended(ctx); err != nil {
		t.Fatalf("unexpected error in NORMAL: %v", err)
	}
	_ = m.EnterMode(ctx, models.ModeSuspend, "maintenance")
	if err := m.ErrIfSuspended(ctx); !errors.Is(err, modedomain.ErrSuspended) {
		t.Fatalf("err = %v, want ErrSuspended", err)
	}
	if m.Suspended(ctx) != 1 {
		t.Error("Suspended() = 0, want 1")
	}
}

func TestCurrentMode_ConcurrentRefreshNotifiesOnce(t *testing.T) {
	store := &memoryStore{}
	m, clk, changes := newManager(store)
	ctx := context.Background()
	m.CurrentMode(ctx)

	rec, _ := models.NewModeRecord(models.ModeSuspend, "elsewhere", clk.Now())
	_ = store.Append(ctx, rec)
	clk.Add(DefaultRefreshInterval)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.CurrentMode(ctx)
		}()
	}
	wg.Wait()

	if n := len(changes.all()); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
}

func TestLastRecord(t *testing.T) {
	store := &memoryStore{}
	m, _, _ := newManager(store)
	ctx := context.Background()

	rec, err := m.LastRecord(ctx)
	if err != nil || !rec.IsDefault() {
		t.Fatalf("LastRecord() = %+v, %v", rec, err)
	}
	_ = m.EnterMode(ctx, models.ModeSuspend, "maintenance")
	rec, _ = m.LastRecord(ctx)
	if rec.Mode != models.ModeSuspend || rec.Reason != "maintenance" {
		t.Fatalf("LastRecord() = %+v", rec)
	}
}

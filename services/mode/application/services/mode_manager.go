package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"

	"github.com/ghuser/entitlements/pkg/logger"
	modedomain "github.com/ghuser/entitlements/services/mode/domain"
	"github.com/ghuser/entitlements/services/mode/domain/models"
	"github.com/ghuser/entitlements/services/mode/domain/repositories"
)

// Default timings for ModeManager.
const (
	DefaultRefreshInterval   = 10 * time.Second
	DefaultMinChangeInterval = 10 * time.Second
)

// ModeChangeListener is notified when the effective mode changes. Listeners
// run synchronously while the manager holds its refresh lock, so they must
// not call EnterMode.
type ModeChangeListener interface {
	ModeChanged(ctx context.Context, previous models.Mode, current models.ModeRecord)
}

// ModeChangeFunc adapts a function to ModeChangeListener.
type ModeChangeFunc func(ctx context.Context, previous models.Mode, current models.ModeRecord)

// ModeChanged implements ModeChangeListener.
func (f ModeChangeFunc) ModeChanged(ctx context.Context, previous models.Mode, current models.ModeRecord) {
	f(ctx, previous, current)
}

// Options tune ModeManager timings. Zero values select the defaults.
type Options struct {
	RefreshInterval   time.Duration
	MinChangeInterval time.Duration
	Clock             clock.Clock
}

type snapshot struct {
	record      models.ModeRecord
	nextRefresh time.Time
}

// ModeManager caches the cluster mode with bounded staleness and debounces
// mode changes. Readers take an atomic snapshot; the store read, the write
// path and listener notification are serialized by one mutex.
type ModeManager struct {
	store             repositories.ModeStore
	clock             clock.Clock
	log               logger.Logger
	refreshInterval   time.Duration
	minChangeInterval time.Duration

	current   atomic.Pointer[snapshot]
	mu        sync.Mutex
	listeners []ModeChangeListener
}

// NewModeManager returns a manager that reads store on its first call.
func NewModeManager(store repositories.ModeStore, opts Options, log logger.Logger) *ModeManager {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.MinChangeInterval <= 0 {
		opts.MinChangeInterval = DefaultMinChangeInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	m := &ModeManager{
		store:             store,
		clock:             opts.Clock,
		log:               log,
		refreshInterval:   opts.RefreshInterval,
		minChangeInterval: opts.MinChangeInterval,
	}
	m.current.Store(&snapshot{record: models.DefaultRecord()})
	return m
}

// RegisterModeChangeListener appends l to the notification list.
func (m *ModeManager) RegisterModeChangeListener(l ModeChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// CurrentMode returns the cached mode, refreshing it from the store when
// the cache is older than the refresh interval.
func (m *ModeManager) CurrentMode(ctx context.Context) models.Mode {
	return m.Current(ctx).Mode
}

// Current is CurrentMode returning the whole cached record.
func (m *ModeManager) Current(ctx context.Context) models.ModeRecord {
	snap := m.current.Load()
	if m.clock.Now().Before(snap.nextRefresh) {
		return snap.record
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	snap = m.current.Load()
	now := m.clock.Now()
	if now.Before(snap.nextRefresh) {
		return snap.record
	}

	latest, err := m.store.Latest(ctx)
	if err != nil {
		m.log.WarnContext(ctx, "mode: refresh failed, keeping cached mode",
			"mode", snap.record.Mode.String(), "error", err)
		m.current.Store(&snapshot{record: snap.record, nextRefresh: now.Add(m.refreshInterval)})
		return snap.record
	}

	record := models.DefaultRecord()
	if latest != nil {
		record = *latest
	}
	m.current.Store(&snapshot{record: record, nextRefresh: now.Add(m.refreshInterval)})
	if record.Mode != snap.record.Mode {
		m.notify(ctx, snap.record.Mode, record)
	}
	return record
}

// EnterMode records a transition to mode. A request arriving less than the
// minimum change interval after the latest record is ignored and returns
// nil. Store failures are returned.
func (m *ModeManager) EnterMode(ctx context.Context, mode models.Mode, reason string) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", modedomain.ErrInvalidMode, mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	latest, err := m.store.Latest(ctx)
	if err != nil {
		return fmt.Errorf("read mode: %w", err)
	}
	if latest != nil {
		if active := now.Sub(latest.ChangeTime); active < m.minChangeInterval {
			m.log.InfoContext(ctx, "mode: change ignored, current mode too recent",
				"current", latest.Mode.String(),
				"requested", mode.String(),
				"active_for", active.String(),
				"min_interval", m.minChangeInterval.String(),
			)
			return nil
		}
	}

	record, err := models.NewModeRecord(mode, reason, now)
	if err != nil {
		return err
	}
	if err := m.store.Append(ctx, record); err != nil {
		return fmt.Errorf("append mode record: %w", err)
	}

	previous := m.current.Load().record.Mode
	m.current.Store(&snapshot{record: record, nextRefresh: now.Add(m.refreshInterval)})
	m.log.InfoContext(ctx, "mode: entered", "mode", mode.String(), "reason", record.Reason)

	if previous != mode {
		m.notify(ctx, previous, record)
	}
	return nil
}

// LastRecord reads the latest record straight from the store, bypassing
// the cache. Returns the default NORMAL record when the history is empty.
func (m *ModeManager) LastRecord(ctx context.Context) (models.ModeRecord, error) {
	latest, err := m.store.Latest(ctx)
	if err != nil {
		return models.ModeRecord{}, fmt.Errorf("read mode: %w", err)
	}
	if latest == nil {
		return models.DefaultRecord(), nil
	}
	return *latest, nil
}

// ErrIfSuspended returns ErrSuspended, wrapped with the reason, while the
// cached mode is SUSPEND.
func (m *ModeManager) ErrIfSuspended(ctx context.Context) error {
	if rec := m.Current(ctx); rec.Mode == models.ModeSuspend {
		return fmt.Errorf("%w: %s", modedomain.ErrSuspended, rec.Reason)
	}
	return nil
}

// Suspended reports the mode as a gauge value: 1 for SUSPEND, 0 otherwise.
func (m *ModeManager) Suspended(ctx context.Context) int64 {
	if m.CurrentMode(ctx) == models.ModeSuspend {
		return 1
	}
	return 0
}

// notify must be called with mu held.
func (m *ModeManager) notify(ctx context.Context, previous models.Mode, current models.ModeRecord) {
	m.log.InfoContext(ctx, "mode: changed",
		"from", previous.String(), "to", current.Mode.String(), "reason", current.Reason)
	for _, l := range m.listeners {
		l.ModeChanged(ctx, previous, current)
	}
}

// RefreshInterval is the staleness bound of CurrentMode.
func (m *ModeManager) RefreshInterval() time.Duration { return m.refreshInterval }

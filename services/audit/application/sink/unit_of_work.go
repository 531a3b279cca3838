package sink

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ghuser/entitlements/services/audit/domain/events"
)

// State is the lifecycle position of a unit of work.
type State int

const (
	StateEmpty State = iota
	StateQueueing
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateQueueing:
		return "QUEUEING"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack
}

// UnitOfWork is the per-request or per-job event buffer. It is owned by a
// single goroutine at a time; the mutex only guards against misuse from
// helper goroutines spawned by the owner.
type UnitOfWork struct {
	id string

	mu     sync.Mutex
	state  State
	events []events.Event
	values map[any]any
}

func newUnitOfWork() *UnitOfWork {
	return &UnitOfWork{id: uuid.NewString()}
}

// ID identifies the unit of work in logs.
func (u *UnitOfWork) ID() string { return u.id }

// State returns the current lifecycle state.
func (u *UnitOfWork) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Events returns a copy of the accepted events in queue order.
func (u *UnitOfWork) Events() []events.Event {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]events.Event, len(u.events))
	copy(out, u.events)
	return out
}

// Value returns listener-local state stored under key.
func (u *UnitOfWork) Value(key any) any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.values[key]
}

// SetValue stores listener-local state for the lifetime of the unit of work.
// Listeners use unexported key types, as with context keys.
func (u *UnitOfWork) SetValue(key, value any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.values == nil {
		u.values = make(map[any]any)
	}
	u.values[key] = value
}

func (u *UnitOfWork) append(e events.Event) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state.Terminal() {
		return errFinished(u.state)
	}
	u.state = StateQueueing
	u.events = append(u.events, e)
	return nil
}

// finish moves to the terminal state. It returns the previous state and
// false when the unit of work had already finished.
func (u *UnitOfWork) finish(to State) (State, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	prev := u.state
	if prev.Terminal() {
		return prev, false
	}
	u.state = to
	return prev, true
}

type uowKey struct{}

// FromContext returns the unit of work attached by EventSink.Begin.
func FromContext(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(uowKey{}).(*UnitOfWork)
	return u, ok
}

func withUnitOfWork(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, uowKey{}, u)
}

// Package sink coordinates event distribution for a unit of work.
//
// Lifecycle of one request or job:
//
//	ctx = sink.Begin(ctx)
//	sink.QueueEvent(ctx, e) // filtered, then fanned out to every listener
//	sink.SendEvents(ctx)    // or sink.Rollback(ctx), exactly once
//
// Listener failures are isolated: they are logged, counted and reported to
// Sentry, and never stop another listener. The one exception is a listener
// that shares the caller's transaction (the audit store); its OnEvent error
// is returned from QueueEvent so the business operation aborts.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/pkg/telemetry"
	auditdomain "github.com/ghuser/entitlements/services/audit/domain"
	"github.com/ghuser/entitlements/services/audit/domain/events"
	"github.com/ghuser/entitlements/services/audit/domain/filter"
)

// Listener call phases, used in logs and metrics.
const (
	phaseEvent    = "event"
	phaseCommit   = "commit"
	phaseRollback = "rollback"
)

// QueueStatus is the per-listener delivery summary served by /admin/queues.
type QueueStatus struct {
	Listener   string `json:"listener"`
	Received   uint64 `json:"received"`
	Committed  uint64 `json:"committed"`
	RolledBack uint64 `json:"rolledBack"`
	Failed     uint64 `json:"failed"`
}

type listenerStats struct {
	received   atomic.Uint64
	committed  atomic.Uint64
	rolledBack atomic.Uint64
	failed     atomic.Uint64
}

// EventSink is the process-wide event coordinator. The listener registry is
// append-only until the first unit of work begins and read-only afterwards,
// so dispatch needs no locking.
type EventSink struct {
	filter  *filter.Filter
	factory *events.Factory
	log     logger.Logger
	metrics telemetry.Recorder
	report  func(ctx context.Context, err error, tags map[string]string)

	mu        sync.Mutex
	frozen    atomic.Bool
	listeners []Listener
	stats     []*listenerStats
}

// NewEventSink returns a sink with no listeners. f may be nil to disable
// filtering; metrics may be nil to disable measurements.
func NewEventSink(f *filter.Filter, factory *events.Factory, log logger.Logger, metrics telemetry.Recorder) *EventSink {
	if metrics == nil {
		metrics = telemetry.NoopRecorder{}
	}
	return &EventSink{
		filter:  f,
		factory: factory,
		log:     log,
		metrics: metrics,
		report:  telemetry.CaptureError,
	}
}

// RegisterListener appends l to the registry. Registration order is the
// fan-out and commit order. Returns ErrRegistryFrozen once any unit of work
// has begun.
func (s *EventSink) RegisterListener(l Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen.Load() {
		return fmt.Errorf("register %s: %w", l.Name(), auditdomain.ErrRegistryFrozen)
	}
	s.listeners = append(s.listeners, l)
	s.stats = append(s.stats, &listenerStats{})
	s.log.Info("eventsink: listener registered", "listener", l.Name(), "position", len(s.listeners))
	return nil
}

// Listeners returns the registered listener names in order.
func (s *EventSink) Listeners() []string {
	names := make([]string, len(s.listeners))
	for i, l := range s.listeners {
		names[i] = l.Name()
	}
	return names
}

// Begin attaches a fresh unit of work to ctx and freezes the registry.
func (s *EventSink) Begin(ctx context.Context) context.Context {
	if !s.frozen.Load() {
		s.mu.Lock()
		s.frozen.Store(true)
		s.mu.Unlock()
	}
	u := newUnitOfWork()
	ctx = withUnitOfWork(ctx, u)
	return logger.WithUnitOfWork(ctx, u.ID())
}

// QueueEvent filters e and, if accepted, forwards it immediately to every
// listener in registration order.
//
// Returns ErrNoUnitOfWork when ctx carries no unit of work,
// ErrUnitOfWorkFinished after SendEvents or Rollback, and the error of any
// transaction-sharing listener. Other listener failures are swallowed.
func (s *EventSink) QueueEvent(ctx context.Context, e events.Event) error {
	u, ok := FromContext(ctx)
	if !ok {
		return fmt.Errorf("queue %s: %w", e.Key(), auditdomain.ErrNoUnitOfWork)
	}

	// Listeners and the unit of work share e; the caller keeps its own bytes.
	e.Payload = bytes.Clone(e.Payload)

	if s.filter.ShouldFilter(e) {
		s.log.DebugContext(ctx, "eventsink: event filtered", "event", e.Key(), "entity_id", e.EntityID)
		s.metrics.EventFiltered(ctx, e.Key())
		return nil
	}

	if err := u.append(e); err != nil {
		s.log.WarnContext(ctx, "eventsink: event queued after unit of work finished",
			"event", e.Key(), "entity_id", e.EntityID, "error", err)
		return err
	}
	s.metrics.EventQueued(ctx, e.Key())

	for i, l := range s.listeners {
		s.stats[i].received.Add(1)
		err := s.call(ctx, l, phaseEvent, func(ctx context.Context) error { return l.OnEvent(ctx, e) })
		if err == nil {
			continue
		}
		s.stats[i].failed.Add(1)
		if sharesTransaction(l) {
			return fmt.Errorf("%s listener: %w", l.Name(), err)
		}
	}
	return nil
}

// SendEvents commits every listener in registration order. It never fails;
// listener errors and panics are logged and do not stop later listeners.
// A second terminal call on the same unit of work is logged and ignored.
func (s *EventSink) SendEvents(ctx context.Context) {
	if !s.finish(ctx, StateCommitted) {
		return
	}
	for i, l := range s.listeners {
		if err := s.call(ctx, l, phaseCommit, l.Commit); err != nil {
			s.stats[i].failed.Add(1)
			continue
		}
		s.stats[i].committed.Add(1)
	}
}

// Rollback rolls back every listener in registration order, with the same
// failure policy as SendEvents. Callers abandoning a unit of work must still
// call Rollback so listeners release buffered state.
func (s *EventSink) Rollback(ctx context.Context) {
	if !s.finish(ctx, StateRolledBack) {
		return
	}
	for i, l := range s.listeners {
		if err := s.call(ctx, l, phaseRollback, l.Rollback); err != nil {
			s.stats[i].failed.Add(1)
			continue
		}
		s.stats[i].rolledBack.Add(1)
	}
}

// Do runs fn inside a fresh unit of work: SendEvents when fn succeeds,
// Rollback when it returns an error or panics. The panic is re-raised.
// No database transaction is opened; see Transactional.
func (s *EventSink) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx = s.Begin(ctx)
	committed := false
	defer func() {
		if !committed {
			s.Rollback(ctx)
		}
	}()

	if err = fn(ctx); err != nil {
		return err
	}
	committed = true
	s.SendEvents(ctx)
	return nil
}

// QueueInfo returns per-listener delivery counters in registration order.
func (s *EventSink) QueueInfo() []QueueStatus {
	out := make([]QueueStatus, len(s.listeners))
	for i, l := range s.listeners {
		st := s.stats[i]
		out[i] = QueueStatus{
			Listener:   l.Name(),
			Received:   st.received.Load(),
			Committed:  st.committed.Load(),
			RolledBack: st.rolledBack.Load(),
			Failed:     st.failed.Load(),
		}
	}
	return out
}

func (s *EventSink) finish(ctx context.Context, to State) bool {
	u, ok := FromContext(ctx)
	if !ok {
		s.log.WarnContext(ctx, "eventsink: terminal call without unit of work", "state", to.String())
		return false
	}
	prev, ok := u.finish(to)
	if !ok {
		s.log.WarnContext(ctx, "eventsink: unit of work already finished",
			"state", prev.String(), "requested", to.String())
		return false
	}
	s.log.DebugContext(ctx, "eventsink: unit of work finished",
		"state", to.String(), "events", len(u.Events()))
	return true
}

// call is the per-listener error boundary: it converts panics into errors
// and logs, counts and reports every failure.
func (s *EventSink) call(ctx context.Context, l Listener, phase string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s listener %s: %v", l.Name(), phase, r)
			s.log.ErrorContext(ctx, "eventsink: listener panicked",
				"listener", l.Name(),
				"phase", phase,
				"error", r,
				"stack", string(debug.Stack()),
			)
			s.metrics.ListenerFailed(ctx, l.Name(), phase)
			s.report(ctx, err, map[string]string{"listener": l.Name(), "phase": phase})
		}
	}()

	if err = fn(ctx); err != nil {
		s.log.ErrorContext(ctx, "eventsink: listener failed",
			"listener", l.Name(),
			"phase", phase,
			"error", err,
		)
		s.metrics.ListenerFailed(ctx, l.Name(), phase)
		s.report(ctx, err, map[string]string{"listener": l.Name(), "phase": phase})
	}
	return err
}

func errFinished(state State) error {
	return fmt.Errorf("%w: %s", auditdomain.ErrUnitOfWorkFinished, state)
}

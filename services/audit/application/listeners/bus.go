package listeners

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	pkgevents "github.com/ghuser/entitlements/pkg/events"
	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/services/audit/application/sink"
	auditdomain "github.com/ghuser/entitlements/services/audit/domain"
	"github.com/ghuser/entitlements/services/audit/domain/events"
)

// Message metadata keys set on every bus message.
const (
	MetaEventID     = "event_id"
	MetaRoutingKey  = "routing_key"
	MetaDestination = "destination"
	MetaEventType   = "event_type"
	MetaEventTarget = "event_target"
)

const acquireTimeout = 5 * time.Second

type busLeaseKey struct{}

// busLease is the broker session a unit of work holds from its first event
// until its terminal call.
type busLease struct {
	session pkgevents.Session
	broken  bool
}

// BusPublisher publishes events to the message bus, routed by
// events.RoutingKey. Messages go into a transacted session leased from the
// pool on the unit of work's first event and become visible to consumers
// only on Commit. Released sessions serve later units of work.
type BusPublisher struct {
	pool *pkgevents.SessionPool
	log  logger.Logger
}

// NewBusPublisher returns a BusPublisher drawing sessions from pool.
func NewBusPublisher(pool *pkgevents.SessionPool, log logger.Logger) *BusPublisher {
	return &BusPublisher{pool: pool, log: log.With("listener", NameBus)}
}

func (p *BusPublisher) Name() string { return NameBus }

func (p *BusPublisher) OnEvent(ctx context.Context, e events.Event) error {
	u, ok := sink.FromContext(ctx)
	if !ok {
		return auditdomain.ErrNoUnitOfWork
	}

	payload, err := e.Marshal()
	if err != nil {
		return err
	}

	lease, err := p.lease(ctx, u)
	if err != nil {
		return err
	}

	msg := message.NewMessage(e.ID.String(), payload)
	msg.Metadata.Set(MetaEventID, e.ID.String())
	msg.Metadata.Set(MetaRoutingKey, e.RoutingKey())
	msg.Metadata.Set(MetaDestination, e.Destination())
	msg.Metadata.Set(MetaEventType, string(e.Type))
	msg.Metadata.Set(MetaEventTarget, string(e.Target))

	if err := lease.session.Publish(ctx, e.RoutingKey(), msg); err != nil {
		lease.broken = true
		return fmt.Errorf("bus: %s: %w", e.RoutingKey(), err)
	}
	p.log.DebugContext(ctx, "bus: event staged", "routing_key", e.RoutingKey(), "event_id", e.ID.String())
	return nil
}

// Commit makes the unit of work's messages visible and returns the session
// to the pool. A session that failed is closed instead.
func (p *BusPublisher) Commit(ctx context.Context) error {
	return p.finish(ctx, "commit", func(s pkgevents.Session) error { return s.Commit(ctx) })
}

// Rollback discards the unit of work's messages and returns the session.
func (p *BusPublisher) Rollback(ctx context.Context) error {
	return p.finish(ctx, "rollback", func(s pkgevents.Session) error { return s.Rollback(ctx) })
}

func (p *BusPublisher) lease(ctx context.Context, u *sink.UnitOfWork) (*busLease, error) {
	if l, ok := u.Value(busLeaseKey{}).(*busLease); ok && l != nil {
		return l, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()
	s, err := p.pool.Acquire(acquireCtx)
	if err != nil {
		return nil, fmt.Errorf("bus: lease session: %w", err)
	}
	l := &busLease{session: s}
	u.SetValue(busLeaseKey{}, l)
	return l, nil
}

func (p *BusPublisher) finish(ctx context.Context, op string, fn func(pkgevents.Session) error) error {
	u, ok := sink.FromContext(ctx)
	if !ok {
		return nil
	}
	l, ok := u.Value(busLeaseKey{}).(*busLease)
	if !ok || l == nil {
		return nil
	}
	u.SetValue(busLeaseKey{}, (*busLease)(nil))

	err := fn(l.session)
	if err != nil || l.broken {
		p.pool.Discard(l.session)
	} else {
		p.pool.Release(l.session)
	}
	if err != nil {
		return fmt.Errorf("bus: %s: %w", op, err)
	}
	if l.broken {
		return errors.New("bus: session discarded after publish failure")
	}
	return nil
}

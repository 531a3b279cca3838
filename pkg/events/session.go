package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/ghuser/entitlements/pkg/logger"
)

// ErrPoolClosed is returned by Acquire after the pool has been closed.
var ErrPoolClosed = errors.New("events: session pool closed")

// Session is a transacted broker session. Messages published into it are
// invisible to consumers until Commit; Rollback discards them. A session
// survives many commit/rollback cycles. Not safe for concurrent use: one
// unit of work holds it at a time.
type Session interface {
	Publish(ctx context.Context, topic string, msgs ...*message.Message) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
}

// Broker creates sessions against one message bus.
type Broker interface {
	NewSession(ctx context.Context) (Session, error)
	Ping(ctx context.Context) error
}

// sqlSession owns one pinned connection. The transaction is opened on first
// Publish and the per-topic publishers bound to it live until the
// transaction ends.
type sqlSession struct {
	conn       *sql.Conn
	bus        *EventBus
	tx         *sql.Tx
	publishers map[string]message.Publisher
}

func (s *sqlSession) Publish(ctx context.Context, topic string, msgs ...*message.Message) error {
	if s.tx == nil {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("events: begin session tx: %w", err)
		}
		s.tx = tx
	}

	pub, ok := s.publishers[topic]
	if !ok {
		var err error
		if pub, err = s.bus.NewTxPublisher(s.tx); err != nil {
			return err
		}
		s.publishers[topic] = pub
	}

	injectTrace(ctx, msgs)
	if err := pub.Publish(topic, msgs...); err != nil { //nolint:contextcheck
		return fmt.Errorf("events: publish to %s: %w", topic, err)
	}
	return nil
}

func (s *sqlSession) Commit(_ context.Context) error {
	if s.tx == nil {
		return nil
	}
	defer s.reset()
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("events: commit session: %w", err)
	}
	return nil
}

func (s *sqlSession) Rollback(_ context.Context) error {
	if s.tx == nil {
		return nil
	}
	defer s.reset()
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("events: rollback session: %w", err)
	}
	return nil
}

func (s *sqlSession) reset() {
	s.tx = nil
	clear(s.publishers)
}

func (s *sqlSession) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.reset()
	}
	return s.conn.Close()
}

// SessionPool bounds the number of live broker sessions and reuses released
// ones, so a busy server keeps one session per concurrently running unit of
// work instead of opening one per event.
type SessionPool struct {
	broker Broker
	log    logger.Logger
	idle   chan Session
	slots  chan struct{}
	closed atomic.Bool
	mu     sync.Mutex
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Open int `json:"open"`
	Idle int `json:"idle"`
	Max  int `json:"max"`
}

// NewSessionPool returns a pool holding at most size sessions.
func NewSessionPool(broker Broker, size int, log logger.Logger) *SessionPool {
	if size < 1 {
		size = 1
	}
	return &SessionPool{
		broker: broker,
		log:    log,
		idle:   make(chan Session, size),
		slots:  make(chan struct{}, size),
	}
}

// Acquire returns an idle session, or opens a new one while under the
// limit. It blocks until a session is released or ctx is done.
func (p *SessionPool) Acquire(ctx context.Context) (Session, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	select {
	case s := <-p.idle:
		return s, nil
	default:
	}

	select {
	case s := <-p.idle:
		return s, nil
	case p.slots <- struct{}{}:
		s, err := p.broker.NewSession(ctx)
		if err != nil {
			<-p.slots
			return nil, err
		}
		p.log.DebugContext(ctx, "events: session opened", "open", len(p.slots))
		return s, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("events: acquire session: %w", ctx.Err())
	}
}

// Release hands a healthy session back for reuse. The caller must have
// committed or rolled it back.
func (p *SessionPool) Release(s Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		p.discard(s)
		return
	}
	select {
	case p.idle <- s:
	default:
		p.discard(s)
	}
}

// Discard closes a broken session and frees its slot.
func (p *SessionPool) Discard(s Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discard(s)
}

func (p *SessionPool) discard(s Session) {
	if err := s.Close(); err != nil {
		p.log.Warn("events: close session", "error", err)
	}
	<-p.slots
}

// Stats reports current occupancy.
func (p *SessionPool) Stats() PoolStats {
	return PoolStats{Open: len(p.slots), Idle: len(p.idle), Max: cap(p.slots)}
}

// Close closes every idle session. Sessions still leased are closed when
// they are released.
func (p *SessionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed.Store(true)

	var errs []error
	for {
		select {
		case s := <-p.idle:
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
			<-p.slots
		default:
			return errors.Join(errs...)
		}
	}
}

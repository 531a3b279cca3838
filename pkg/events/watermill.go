package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	watermillsql "github.com/ThreeDotsLabs/watermill-sql/v3/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/components/forwarder"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/ghuser/entitlements/pkg/config"
	"github.com/ghuser/entitlements/pkg/logger"
)

// forwarderTopic is the durable queue committed messages pass through
// when the forwarder is enabled.
const forwarderTopic = "_forwarder_queue"

var (
	schema  = watermillsql.DefaultPostgreSQLSchema{}
	offsets = watermillsql.DefaultPostgreSQLOffsetsAdapter{}
)

// EventBus is the PostgreSQL-backed Bus. Consumers claim rows with
// FOR UPDATE SKIP LOCKED, so instances of one service split the load.
type EventBus struct {
	*consumers

	db           *sql.DB
	subscriber   *watermillsql.Subscriber
	group        string
	useForwarder bool
	fwd          *forwarder.Forwarder
}

// NewEventBus connects to cfg.BusDSN(). With cfg.BusUseForwarder, sessions
// publish forwarder envelopes and StartForwarder must run for messages to
// reach their topics.
func NewEventBus(cfg *config.Config, log logger.Logger) (*EventBus, error) {
	db, err := sql.Open("pgx", cfg.BusDSN())
	if err != nil {
		return nil, fmt.Errorf("events: open db: %w", err)
	}

	b := &EventBus{
		consumers:    newConsumers(log),
		db:           db,
		group:        cfg.ServiceName + "-consumer",
		useForwarder: cfg.BusUseForwarder,
	}
	if b.subscriber, err = b.newSubscriber(b.group); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *EventBus) newSubscriber(group string) (*watermillsql.Subscriber, error) {
	sub, err := watermillsql.NewSubscriber(b.db, watermillsql.SubscriberConfig{
		SchemaAdapter:    schema,
		OffsetsAdapter:   offsets,
		InitializeSchema: true,
		ConsumerGroup:    group,
	}, b.wlog)
	if err != nil {
		return nil, fmt.Errorf("events: subscriber %s: %w", group, err)
	}
	return sub, nil
}

// InitializeSchema creates the tables for topics so that publishing inside
// a unit of work never runs DDL.
func (b *EventBus) InitializeSchema(ctx context.Context, topics ...string) error {
	if b.useForwarder {
		topics = append(topics, forwarderTopic)
	}
	for _, topic := range topics {
		if err := b.subscriber.SubscribeInitialize(topic); err != nil {
			return fmt.Errorf("events: initialize topic %s: %w", topic, err)
		}
	}
	b.log.InfoContext(ctx, "events: topic schema initialized", "topics", len(topics))
	return nil
}

// StartForwarder runs the daemon moving envelopes from the forwarder queue
// to their target topics, returning once it is running. It runs until ctx
// ends or the bus is closed.
func (b *EventBus) StartForwarder(ctx context.Context) error {
	switch {
	case !b.useForwarder:
		return errors.New("events: forwarder is not enabled on this bus")
	case b.fwd != nil:
		return errors.New("events: forwarder already started")
	}

	sub, err := b.newSubscriber("forwarder-consumer")
	if err != nil {
		return err
	}
	pub, err := watermillsql.NewPublisher(b.db, watermillsql.PublisherConfig{
		SchemaAdapter:        schema,
		AutoInitializeSchema: true,
	}, b.wlog)
	if err != nil {
		_ = sub.Close()
		return fmt.Errorf("events: forwarder publisher: %w", err)
	}
	fwd, err := forwarder.NewForwarder(sub, pub, b.wlog, forwarder.Config{ForwarderTopic: forwarderTopic})
	if err != nil {
		_ = pub.Close()
		_ = sub.Close()
		return fmt.Errorf("events: create forwarder: %w", err)
	}
	b.fwd = fwd

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := fwd.Run(ctx); err != nil {
			b.log.ErrorContext(ctx, "events: forwarder stopped", "error", err)
		}
	}()

	select {
	case <-fwd.Running():
		b.log.InfoContext(ctx, "events: forwarder running")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("events: waiting for forwarder: %w", ctx.Err())
	}
}

// NewSession pins a connection for one pooled session. The session opens
// a transaction on first Publish and keeps it until Commit or Rollback.
func (b *EventBus) NewSession(ctx context.Context) (Session, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("events: open session connection: %w", err)
	}
	return &sqlSession{conn: conn, bus: b, publishers: make(map[string]message.Publisher)}, nil
}

// NewTxPublisher returns a Publisher writing inside tx. Topic tables must
// already exist; see InitializeSchema.
func (b *EventBus) NewTxPublisher(tx *sql.Tx) (message.Publisher, error) {
	pub, err := watermillsql.NewPublisher(tx, watermillsql.PublisherConfig{
		SchemaAdapter: schema,
	}, b.wlog)
	if err != nil {
		return nil, fmt.Errorf("events: new tx publisher: %w", err)
	}
	if !b.useForwarder {
		return pub, nil
	}
	return forwarder.NewPublisher(pub, forwarder.PublisherConfig{ForwarderTopic: forwarderTopic}), nil
}

// Subscribe consumes topic as part of the service's consumer group.
func (b *EventBus) Subscribe(ctx context.Context, topic string, handler Handler) (<-chan error, error) {
	ch, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("events: subscribe to %s: %w", topic, err)
	}
	return b.start(ctx, topic, ch, handler), nil
}

// Ping checks the bus database.
func (b *EventBus) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("events: ping db: %w", err)
	}
	return nil
}

// Close stops the subscriber and forwarder, waits for in-flight handlers
// and closes the database. Return sessions to their pool and close it
// first.
func (b *EventBus) Close() error {
	var errs []error
	if err := b.subscriber.Close(); err != nil {
		errs = append(errs, fmt.Errorf("events: close subscriber: %w", err))
	}
	if b.fwd != nil {
		if err := b.fwd.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events: close forwarder: %w", err))
		}
	}
	b.wait()
	errs = append(errs, b.db.Close())
	return errors.Join(errs...)
}

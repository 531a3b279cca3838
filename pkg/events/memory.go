package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/ghuser/entitlements/pkg/logger"
)

// MemoryBroker is an in-process Broker over a Watermill gochannel. Every
// subscriber of a topic receives every committed message. Used in
// development and tests; messages do not survive a restart.
type MemoryBroker struct {
	*consumers

	ps *gochannel.GoChannel
}

// NewMemoryBroker returns a ready MemoryBroker.
func NewMemoryBroker(log logger.Logger) *MemoryBroker {
	c := newConsumers(log)
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, c.wlog)
	return &MemoryBroker{consumers: c, ps: ps}
}

// NewSession returns a session that buffers messages until Commit.
func (b *MemoryBroker) NewSession(context.Context) (Session, error) {
	return &memorySession{broker: b}, nil
}

// Ping always succeeds while the broker is open.
func (b *MemoryBroker) Ping(context.Context) error {
	return nil
}

// Subscribe registers handler for topic with the same ack and retry policy
// as EventBus.Subscribe.
func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, handler Handler) (<-chan error, error) {
	ch, err := b.ps.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("events: subscribe to %s: %w", topic, err)
	}
	return b.start(ctx, topic, ch, handler), nil
}

// Close stops delivery and waits for in-flight handlers.
func (b *MemoryBroker) Close() error {
	if err := b.ps.Close(); err != nil {
		return fmt.Errorf("events: close gochannel: %w", err)
	}
	b.wait()
	return nil
}

type pending struct {
	topic string
	msgs  []*message.Message
}

type memorySession struct {
	broker *MemoryBroker
	queue  []pending
}

func (s *memorySession) Publish(ctx context.Context, topic string, msgs ...*message.Message) error {
	injectTrace(ctx, msgs)
	s.queue = append(s.queue, pending{topic: topic, msgs: msgs})
	return nil
}

func (s *memorySession) Commit(context.Context) error {
	defer func() { s.queue = nil }()
	for _, p := range s.queue {
		if err := s.broker.ps.Publish(p.topic, p.msgs...); err != nil {
			return fmt.Errorf("events: publish to %s: %w", p.topic, err)
		}
	}
	return nil
}

func (s *memorySession) Rollback(context.Context) error {
	s.queue = nil
	return nil
}

func (s *memorySession) Close() error {
	s.queue = nil
	return nil
}

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ghuser/entitlements/pkg/logger"
)

const (
	errBuffer    = 100
	drainTimeout = 30 * time.Second
)

// Handler processes one consumed message. ctx carries the publisher's trace.
type Handler func(context.Context, *message.Message) error

// RetryPolicy bounds how often a consumer re-runs a failing handler before
// nacking the message. Delay doubles after every failed attempt.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry is used by both brokers.
var DefaultRetry = RetryPolicy{Attempts: 3, Delay: time.Second}

func (p RetryPolicy) run(ctx context.Context, msg *message.Message, h Handler, wlog watermill.LoggerAdapter) error {
	msg.SetContext(ctx)
	call := func(m *message.Message) ([]*message.Message, error) {
		return nil, h(m.Context(), m)
	}
	if p.Attempts > 1 {
		call = middleware.Retry{
			MaxRetries:      p.Attempts - 1,
			InitialInterval: p.Delay,
			MaxInterval:     p.Delay << p.Attempts,
			Multiplier:      2,
			Logger:          wlog,
		}.Middleware(call)
	}
	if _, err := call(msg); err != nil {
		return fmt.Errorf("events: handler failed after %d attempts: %w", max(p.Attempts, 1), err)
	}
	return nil
}

// consumers tracks the goroutines draining subscriptions so Close can wait
// for in-flight handlers.
type consumers struct {
	wg    sync.WaitGroup
	log   logger.Logger
	wlog  watermill.LoggerAdapter
	retry RetryPolicy
}

func newConsumers(log logger.Logger) *consumers {
	return &consumers{log: log, wlog: watermillLogger(log), retry: DefaultRetry}
}

// start acks each message from ch once handler succeeds and nacks it when
// the retry policy gives up. Failures are sent on the returned channel,
// which callers must drain; it closes when ch does.
func (c *consumers) start(ctx context.Context, topic string, ch <-chan *message.Message, handler Handler) <-chan error {
	errCh := make(chan error, errBuffer)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(errCh)

		for msg := range ch {
			msgCtx := extractTrace(ctx, msg)
			err := c.retry.run(msgCtx, msg, handler, c.wlog)
			if err == nil {
				msg.Ack()
				continue
			}
			msg.Nack()
			select {
			case errCh <- fmt.Errorf("%s: %w", topic, err):
			default:
				c.log.ErrorContext(msgCtx, "events: error channel full, dropping error", "error", err, "topic", topic)
			}
		}
	}()

	return errCh
}

// wait blocks until every consumer goroutine has exited or drainTimeout
// passes.
func (c *consumers) wait() {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		c.log.Error("events: timed out waiting for in-flight handlers")
	}
}

// injectTrace writes the trace context of ctx into every message.
func injectTrace(ctx context.Context, msgs []*message.Message) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for _, msg := range msgs {
		for k, v := range carrier {
			msg.Metadata.Set(k, v)
		}
	}
}

// extractTrace returns ctx carrying the trace recorded in msg's metadata.
func extractTrace(ctx context.Context, msg *message.Message) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
}

func watermillLogger(log logger.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(log.ToSlog())
}

package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ghuser/entitlements/controlplane"

// Recorder records control-plane metrics.
// Use NewRecorder() for OTel metrics or NoopRecorder{} when disabled.
type Recorder interface {
	// EventQueued counts an event accepted by the sink, keyed TYPE-TARGET.
	EventQueued(ctx context.Context, key string)
	// EventFiltered counts an event suppressed by the audit filter.
	EventFiltered(ctx context.Context, key string)
	// ListenerFailed counts a listener error or panic in the given phase
	// (event, commit, rollback).
	ListenerFailed(ctx context.Context, listener, phase string)
}

type otelRecorder struct {
	queued   metric.Int64Counter
	filtered metric.Int64Counter
	failures metric.Int64Counter
}

var (
	defaultRecorder     *otelRecorder
	defaultRecorderOnce sync.Once
	defaultRecorderErr  error
)

func newOtelRecorder() (*otelRecorder, error) {
	meter := otel.Meter(meterName)

	queued, err := meter.Int64Counter("eventsink.events.queued",
		metric.WithDescription("Events accepted by the event sink"),
	)
	if err != nil {
		return nil, err
	}

	filtered, err := meter.Int64Counter("eventsink.events.filtered",
		metric.WithDescription("Events suppressed by the audit filter"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("eventsink.listener.failures",
		metric.WithDescription("Listener errors isolated by the event sink"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{queued: queued, filtered: filtered, failures: failures}, nil
}

// NewRecorder returns a Recorder backed by the global OTel meter provider.
// Call it after Setup. Falls back to NoopRecorder if instruments cannot be
// created.
func NewRecorder() Recorder {
	defaultRecorderOnce.Do(func() {
		defaultRecorder, defaultRecorderErr = newOtelRecorder()
	})
	if defaultRecorderErr != nil {
		return NoopRecorder{}
	}
	return defaultRecorder
}

func (r *otelRecorder) EventQueued(ctx context.Context, key string) {
	r.queued.Add(ctx, 1, metric.WithAttributes(attribute.String("event", key)))
}

func (r *otelRecorder) EventFiltered(ctx context.Context, key string) {
	r.filtered.Add(ctx, 1, metric.WithAttributes(attribute.String("event", key)))
}

func (r *otelRecorder) ListenerFailed(ctx context.Context, listener, phase string) {
	r.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("listener", listener),
		attribute.String("phase", phase),
	))
}

// NoopRecorder discards every measurement.
type NoopRecorder struct{}

func (NoopRecorder) EventQueued(context.Context, string)            {}
func (NoopRecorder) EventFiltered(context.Context, string)          {}
func (NoopRecorder) ListenerFailed(context.Context, string, string) {}

// RegisterModeGauge exports the operating mode as a gauge: 0 for NORMAL and
// 1 for SUSPEND. read is called on every collection.
func RegisterModeGauge(read func(ctx context.Context) int64) error {
	meter := otel.Meter(meterName)
	_, err := meter.Int64ObservableGauge("mode.suspended",
		metric.WithDescription("1 while the server is in suspend mode"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(read(ctx))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("register mode gauge: %w", err)
	}
	return nil
}

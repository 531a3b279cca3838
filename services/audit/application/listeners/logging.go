package listeners

import (
	"context"

	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/services/audit/application/sink"
	"github.com/ghuser/entitlements/services/audit/domain/events"
)

type loggingBufferKey struct{}

// LoggingListener writes each committed event as one structured log line.
// Events are held on the unit of work until Commit and dropped on Rollback.
type LoggingListener struct {
	log logger.Logger
}

// NewLoggingListener returns a LoggingListener writing to log.
func NewLoggingListener(log logger.Logger) *LoggingListener {
	return &LoggingListener{log: log.With("listener", NameLogging)}
}

func (l *LoggingListener) Name() string { return NameLogging }

func (l *LoggingListener) OnEvent(ctx context.Context, e events.Event) error {
	u, ok := sink.FromContext(ctx)
	if !ok {
		l.write(ctx, e)
		return nil
	}
	buf, _ := u.Value(loggingBufferKey{}).([]events.Event)
	u.SetValue(loggingBufferKey{}, append(buf, e))
	return nil
}

func (l *LoggingListener) Commit(ctx context.Context) error {
	for _, e := range l.take(ctx) {
		l.write(ctx, e)
	}
	return nil
}

func (l *LoggingListener) Rollback(ctx context.Context) error {
	if n := len(l.take(ctx)); n > 0 {
		l.log.DebugContext(ctx, "audit log: discarded rolled back events", "count", n)
	}
	return nil
}

func (l *LoggingListener) take(ctx context.Context) []events.Event {
	u, ok := sink.FromContext(ctx)
	if !ok {
		return nil
	}
	buf, _ := u.Value(loggingBufferKey{}).([]events.Event)
	u.SetValue(loggingBufferKey{}, nil)
	return buf
}

func (l *LoggingListener) write(ctx context.Context, e events.Event) {
	l.log.InfoContext(ctx, "audit event",
		"event_id", e.ID.String(),
		"type", string(e.Type),
		"target", string(e.Target),
		"target_name", e.TargetName,
		"entity_id", e.EntityID,
		"owner_id", e.OwnerID,
		"principal", e.Principal.Name,
		"timestamp", e.Timestamp,
	)
}

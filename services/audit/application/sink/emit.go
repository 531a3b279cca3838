package sink

import (
	"context"

	"github.com/ghuser/entitlements/services/audit/domain/events"
)

// Emit* are the entry points business code calls for well-known events.
// Each builds the event with the principal resolved from ctx and queues it.

func (s *EventSink) EmitConsumerCreated(ctx context.Context, consumer events.Entity) error {
	return s.emit(ctx)(s.factory.ConsumerCreated(ctx, consumer))
}

func (s *EventSink) EmitConsumerModified(ctx context.Context, consumer events.Entity) error {
	return s.emit(ctx)(s.factory.ConsumerModified(ctx, consumer))
}

func (s *EventSink) EmitConsumerDeleted(ctx context.Context, consumer events.Entity) error {
	return s.emit(ctx)(s.factory.ConsumerDeleted(ctx, consumer))
}

func (s *EventSink) EmitOwnerCreated(ctx context.Context, owner events.Entity) error {
	return s.emit(ctx)(s.factory.OwnerCreated(ctx, owner))
}

func (s *EventSink) EmitOwnerMigrated(ctx context.Context, owner events.Entity) error {
	return s.emit(ctx)(s.factory.OwnerMigrated(ctx, owner))
}

func (s *EventSink) EmitPoolCreated(ctx context.Context, pool events.Entity) error {
	return s.emit(ctx)(s.factory.PoolCreated(ctx, pool))
}

func (s *EventSink) EmitPoolDeleted(ctx context.Context, pool events.Entity) error {
	return s.emit(ctx)(s.factory.PoolDeleted(ctx, pool))
}

func (s *EventSink) EmitPoolExpired(ctx context.Context, pool events.Entity) error {
	return s.emit(ctx)(s.factory.PoolExpired(ctx, pool))
}

func (s *EventSink) EmitExportCreated(ctx context.Context, consumer events.Entity) error {
	return s.emit(ctx)(s.factory.ExportCreated(ctx, consumer))
}

func (s *EventSink) EmitImportCreated(ctx context.Context, owner events.Entity) error {
	return s.emit(ctx)(s.factory.ImportCreated(ctx, owner))
}

func (s *EventSink) EmitActivationKeyCreated(ctx context.Context, key events.Entity) error {
	return s.emit(ctx)(s.factory.ActivationKeyCreated(ctx, key))
}

func (s *EventSink) EmitSubscriptionExpired(ctx context.Context, sub events.Entity) error {
	return s.emit(ctx)(s.factory.SubscriptionExpired(ctx, sub))
}

func (s *EventSink) EmitRulesModified(ctx context.Context, oldRules, newRules events.Entity) error {
	return s.emit(ctx)(s.factory.RulesModified(ctx, oldRules, newRules))
}

func (s *EventSink) EmitRulesDeleted(ctx context.Context, rules events.Entity) error {
	return s.emit(ctx)(s.factory.RulesDeleted(ctx, rules))
}

// EmitCompliance records a freshly computed compliance status.
func (s *EventSink) EmitCompliance(ctx context.Context, consumer events.Entity, entitlementIDs []string, status any) error {
	return s.emit(ctx)(s.factory.ComplianceCreated(ctx, consumer, entitlementIDs, status))
}

func (s *EventSink) emit(ctx context.Context) func(events.Event, error) error {
	return func(e events.Event, err error) error {
		if err != nil {
			return err
		}
		return s.QueueEvent(ctx, e)
	}
}

package events

import "context"

// Entity is the slice of a business entity an event needs. Snapshot is the
// full view serialized into the payload for downstream consumers.
type Entity struct {
	ID       string
	OwnerID  string
	Name     string
	Snapshot any
}

// PrincipalResolver answers "who is performing this unit of work".
type PrincipalResolver interface {
	Principal(ctx context.Context) Principal
}

// PrincipalFunc adapts a function to PrincipalResolver.
type PrincipalFunc func(ctx context.Context) Principal

// Principal implements PrincipalResolver.
func (f PrincipalFunc) Principal(ctx context.Context) Principal { return f(ctx) }

// Factory builds the well-known business events.
type Factory struct {
	principals PrincipalResolver
}

// NewFactory returns a Factory that stamps events with the principal
// resolved from the caller's context.
func NewFactory(principals PrincipalResolver) *Factory {
	return &Factory{principals: principals}
}

func (f *Factory) build(ctx context.Context, typ Type, target Target, e Entity) (Event, error) {
	return New(typ, target, f.principals.Principal(ctx), e.ID, e.OwnerID, e.Name, e.Snapshot)
}

func (f *Factory) ConsumerCreated(ctx context.Context, consumer Entity) (Event, error) {
	return f.build(ctx, TypeCreated, TargetConsumer, consumer)
}

func (f *Factory) ConsumerModified(ctx context.Context, consumer Entity) (Event, error) {
	return f.build(ctx, TypeModified, TargetConsumer, consumer)
}

func (f *Factory) ConsumerDeleted(ctx context.Context, consumer Entity) (Event, error) {
	return f.build(ctx, TypeDeleted, TargetConsumer, consumer)
}

// OwnerCreated owner events are scoped to the owner itself.
func (f *Factory) OwnerCreated(ctx context.Context, owner Entity) (Event, error) {
	owner.OwnerID = owner.ID
	return f.build(ctx, TypeCreated, TargetOwner, owner)
}

func (f *Factory) OwnerMigrated(ctx context.Context, owner Entity) (Event, error) {
	owner.OwnerID = owner.ID
	return f.build(ctx, TypeModified, TargetOwner, owner)
}

func (f *Factory) PoolCreated(ctx context.Context, pool Entity) (Event, error) {
	return f.build(ctx, TypeCreated, TargetPool, pool)
}

func (f *Factory) PoolDeleted(ctx context.Context, pool Entity) (Event, error) {
	return f.build(ctx, TypeDeleted, TargetPool, pool)
}

func (f *Factory) PoolExpired(ctx context.Context, pool Entity) (Event, error) {
	return f.build(ctx, TypeExpired, TargetPool, pool)
}

// ExportCreated is raised against the consumer whose manifest was exported.
func (f *Factory) ExportCreated(ctx context.Context, consumer Entity) (Event, error) {
	return f.build(ctx, TypeCreated, TargetExport, consumer)
}

// ImportCreated is raised against the owner a manifest was imported into.
func (f *Factory) ImportCreated(ctx context.Context, owner Entity) (Event, error) {
	owner.OwnerID = owner.ID
	return f.build(ctx, TypeCreated, TargetImport, owner)
}

func (f *Factory) ActivationKeyCreated(ctx context.Context, key Entity) (Event, error) {
	return f.build(ctx, TypeCreated, TargetActivationKey, key)
}

func (f *Factory) SubscriptionExpired(ctx context.Context, sub Entity) (Event, error) {
	return f.build(ctx, TypeExpired, TargetSubscription, sub)
}

// RulesModified carries both rule versions in the payload.
func (f *Factory) RulesModified(ctx context.Context, oldRules, newRules Entity) (Event, error) {
	e := newRules
	e.Snapshot = map[string]any{"old": oldRules.Snapshot, "new": newRules.Snapshot}
	return f.build(ctx, TypeModified, TargetRules, e)
}

func (f *Factory) RulesDeleted(ctx context.Context, rules Entity) (Event, error) {
	return f.build(ctx, TypeDeleted, TargetRules, rules)
}

// ComplianceCreated records a computed compliance status for a consumer.
func (f *Factory) ComplianceCreated(ctx context.Context, consumer Entity, entitlementIDs []string, status any) (Event, error) {
	e := consumer
	e.Snapshot = map[string]any{
		"consumer":     consumer.Snapshot,
		"entitlements": entitlementIDs,
		"status":       status,
	}
	return f.build(ctx, TypeCreated, TargetCompliance, e)
}

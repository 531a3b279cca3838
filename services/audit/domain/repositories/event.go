package repositories

import (
	"context"

	"github.com/ghuser/entitlements/services/audit/domain/events"
)

// QueryOpts contains pagination parameters for list queries.
type QueryOpts struct {
	Limit  int // Maximum number of records to return
	Offset int // Number of records to skip
}

// EventRepository is the durable audit log. Save must join the transaction
// carried by ctx when there is one, so the audit row commits or rolls back
// with the business change that produced it.
type EventRepository interface {
	Save(ctx context.Context, e events.Event) error

	// FindByOwner returns the newest events for an owner first, plus the
	// total count ignoring pagination.
	FindByOwner(ctx context.Context, ownerID string, opts QueryOpts) ([]events.Event, int, error)
}

package sink

import (
	"context"

	"github.com/ghuser/entitlements/services/audit/domain/events"
)

// Listener receives accepted events and takes part in the unit of work's
// commit or rollback. OnEvent is called eagerly for every queued event;
// the listener decides whether to act immediately or buffer until Commit.
//
// Per-unit-of-work state belongs on the UnitOfWork found in ctx, never on
// the listener itself: one listener instance serves every concurrent
// request and job.
type Listener interface {
	Name() string
	OnEvent(ctx context.Context, e events.Event) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionSharer is implemented by listeners that write inside the
// caller's own persistence transaction. Their OnEvent errors are returned
// from QueueEvent and abort the business operation.
type TransactionSharer interface {
	SharesTransaction() bool
}

func sharesTransaction(l Listener) bool {
	ts, ok := l.(TransactionSharer)
	return ok && ts.SharesTransaction()
}

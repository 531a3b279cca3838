package listeners

import (
	"context"
	"fmt"

	"github.com/ghuser/entitlements/pkg/logger"
	auditdomain "github.com/ghuser/entitlements/services/audit/domain"
	"github.com/ghuser/entitlements/services/audit/domain/events"
	"github.com/ghuser/entitlements/services/audit/domain/repositories"
)

// AuditListener writes every event to the audit store inside the caller's
// transaction. Durability follows the outer transaction, so Commit and
// Rollback have nothing to do, and a write failure aborts the business
// operation.
type AuditListener struct {
	repo repositories.EventRepository
	log  logger.Logger
}

// NewAuditListener returns an AuditListener writing through repo.
func NewAuditListener(repo repositories.EventRepository, log logger.Logger) *AuditListener {
	return &AuditListener{repo: repo, log: log}
}

func (l *AuditListener) Name() string { return NameDatabase }

// SharesTransaction marks audit write errors as non-isolated.
func (l *AuditListener) SharesTransaction() bool { return true }

func (l *AuditListener) OnEvent(ctx context.Context, e events.Event) error {
	if err := l.repo.Save(ctx, e); err != nil {
		return fmt.Errorf("%w: %s: %w", auditdomain.ErrAuditWrite, e.Key(), err)
	}
	return nil
}

func (l *AuditListener) Commit(ctx context.Context) error {
	l.log.DebugContext(ctx, "audit: commit follows the request transaction")
	return nil
}

func (l *AuditListener) Rollback(ctx context.Context) error {
	l.log.DebugContext(ctx, "audit: rollback follows the request transaction")
	return nil
}

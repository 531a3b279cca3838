// Package listeners holds the event sink's listener implementations and
// builds the configured listener chain.
package listeners

import (
	"fmt"

	pkgevents "github.com/ghuser/entitlements/pkg/events"
	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/services/audit/application/sink"
	auditdomain "github.com/ghuser/entitlements/services/audit/domain"
	"github.com/ghuser/entitlements/services/audit/domain/repositories"
)

// Listener names accepted in AUDIT_LISTENERS.
const (
	NameDatabase = "database"
	NameLogging  = "logging"
	NameBus      = "bus"
)

// Deps are the collaborators listeners may need. Pool is nil when bus
// integration is disabled.
type Deps struct {
	Events repositories.EventRepository
	Pool   *pkgevents.SessionPool
	Log    logger.Logger
}

// New builds the listener called name.
func New(name string, deps Deps) (sink.Listener, error) {
	switch name {
	case NameDatabase:
		if deps.Events == nil {
			return nil, fmt.Errorf("%s: no event repository", name)
		}
		return NewAuditListener(deps.Events, deps.Log), nil
	case NameLogging:
		return NewLoggingListener(deps.Log), nil
	case NameBus:
		if deps.Pool == nil {
			return nil, fmt.Errorf("%s: no session pool", name)
		}
		return NewBusPublisher(deps.Pool, deps.Log), nil
	default:
		return nil, fmt.Errorf("%w: %q", auditdomain.ErrUnknownListener, name)
	}
}

// Register builds the listeners named in order and registers them with s.
// Names that cannot be built are logged and skipped so one bad entry does
// not keep the server from starting.
func Register(s *sink.EventSink, names []string, deps Deps) error {
	for _, name := range names {
		l, err := New(name, deps)
		if err != nil {
			deps.Log.Error("listeners: skipping listener", "listener", name, "error", err)
			continue
		}
		if err := s.RegisterListener(l); err != nil {
			return err
		}
	}
	return nil
}

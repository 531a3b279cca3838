package app

import (
	"github.com/gorilla/sessions"

	"github.com/ghuser/entitlements/pkg/cache"
	"github.com/ghuser/entitlements/pkg/database"
	"github.com/ghuser/entitlements/pkg/events"
	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/pkg/scheduler"
	"github.com/ghuser/entitlements/pkg/workflows"
	"github.com/ghuser/entitlements/services/audit/application/sink"
	auditevents "github.com/ghuser/entitlements/services/audit/domain/events"
	"github.com/ghuser/entitlements/services/audit/domain/repositories"
	modesvcs "github.com/ghuser/entitlements/services/mode/application/services"
)

// Application holds shared infrastructure dependencies for all services.
// Pass to all service Routes calls during server initialization.
//
// Logging: app.Logger is backed by a trace-aware handler. Use slog's context methods
// and trace_id, span_id, request_id and uow_id are injected automatically:
//
//	app.Logger.InfoContext(ctx, "pool created", "pool_id", id)
//	app.Logger.ErrorContext(ctx, "failed to save", "error", err)
//
// Use app.Logger.Info/Error (no context) only for startup and shutdown messages.
type Application struct {
	Db             *database.Database
	Logger         logger.Logger
	Version        string
	Bus            events.Bus          // nil when bus integration is disabled
	BusSessions    *events.SessionPool // nil when bus integration is disabled
	Redis          *cache.RedisClient  // nil when neither sessions nor the mode store need Redis
	TemporalClient *workflows.TemporalClient
	SessionStore   sessions.Store // Redis-backed session store; nil in worker process

	// Sink is the process-wide event sink. Every request and job runs in
	// one of its units of work.
	Sink        *sink.EventSink
	Events      *auditevents.Factory
	AuditEvents repositories.EventRepository
	Modes       *modesvcs.ModeManager
	Scheduler   *scheduler.Scheduler // nil in the API process
}

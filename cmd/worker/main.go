package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/ghuser/entitlements/pkg/app"
	"github.com/ghuser/entitlements/pkg/cache"
	"github.com/ghuser/entitlements/pkg/config"
	"github.com/ghuser/entitlements/pkg/database"
	"github.com/ghuser/entitlements/pkg/events"
	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/pkg/scheduler"
	"github.com/ghuser/entitlements/pkg/telemetry"
	"github.com/ghuser/entitlements/pkg/workflows"
	"github.com/ghuser/entitlements/services/audit/application/listeners"
	"github.com/ghuser/entitlements/services/audit/application/sink"
	auditevents "github.com/ghuser/entitlements/services/audit/domain/events"
	"github.com/ghuser/entitlements/services/audit/domain/filter"
	auditpg "github.com/ghuser/entitlements/services/audit/infrastructure/persistence/postgres"
	"github.com/ghuser/entitlements/services/mode/application/gates"
	modesvcs "github.com/ghuser/entitlements/services/mode/application/services"
	"github.com/ghuser/entitlements/services/mode/domain/repositories"
	modepg "github.com/ghuser/entitlements/services/mode/infrastructure/persistence/postgres"
	moderedis "github.com/ghuser/entitlements/services/mode/infrastructure/persistence/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := config.ValidateForProduction(cfg); err != nil {
		slog.Error("production config validation failed", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg)

	ctx := context.Background()

	otelShutdown, _, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Error("failed to setup otel", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx) //nolint:errcheck

	if err := telemetry.SetupSentry(cfg); err != nil {
		log.Warn("failed to setup sentry, continuing without crash reporting", "error", err)
	}
	defer telemetry.SentryFlush()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer pool.Close() //nolint:errcheck
	log.Info("database pool connected")

	var (
		redisClient *cache.RedisClient
		modeStore   repositories.ModeStore = modepg.NewModeStore(pool)
	)
	if cfg.ModeStoreBackend == config.ModeStoreRedis {
		redisClient, err = cache.NewRedisClient(ctx, cfg)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1) //nolint:gocritic
		}
		defer redisClient.Close() //nolint:errcheck
		log.Info("redis connected")
		modeStore = moderedis.NewModeStore(redisClient)
	}

	modes := modesvcs.NewModeManager(modeStore, modesvcs.Options{
		RefreshInterval:   cfg.ModeRefreshInterval,
		MinChangeInterval: cfg.ModeMinChangeInterval,
	}, log)

	factory := auditevents.NewFactory(sink.AuthPrincipals())
	eventSink := sink.NewEventSink(filter.New(filter.Config{
		Enabled:           cfg.AuditFilterEnabled,
		Policy:            filter.Policy(cfg.AuditFilterPolicy),
		DoFilter:          config.SplitList(cfg.AuditFilterDoFilter, ","),
		DoNotFilter:       config.SplitList(cfg.AuditFilterDoNotFilter, ","),
		FilterSystemEvent: cfg.AuditFilterSystemEvents,
	}), factory, log, telemetry.NewRecorder())

	var (
		bus         events.Bus
		busSessions *events.SessionPool
	)
	if cfg.BusIntegrationEnabled {
		bus, err = events.Open(ctx, cfg, auditevents.AllRoutingKeys(), log)
		if err != nil {
			log.Error("failed to setup event bus", "error", err)
			os.Exit(1) //nolint:gocritic
		}
		// Close waits up to 30s for in-flight handlers.
		defer bus.Close() //nolint:errcheck

		busSessions = events.NewSessionPool(bus, cfg.BusSessionPoolSize, log)
		defer busSessions.Close() //nolint:errcheck
	}

	auditEvents := auditpg.NewEventRepository(pool)
	if err := listeners.Register(eventSink, cfg.ListenerNames(), listeners.Deps{
		Events: auditEvents,
		Pool:   busSessions,
		Log:    log,
	}); err != nil {
		log.Error("failed to register event listeners", "error", err)
		os.Exit(1) //nolint:gocritic
	}

	var temporalClient *workflows.TemporalClient
	if cfg.TemporalEnabled {
		temporalClient, err = workflows.NewTemporalClient(ctx, cfg.TemporalHostPort, cfg.TemporalNamespace, modes, log)
		if err != nil {
			log.Error("failed to initialize temporal client", "error", err)
			os.Exit(1) //nolint:gocritic
		}
		defer temporalClient.Close()
	}

	// Each firing runs in one transaction so audit rows roll back with a failed job.
	jobs := scheduler.New(sink.Transactional(eventSink, sink.BeginDatabase(pool)), log)
	jobVeto := gates.NewJobVeto(modes, log)
	jobs.AddTriggerListener(jobVeto)
	modes.RegisterModeChangeListener(jobVeto)

	appConfig := &app.Application{
		Db:             pool,
		Logger:         log,
		Version:        cfg.ServiceVersion,
		Bus:            bus,
		BusSessions:    busSessions,
		Redis:          redisClient,
		TemporalClient: temporalClient,
		Sink:           eventSink,
		Events:         factory,
		AuditEvents:    auditEvents,
		Modes:          modes,
		Scheduler:      jobs,
	}

	if err := registerJobs(appConfig, cfg); err != nil {
		log.Error("failed to register jobs", "error", err)
		os.Exit(1) //nolint:gocritic
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if bus != nil {
		if err := registerSubscribers(workerCtx, appConfig, cfg.ConsumeTopics()); err != nil {
			log.Error("failed to register subscribers", "error", err)
			os.Exit(1) //nolint:gocritic
		}
		if cfg.BrokerMonitorEnabled {
			// The worker pauses its own jobs when the bus goes away even if
			// no API instance is running.
			monitor := gates.NewBrokerMonitor(bus, modes, cfg.BrokerMonitorInterval, nil, log)
			go monitor.Run(workerCtx)
		}
	}

	jobs.Start(workerCtx)
	log.Info("worker started", "jobs", len(jobs.List()), "listeners", eventSink.Listeners())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	jobs.Stop(stopCtx)
	cancelWorker()

	log.Info("worker stopped")
}

// registerJobs adds the periodic jobs. Each firing runs under the system
// principal in its own unit of work and is skipped while suspended.
func registerJobs(a *app.Application, cfg *config.Config) error {
	if err := a.Scheduler.Add(scheduler.Job{
		Name:     "heartbeat",
		Schedule: cfg.HeartbeatSchedule,
		Run:      heartbeat(a),
	}); err != nil {
		return err
	}

	if a.TemporalClient != nil {
		if err := a.Scheduler.Add(scheduler.Job{
			Name:     "temporal-health",
			Schedule: cfg.HeartbeatSchedule,
			Run:      a.TemporalClient.Ping,
		}); err != nil {
			return err
		}
	}
	return nil
}

// heartbeat logs listener and bus session counters so stuck queues show up
// in the logs without polling /admin/queues.
func heartbeat(a *app.Application) func(context.Context) error {
	return func(ctx context.Context) error {
		args := []any{"mode", a.Modes.CurrentMode(ctx).String()}
		for _, q := range a.Sink.QueueInfo() {
			args = append(args, q.Listener, fmt.Sprintf("received=%d committed=%d rolled_back=%d failed=%d",
				q.Received, q.Committed, q.RolledBack, q.Failed))
		}
		if a.BusSessions != nil {
			st := a.BusSessions.Stats()
			args = append(args, "bus_sessions_open", st.Open, "bus_sessions_idle", st.Idle)
		}
		a.Logger.InfoContext(ctx, "heartbeat", args...)
		return nil
	}
}

// registerSubscribers consumes the published events for topics.
// Handlers must be idempotent: the bus retries up to 3 times on failure.
func registerSubscribers(ctx context.Context, a *app.Application, topics []string) error {
	for _, topic := range topics {
		errCh, err := a.Bus.Subscribe(ctx, topic, handleEvent(a))
		if err != nil {
			return err
		}

		// Drain subscriber errors in background so the channel never blocks.
		go func(topic string) {
			for err := range errCh {
				a.Logger.ErrorContext(ctx, "subscriber error", "topic", topic, "error", err)
			}
		}(topic)
	}

	a.Logger.Info("event subscribers registered", "topics", topics)
	return nil
}

// handleEvent decodes a published event and records its receipt.
func handleEvent(a *app.Application) events.Handler {
	return func(ctx context.Context, msg *message.Message) error {
		var evt auditevents.Event
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			// A payload that cannot be decoded never will be; ack it.
			a.Logger.ErrorContext(ctx, "discarding malformed event", "message_id", msg.UUID, "error", err)
			return nil
		}

		a.Logger.InfoContext(ctx, "event consumed",
			"routing_key", msg.Metadata.Get(listeners.MetaRoutingKey),
			"event_id", evt.ID.String(),
			"owner_id", evt.OwnerID,
			"principal", evt.Principal.Name,
		)
		return nil
	}
}

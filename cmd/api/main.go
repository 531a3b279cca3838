package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/clock"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/ghuser/entitlements/docs/swagger"
	"github.com/ghuser/entitlements/pkg/app"
	"github.com/ghuser/entitlements/pkg/auth"
	"github.com/ghuser/entitlements/pkg/cache"
	"github.com/ghuser/entitlements/pkg/config"
	"github.com/ghuser/entitlements/pkg/database"
	"github.com/ghuser/entitlements/pkg/events"
	"github.com/ghuser/entitlements/pkg/httpx"
	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/pkg/telemetry"
	auditApi "github.com/ghuser/entitlements/services/audit/application/api"
	"github.com/ghuser/entitlements/services/audit/application/listeners"
	auditmw "github.com/ghuser/entitlements/services/audit/application/middleware"
	"github.com/ghuser/entitlements/services/audit/application/sink"
	auditevents "github.com/ghuser/entitlements/services/audit/domain/events"
	"github.com/ghuser/entitlements/services/audit/domain/filter"
	auditpg "github.com/ghuser/entitlements/services/audit/infrastructure/persistence/postgres"
	modeApi "github.com/ghuser/entitlements/services/mode/application/api"
	"github.com/ghuser/entitlements/services/mode/application/gates"
	modesvcs "github.com/ghuser/entitlements/services/mode/application/services"
	"github.com/ghuser/entitlements/services/mode/domain/repositories"
	modepg "github.com/ghuser/entitlements/services/mode/infrastructure/persistence/postgres"
	moderedis "github.com/ghuser/entitlements/services/mode/infrastructure/persistence/redis"
)

// @title					Entitlements Control Plane API
// @version				1.0
// @description			Operating mode and audit event endpoints of the entitlements server.
// @contact.name			API Support
// @license.name			MIT
// @license.url			https://opensource.org/licenses/MIT
// @host					localhost:8080
// @BasePath				/
// @schemes				http https
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

	// Telemetry: OTel tracing + metrics
	ctx := context.Background()
	otelShutdown, metricsHandler, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Error("failed to setup otel", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx) //nolint:errcheck

	// Crash reporting: Sentry (optional, log and continue on failure)
	if err := telemetry.SetupSentry(cfg); err != nil {
		log.Warn("failed to setup sentry, continuing without crash reporting", "error", err)
	}
	defer telemetry.SentryFlush()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1) //nolint:gocritic // intentional: startup failure, deferred flushes are best-effort
	}
	defer pool.Close() //nolint:errcheck
	log.Info("database pool connected")

	redisClient, err := cache.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1) //nolint:gocritic // intentional: startup failure
	}
	defer redisClient.Close() //nolint:errcheck
	log.Info("redis connected")

	var modeStore repositories.ModeStore = modepg.NewModeStore(pool)
	if cfg.ModeStoreBackend == config.ModeStoreRedis {
		modeStore = moderedis.NewModeStore(redisClient)
	}
	modes := modesvcs.NewModeManager(modeStore, modesvcs.Options{
		RefreshInterval:   cfg.ModeRefreshInterval,
		MinChangeInterval: cfg.ModeMinChangeInterval,
	}, log)
	if err := telemetry.RegisterModeGauge(modes.Suspended); err != nil {
		log.Warn("failed to register mode gauge", "error", err)
	}
	log.Info("mode manager ready", "store", cfg.ModeStoreBackend, "mode", modes.CurrentMode(ctx).String())

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
	log.Info("event sink ready", "listeners", eventSink.Listeners())

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	if bus != nil && cfg.BrokerMonitorEnabled {
		monitor := gates.NewBrokerMonitor(bus, modes, cfg.BrokerMonitorInterval, clock.New(), log)
		go monitor.Run(monitorCtx)
	}

	sessionStore := auth.NewSessionStore(redisClient, auth.SessionOptions{
		AuthKey:       []byte(cfg.SessionAuthKey),
		EncryptionKey: []byte(cfg.SessionEncryptionKey),
		Secure:        cfg.Environment == config.EnvProduction,
		MaxAge:        cfg.SessionMaxAge,
	})
	log.Info("session store initialized", "backend", "redis")

	appConfig := &app.Application{
		Db:           pool,
		Logger:       log,
		Version:      cfg.ServiceVersion,
		Bus:          bus,
		BusSessions:  busSessions,
		Redis:        redisClient,
		SessionStore: sessionStore,
		Sink:         eventSink,
		Events:       factory,
		AuditEvents:  auditEvents,
		Modes:        modes,
	}

	r := httpx.NewRouter(
		httpx.ServerConfig{
			ServiceName:        cfg.ServiceName,
			IsDevelopment:      cfg.Environment == config.EnvDevelopment,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
			RequestsPerMinute:  cfg.RequestsPerMinute,
		},
		logger.Middleware(log),
		logger.Recovery(log),
		telemetry.SentryMiddleware(),
		otelhttp.NewMiddleware(cfg.ServiceName),
	)

	health := httpx.HealthChecks{
		Database: pool,
		Redis:    redisClient,
		Mode:     func(ctx context.Context) string { return modes.CurrentMode(ctx).String() },
	}
	if bus != nil {
		health.EventBus = bus
	}
	r.Get("/health", httpx.HealthHandler(health))
	r.Get("/metrics", metricsHandler.ServeHTTP)
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	r.Group(func(r chi.Router) {
		r.Use(gates.SuspendMiddleware(modes, cfg.ExemptPaths(), log))
		r.Use(auditmw.UnitOfWork(auditmw.BeginDatabase(pool), eventSink, log))
		registerRoutes(r, appConfig)
	})

	srv := httpx.NewServer(cfg.HTTPAddr, r)

	go func() {
		log.Info("server listening", "addr", srv.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")
	stopMonitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// registerRoutes mounts all service routes. Every route runs inside the
// suspend gate and a unit of work.
// Add each new service's route function here.
func registerRoutes(r chi.Router, a *app.Application) {
	modeApi.ModeRoutes(r, a)
	auditApi.AuditRoutes(r, a)
}

// Package logger is the slog-backed structured logger shared by the API and
// worker processes. Records pick up trace, request and unit-of-work ids from
// the context they are logged with.
package logger

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/ghuser/entitlements/pkg/config"
)

// Logger is the logging surface handed to every component.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	DebugContext(ctx context.Context, msg string, args ...any)
	// With returns a Logger with args bound as attributes.
	With(args ...any) Logger
	// ToSlog exposes the *slog.Logger for libraries that take one.
	ToSlog() *slog.Logger
}

// Options controls the handler built by NewWithOptions.
type Options struct {
	Level string
	// Text selects the human-readable handler instead of JSON.
	Text    bool
	Service string
	Version string
}

// New returns the process logger. Production writes JSON; other
// environments write text. Every record carries service and version.
func New(cfg *config.Config) Logger {
	return NewWithOptions(os.Stdout, Options{
		Level:   cfg.LogLevel,
		Text:    cfg.Environment == config.EnvDevelopment,
		Service: cfg.ServiceName,
		Version: cfg.ServiceVersion,
	})
}

// NewWithWriter returns a JSON logger writing to w at level.
func NewWithWriter(w io.Writer, level string) Logger {
	return NewWithOptions(w, Options{Level: level})
}

// NewWithOptions builds a context-aware logger writing to w.
func NewWithOptions(w io.Writer, opts Options) Logger {
	hopts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	var h slog.Handler
	if opts.Text {
		h = slog.NewTextHandler(w, hopts)
	} else {
		h = slog.NewJSONHandler(w, hopts)
	}

	var base []slog.Attr
	if opts.Service != "" {
		base = append(base, slog.String("service", opts.Service))
	}
	if opts.Version != "" {
		base = append(base, slog.String("version", opts.Version))
	}
	if len(base) > 0 {
		h = h.WithAttrs(base)
	}
	return &slogLogger{Logger: slog.New(&contextHandler{h})}
}

// Discard returns a Logger that drops every record.
func Discard() Logger {
	return &slogLogger{Logger: slog.New(slog.DiscardHandler)}
}

type slogLogger struct {
	*slog.Logger
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{Logger: l.Logger.With(args...)}
}

func (l *slogLogger) ToSlog() *slog.Logger {
	return l.Logger
}

type uowKey struct{}

// WithUnitOfWork tags ctx with a unit-of-work id so every record logged
// while the request or job runs carries it.
func WithUnitOfWork(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, uowKey{}, id)
}

// UnitOfWorkID returns the id stored by WithUnitOfWork, or "".
func UnitOfWorkID(ctx context.Context) string {
	id, _ := ctx.Value(uowKey{}).(string)
	return id
}

// contextHandler adds trace_id, span_id, request_id and uow_id from the
// record's context.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := middleware.GetReqID(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if id := UnitOfWorkID(ctx); id != "" {
		r.AddAttrs(slog.String("uow_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{h.Handler.WithGroup(name)}
}

// probePaths are polled by orchestrators and scrapers; their access lines
// go to debug.
var probePaths = []string{"/health", "/metrics", "/status"}

// Middleware logs one access line per request. 5xx responses log at error,
// 4xx at warn.
func Middleware(log Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			case isProbe(r.URL.Path):
				level = slog.LevelDebug
			}

			log.ToSlog().Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"latency_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

func isProbe(path string) bool {
	for _, p := range probePaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Recovery turns a handler panic into a logged 500. http.ErrAbortHandler
// is re-raised so the server can drop the connection.
func Recovery(log Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, `{"error":"internal server error"}`)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

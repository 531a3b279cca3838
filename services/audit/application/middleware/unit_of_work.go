// Package middleware binds one HTTP request to one unit of work: a database
// transaction plus an event sink unit of work that commit or roll back
// together.
package middleware

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/ghuser/entitlements/pkg/database"
	"github.com/ghuser/entitlements/pkg/httpx"
	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/services/audit/application/sink"
)

// Tx is the part of *sql.Tx the middleware drives.
type Tx = sink.Tx

// BeginFunc starts a transaction and returns a context carrying it.
type BeginFunc = sink.BeginFunc

// BeginDatabase adapts db.Begin to BeginFunc.
func BeginDatabase(db *database.Database) BeginFunc {
	return sink.BeginDatabase(db)
}

// UnitOfWork wraps each request in a unit of work. Responses below 400
// commit the transaction and then send the queued events; anything else,
// including a panic, rolls both back. The handler's response is held until
// the commit returns: a failed commit answers 500 instead.
func UnitOfWork(begin BeginFunc, s *sink.EventSink, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := s.Begin(r.Context())
			ctx, tx, err := begin(ctx)
			if err != nil {
				log.ErrorContext(ctx, "unit of work: begin transaction", "error", err)
				s.Rollback(ctx)
				httpx.JSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				return
			}

			ww := &heldResponse{w: w}
			finished := false
			defer func() {
				if finished {
					return
				}
				rollback(ctx, tx, s, log)
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))

			finished = true
			if status := ww.Status(); status < http.StatusBadRequest {
				if err := tx.Commit(); err != nil {
					log.ErrorContext(ctx, "unit of work: commit failed, discarding events", "error", err)
					s.Rollback(ctx)
					ww.discard()
					httpx.JSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
					return
				}
				ww.flush()
				s.SendEvents(ctx)
				return
			}
			rollback(ctx, tx, s, log)
			ww.flush()
		})
	}
}

func rollback(ctx context.Context, tx Tx, s *sink.EventSink, log logger.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.ErrorContext(ctx, "unit of work: rollback failed", "error", err)
	}
	s.Rollback(ctx)
}

// heldResponse buffers the status and body until the unit of work is
// decided. Headers go straight to the underlying writer's map.
type heldResponse struct {
	w      http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (h *heldResponse) Header() http.Header { return h.w.Header() }

func (h *heldResponse) WriteHeader(status int) {
	if h.status == 0 {
		h.status = status
	}
}

func (h *heldResponse) Write(p []byte) (int, error) {
	if h.status == 0 {
		h.status = http.StatusOK
	}
	return h.body.Write(p)
}

// Status returns the status the handler chose, 200 when it wrote nothing.
func (h *heldResponse) Status() int {
	if h.status == 0 {
		return http.StatusOK
	}
	return h.status
}

func (h *heldResponse) flush() {
	h.w.WriteHeader(h.Status())
	_, _ = h.w.Write(h.body.Bytes())
}

func (h *heldResponse) discard() {
	h.body.Reset()
	h.w.Header().Del("Content-Length")
}

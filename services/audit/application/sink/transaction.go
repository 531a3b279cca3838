package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ghuser/entitlements/pkg/database"
)

// Tx is the part of *sql.Tx a unit of work drives.
type Tx interface {
	Commit() error
	Rollback() error
}

// BeginFunc starts a transaction and returns a context carrying it.
type BeginFunc func(ctx context.Context) (context.Context, Tx, error)

// BeginDatabase adapts db.Begin to BeginFunc.
func BeginDatabase(db *database.Database) BeginFunc {
	return func(ctx context.Context) (context.Context, Tx, error) {
		txCtx, tx, err := db.Begin(ctx)
		if err != nil {
			return ctx, nil, err
		}
		return txCtx, tx, nil
	}
}

// TxUnitOfWork runs work inside a database transaction and a sink unit of
// work. The transaction commits first; events are sent only once it has.
type TxUnitOfWork struct {
	sink  *EventSink
	begin BeginFunc
}

// Transactional returns a TxUnitOfWork over s and begin.
func Transactional(s *EventSink, begin BeginFunc) *TxUnitOfWork {
	return &TxUnitOfWork{sink: s, begin: begin}
}

// Do runs fn with a context carrying both the transaction and the unit of
// work. An error from fn, a panic or a failed commit rolls both back.
func (u *TxUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx = u.sink.Begin(ctx)
	ctx, tx, err := u.begin(ctx)
	if err != nil {
		u.sink.Rollback(ctx)
		return fmt.Errorf("begin transaction: %w", err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			u.sink.log.ErrorContext(ctx, "eventsink: transaction rollback failed", "error", rbErr)
		}
		u.sink.Rollback(ctx)
	}()

	if err = fn(ctx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	done = true
	u.sink.SendEvents(ctx)
	return nil
}

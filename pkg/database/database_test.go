package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/ghuser/entitlements/pkg/logger"
)

func TestWithTx_NilTxLeavesContext(t *testing.T) {
	ctx := context.Background()
	if got := WithTx(ctx, nil); got != ctx {
		t.Fatal("expected the same context back for a nil tx")
	}
	if _, ok := TxFrom(ctx); ok {
		t.Fatal("expected no tx in a bare context")
	}
}

func TestTxFrom_RoundTrip(t *testing.T) {
	tx := &sql.Tx{}
	ctx := WithTx(context.Background(), tx)
	got, ok := TxFrom(ctx)
	if !ok || got != tx {
		t.Fatalf("TxFrom() = %v, %v", got, ok)
	}
}

func TestWithTx_JoinsExistingTransaction(t *testing.T) {
	outer := &sql.Tx{}
	ctx := WithTx(context.Background(), outer)
	d := &Database{log: logger.Discard()}

	var seen *sql.Tx
	err := d.WithTx(ctx, func(_ context.Context, tx *sql.Tx) error {
		seen = tx
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != outer {
		t.Fatal("expected fn to join the outer transaction")
	}
}

// Integration tests: skipped unless DATABASE_URL is set.
func TestDatabaseIntegration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration tests")
	}

	d, err := NewPool(context.Background(), dsn, logger.Discard())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer d.Close() //nolint:errcheck

	t.Run("Ping", func(t *testing.T) {
		if err := d.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})

	t.Run("WithTx_RollsBackOnError", func(t *testing.T) {
		boom := errors.New("boom")
		err := d.WithTx(context.Background(), func(ctx context.Context, _ *sql.Tx) error {
			if _, ok := TxFrom(ctx); !ok {
				t.Error("expected tx in fn context")
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	})
}

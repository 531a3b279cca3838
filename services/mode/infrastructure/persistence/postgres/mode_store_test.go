package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/entitlements/pkg/database"
	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/services/mode/domain/models"
)

// Integration tests: skipped unless DATABASE_URL is set and migrated.
func TestModeStoreIntegration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration tests")
	}

	db, err := database.NewPool(context.Background(), dsn, logger.Discard())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer db.Close() //nolint:errcheck

	store := NewModeStore(db)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := store.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})

	t.Run("LatestWins", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		reason := "it-" + uuid.NewString()

		older, _ := models.NewModeRecord(models.ModeSuspend, reason+"-old", now.Add(-time.Minute))
		newer, _ := models.NewModeRecord(models.ModeNormal, reason, now)
		for _, r := range []models.ModeRecord{newer, older} {
			if err := store.Append(ctx, r); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}

		got, err := store.Latest(ctx)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if got == nil || got.ID != newer.ID || got.Mode != models.ModeNormal || got.Reason != reason {
			t.Fatalf("Latest() = %+v, want %+v", got, newer)
		}
		if !got.ChangeTime.Equal(now) {
			t.Errorf("change time = %v, want %v", got.ChangeTime, now)
		}
	})

	t.Run("EmptyReason", func(t *testing.T) {
		rec, err := models.NewModeRecord(models.ModeNormal, "", time.Now().UTC().Truncate(time.Microsecond))
		if err != nil {
			t.Fatalf("NewModeRecord: %v", err)
		}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append without reason: %v", err)
		}

		got, err := store.Latest(ctx)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if got == nil || got.ID != rec.ID || got.Reason != "" {
			t.Fatalf("Latest() = %+v, want %+v", got, rec)
		}
	})
}

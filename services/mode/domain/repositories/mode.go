package repositories

import (
	"context"

	"github.com/ghuser/entitlements/services/mode/domain/models"
)

// ModeStore is the append-only mode history shared by every server in the
// cluster. The domain layer owns this interface; infrastructure implements it.
type ModeStore interface {
	// Latest returns the record with the greatest ChangeTime, or nil when
	// the history is empty.
	Latest(ctx context.Context) (*models.ModeRecord, error)

	// Append adds a record. Records are never updated or deleted.
	Append(ctx context.Context, r models.ModeRecord) error

	// Ping checks the store's backing connection.
	Ping(ctx context.Context) error
}

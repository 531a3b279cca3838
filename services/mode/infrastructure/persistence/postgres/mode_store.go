package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ghuser/entitlements/pkg/database"
	"github.com/ghuser/entitlements/services/mode/domain/models"
)

const (
	selectLatestMode = `
SELECT id, mode, reason, change_time
FROM cp_mode
ORDER BY change_time DESC, id
LIMIT 1`

	insertMode = `
INSERT INTO cp_mode (id, mode, reason, change_time)
VALUES ($1, $2, $3, $4)`
)

// ModeStore implements repositories.ModeStore against the append-only
// cp_mode table. It always uses the pool, never a request transaction:
// a mode change takes effect even if the request that made it rolls back.
type ModeStore struct {
	db *database.Database
}

// NewModeStore returns a ModeStore backed by the given pool.
func NewModeStore(db *database.Database) *ModeStore {
	return &ModeStore{db: db}
}

// Latest returns the newest record, or nil when no mode was ever recorded.
func (s *ModeStore) Latest(ctx context.Context) (*models.ModeRecord, error) {
	var (
		rec    models.ModeRecord
		mode   string
		reason sql.NullString
	)
	err := s.db.DB().QueryRowContext(ctx, selectLatestMode).Scan(&rec.ID, &mode, &reason, &rec.ChangeTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest mode: %w", err)
	}

	rec.Mode, err = models.ParseMode(mode)
	if err != nil {
		return nil, fmt.Errorf("stored mode: %w", err)
	}
	rec.Reason = reason.String
	rec.ChangeTime = rec.ChangeTime.UTC()
	return &rec, nil
}

// Append inserts r. An empty reason is stored as '', never NULL.
func (s *ModeStore) Append(ctx context.Context, r models.ModeRecord) error {
	if _, err := s.db.DB().ExecContext(ctx, insertMode,
		r.ID,
		string(r.Mode),
		r.Reason,
		r.ChangeTime,
	); err != nil {
		return fmt.Errorf("insert mode: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *ModeStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

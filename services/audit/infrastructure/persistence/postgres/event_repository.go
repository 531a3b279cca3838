package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ghuser/entitlements/pkg/database"
	"github.com/ghuser/entitlements/services/audit/domain/events"
	"github.com/ghuser/entitlements/services/audit/domain/repositories"
)

const (
	insertEvent = `
INSERT INTO cp_event (id, type, target, target_name, principal_name, principal_id, entity_id, owner_id, created, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	selectEventsByOwner = `
SELECT id, type, target, target_name, principal_name, principal_id, entity_id, owner_id, created, payload
FROM cp_event
WHERE owner_id = $1
ORDER BY created DESC, id
LIMIT $2 OFFSET $3`

	countEventsByOwner = `SELECT count(*) FROM cp_event WHERE owner_id = $1`
)

// EventRepository implements repositories.EventRepository against the
// cp_event table. Writes join the transaction carried by the context.
type EventRepository struct {
	db *database.Database
}

// NewEventRepository returns an EventRepository backed by the given pool.
func NewEventRepository(db *database.Database) *EventRepository {
	return &EventRepository{db: db}
}

// Save inserts the audit row through the request transaction when present.
func (r *EventRepository) Save(ctx context.Context, e events.Event) error {
	var payload any
	if len(e.Payload) > 0 {
		payload = []byte(e.Payload)
	}
	if _, err := r.db.Executor(ctx).ExecContext(ctx, insertEvent,
		e.ID,
		string(e.Type),
		string(e.Target),
		nullString(e.TargetName),
		e.Principal.Name,
		e.Principal.ID,
		e.EntityID,
		nullString(e.OwnerID),
		e.Timestamp,
		payload,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// FindByOwner returns an owner's audit events, newest first.
func (r *EventRepository) FindByOwner(ctx context.Context, ownerID string, opts repositories.QueryOpts) ([]events.Event, int, error) {
	exec := r.db.Executor(ctx)

	rows, err := exec.QueryContext(ctx, selectEventsByOwner, ownerID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate events: %w", err)
	}

	var total int
	if err := exec.QueryRowContext(ctx, countEventsByOwner, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}
	return out, total, nil
}

func scanEvent(rows *sql.Rows) (events.Event, error) {
	var (
		e                   events.Event
		typ, target         string
		targetName, ownerID sql.NullString
		payload             []byte
	)
	if err := rows.Scan(
		&e.ID, &typ, &target, &targetName,
		&e.Principal.Name, &e.Principal.ID,
		&e.EntityID, &ownerID, &e.Timestamp, &payload,
	); err != nil {
		return events.Event{}, fmt.Errorf("scan event: %w", err)
	}
	e.Type = events.Type(typ)
	e.Target = events.Target(target)
	e.TargetName = targetName.String
	e.OwnerID = ownerID.String
	if len(payload) > 0 {
		e.Payload = payload
	}
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"kaldor-iiot/backend/internal/telemetry/domain"
)

const defaultListLimit = 100

const (
	insertEvent = `INSERT INTO telemetry_events (entity_id, kind, payload, received_at)
VALUES ($1, $2, $3, $4)
RETURNING id`

	selectLatestEvent = `SELECT id, entity_id, kind, payload, received_at
FROM telemetry_events
WHERE entity_id = $1 AND kind = $2
ORDER BY received_at DESC, id DESC
LIMIT 1`

	listEventsByEntity = `SELECT id, entity_id, kind, payload, received_at
FROM telemetry_events
WHERE entity_id = $1
ORDER BY received_at DESC, id DESC
LIMIT $2`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a telemetry repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save persists the event. It sets ev.ID on success.
func (r *PostgresRepository) Save(ctx context.Context, ev *domain.Event) error {
	return r.db.QueryRowContext(ctx, insertEvent,
		ev.EntityID, string(ev.Kind), payloadOrEmpty(ev.Payload), ev.ReceivedAt,
	).Scan(&ev.ID)
}

// Latest returns the newest event of kind for entityID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Latest(ctx context.Context, entityID string, kind domain.Kind) (*domain.Event, error) {
	ev, err := scanEvent(r.db.QueryRowContext(ctx, selectLatestEvent, entityID, string(kind)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ev, nil
}

// ListByEntity returns up to limit events for entityID, newest first.
func (r *PostgresRepository) ListByEntity(ctx context.Context, entityID string, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, listEventsByEntity, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*domain.Event, error) {
	var (
		ev      domain.Event
		kind    string
		payload []byte
	)
	if err := s.Scan(&ev.ID, &ev.EntityID, &kind, &payload, &ev.ReceivedAt); err != nil {
		return nil, err
	}
	ev.Kind = domain.Kind(kind)
	ev.Payload = json.RawMessage(payloadOrEmpty(payload))
	return &ev, nil
}

func payloadOrEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
